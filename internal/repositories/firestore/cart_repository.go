package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	pfirestore "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/firestore"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

const cartCollection = "carts"

// CartRepository is the Firestore cart backend used when no Redis is configured.
// Expired documents are treated as missing; a TTL policy on expireAt removes them eventually.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
	clock    func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider, clock func() time.Time) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{
		provider: provider,
		carts:    pfirestore.NewCollection[cartDocument](provider, cartCollection, nil),
		clock:    clock,
	}, nil
}

// GetCart implements repositories.CartRepository.
func (r *CartRepository) GetCart(ctx context.Context, userID int64) (domain.Cart, error) {
	doc, err := r.carts.Get(ctx, userKey(userID))
	if err != nil {
		return domain.Cart{}, err
	}
	if r.expired(doc) {
		return domain.Cart{}, repositories.NotFound("carts.get")
	}
	return doc.decode()
}

// SaveCart implements repositories.CartRepository.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart, ttl time.Duration) (domain.Cart, error) {
	ref, err := r.carts.Doc(ctx, userKey(cart.UserID))
	if err != nil {
		return domain.Cart{}, err
	}
	var saved domain.Cart
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current int64
		snap, err := tx.Get(ref)
		switch {
		case pfirestore.IsNotFound(err):
		case err != nil:
			return err
		default:
			var stored cartDocument
			if err := snap.DataTo(&stored); err != nil {
				return fmt.Errorf("carts.save: decode %s: %w", ref.ID, err)
			}
			if !r.expired(stored) {
				current = stored.Version
			}
		}
		if current != cart.Version {
			return repositories.Conflict("carts.save", fmt.Errorf("version %d, stored %d", cart.Version, current))
		}

		next := cart
		next.Version++
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("carts.save: encode cart %d: %w", cart.UserID, err)
		}
		doc := cartDocument{
			UserID:    cart.UserID,
			Version:   next.Version,
			Payload:   string(payload),
			UpdatedAt: r.clock().UTC(),
		}
		if ttl > 0 {
			expireAt := r.clock().Add(ttl).UTC()
			doc.ExpireAt = &expireAt
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return saved, nil
}

// DeleteCart implements repositories.CartRepository.
func (r *CartRepository) DeleteCart(ctx context.Context, userID int64) error {
	ref, err := r.carts.Doc(ctx, userKey(userID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

func (r *CartRepository) expired(doc cartDocument) bool {
	return doc.ExpireAt != nil && !r.clock().Before(*doc.ExpireAt)
}

type cartDocument struct {
	UserID    int64      `firestore:"userId"`
	Version   int64      `firestore:"version"`
	Payload   string     `firestore:"payload"`
	ExpireAt  *time.Time `firestore:"expireAt,omitempty"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
}

func (d cartDocument) decode() (domain.Cart, error) {
	var cart domain.Cart
	if err := json.Unmarshal([]byte(d.Payload), &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("carts.get: decode cart %d: %w", d.UserID, err)
	}
	cart.Version = d.Version
	return cart, nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)
