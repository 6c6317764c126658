package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

const defaultKeyPrefix = "cart"

// CartRepository keeps one JSON document per user under "<prefix>:<userID>".
// Writes are optimistic: the stored version is read under WATCH and the SET runs in MULTI/EXEC.
type CartRepository struct {
	client goredis.UniversalClient
	prefix string
}

// CartRepositoryOption customises the repository.
type CartRepositoryOption func(*CartRepository)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) CartRepositoryOption {
	return func(r *CartRepository) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			r.prefix = trimmed
		}
	}
}

// NewCartRepository constructs a Redis-backed cart repository.
func NewCartRepository(client goredis.UniversalClient, opts ...CartRepositoryOption) (*CartRepository, error) {
	if client == nil {
		return nil, errors.New("cart repository requires redis client")
	}
	repo := &CartRepository{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

// GetCart implements repositories.CartRepository.
func (r *CartRepository) GetCart(ctx context.Context, userID int64) (domain.Cart, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Cart{}, repositories.NotFound("carts.get")
	}
	if err != nil {
		return domain.Cart{}, wrapError("carts.get", err)
	}
	return decodeCart("carts.get", data)
}

// SaveCart implements repositories.CartRepository.
func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart, ttl time.Duration) (domain.Cart, error) {
	key := r.key(cart.UserID)
	var saved domain.Cart

	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		var current int64
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			stored, err := decodeCart("carts.save", data)
			if err != nil {
				return err
			}
			current = stored.Version
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
		if ttl <= 0 {
			ttl = goredis.KeepTTL
		}
		if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		}); err != nil {
			return err
		}
		saved = next
		return nil
	}, key)
	if err != nil {
		return domain.Cart{}, wrapError("carts.save", err)
	}
	return saved, nil
}

// DeleteCart implements repositories.CartRepository.
func (r *CartRepository) DeleteCart(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return wrapError("carts.delete", err)
	}
	return nil
}

func (r *CartRepository) key(userID int64) string {
	return r.prefix + ":" + strconv.FormatInt(userID, 10)
}

func decodeCart(op string, data []byte) (domain.Cart, error) {
	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("%s: decode cart: %w", op, err)
	}
	return cart, nil
}

// wrapError maps go-redis failures onto repository semantics. Context errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		return repoErr
	}
	if errors.Is(err, goredis.TxFailedErr) {
		return repositories.Conflict(op, err)
	}
	if errors.Is(err, goredis.ErrClosed) || isNetworkError(err) {
		return repositories.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNetworkError(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "EOF")
}

var _ repositories.CartRepository = (*CartRepository)(nil)
