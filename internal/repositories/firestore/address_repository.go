package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	pfirestore "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/firestore"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository reads the address book kept under each user document.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// List returns the addresses of the user, most recently updated first.
func (r *AddressRepository) List(ctx context.Context, userID int64) ([]domain.Address, error) {
	if userID == 0 {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	coll := client.Collection(fmt.Sprintf(addressCollectionPattern, userKey(userID)))
	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	return pfirestore.DecodeAll("addresses.list", iter, func(snap *firestore.DocumentSnapshot) (domain.Address, error) {
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Address{}, err
		}
		return doc.toDomain(snap.Ref.ID, userID), nil
	})
}

type addressDocument struct {
	Kind       string    `firestore:"kind"`
	Recipient  string    `firestore:"recipient"`
	Company    string    `firestore:"company,omitempty"`
	Line1      string    `firestore:"line1"`
	City       string    `firestore:"city"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d addressDocument) toDomain(id string, userID int64) domain.Address {
	kind := strings.ToLower(strings.TrimSpace(d.Kind))
	if kind == "" {
		kind = "billing"
	}
	return domain.Address{
		ID:         id,
		UserID:     userID,
		Kind:       kind,
		Name:       strings.TrimSpace(d.Recipient),
		Company:    strings.TrimSpace(d.Company),
		Street:     strings.TrimSpace(d.Line1),
		City:       strings.TrimSpace(d.City),
		PostalCode: strings.TrimSpace(d.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(d.Country)),
		UpdatedAt:  d.UpdatedAt,
	}
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
