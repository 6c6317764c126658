package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	pfirestore "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/firestore"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

const ledgerCollection = "ledger"

// LedgerRepository appends immutable ledger entries.
type LedgerRepository struct {
	entries *pfirestore.Collection[domain.LedgerEntry]
}

// NewLedgerRepository constructs a Firestore-backed ledger repository.
func NewLedgerRepository(provider *pfirestore.Provider) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	return &LedgerRepository{
		entries: pfirestore.NewCollection[domain.LedgerEntry](provider, ledgerCollection, decodeLedgerEntry),
	}, nil
}

// Append implements repositories.LedgerRepository.
func (r *LedgerRepository) Append(ctx context.Context, entry domain.LedgerEntry) error {
	id := entry.ID
	if id == "" {
		id = ulid.Make().String()
	}
	return r.entries.Create(ctx, id, encodeLedgerEntry(entry))
}

// ListBetween implements repositories.LedgerRepository.
func (r *LedgerRepository) ListBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	return r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", ">=", from.UTC()).
			Where("createdAt", "<", to.UTC()).
			OrderBy("createdAt", firestore.Asc)
	})
}

// CountSince implements repositories.LedgerRepository.
func (r *LedgerRepository) CountSince(ctx context.Context, userID int64, component, area string, since time.Time) (int, error) {
	coll, err := r.entries.Ref(ctx)
	if err != nil {
		return 0, err
	}
	snaps, err := coll.Where("userId", "==", userID).
		Where("component", "==", component).
		Where("area", "==", area).
		Where("createdAt", ">=", since.UTC()).
		Select().
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("ledger.countSince", err)
	}
	return len(snaps), nil
}

type ledgerDocument struct {
	UserID        int64     `firestore:"userId"`
	Component     string    `firestore:"component"`
	Area          string    `firestore:"area"`
	ItemID        int64     `firestore:"itemId"`
	ItemName      string    `firestore:"itemName"`
	Price         string    `firestore:"price"`
	Tax           string    `firestore:"tax"`
	Discount      string    `firestore:"discount"`
	Credits       string    `firestore:"credits"`
	Fee           string    `firestore:"fee"`
	Currency      string    `firestore:"currency"`
	CostCenter    string    `firestore:"costCenter,omitempty"`
	Identifier    int64     `firestore:"identifier"`
	PaymentMethod string    `firestore:"paymentMethod"`
	PaymentStatus string    `firestore:"paymentStatus"`
	ReferenceID   string    `firestore:"referenceId,omitempty"`
	Annotation    string    `firestore:"annotation,omitempty"`
	OperatorID    int64     `firestore:"operatorId"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func encodeLedgerEntry(entry domain.LedgerEntry) ledgerDocument {
	return ledgerDocument{
		UserID:        entry.UserID,
		Component:     entry.Component,
		Area:          entry.Area,
		ItemID:        entry.ItemID,
		ItemName:      entry.ItemName,
		Price:         encodeMoney(entry.Price),
		Tax:           encodeMoney(entry.Tax),
		Discount:      encodeMoney(entry.Discount),
		Credits:       encodeMoney(entry.Credits),
		Fee:           encodeMoney(entry.Fee),
		Currency:      entry.Currency,
		CostCenter:    entry.CostCenter,
		Identifier:    entry.Identifier,
		PaymentMethod: string(entry.PaymentMethod),
		PaymentStatus: string(entry.PaymentStatus),
		ReferenceID:   entry.ReferenceID,
		Annotation:    entry.Annotation,
		OperatorID:    entry.OperatorID,
		CreatedAt:     entry.CreatedAt.UTC(),
	}
}

func decodeLedgerEntry(snap *firestore.DocumentSnapshot) (domain.LedgerEntry, error) {
	var doc ledgerDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.LedgerEntry{}, err
	}
	var dec moneyDecoder
	entry := domain.LedgerEntry{
		ID:            snap.Ref.ID,
		UserID:        doc.UserID,
		Component:     doc.Component,
		Area:          doc.Area,
		ItemID:        doc.ItemID,
		ItemName:      doc.ItemName,
		Price:         dec.decode("price", doc.Price),
		Tax:           dec.decode("tax", doc.Tax),
		Discount:      dec.decode("discount", doc.Discount),
		Credits:       dec.decode("credits", doc.Credits),
		Fee:           dec.decode("fee", doc.Fee),
		Currency:      doc.Currency,
		CostCenter:    doc.CostCenter,
		Identifier:    doc.Identifier,
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		ReferenceID:   doc.ReferenceID,
		Annotation:    doc.Annotation,
		OperatorID:    doc.OperatorID,
		CreatedAt:     doc.CreatedAt,
	}
	return entry, dec.err
}

var _ repositories.LedgerRepository = (*LedgerRepository)(nil)
