package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	pfirestore "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/firestore"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

const historyCollection = "purchaseHistory"

// HistoryRepository stores one document per purchased item keyed by the record id.
type HistoryRepository struct {
	provider *pfirestore.Provider
	records  *pfirestore.Collection[domain.HistoryRecord]
}

// NewHistoryRepository constructs a Firestore-backed history repository.
func NewHistoryRepository(provider *pfirestore.Provider) (*HistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("history repository requires firestore provider")
	}
	return &HistoryRepository{
		provider: provider,
		records:  pfirestore.NewCollection[domain.HistoryRecord](provider, historyCollection, decodeHistoryRecord),
	}, nil
}

// Insert implements repositories.HistoryRepository.
func (r *HistoryRepository) Insert(ctx context.Context, record domain.HistoryRecord) error {
	return r.records.Create(ctx, record.ID, encodeHistoryRecord(record))
}

// Get implements repositories.HistoryRepository.
func (r *HistoryRepository) Get(ctx context.Context, id string) (domain.HistoryRecord, error) {
	return r.records.Get(ctx, id)
}

// FindLatest implements repositories.HistoryRepository.
func (r *HistoryRepository) FindLatest(ctx context.Context, userID int64, key domain.ItemKey) (domain.HistoryRecord, error) {
	records, err := r.records.Query(ctx, func(q firestore.Query) firestore.Query {
		return paidItemQuery(q, userID, key).OrderBy("createdAt", firestore.Desc).Limit(1)
	})
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	if len(records) == 0 {
		return domain.HistoryRecord{}, repositories.NotFound("history.findLatest")
	}
	return records[0], nil
}

// ListByUser implements repositories.HistoryRepository.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID int64) ([]domain.HistoryRecord, error) {
	return r.records.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc)
	})
}

// ListByIdentifier implements repositories.HistoryRepository.
func (r *HistoryRepository) ListByIdentifier(ctx context.Context, identifier int64) ([]domain.HistoryRecord, error) {
	return r.records.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("identifier", "==", identifier)
	})
}

// CountPaid implements repositories.HistoryRepository.
func (r *HistoryRepository) CountPaid(ctx context.Context, userID int64, key domain.ItemKey) (int, error) {
	coll, err := r.records.Ref(ctx)
	if err != nil {
		return 0, err
	}
	snaps, err := paidItemQuery(coll.Query, userID, key).Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("history.countPaid", err)
	}
	return len(snaps), nil
}

// MarkCanceled implements repositories.HistoryRepository.
func (r *HistoryRepository) MarkCanceled(ctx context.Context, id string, canceledAt time.Time, operatorID int64) (domain.HistoryRecord, error) {
	ref, err := r.records.Doc(ctx, id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	var updated domain.HistoryRecord
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		record, err := decodeHistoryRecord(snap)
		if err != nil {
			return fmt.Errorf("history.markCanceled: %w", err)
		}
		if record.PaymentStatus != domain.PaymentStatusSuccess {
			return repositories.Conflict("history.markCanceled", fmt.Errorf("record %s is %s", id, record.PaymentStatus))
		}
		at := canceledAt.UTC()
		record.PaymentStatus = domain.PaymentStatusCanceled
		record.CanceledAt = &at
		record.UpdatedAt = at
		record.OperatorID = operatorID
		if err := tx.Update(ref, []firestore.Update{
			{Path: "paymentStatus", Value: string(record.PaymentStatus)},
			{Path: "canceledAt", Value: at},
			{Path: "updatedAt", Value: at},
			{Path: "operatorId", Value: operatorID},
		}); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	return updated, nil
}

func paidItemQuery(q firestore.Query, userID int64, key domain.ItemKey) firestore.Query {
	return q.Where("userId", "==", userID).
		Where("component", "==", key.Component).
		Where("area", "==", key.Area).
		Where("itemId", "==", key.ItemID).
		Where("paymentStatus", "==", string(domain.PaymentStatusSuccess))
}

type historyDocument struct {
	UserID        int64                   `firestore:"userId"`
	Component     string                  `firestore:"component"`
	Area          string                  `firestore:"area"`
	ItemID        int64                   `firestore:"itemId"`
	ItemName      string                  `firestore:"itemName"`
	Price         string                  `firestore:"price"`
	Tax           string                  `firestore:"tax"`
	TaxRate       string                  `firestore:"taxRate"`
	TaxCategory   string                  `firestore:"taxCategory,omitempty"`
	Discount      string                  `firestore:"discount"`
	Credits       string                  `firestore:"credits"`
	Fee           string                  `firestore:"fee"`
	Currency      string                  `firestore:"currency"`
	CostCenter    string                  `firestore:"costCenter,omitempty"`
	Identifier    int64                   `firestore:"identifier"`
	PaymentMethod string                  `firestore:"paymentMethod"`
	PaymentStatus string                  `firestore:"paymentStatus"`
	CancelUntil   *time.Time              `firestore:"cancelUntil,omitempty"`
	Installment   *installmentPlanDocument `firestore:"installment,omitempty"`
	Annotation    string                  `firestore:"annotation,omitempty"`
	OperatorID    int64                   `firestore:"operatorId"`
	CreatedAt     time.Time               `firestore:"createdAt"`
	UpdatedAt     time.Time               `firestore:"updatedAt"`
	CanceledAt    *time.Time              `firestore:"canceledAt,omitempty"`
}

type installmentPlanDocument struct {
	DownPayment      string     `firestore:"downPayment"`
	NumberOfPayments int        `firestore:"numberOfPayments"`
	IntervalDays     int        `firestore:"intervalDays"`
	FirstDueAt       *time.Time `firestore:"firstDueAt,omitempty"`
}

func encodeHistoryRecord(record domain.HistoryRecord) historyDocument {
	doc := historyDocument{
		UserID:        record.UserID,
		Component:     record.Component,
		Area:          record.Area,
		ItemID:        record.ItemID,
		ItemName:      record.ItemName,
		Price:         encodeMoney(record.Price),
		Tax:           encodeMoney(record.Tax),
		TaxRate:       encodeMoney(record.TaxRate),
		TaxCategory:   record.TaxCategory,
		Discount:      encodeMoney(record.Discount),
		Credits:       encodeMoney(record.Credits),
		Fee:           encodeMoney(record.Fee),
		Currency:      record.Currency,
		CostCenter:    record.CostCenter,
		Identifier:    record.Identifier,
		PaymentMethod: string(record.PaymentMethod),
		PaymentStatus: string(record.PaymentStatus),
		CancelUntil:   record.CancelUntil,
		Annotation:    record.Annotation,
		OperatorID:    record.OperatorID,
		CreatedAt:     record.CreatedAt.UTC(),
		UpdatedAt:     record.UpdatedAt.UTC(),
		CanceledAt:    record.CanceledAt,
	}
	if plan := record.Installment; plan != nil {
		doc.Installment = &installmentPlanDocument{
			DownPayment:      encodeMoney(plan.DownPayment),
			NumberOfPayments: plan.NumberOfPayments,
			IntervalDays:     plan.IntervalDays,
			FirstDueAt:       plan.FirstDueAt,
		}
	}
	return doc
}

func decodeHistoryRecord(snap *firestore.DocumentSnapshot) (domain.HistoryRecord, error) {
	var doc historyDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.HistoryRecord{}, err
	}
	var dec moneyDecoder
	record := domain.HistoryRecord{
		ID:            snap.Ref.ID,
		UserID:        doc.UserID,
		Component:     doc.Component,
		Area:          doc.Area,
		ItemID:        doc.ItemID,
		ItemName:      doc.ItemName,
		Price:         dec.decode("price", doc.Price),
		Tax:           dec.decode("tax", doc.Tax),
		TaxRate:       dec.decode("taxRate", doc.TaxRate),
		TaxCategory:   doc.TaxCategory,
		Discount:      dec.decode("discount", doc.Discount),
		Credits:       dec.decode("credits", doc.Credits),
		Fee:           dec.decode("fee", doc.Fee),
		Currency:      doc.Currency,
		CostCenter:    doc.CostCenter,
		Identifier:    doc.Identifier,
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		CancelUntil:   doc.CancelUntil,
		Annotation:    doc.Annotation,
		OperatorID:    doc.OperatorID,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		CanceledAt:    doc.CanceledAt,
	}
	if plan := doc.Installment; plan != nil {
		record.Installment = &domain.InstallmentPlan{
			DownPayment:      dec.decode("installment.downPayment", plan.DownPayment),
			NumberOfPayments: plan.NumberOfPayments,
			IntervalDays:     plan.IntervalDays,
			FirstDueAt:       plan.FirstDueAt,
		}
	}
	return record, dec.err
}

var _ repositories.HistoryRepository = (*HistoryRepository)(nil)
