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

const (
	creditAccountsCollection = "creditAccounts"
	creditTransactionsSub    = "transactions"
	noCostCenter             = "_"
)

// CreditRepository keeps one account document per user and cost center holding the head of the
// ledger, with the transactions in a subcollection. Appends compare the head inside a transaction.
type CreditRepository struct {
	provider *pfirestore.Provider
	accounts *pfirestore.Collection[creditAccountDocument]
}

// NewCreditRepository constructs a Firestore-backed credit repository.
func NewCreditRepository(provider *pfirestore.Provider) (*CreditRepository, error) {
	if provider == nil {
		return nil, errors.New("credit repository requires firestore provider")
	}
	return &CreditRepository{
		provider: provider,
		accounts: pfirestore.NewCollection[creditAccountDocument](provider, creditAccountsCollection, nil),
	}, nil
}

// ListTransactions implements repositories.CreditRepository.
func (r *CreditRepository) ListTransactions(ctx context.Context, userID int64, costCenter string) ([]domain.CreditTransaction, error) {
	ref, err := r.accounts.Doc(ctx, accountID(userID, costCenter))
	if err != nil {
		return nil, err
	}
	iter := ref.Collection(creditTransactionsSub).OrderBy("sequence", firestore.Asc).Documents(ctx)
	return pfirestore.DecodeAll("credits.list", iter, decodeCreditTransaction)
}

// LastTransaction implements repositories.CreditRepository.
func (r *CreditRepository) LastTransaction(ctx context.Context, userID int64, costCenter string) (domain.CreditTransaction, error) {
	ref, err := r.accounts.Doc(ctx, accountID(userID, costCenter))
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	iter := ref.Collection(creditTransactionsSub).OrderBy("sequence", firestore.Desc).Limit(1).Documents(ctx)
	txns, err := pfirestore.DecodeAll("credits.last", iter, decodeCreditTransaction)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	if len(txns) == 0 {
		return domain.CreditTransaction{}, repositories.NotFound("credits.last")
	}
	return txns[0], nil
}

// AppendTransaction implements repositories.CreditRepository.
func (r *CreditRepository) AppendTransaction(ctx context.Context, txn domain.CreditTransaction, expected repositories.CreditHead) error {
	ref, err := r.accounts.Doc(ctx, accountID(txn.UserID, txn.CostCenter))
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var head creditAccountDocument
		snap, err := tx.Get(ref)
		switch {
		case pfirestore.IsNotFound(err):
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&head); err != nil {
				return fmt.Errorf("credits.append: decode account %s: %w", ref.ID, err)
			}
		}

		balance, err := decodeMoney("balance", head.Balance)
		if err != nil {
			return fmt.Errorf("credits.append: %w", err)
		}
		if head.Sequence != expected.Sequence || !balance.Equal(expected.Balance) {
			return repositories.Conflict("credits.append", fmt.Errorf("head moved to sequence %d", head.Sequence))
		}

		txnRef := ref.Collection(creditTransactionsSub).Doc(sequenceID(txn.Sequence))
		if err := tx.Create(txnRef, encodeCreditTransaction(txn)); err != nil {
			return err
		}
		return tx.Set(ref, creditAccountDocument{
			UserID:     txn.UserID,
			CostCenter: txn.CostCenter,
			Sequence:   txn.Sequence,
			Balance:    encodeMoney(txn.Balance),
			Currency:   txn.Currency,
			UpdatedAt:  txn.CreatedAt.UTC(),
		})
	})
}

func accountID(userID int64, costCenter string) string {
	cc := strings.TrimSpace(costCenter)
	if cc == "" {
		cc = noCostCenter
	}
	return userKey(userID) + ":" + strings.ReplaceAll(cc, "/", "_")
}

func sequenceID(seq int64) string {
	return fmt.Sprintf("%012d", seq)
}

type creditAccountDocument struct {
	UserID     int64     `firestore:"userId"`
	CostCenter string    `firestore:"costCenter"`
	Sequence   int64     `firestore:"sequence"`
	Balance    string    `firestore:"balance"`
	Currency   string    `firestore:"currency"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

type creditTransactionDocument struct {
	ID         string    `firestore:"id"`
	UserID     int64     `firestore:"userId"`
	CostCenter string    `firestore:"costCenter"`
	Sequence   int64     `firestore:"sequence"`
	Amount     string    `firestore:"amount"`
	Balance    string    `firestore:"balance"`
	Currency   string    `firestore:"currency"`
	Reason     string    `firestore:"reason"`
	Identifier int64     `firestore:"identifier,omitempty"`
	OperatorID int64     `firestore:"operatorId"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func encodeCreditTransaction(txn domain.CreditTransaction) creditTransactionDocument {
	return creditTransactionDocument{
		ID:         txn.ID,
		UserID:     txn.UserID,
		CostCenter: txn.CostCenter,
		Sequence:   txn.Sequence,
		Amount:     encodeMoney(txn.Amount),
		Balance:    encodeMoney(txn.Balance),
		Currency:   txn.Currency,
		Reason:     txn.Reason,
		Identifier: txn.Identifier,
		OperatorID: txn.OperatorID,
		CreatedAt:  txn.CreatedAt.UTC(),
	}
}

func decodeCreditTransaction(snap *firestore.DocumentSnapshot) (domain.CreditTransaction, error) {
	var doc creditTransactionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.CreditTransaction{}, err
	}
	var dec moneyDecoder
	txn := domain.CreditTransaction{
		ID:         doc.ID,
		UserID:     doc.UserID,
		CostCenter: doc.CostCenter,
		Sequence:   doc.Sequence,
		Amount:     dec.decode("amount", doc.Amount),
		Balance:    dec.decode("balance", doc.Balance),
		Currency:   doc.Currency,
		Reason:     doc.Reason,
		Identifier: doc.Identifier,
		OperatorID: doc.OperatorID,
		CreatedAt:  doc.CreatedAt,
	}
	return txn, dec.err
}

var _ repositories.CreditRepository = (*CreditRepository)(nil)
