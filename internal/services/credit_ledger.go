package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

var errCreditRepositoryRequired = errors.New("credit ledger: repository is required")

// CreditLedgerDeps wires the credit ledger.
type CreditLedgerDeps struct {
	Repository      repositories.CreditRepository
	Clock           func() time.Time
	DefaultCurrency string
	// OnBalanceChanged is invoked after every successful append, typically to refresh the cart's cached credit.
	OnBalanceChanged func(ctx context.Context, userID int64, view domain.CreditView)
	Logger           func(context.Context, string, map[string]any)
	IDGenerator      func() string
	Meter            metric.Meter
}

type creditLedger struct {
	repo     repositories.CreditRepository
	now      func() time.Time
	currency string
	onChange func(context.Context, int64, domain.CreditView)
	logger   func(context.Context, string, map[string]any)
	newID    func() string
	metrics  *cartMetrics
	locks    *keyedMutex
	reads    singleflight.Group
}

// NewCreditLedger constructs the credit ledger service.
func NewCreditLedger(deps CreditLedgerDeps) (CreditLedgerService, error) {
	if deps.Repository == nil {
		return nil, errCreditRepositoryRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "EUR"
	}
	return &creditLedger{
		repo:     deps.Repository,
		now:      func() time.Time { return clock().UTC() },
		currency: currency,
		onChange: deps.OnBalanceChanged,
		logger:   logger,
		newID:    idGen,
		metrics:  newCartMetrics(deps.Meter),
		locks:    newKeyedMutex(),
	}, nil
}

func creditLockKey(userID int64, costCenter string) string {
	return fmt.Sprintf("%d|%s", userID, costCenter)
}

// Balance sums every transaction of the key. A history that does not reproduce its stored balances
// fails with ErrLedgerInconsistent instead of returning a best-effort figure.
func (s *creditLedger) Balance(ctx context.Context, userID int64, costCenter string) (Balance, error) {
	if userID == 0 {
		return Balance{}, fmt.Errorf("%w: user id is required", ErrCreditInvalidInput)
	}
	costCenter = strings.TrimSpace(costCenter)
	key := creditLockKey(userID, costCenter)

	v, err, _ := s.reads.Do(key, func() (any, error) {
		txns, err := s.repo.ListTransactions(ctx, userID, costCenter)
		if err != nil {
			return Balance{}, s.translateRepoError(err)
		}
		sum, err := s.reconcile(ctx, userID, costCenter, txns)
		if err != nil {
			return Balance{}, err
		}
		return Balance{Amount: sum, Currency: s.ledgerCurrency(txns), CostCenter: costCenter}, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return v.(Balance), nil
}

// AddCredit appends a signed amount after re-walking the full history of the key.
func (s *creditLedger) AddCredit(ctx context.Context, cmd AddCreditCommand) (CreditTransaction, error) {
	if cmd.UserID == 0 {
		return CreditTransaction{}, fmt.Errorf("%w: user id is required", ErrCreditInvalidInput)
	}
	amount := domain.RoundMoney(cmd.Amount)
	if amount.IsZero() {
		return CreditTransaction{}, fmt.Errorf("%w: amount must not be zero", ErrCreditInvalidInput)
	}
	costCenter := strings.TrimSpace(cmd.CostCenter)
	key := creditLockKey(cmd.UserID, costCenter)

	unlock := s.locks.Lock(key)
	defer unlock()

	txns, err := s.repo.ListTransactions(ctx, cmd.UserID, costCenter)
	if err != nil {
		return CreditTransaction{}, s.translateRepoError(err)
	}
	balance, err := s.reconcile(ctx, cmd.UserID, costCenter, txns)
	if err != nil {
		return CreditTransaction{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.ledgerCurrency(txns)
	}
	if len(txns) > 0 {
		if existing := txns[len(txns)-1].Currency; existing != "" && existing != currency {
			return CreditTransaction{}, fmt.Errorf("%w: ledger currency is %s, got %s", ErrCreditInvalidInput, existing, currency)
		}
	}

	next := balance.Add(amount)
	if next.IsNegative() {
		return CreditTransaction{}, fmt.Errorf("%w: balance %s, movement %s", ErrInsufficientCredit, balance.StringFixed(2), amount.StringFixed(2))
	}

	head := repositories.CreditHead{Balance: balance}
	if len(txns) > 0 {
		head.Sequence = txns[len(txns)-1].Sequence
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = domain.CreditReasonManual
	}
	txn := CreditTransaction{
		ID:         s.newID(),
		UserID:     cmd.UserID,
		CostCenter: costCenter,
		Sequence:   head.Sequence + 1,
		Amount:     amount,
		Balance:    next,
		Currency:   currency,
		Reason:     reason,
		Identifier: cmd.Identifier,
		OperatorID: cmd.OperatorID,
		CreatedAt:  s.now(),
	}
	if err := s.repo.AppendTransaction(ctx, txn, head); err != nil {
		if isRepoConflict(err) {
			return CreditTransaction{}, fmt.Errorf("%w: user %d", ErrCreditConflict, cmd.UserID)
		}
		return CreditTransaction{}, s.translateRepoError(err)
	}
	s.reads.Forget(key)

	s.logger(ctx, "credits.appended", map[string]any{
		"userID":     cmd.UserID,
		"costCenter": costCenter,
		"amount":     amount.StringFixed(2),
		"balance":    next.StringFixed(2),
		"reason":     reason,
		"operatorID": cmd.OperatorID,
	})
	if s.onChange != nil {
		s.onChange(ctx, cmd.UserID, domain.CreditView{
			Balance:     next,
			Currency:    currency,
			CostCenter:  costCenter,
			RefreshedAt: txn.CreatedAt,
		})
	}
	return txn, nil
}

// UseCredit books the deductible of a prepared checkout without recomputing it.
func (s *creditLedger) UseCredit(ctx context.Context, cmd UseCreditCommand) (*CreditTransaction, error) {
	if !cmd.Checkout.UseCredit {
		return nil, nil
	}
	amount := cmd.Checkout.Deductible
	if cmd.Amount != nil {
		amount = *cmd.Amount
	}
	if !amount.IsPositive() {
		return nil, nil
	}
	userID := cmd.UserID
	if userID == 0 {
		userID = cmd.Checkout.UserID
	}
	txn, err := s.AddCredit(ctx, AddCreditCommand{
		UserID:     userID,
		Amount:     amount.Neg(),
		Currency:   cmd.Checkout.Currency,
		CostCenter: cmd.Checkout.CostCenter,
		OperatorID: cmd.OperatorID,
		Reason:     domain.CreditReasonCheckout,
		Identifier: cmd.Checkout.Identifier,
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// reconcile walks the history and checks sequence continuity and every stored running balance.
func (s *creditLedger) reconcile(ctx context.Context, userID int64, costCenter string, txns []CreditTransaction) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i, txn := range txns {
		sum = sum.Add(txn.Amount)
		if txn.Sequence == int64(i+1) && txn.Balance.Equal(sum) {
			continue
		}
		s.metrics.add(ctx, s.metrics.inconsistency, 1, attribute.String("costCenter", costCenter))
		s.logger(ctx, "credits.ledger_inconsistent", map[string]any{
			"userID":     userID,
			"costCenter": costCenter,
			"sequence":   txn.Sequence,
			"position":   i + 1,
			"stored":     txn.Balance.StringFixed(2),
			"computed":   sum.StringFixed(2),
			"txnID":      txn.ID,
		})
		return decimal.Zero, fmt.Errorf("%w: user %d cost center %q at position %d: stored %s, computed %s",
			ErrLedgerInconsistent, userID, costCenter, i+1, txn.Balance.StringFixed(2), sum.StringFixed(2))
	}
	return sum, nil
}

func (s *creditLedger) ledgerCurrency(txns []CreditTransaction) string {
	for i := len(txns) - 1; i >= 0; i-- {
		if txns[i].Currency != "" {
			return txns[i].Currency
		}
	}
	return s.currency
}

func (s *creditLedger) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if isContextError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCreditUnavailable, err)
}
