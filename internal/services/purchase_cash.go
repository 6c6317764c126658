package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/textutil"
)

const areaCreditMovement = "credit"

// AddCredit books credit a cashier received for a user.
func (s *purchaseOrchestrator) AddCredit(ctx context.Context, cmd ManualCreditCommand) (Balance, error) {
	if err := s.requireCashier(ctx, cmd.Acting); err != nil {
		return Balance{}, err
	}
	amount := domain.RoundMoney(cmd.Amount)
	if !amount.IsPositive() {
		return Balance{}, fmt.Errorf("%w: amount must be positive", ErrCreditInvalidInput)
	}
	method := cmd.Method
	if method == "" {
		method = domain.PaymentMethodCashierCash
	}
	if !method.IsCashier() {
		return Balance{}, fmt.Errorf("%w: %q is not a cashier payment method", ErrCreditInvalidInput, method)
	}
	currency := cmd.Currency
	if currency == "" {
		currency = s.currency
	}
	currency, err := textutil.NormalizeCurrency(currency)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrCreditInvalidInput, err)
	}
	costCenter := s.creditCostCenter(cmd.CostCenter)

	if _, err := s.credits.AddCredit(ctx, AddCreditCommand{
		UserID:     cmd.Acting.TargetUserID,
		Amount:     amount,
		Currency:   currency,
		CostCenter: costCenter,
		OperatorID: cmd.Acting.OperatorID,
		Reason:     domain.CreditReasonManual,
	}); err != nil {
		return Balance{}, err
	}
	s.recordCashMovement(ctx, cmd.Acting, amount, currency, costCenter, method, s.sanitize(cmd.Annotation))
	return s.credits.Balance(ctx, cmd.Acting.TargetUserID, costCenter)
}

// PayoutCredit pays the whole credit balance of a user back in cash or by transfer.
func (s *purchaseOrchestrator) PayoutCredit(ctx context.Context, cmd PayoutCreditCommand) (Balance, error) {
	if err := s.requireCashier(ctx, cmd.Acting); err != nil {
		return Balance{}, err
	}
	method := cmd.Method
	if method == "" {
		method = domain.PaymentMethodCreditsPaidCash
	}
	if method != domain.PaymentMethodCreditsPaidCash && method != domain.PaymentMethodCreditsPaidBanking {
		return Balance{}, fmt.Errorf("%w: %q is not a payout method", ErrCreditInvalidInput, method)
	}
	userID := cmd.Acting.TargetUserID
	costCenter := s.creditCostCenter(cmd.CostCenter)

	balance, err := s.credits.Balance(ctx, userID, costCenter)
	if err != nil {
		return Balance{}, err
	}
	if !balance.Amount.IsPositive() {
		return Balance{}, fmt.Errorf("%w: nothing to pay out", ErrInsufficientCredit)
	}
	if _, err := s.credits.AddCredit(ctx, AddCreditCommand{
		UserID:     userID,
		Amount:     balance.Amount.Neg(),
		Currency:   balance.Currency,
		CostCenter: costCenter,
		OperatorID: cmd.Acting.OperatorID,
		Reason:     domain.CreditReasonPayout,
	}); err != nil {
		return Balance{}, err
	}
	s.recordCashMovement(ctx, cmd.Acting, balance.Amount.Neg(), balance.Currency, costCenter, method, s.sanitize(cmd.Annotation))
	return s.credits.Balance(ctx, userID, costCenter)
}

// recordCashMovement writes the ledger row of money crossing the cashier desk. The credit ledger is
// already updated, so a failed write is logged rather than returned.
func (s *purchaseOrchestrator) recordCashMovement(ctx context.Context, acting ActingContext, amount decimal.Decimal, currency, costCenter string, method PaymentMethod, annotation string) {
	entry := LedgerEntry{
		ID:            s.newID(),
		UserID:        acting.TargetUserID,
		Component:     domain.ComponentShoppingCart,
		Area:          areaCreditMovement,
		ItemName:      string(method),
		Price:         amount,
		Currency:      currency,
		CostCenter:    costCenter,
		PaymentMethod: method,
		PaymentStatus: domain.PaymentStatusSuccess,
		Annotation:    annotation,
		OperatorID:    acting.OperatorID,
		CreatedAt:     s.now(),
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger(ctx, "credits.cash_ledger_failed", map[string]any{
			"userID": acting.TargetUserID,
			"method": string(method),
			"amount": amount.StringFixed(2),
			"error":  err.Error(),
		})
	}
}
