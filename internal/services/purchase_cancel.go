package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

// CancelPurchase cancels a purchased item and refunds its price, minus the cancellation fee, as
// credit. Every check runs before anything is mutated.
func (s *purchaseOrchestrator) CancelPurchase(ctx context.Context, cmd CancelPurchaseCommand) (CancelPurchaseResult, error) {
	acting := cmd.Acting
	if acting.OperatorID == 0 {
		return CancelPurchaseResult{}, fmt.Errorf("%w: operator is required", ErrCartInvalidInput)
	}
	userID := cmd.UserID
	if userID == 0 {
		userID = acting.TargetUserID
	}
	if userID == 0 {
		return CancelPurchaseResult{}, fmt.Errorf("%w: user is required", ErrCartInvalidInput)
	}

	isCashier := s.perms.IsCashier(ctx, acting.OperatorID)
	if acting.OperatorID != userID && !isCashier {
		return CancelPurchaseResult{}, ErrPermissionDenied
	}
	if (cmd.CustomCredit != nil || cmd.CancelationFee != nil) && !isCashier {
		return CancelPurchaseResult{}, ErrPermissionDenied
	}

	record, err := s.resolvePurchase(ctx, userID, cmd)
	if err != nil {
		return CancelPurchaseResult{}, err
	}
	switch {
	case record.PaymentStatus == domain.PaymentStatusCanceled:
		return CancelPurchaseResult{}, ErrPurchaseAlreadyCanceled
	case record.PaymentStatus != domain.PaymentStatusSuccess:
		return CancelPurchaseResult{}, fmt.Errorf("%w: purchase is %s", ErrCancellationRejected, record.PaymentStatus)
	case record.Component == domain.ComponentShoppingCart && record.Area != domain.AreaBookingFee:
		return CancelPurchaseResult{}, fmt.Errorf("%w: %s cannot be canceled", ErrCancellationRejected, record.Key())
	}
	now := s.now()
	if !isCashier && record.CancelUntil != nil && now.After(*record.CancelUntil) {
		return CancelPurchaseResult{}, ErrCancellationWindowClosed
	}

	base := decimal.Max(record.Price, decimal.Zero)
	if s.quotaRefund && cmd.CustomCredit == nil {
		base, err = s.unconsumedShare(ctx, record, base)
		if err != nil {
			return CancelPurchaseResult{}, err
		}
	}
	if cmd.CustomCredit != nil {
		if cmd.CustomCredit.IsNegative() {
			return CancelPurchaseResult{}, fmt.Errorf("%w: custom credit must not be negative", ErrCreditInvalidInput)
		}
		base = domain.RoundMoney(*cmd.CustomCredit)
	}
	fee := s.cancelFee
	if cmd.CancelationFee != nil {
		if cmd.CancelationFee.IsNegative() {
			return CancelPurchaseResult{}, fmt.Errorf("%w: cancelation fee must not be negative", ErrCreditInvalidInput)
		}
		fee = domain.RoundMoney(*cmd.CancelationFee)
	}
	credit, fee := clampRefund(base, fee)

	if cmd.ApplyToComponent {
		provider, err := s.providers.Provider(record.Component)
		if err != nil {
			return CancelPurchaseResult{}, err
		}
		ok, err := provider.CancelPurchase(ctx, record.Area, record.ItemID, userID)
		if err != nil {
			return CancelPurchaseResult{}, err
		}
		if !ok {
			s.metrics.add(ctx, s.metrics.cancellations, 1, attribute.String("outcome", "rejected"))
			return CancelPurchaseResult{}, fmt.Errorf("%w: %s refused", ErrCancellationRejected, record.Component)
		}
	}

	canceled, err := s.history.MarkCanceled(ctx, record.ID, now, acting.OperatorID)
	if err != nil {
		if isRepoConflict(err) {
			return CancelPurchaseResult{}, ErrPurchaseAlreadyCanceled
		}
		if isRepoNotFound(err) {
			return CancelPurchaseResult{}, ErrPurchaseNotFound
		}
		return CancelPurchaseResult{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	costCenter := s.creditCostCenter(record.CostCenter)
	if credit.IsPositive() {
		if _, err := s.credits.AddCredit(ctx, AddCreditCommand{
			UserID:     userID,
			Amount:     credit,
			Currency:   record.Currency,
			CostCenter: costCenter,
			OperatorID: acting.OperatorID,
			Reason:     domain.CreditReasonCancellation,
			Identifier: record.Identifier,
		}); err != nil {
			s.logger(ctx, "cancellation.refund_failed", map[string]any{
				"userID":    userID,
				"historyID": record.ID,
				"credit":    credit.StringFixed(2),
				"error":     err.Error(),
			})
			return CancelPurchaseResult{}, err
		}
	}

	entry := LedgerEntry{
		ID:            s.newID(),
		UserID:        userID,
		Component:     record.Component,
		Area:          record.Area,
		ItemID:        record.ItemID,
		ItemName:      record.ItemName,
		Price:         credit.Neg(),
		Credits:       credit,
		Fee:           fee,
		Currency:      record.Currency,
		CostCenter:    record.CostCenter,
		Identifier:    record.Identifier,
		PaymentMethod: record.PaymentMethod,
		PaymentStatus: domain.PaymentStatusCanceled,
		ReferenceID:   record.ID,
		OperatorID:    acting.OperatorID,
		CreatedAt:     now,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger(ctx, "cancellation.ledger_failed", map[string]any{
			"userID":    userID,
			"historyID": record.ID,
			"error":     err.Error(),
		})
		return CancelPurchaseResult{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	balance, err := s.credits.Balance(ctx, userID, costCenter)
	if err != nil {
		return CancelPurchaseResult{}, err
	}
	s.metrics.add(ctx, s.metrics.cancellations, 1, attribute.String("outcome", "success"))
	s.logger(ctx, "cancellation.completed", map[string]any{
		"userID":     userID,
		"operatorID": acting.OperatorID,
		"historyID":  record.ID,
		"credit":     credit.StringFixed(2),
		"fee":        fee.StringFixed(2),
	})
	return CancelPurchaseResult{
		Success:  true,
		Credit:   credit,
		Fee:      fee,
		Currency: record.Currency,
		Record:   canceled,
		Ledger:   entry,
		Balance:  balance,
	}, nil
}

func (s *purchaseOrchestrator) resolvePurchase(ctx context.Context, userID int64, cmd CancelPurchaseCommand) (HistoryRecord, error) {
	var (
		record HistoryRecord
		err    error
	)
	if id := strings.TrimSpace(cmd.HistoryID); id != "" {
		record, err = s.history.Get(ctx, id)
		if err == nil && record.UserID != userID {
			return HistoryRecord{}, ErrPurchaseNotFound
		}
	} else {
		if strings.TrimSpace(cmd.Component) == "" || strings.TrimSpace(cmd.Area) == "" {
			return HistoryRecord{}, fmt.Errorf("%w: item key or history id is required", ErrCartInvalidInput)
		}
		record, err = s.history.FindLatest(ctx, userID, ItemKey{Component: cmd.Component, Area: cmd.Area, ItemID: cmd.ItemID})
	}
	if err != nil {
		if isRepoNotFound(err) {
			return HistoryRecord{}, ErrPurchaseNotFound
		}
		if isContextError(err) {
			return HistoryRecord{}, err
		}
		return HistoryRecord{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	return record, nil
}

// unconsumedShare reduces the refundable base by the share of the item the provider reports as used.
func (s *purchaseOrchestrator) unconsumedShare(ctx context.Context, record HistoryRecord, base decimal.Decimal) (decimal.Decimal, error) {
	provider, err := s.providers.Provider(record.Component)
	if err != nil {
		return decimal.Zero, err
	}
	consumed, err := provider.QuotaConsumed(ctx, record.Area, record.ItemID, record.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	share := decimal.NewFromFloat(consumed)
	if share.IsNegative() {
		share = decimal.Zero
	}
	if share.GreaterThan(decimal.NewFromInt(1)) {
		share = decimal.NewFromInt(1)
	}
	return domain.RoundMoney(base.Mul(decimal.NewFromInt(1).Sub(share))), nil
}

// clampRefund deducts the fee from the refund. A fee larger than the refund only keeps what there is
// to keep, so the refund never turns negative.
func clampRefund(base, fee decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	credit := base.Sub(fee)
	if credit.IsNegative() {
		return decimal.Zero, base
	}
	return credit, fee
}
