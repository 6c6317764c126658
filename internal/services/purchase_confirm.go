package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

// ConfirmPayment commits the cart. Without an identifier the cart is priced afresh and paid at the
// cashier desk or entirely with credit; with an identifier the prepared snapshot of a gateway
// payment is committed, and repeating the call for an identifier already in history replays it.
func (s *purchaseOrchestrator) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmPaymentResult, error) {
	acting := cmd.Acting
	if acting.TargetUserID == 0 || acting.OperatorID == 0 {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: acting context is incomplete", ErrCartInvalidInput)
	}
	if cmd.Method != "" && !cmd.Method.Valid() {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalid, cmd.Method)
	}
	annotation := s.sanitize(cmd.Annotation)
	if cmd.Identifier == 0 {
		return s.confirmAtDesk(ctx, acting, cmd.Method, annotation)
	}
	return s.confirmGateway(ctx, cmd, annotation)
}

func (s *purchaseOrchestrator) confirmAtDesk(ctx context.Context, acting ActingContext, method PaymentMethod, annotation string) (ConfirmPaymentResult, error) {
	isCashier := s.perms.IsCashier(ctx, acting.OperatorID)
	if acting.OnBehalf() && !isCashier {
		return ConfirmPaymentResult{}, ErrPermissionDenied
	}
	if !acting.OnBehalf() && !isCashier && !s.perms.CanBuy(ctx, acting.OperatorID) {
		return ConfirmPaymentResult{}, ErrPermissionDenied
	}

	cart, err := s.carts.Update(ctx, acting.TargetUserID, func(cart *Cart) error {
		if cart.PurchasableCount() == 0 {
			return ErrCartEmpty
		}
		dropFreeBookingFee(cart)
		cart.Prepared = nil
		return nil
	})
	if err != nil {
		return ConfirmPaymentResult{}, err
	}
	data, err := s.pricer.Calculate(ctx, PriceCartCommand{Cart: cart})
	if err != nil {
		return ConfirmPaymentResult{}, err
	}
	if !data.RemainingTotal.IsZero() && !isCashier {
		return ConfirmPaymentResult{}, ErrPermissionDenied
	}
	if method == "" {
		method = domain.PaymentMethodCashier
		if data.RemainingTotal.IsZero() {
			method = domain.PaymentMethodCredits
		}
	}

	identifier, err := s.counters.Next(ctx, checkoutCounterID, 1)
	if err != nil {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: checkout identifier: %v", ErrCartUnavailable, err)
	}
	data.Identifier = identifier
	return s.commit(ctx, acting, data, method, annotation)
}

func (s *purchaseOrchestrator) confirmGateway(ctx context.Context, cmd ConfirmPaymentCommand, annotation string) (ConfirmPaymentResult, error) {
	acting := cmd.Acting
	if err := s.authorize(ctx, acting); err != nil {
		return ConfirmPaymentResult{}, err
	}
	userID := acting.TargetUserID

	existing, err := s.history.ListByIdentifier(ctx, cmd.Identifier)
	if err != nil {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	if len(existing) > 0 {
		if existing[0].UserID != userID {
			return ConfirmPaymentResult{}, fmt.Errorf("%w: identifier %d belongs to another user", ErrCheckoutNotPrepared, cmd.Identifier)
		}
		s.logger(ctx, "checkout.replayed", map[string]any{"userID": userID, "identifier": cmd.Identifier})
		return ConfirmPaymentResult{Identifier: cmd.Identifier, Records: existing, Replayed: true}, nil
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return ConfirmPaymentResult{}, err
	}
	if cart.Prepared == nil || cart.Prepared.Identifier != cmd.Identifier {
		return ConfirmPaymentResult{}, fmt.Errorf("%w: identifier %d", ErrCheckoutNotPrepared, cmd.Identifier)
	}
	data := *cart.Prepared
	if err := s.verifyPayment(ctx, acting, data, cmd.PaymentReference); err != nil {
		return ConfirmPaymentResult{}, err
	}

	method := cmd.Method
	if method == "" {
		method = domain.PaymentMethodOnline
		if data.RemainingTotal.IsZero() {
			method = domain.PaymentMethodCredits
		}
	}
	return s.commit(ctx, acting, data, method, annotation)
}

// verifyPayment requires either a successful gateway payment of exactly the remaining total or an
// operator allowed to confirm payments manually.
func (s *purchaseOrchestrator) verifyPayment(ctx context.Context, acting ActingContext, data CheckoutData, reference string) error {
	if data.RemainingTotal.IsZero() {
		return nil
	}
	reference = strings.TrimSpace(reference)
	if s.verifier != nil && reference != "" {
		confirmation, err := s.verifier.VerifyPayment(ctx, reference)
		if err != nil {
			if isContextError(err) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrPaymentNotVerified, err)
		}
		switch {
		case !confirmation.Succeeded:
			return fmt.Errorf("%w: payment %s has not succeeded", ErrPaymentNotVerified, reference)
		case !confirmation.Amount.Equal(data.RemainingTotal):
			return fmt.Errorf("%w: paid %s, expected %s", ErrPaymentNotVerified,
				confirmation.Amount.StringFixed(2), data.RemainingTotal.StringFixed(2))
		case confirmation.Currency != "" && !strings.EqualFold(confirmation.Currency, data.Currency):
			return fmt.Errorf("%w: paid in %s, expected %s", ErrPaymentNotVerified, confirmation.Currency, data.Currency)
		case confirmation.Identifier != 0 && confirmation.Identifier != data.Identifier:
			return fmt.Errorf("%w: payment belongs to checkout %d", ErrPaymentNotVerified, confirmation.Identifier)
		}
		return nil
	}
	if s.perms.CanVerifyPayments(ctx, acting.OperatorID) {
		return nil
	}
	return ErrPaymentNotVerified
}

// commit records every item of the snapshot. Items whose provider callback or history write fails
// stay in the cart.
func (s *purchaseOrchestrator) commit(ctx context.Context, acting ActingContext, data CheckoutData, method PaymentMethod, annotation string) (ConfirmPaymentResult, error) {
	userID := acting.TargetUserID
	result := ConfirmPaymentResult{Identifier: data.Identifier, Checkout: data}

	deductible := decimal.Zero
	if data.UseCredit {
		deductible = data.Deductible
	}
	creditUsed := decimal.Zero
	var done []ItemKey
	var auxiliary, markers []PricedItem
	purchased := 0

	commitOne := func(priced PricedItem) bool {
		share := decimal.Min(deductible, decimal.Max(priced.DueNow, decimal.Zero))
		record, err := s.commitItem(ctx, acting, data, priced, share, method, annotation)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{Key: priced.Item.Key(), Error: err.Error()})
			s.logger(ctx, "checkout.item_failed", map[string]any{
				"userID":     userID,
				"identifier": data.Identifier,
				"item":       priced.Item.Key().String(),
				"error":      err.Error(),
			})
			return false
		}
		deductible = deductible.Sub(share)
		creditUsed = creditUsed.Add(share)
		result.Records = append(result.Records, record)
		done = append(done, priced.Item.Key())
		return true
	}

	for _, priced := range data.Items {
		switch {
		case priced.Item.IsRebookMarker():
			markers = append(markers, priced)
		case priced.Item.IsAuxiliary():
			auxiliary = append(auxiliary, priced)
		default:
			if commitOne(priced) {
				purchased++
			}
		}
	}

	// Fees, rebooking credits and rebook markers only settle alongside a purchased item.
	if purchased > 0 {
		for _, priced := range auxiliary {
			commitOne(priced)
		}
		for _, marker := range markers {
			if err := s.settleRebooking(ctx, acting, data, marker.Item, annotation); err != nil {
				result.Failures = append(result.Failures, ItemFailure{Key: marker.Item.Key(), Error: err.Error()})
				s.logger(ctx, "checkout.rebooking_failed", map[string]any{
					"userID":    userID,
					"historyID": marker.Item.RebookHistoryID,
					"error":     err.Error(),
				})
				continue
			}
			done = append(done, marker.Item.Key())
		}
	}

	if len(done) > 0 {
		if _, err := s.carts.RemoveItems(ctx, userID, done); err != nil {
			s.logger(ctx, "checkout.cart_cleanup_failed", map[string]any{"userID": userID, "error": err.Error()})
		}
	}

	outcome := "success"
	if len(result.Failures) > 0 {
		outcome = "partial"
		if len(result.Records) == 0 {
			outcome = "failed"
		}
	}
	s.metrics.add(ctx, s.metrics.checkouts, 1,
		attribute.String("method", string(method)),
		attribute.String("outcome", outcome))
	s.metrics.add(ctx, s.metrics.checkoutItems, int64(len(result.Records)))

	if creditUsed.IsPositive() {
		snapshot := data
		snapshot.CostCenter = s.creditCostCenter(data.CostCenter)
		if _, err := s.credits.UseCredit(ctx, UseCreditCommand{
			UserID:     userID,
			OperatorID: acting.OperatorID,
			Checkout:   snapshot,
			Amount:     &creditUsed,
		}); err != nil {
			s.logger(ctx, "checkout.credit_failed", map[string]any{
				"userID":     userID,
				"identifier": data.Identifier,
				"amount":     creditUsed.StringFixed(2),
				"error":      err.Error(),
			})
			return result, err
		}
	}

	s.logger(ctx, "checkout.confirmed", map[string]any{
		"userID":     userID,
		"operatorID": acting.OperatorID,
		"identifier": data.Identifier,
		"method":     string(method),
		"items":      len(result.Records),
		"failures":   len(result.Failures),
		"total":      data.RemainingTotal.StringFixed(2),
		"credits":    creditUsed.StringFixed(2),
	})
	return result, nil
}

func (s *purchaseOrchestrator) commitItem(ctx context.Context, acting ActingContext, data CheckoutData, priced PricedItem, credits decimal.Decimal, method PaymentMethod, annotation string) (HistoryRecord, error) {
	item := priced.Item
	provider, err := s.providers.Provider(item.Component)
	if err != nil {
		return HistoryRecord{}, err
	}
	itemMethod := method
	if item.IsRebookingCredit() {
		itemMethod = domain.PaymentMethodRebooking
	}
	ok, err := provider.SuccessfulCheckout(ctx, item.Area, item.ItemID, itemMethod, acting.TargetUserID)
	if err != nil {
		return HistoryRecord{}, err
	}
	if !ok {
		return HistoryRecord{}, fmt.Errorf("%w: %s rejected the checkout", ErrProviderUnavailable, item.Component)
	}

	now := s.now()
	record := HistoryRecord{
		ID:            s.newID(),
		UserID:        acting.TargetUserID,
		Component:     item.Component,
		Area:          item.Area,
		ItemID:        item.ItemID,
		ItemName:      item.Name,
		Price:         priced.Price,
		Tax:           priced.Tax,
		TaxRate:       priced.TaxRate,
		TaxCategory:   item.TaxCategory,
		Discount:      priced.Discount,
		Credits:       credits,
		Currency:      data.Currency,
		CostCenter:    item.CostCenter,
		Identifier:    data.Identifier,
		PaymentMethod: itemMethod,
		PaymentStatus: domain.PaymentStatusSuccess,
		CancelUntil:   item.CancelUntil,
		Annotation:    annotation,
		OperatorID:    acting.OperatorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if data.UseInstallments && item.Installment != nil && priced.DueNow.LessThan(priced.Price) {
		plan := *item.Installment
		record.Installment = &plan
	}
	if err := s.history.Insert(ctx, record); err != nil {
		// The provider already booked the item; the record must be repaired by hand.
		s.logger(ctx, "checkout.history_failed", map[string]any{
			"userID":     acting.TargetUserID,
			"identifier": data.Identifier,
			"item":       item.Key().String(),
			"error":      err.Error(),
		})
		return HistoryRecord{}, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	entry := LedgerEntry{
		ID:            s.newID(),
		UserID:        record.UserID,
		Component:     record.Component,
		Area:          record.Area,
		ItemID:        record.ItemID,
		ItemName:      record.ItemName,
		Price:         priced.DueNow,
		Tax:           record.Tax,
		Discount:      record.Discount,
		Credits:       credits,
		Currency:      record.Currency,
		CostCenter:    record.CostCenter,
		Identifier:    record.Identifier,
		PaymentMethod: record.PaymentMethod,
		PaymentStatus: domain.PaymentStatusSuccess,
		ReferenceID:   record.ID,
		Annotation:    annotation,
		OperatorID:    acting.OperatorID,
		CreatedAt:     now,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger(ctx, "checkout.ledger_failed", map[string]any{
			"userID":    acting.TargetUserID,
			"historyID": record.ID,
			"error":     err.Error(),
		})
	}
	return record, nil
}
