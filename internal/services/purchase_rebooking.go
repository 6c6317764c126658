package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

// RebookItem puts a rebook marker for a purchase into the cart. Once the user adds the replacement,
// the carried value of every marker is granted as a negative rebooking credit item.
func (s *purchaseOrchestrator) RebookItem(ctx context.Context, acting ActingContext, historyID string) (CheckoutData, error) {
	if !s.rebooking.Enabled {
		return CheckoutData{}, ErrRebookingDisabled
	}
	if err := s.authorize(ctx, acting); err != nil {
		return CheckoutData{}, err
	}
	userID := acting.TargetUserID

	record, err := s.resolvePurchase(ctx, userID, CancelPurchaseCommand{HistoryID: historyID})
	if err != nil {
		return CheckoutData{}, err
	}
	switch {
	case record.PaymentStatus == domain.PaymentStatusCanceled:
		return CheckoutData{}, ErrPurchaseAlreadyCanceled
	case record.PaymentStatus != domain.PaymentStatusSuccess:
		return CheckoutData{}, fmt.Errorf("%w: purchase is %s", ErrCancellationRejected, record.PaymentStatus)
	case record.Component == domain.ComponentShoppingCart:
		return CheckoutData{}, fmt.Errorf("%w: %s cannot be rebooked", ErrCancellationRejected, record.Key())
	}
	if !s.perms.IsCashier(ctx, acting.OperatorID) && record.CancelUntil != nil && s.now().After(*record.CancelUntil) {
		return CheckoutData{}, ErrCancellationWindowClosed
	}

	marker := CartItem{
		Component:       domain.ComponentShoppingCart,
		Area:            domain.AreaRebookItem,
		ItemID:          rebookMarkerID(record.ID),
		UserID:          userID,
		Name:            record.ItemName,
		Price:           decimal.Zero,
		Currency:        record.Currency,
		CostCenter:      record.CostCenter,
		RebookHistoryID: record.ID,
		CarriedValue:    decimal.Max(record.Price, decimal.Zero),
	}
	if _, _, err := s.carts.AddItem(ctx, marker); err != nil {
		return CheckoutData{}, err
	}
	if err := s.ensureRebookingCredit(ctx, userID); err != nil {
		return CheckoutData{}, err
	}
	s.logger(ctx, "rebooking.marked", map[string]any{
		"userID":     userID,
		"operatorID": acting.OperatorID,
		"historyID":  record.ID,
	})
	return s.carts.Data(ctx, userID)
}

// ensureRebookingCredit keeps the rebooking credit item in line with the rebook markers of the cart.
// A new credit is only granted while the user stays below the allowed number of rebookings in the
// configured period.
func (s *purchaseOrchestrator) ensureRebookingCredit(ctx context.Context, userID int64) error {
	if !s.rebooking.Enabled {
		return nil
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return err
	}
	if len(cart.RebookMarkers()) == 0 || cart.PurchasableCount() == 0 {
		return nil
	}

	granted := true
	creditKey := ItemKey{Component: domain.ComponentShoppingCart, Area: domain.AreaRebookingCredit, ItemID: domain.RebookingCreditItemID}
	if !cart.Has(creditKey) {
		since := s.now().Add(-s.rebooking.Period)
		count, err := s.ledger.CountSince(ctx, userID, domain.ComponentShoppingCart, domain.AreaRebookingCredit, since)
		if err != nil {
			return fmt.Errorf("%w: rebooking history: %v", ErrCartUnavailable, err)
		}
		granted = count < s.rebooking.MaxPerPeriod
	}
	if !granted {
		s.logger(ctx, "rebooking.limit_reached", map[string]any{"userID": userID})
		return nil
	}

	_, err = s.carts.Update(ctx, userID, func(cart *Cart) error {
		markers := cart.RebookMarkers()
		if len(markers) == 0 || cart.PurchasableCount() == 0 {
			return errCartUnchanged
		}
		carried := decimal.Zero
		currency := ""
		for _, marker := range markers {
			carried = carried.Add(marker.CarriedValue)
			if currency == "" {
				currency = marker.Currency
			}
		}
		price := decimal.Min(domain.RoundMoney(carried.Neg().Add(s.rebooking.Fee)), decimal.Zero)

		if idx := cart.Find(creditKey); idx >= 0 {
			if cart.Items[idx].Price.Equal(price) {
				return errCartUnchanged
			}
			cart.Items[idx].Price = price
		} else {
			cart.Items = append(cart.Items, CartItem{
				Component: domain.ComponentShoppingCart,
				Area:      domain.AreaRebookingCredit,
				ItemID:    domain.RebookingCreditItemID,
				UserID:    userID,
				Name:      "Rebooking credit",
				Price:     price,
				Currency:  currency,
				AddedAt:   s.now(),
			})
		}
		cart.Prepared = nil
		return nil
	})
	return err
}

// settleRebooking cancels the purchase a marker replaces. Its value already went into the new
// purchase through the rebooking credit, so nothing is refunded.
func (s *purchaseOrchestrator) settleRebooking(ctx context.Context, acting ActingContext, data CheckoutData, marker CartItem, annotation string) error {
	record, err := s.history.Get(ctx, marker.RebookHistoryID)
	if err != nil {
		if isRepoNotFound(err) {
			return ErrPurchaseNotFound
		}
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	if record.UserID != acting.TargetUserID {
		return ErrPurchaseNotFound
	}

	provider, err := s.providers.Provider(record.Component)
	if err != nil {
		return err
	}
	if ok, err := provider.CancelPurchase(ctx, record.Area, record.ItemID, record.UserID); err != nil || !ok {
		fields := map[string]any{"userID": record.UserID, "historyID": record.ID}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger(ctx, "rebooking.provider_cancel_failed", fields)
	}

	now := s.now()
	if _, err := s.history.MarkCanceled(ctx, record.ID, now, acting.OperatorID); err != nil {
		if isRepoConflict(err) {
			return ErrPurchaseAlreadyCanceled
		}
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	entry := LedgerEntry{
		ID:            s.newID(),
		UserID:        record.UserID,
		Component:     record.Component,
		Area:          record.Area,
		ItemID:        record.ItemID,
		ItemName:      record.ItemName,
		Price:         decimal.Zero,
		Currency:      record.Currency,
		CostCenter:    record.CostCenter,
		Identifier:    data.Identifier,
		PaymentMethod: domain.PaymentMethodRebooking,
		PaymentStatus: domain.PaymentStatusCanceled,
		ReferenceID:   record.ID,
		Annotation:    annotation,
		OperatorID:    acting.OperatorID,
		CreatedAt:     now,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger(ctx, "rebooking.ledger_failed", map[string]any{"historyID": record.ID, "error": err.Error()})
	}
	return nil
}

// rebookMarkerID derives a stable positive item id from the history id of the rebooked purchase.
func rebookMarkerID(historyID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(historyID)))
	id := int64(h.Sum64() >> 1)
	if id == 0 {
		id = 1
	}
	return id
}
