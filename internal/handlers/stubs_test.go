package handlers

import (
	"context"
	"net/http"
	"time"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

func withUser(req *http.Request, userID int64, caps ...string) *http.Request {
	identity := &auth.Identity{UID: "uid", UserID: userID, Capabilities: caps}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

type stubPurchases struct {
	allowFn     func(context.Context, services.ActingContext, services.ItemKey) (services.AllowDecision, error)
	addFn       func(context.Context, services.ActingContext, services.ItemKey) (services.AddItemResult, error)
	deleteFn    func(context.Context, services.ActingContext, services.ItemKey) (services.CheckoutData, error)
	getFn       func(context.Context, services.ActingContext) (services.CheckoutData, error)
	creditFn    func(context.Context, services.ActingContext, bool) (services.CheckoutData, error)
	installFn   func(context.Context, services.ActingContext, bool) (services.CheckoutData, error)
	discountFn  func(context.Context, services.ActingContext, services.ItemKey, domain.Discount) (services.CheckoutData, error)
	prepareFn   func(context.Context, services.ActingContext) (services.CheckoutData, error)
	confirmFn   func(context.Context, services.ConfirmPaymentCommand) (services.ConfirmPaymentResult, error)
	cancelFn    func(context.Context, services.CancelPurchaseCommand) (services.CancelPurchaseResult, error)
	rebookFn    func(context.Context, services.ActingContext, string) (services.CheckoutData, error)
	expireFn    func(context.Context, int64) (services.ExpireCartResult, error)
	addCreditFn func(context.Context, services.ManualCreditCommand) (services.Balance, error)
	payoutFn    func(context.Context, services.PayoutCreditCommand) (services.Balance, error)
}

func (s *stubPurchases) AllowAddItemToCart(ctx context.Context, acting services.ActingContext, key services.ItemKey) (services.AllowDecision, error) {
	if s.allowFn == nil {
		return services.AllowDecision{Verdict: domain.VerdictSuccess}, nil
	}
	return s.allowFn(ctx, acting, key)
}

func (s *stubPurchases) AddItemToCart(ctx context.Context, acting services.ActingContext, key services.ItemKey) (services.AddItemResult, error) {
	if s.addFn == nil {
		return services.AddItemResult{}, nil
	}
	return s.addFn(ctx, acting, key)
}

func (s *stubPurchases) DeleteItemFromCart(ctx context.Context, acting services.ActingContext, key services.ItemKey) (services.CheckoutData, error) {
	if s.deleteFn == nil {
		return services.CheckoutData{}, nil
	}
	return s.deleteFn(ctx, acting, key)
}

func (s *stubPurchases) GetCart(ctx context.Context, acting services.ActingContext) (services.CheckoutData, error) {
	if s.getFn == nil {
		return services.CheckoutData{UserID: acting.TargetUserID}, nil
	}
	return s.getFn(ctx, acting)
}

func (s *stubPurchases) SetCreditUsage(ctx context.Context, acting services.ActingContext, use bool) (services.CheckoutData, error) {
	if s.creditFn == nil {
		return services.CheckoutData{UseCredit: use}, nil
	}
	return s.creditFn(ctx, acting, use)
}

func (s *stubPurchases) SetInstallmentUsage(ctx context.Context, acting services.ActingContext, use bool) (services.CheckoutData, error) {
	if s.installFn == nil {
		return services.CheckoutData{UseInstallments: use}, nil
	}
	return s.installFn(ctx, acting, use)
}

func (s *stubPurchases) AddDiscountToItem(ctx context.Context, acting services.ActingContext, key services.ItemKey, discount domain.Discount) (services.CheckoutData, error) {
	if s.discountFn == nil {
		return services.CheckoutData{}, nil
	}
	return s.discountFn(ctx, acting, key, discount)
}

func (s *stubPurchases) PrepareCheckout(ctx context.Context, acting services.ActingContext) (services.CheckoutData, error) {
	if s.prepareFn == nil {
		return services.CheckoutData{}, nil
	}
	return s.prepareFn(ctx, acting)
}

func (s *stubPurchases) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.ConfirmPaymentResult, error) {
	if s.confirmFn == nil {
		return services.ConfirmPaymentResult{}, nil
	}
	return s.confirmFn(ctx, cmd)
}

func (s *stubPurchases) CancelPurchase(ctx context.Context, cmd services.CancelPurchaseCommand) (services.CancelPurchaseResult, error) {
	if s.cancelFn == nil {
		return services.CancelPurchaseResult{Success: true}, nil
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubPurchases) RebookItem(ctx context.Context, acting services.ActingContext, historyID string) (services.CheckoutData, error) {
	if s.rebookFn == nil {
		return services.CheckoutData{}, nil
	}
	return s.rebookFn(ctx, acting, historyID)
}

func (s *stubPurchases) ExpireCart(ctx context.Context, userID int64) (services.ExpireCartResult, error) {
	if s.expireFn == nil {
		return services.ExpireCartResult{}, nil
	}
	return s.expireFn(ctx, userID)
}

func (s *stubPurchases) AddCredit(ctx context.Context, cmd services.ManualCreditCommand) (services.Balance, error) {
	if s.addCreditFn == nil {
		return services.Balance{}, nil
	}
	return s.addCreditFn(ctx, cmd)
}

func (s *stubPurchases) PayoutCredit(ctx context.Context, cmd services.PayoutCreditCommand) (services.Balance, error) {
	if s.payoutFn == nil {
		return services.Balance{}, nil
	}
	return s.payoutFn(ctx, cmd)
}

type stubFlow struct {
	checkFn  func(context.Context, int64, string, map[string]string) (services.StepOverview, error)
	renderFn func(context.Context, int64) (services.CheckoutOverview, error)
}

func (s *stubFlow) CheckPreprocess(ctx context.Context, userID int64, step string, changed map[string]string) (services.StepOverview, error) {
	if s.checkFn == nil {
		return services.StepOverview{Name: step, Valid: true}, nil
	}
	return s.checkFn(ctx, userID, step, changed)
}

func (s *stubFlow) RenderOverview(ctx context.Context, userID int64) (services.CheckoutOverview, error) {
	if s.renderFn == nil {
		return services.CheckoutOverview{Valid: true, Checkout: services.CheckoutData{UserID: userID}}, nil
	}
	return s.renderFn(ctx, userID)
}

type stubHistory struct {
	records  []services.HistoryRecord
	ledger   []services.LedgerEntry
	err      error
	summary  services.CashSummary
	exported string
	lastDay  time.Time
}

func (s *stubHistory) ListHistory(_ context.Context, _ services.ActingContext) ([]services.HistoryRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]services.HistoryRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *stubHistory) ListLedger(_ context.Context, _ services.ActingContext, day time.Time) ([]services.LedgerEntry, error) {
	s.lastDay = day
	return s.ledger, s.err
}

func (s *stubHistory) DailySummary(_ context.Context, _ services.ActingContext, day time.Time) (services.CashSummary, error) {
	s.lastDay = day
	return s.summary, s.err
}

func (s *stubHistory) ExportDailySummary(_ context.Context, _ services.ActingContext, day time.Time) (string, error) {
	s.lastDay = day
	return s.exported, s.err
}

var (
	_ services.PurchaseOrchestrator = (*stubPurchases)(nil)
	_ services.CheckoutFlow         = (*stubFlow)(nil)
	_ services.HistoryService       = (*stubHistory)(nil)
)
