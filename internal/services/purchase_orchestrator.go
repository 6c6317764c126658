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

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/textutil"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

const (
	checkoutCounterID   = "checkout"
	maxAnnotationRunes  = 500
	maxDescriptionRunes = 2000
)

// ProviderResolver resolves the item provider of a component.
type ProviderResolver interface {
	Provider(component string) (ItemProvider, error)
}

// RebookingPolicy configures rebooking.
type RebookingPolicy struct {
	Enabled bool
	// Period is the window in which at most MaxPerPeriod rebooking credits are granted.
	Period       time.Duration
	MaxPerPeriod int
	// Fee is charged on top of a rebooking and reduces the rebooking credit.
	Fee decimal.Decimal
}

// PurchaseOrchestratorDeps wires the purchase orchestrator.
type PurchaseOrchestratorDeps struct {
	Carts       CartStore
	Pricer      PricingEngine
	Credits     CreditLedgerService
	Providers   ProviderResolver
	Permissions PermissionChecker
	Checkout    CheckoutFlow
	History     repositories.HistoryRepository
	Ledger      repositories.LedgerRepository
	Counters    repositories.CounterRepository
	Verifier    PaymentVerifier

	MaxItems       int
	SameCostCenter bool
	// CostCenterCredits keeps refunds and payouts on the cost center of the purchase.
	CostCenterCredits bool
	Currency          string
	CancelationFee    decimal.Decimal
	// RefundConsumedQuota reduces cancellation refunds by the share the provider reports as consumed.
	RefundConsumedQuota bool
	// Installments allows buyers to switch on installment payments.
	Installments bool
	Rebooking    RebookingPolicy

	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
	Meter       metric.Meter
}

type purchaseOrchestrator struct {
	carts       CartStore
	pricer      PricingEngine
	credits     CreditLedgerService
	providers   ProviderResolver
	perms       PermissionChecker
	checkout    CheckoutFlow
	history     repositories.HistoryRepository
	ledger      repositories.LedgerRepository
	counters    repositories.CounterRepository
	verifier    PaymentVerifier
	maxItems    int
	sameCenter  bool
	ccCredits   bool
	currency    string
	cancelFee   decimal.Decimal
	quotaRefund bool
	installs    bool
	rebooking   RebookingPolicy
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
	newID       func() string
	metrics     *cartMetrics
}

// NewPurchaseOrchestrator validates dependencies and constructs the orchestrator.
func NewPurchaseOrchestrator(deps PurchaseOrchestratorDeps) (PurchaseOrchestrator, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("purchase orchestrator: cart store is required")
	case deps.Pricer == nil:
		return nil, errors.New("purchase orchestrator: pricing engine is required")
	case deps.Credits == nil:
		return nil, errors.New("purchase orchestrator: credit ledger is required")
	case deps.Providers == nil:
		return nil, errors.New("purchase orchestrator: provider registry is required")
	case deps.Permissions == nil:
		return nil, errors.New("purchase orchestrator: permission checker is required")
	case deps.History == nil:
		return nil, errors.New("purchase orchestrator: history repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("purchase orchestrator: ledger repository is required")
	case deps.Counters == nil:
		return nil, errors.New("purchase orchestrator: counter repository is required")
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
	maxItems := deps.MaxItems
	if maxItems <= 0 {
		maxItems = defaultCartMaxItems
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "EUR"
	}
	rebooking := deps.Rebooking
	if rebooking.MaxPerPeriod <= 0 {
		rebooking.MaxPerPeriod = 1
	}
	if rebooking.Period <= 0 {
		rebooking.Period = 30 * 24 * time.Hour
	}

	return &purchaseOrchestrator{
		carts:       deps.Carts,
		pricer:      deps.Pricer,
		credits:     deps.Credits,
		providers:   deps.Providers,
		perms:       deps.Permissions,
		checkout:    deps.Checkout,
		history:     deps.History,
		ledger:      deps.Ledger,
		counters:    deps.Counters,
		verifier:    deps.Verifier,
		maxItems:    maxItems,
		sameCenter:  deps.SameCostCenter,
		ccCredits:   deps.CostCenterCredits,
		currency:    currency,
		cancelFee:   domain.RoundMoney(deps.CancelationFee),
		quotaRefund: deps.RefundConsumedQuota,
		installs:    deps.Installments,
		rebooking:   rebooking,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
		newID:       idGen,
		metrics:     newCartMetrics(deps.Meter),
	}, nil
}

// authorize allows buyers acting for themselves and cashiers acting for anyone.
func (s *purchaseOrchestrator) authorize(ctx context.Context, acting ActingContext) error {
	if acting.TargetUserID == 0 || acting.OperatorID == 0 {
		return fmt.Errorf("%w: acting context is incomplete", ErrCartInvalidInput)
	}
	if acting.OnBehalf() {
		if !s.perms.IsCashier(ctx, acting.OperatorID) {
			return ErrPermissionDenied
		}
		return nil
	}
	if !s.perms.CanBuy(ctx, acting.OperatorID) {
		return ErrPermissionDenied
	}
	return nil
}

func (s *purchaseOrchestrator) requireCashier(ctx context.Context, acting ActingContext) error {
	if acting.TargetUserID == 0 || acting.OperatorID == 0 {
		return fmt.Errorf("%w: acting context is incomplete", ErrCartInvalidInput)
	}
	if !s.perms.IsCashier(ctx, acting.OperatorID) {
		return ErrPermissionDenied
	}
	return nil
}

// AllowAddItemToCart evaluates the add-to-cart policies in order: cart size, duplicates,
// cost center and finally the provider.
func (s *purchaseOrchestrator) AllowAddItemToCart(ctx context.Context, acting ActingContext, key ItemKey) (AllowDecision, error) {
	if err := s.authorize(ctx, acting); err != nil {
		return AllowDecision{Verdict: domain.VerdictError}, err
	}
	decision, err := s.allow(ctx, acting.TargetUserID, key)
	s.metrics.add(ctx, s.metrics.verdicts, 1, attribute.String("verdict", string(decision.Verdict)))
	return decision, err
}

func (s *purchaseOrchestrator) allow(ctx context.Context, userID int64, key ItemKey) (AllowDecision, error) {
	if strings.TrimSpace(key.Component) == "" || strings.TrimSpace(key.Area) == "" {
		return AllowDecision{Verdict: domain.VerdictError}, ErrCartInvalidInput
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return AllowDecision{Verdict: domain.VerdictError}, err
	}
	if cart.PurchasableCount() >= s.maxItems {
		return AllowDecision{Verdict: domain.VerdictCartIsFull}, nil
	}
	if cart.Has(key) {
		return AllowDecision{Verdict: domain.VerdictAlreadyInCart}, nil
	}

	provider, err := s.providers.Provider(key.Component)
	if err != nil {
		s.logger(ctx, "cart.provider_missing", map[string]any{"component": key.Component, "error": err.Error()})
		return AllowDecision{Verdict: domain.VerdictError}, err
	}
	res, err := provider.AllowAddItemToCart(ctx, key.Area, key.ItemID, userID)
	if err != nil {
		if isContextError(err) {
			return AllowDecision{Verdict: domain.VerdictError}, err
		}
		s.logger(ctx, "cart.allow_failed", map[string]any{"userID": userID, "item": key.String(), "error": err.Error()})
		return AllowDecision{Verdict: domain.VerdictError}, nil
	}

	decision := AllowDecision{ItemName: res.ItemName, CostCenter: res.CostCenter}
	if s.sameCenter && res.CostCenter != "" {
		if existing := firstCostCenter(cart); existing != "" && existing != res.CostCenter {
			decision.Verdict = domain.VerdictCostCenter
			return decision, nil
		}
	}
	switch {
	case res.Allow:
		decision.Verdict = domain.VerdictSuccess
	case res.Info == AllowInfoFullyBooked:
		decision.Verdict = domain.VerdictFullyBooked
	case res.Info == AllowInfoAlreadyBooked:
		decision.Verdict = domain.VerdictAlreadyBooked
	default:
		decision.Verdict = domain.VerdictError
	}
	return decision, nil
}

// AddItemToCart runs the verdict gate, loads the item from its provider and inserts it.
func (s *purchaseOrchestrator) AddItemToCart(ctx context.Context, acting ActingContext, key ItemKey) (AddItemResult, error) {
	if err := s.authorize(ctx, acting); err != nil {
		return AddItemResult{Verdict: domain.VerdictError}, err
	}
	userID := acting.TargetUserID

	decision, err := s.allow(ctx, userID, key)
	s.metrics.add(ctx, s.metrics.verdicts, 1, attribute.String("verdict", string(decision.Verdict)))
	if err != nil {
		return AddItemResult{Verdict: domain.VerdictError}, err
	}
	if !decision.Verdict.OK() {
		data, err := s.carts.Data(ctx, userID)
		if err != nil {
			return AddItemResult{Verdict: decision.Verdict}, err
		}
		return AddItemResult{Verdict: decision.Verdict, Checkout: data}, nil
	}

	item, err := s.loadItem(ctx, userID, key, decision)
	if err != nil {
		return AddItemResult{Verdict: domain.VerdictError}, err
	}

	_, verdict, err := s.carts.AddItem(ctx, item)
	if err != nil {
		return AddItemResult{Verdict: domain.VerdictError}, err
	}
	if verdict.OK() {
		if err := s.ensureRebookingCredit(ctx, userID); err != nil {
			return AddItemResult{Verdict: domain.VerdictError}, err
		}
		s.logger(ctx, "cart.item_added", map[string]any{
			"userID":     userID,
			"operatorID": acting.OperatorID,
			"item":       key.String(),
			"price":      item.Price.StringFixed(2),
		})
	}

	data, err := s.carts.Data(ctx, userID)
	if err != nil {
		return AddItemResult{Verdict: verdict}, err
	}
	result := AddItemResult{Verdict: verdict, Checkout: data}
	if verdict.OK() {
		result.Item = &item
	}
	return result, nil
}

func (s *purchaseOrchestrator) loadItem(ctx context.Context, userID int64, key ItemKey, decision AllowDecision) (CartItem, error) {
	provider, err := s.providers.Provider(key.Component)
	if err != nil {
		return CartItem{}, err
	}
	loaded, err := provider.LoadCartItem(ctx, key.Area, key.ItemID, userID)
	if err != nil {
		return CartItem{}, err
	}
	if loaded == nil {
		return CartItem{}, fmt.Errorf("%w: %s returned no item", ErrProviderUnavailable, key)
	}

	item := *loaded
	item.Component, item.Area, item.ItemID, item.UserID = key.Component, key.Area, key.ItemID, userID
	item.Price = domain.RoundMoney(item.Price)
	if item.Price.IsNegative() {
		return CartItem{}, fmt.Errorf("%w: negative price for %s", ErrCartInvalidInput, key)
	}
	if item.Name == "" {
		item.Name = decision.ItemName
	}
	if item.CostCenter == "" {
		item.CostCenter = decision.CostCenter
	}
	currency := item.Currency
	if currency == "" {
		currency = s.currency
	}
	if item.Currency, err = textutil.NormalizeCurrency(currency); err != nil {
		return CartItem{}, fmt.Errorf("%w: currency %q", ErrCartInvalidInput, currency)
	}
	item.Name = textutil.SanitizePlainText(item.Name, maxAnnotationRunes)
	item.Description = textutil.SanitizePlainText(item.Description, maxDescriptionRunes)
	item.TaxCategory = strings.ToUpper(strings.TrimSpace(item.TaxCategory))
	item.Discount = domain.Discount{}
	item.RebookHistoryID = ""
	item.CarriedValue = decimal.Zero
	return item, nil
}

// DeleteItemFromCart removes the item and releases it, and any items the provider names, at the provider.
func (s *purchaseOrchestrator) DeleteItemFromCart(ctx context.Context, acting ActingContext, key ItemKey) (CheckoutData, error) {
	if err := s.authorize(ctx, acting); err != nil {
		return CheckoutData{}, err
	}
	userID := acting.TargetUserID

	before, err := s.carts.Get(ctx, userID)
	if err != nil {
		return CheckoutData{}, err
	}
	after, err := s.carts.DeleteItem(ctx, userID, key)
	if err != nil {
		return CheckoutData{}, err
	}

	var dependents []ItemKey
	for _, item := range before.Items {
		if after.Has(item.Key()) || item.Component == domain.ComponentShoppingCart {
			continue
		}
		dependents = append(dependents, s.unload(ctx, userID, item.Key())...)
	}
	if len(dependents) > 0 {
		if _, err := s.carts.RemoveItems(ctx, userID, dependents); err != nil {
			return CheckoutData{}, err
		}
		for _, dep := range dependents {
			if dep.Component != domain.ComponentShoppingCart {
				s.unload(ctx, userID, dep)
			}
		}
	}
	s.logger(ctx, "cart.item_deleted", map[string]any{
		"userID":     userID,
		"operatorID": acting.OperatorID,
		"item":       key.String(),
	})
	return s.carts.Data(ctx, userID)
}

// unload releases a reservation and returns the further items the provider wants removed.
func (s *purchaseOrchestrator) unload(ctx context.Context, userID int64, key ItemKey) []ItemKey {
	provider, err := s.providers.Provider(key.Component)
	if err != nil {
		s.logger(ctx, "cart.provider_missing", map[string]any{"component": key.Component, "error": err.Error()})
		return nil
	}
	res, err := provider.UnloadCartItem(ctx, key.Area, key.ItemID, userID)
	if err != nil || !res.Success {
		fields := map[string]any{"userID": userID, "item": key.String()}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger(ctx, "cart.unload_failed", fields)
		return nil
	}
	return res.ItemsToUnload
}

// GetCart returns the priced cart.
func (s *purchaseOrchestrator) GetCart(ctx context.Context, acting ActingContext) (CheckoutData, error) {
	if err := s.authorize(ctx, acting); err != nil {
		return CheckoutData{}, err
	}
	return s.carts.Data(ctx, acting.TargetUserID)
}

// SetCreditUsage toggles paying with stored credit.
func (s *purchaseOrchestrator) SetCreditUsage(ctx context.Context, acting ActingContext, use bool) (CheckoutData, error) {
	return s.toggle(ctx, acting, func(cart *Cart) { cart.UseCredit = use })
}

// SetInstallmentUsage toggles paying eligible items in installments.
func (s *purchaseOrchestrator) SetInstallmentUsage(ctx context.Context, acting ActingContext, use bool) (CheckoutData, error) {
	if use && !s.installs {
		return CheckoutData{}, fmt.Errorf("%w: installments are disabled", ErrCartInvalidInput)
	}
	return s.toggle(ctx, acting, func(cart *Cart) { cart.UseInstallments = use })
}

func (s *purchaseOrchestrator) toggle(ctx context.Context, acting ActingContext, apply func(*Cart)) (CheckoutData, error) {
	if err := s.authorize(ctx, acting); err != nil {
		return CheckoutData{}, err
	}
	if _, err := s.carts.Update(ctx, acting.TargetUserID, func(cart *Cart) error {
		apply(cart)
		cart.Prepared = nil
		return nil
	}); err != nil {
		return CheckoutData{}, err
	}
	return s.carts.Data(ctx, acting.TargetUserID)
}

// AddDiscountToItem lets a cashier discount a purchasable item by percent or by an absolute amount.
func (s *purchaseOrchestrator) AddDiscountToItem(ctx context.Context, acting ActingContext, key ItemKey, discount domain.Discount) (CheckoutData, error) {
	if err := s.requireCashier(ctx, acting); err != nil {
		return CheckoutData{}, err
	}
	switch discount.Kind {
	case domain.DiscountPercent:
		if discount.Value.IsNegative() || discount.Value.GreaterThan(hundred) {
			return CheckoutData{}, fmt.Errorf("%w: percent discount must be within 0..100", ErrCartInvalidInput)
		}
	case domain.DiscountAbsolute:
		if discount.Value.IsNegative() {
			return CheckoutData{}, fmt.Errorf("%w: absolute discount must not be negative", ErrCartInvalidInput)
		}
	case domain.DiscountNone:
		discount.Value = decimal.Zero
	default:
		return CheckoutData{}, fmt.Errorf("%w: unknown discount kind %q", ErrCartInvalidInput, discount.Kind)
	}

	_, err := s.carts.Update(ctx, acting.TargetUserID, func(cart *Cart) error {
		idx := cart.Find(key)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotInCart, key)
		}
		if cart.Items[idx].IsAuxiliary() {
			return fmt.Errorf("%w: %s cannot be discounted", ErrCartInvalidInput, key)
		}
		cart.Items[idx].Discount = discount
		cart.Prepared = nil
		return nil
	})
	if err != nil {
		return CheckoutData{}, err
	}
	s.logger(ctx, "cart.discount_applied", map[string]any{
		"userID":     acting.TargetUserID,
		"operatorID": acting.OperatorID,
		"item":       key.String(),
		"kind":       string(discount.Kind),
		"value":      discount.Value.String(),
	})
	return s.carts.Data(ctx, acting.TargetUserID)
}

// PrepareCheckout freezes the priced cart under a fresh checkout identifier for gateway payment.
func (s *purchaseOrchestrator) PrepareCheckout(ctx context.Context, acting ActingContext) (CheckoutData, error) {
	if err := s.authorize(ctx, acting); err != nil {
		return CheckoutData{}, err
	}
	userID := acting.TargetUserID
	if s.checkout != nil {
		overview, err := s.checkout.RenderOverview(ctx, userID)
		if err != nil {
			return CheckoutData{}, err
		}
		if !overview.Valid {
			return CheckoutData{}, fmt.Errorf("%w: checkout steps incomplete", ErrCheckoutInvalid)
		}
	}

	var prepared CheckoutData
	_, err := s.carts.Update(ctx, userID, func(cart *Cart) error {
		if cart.PurchasableCount() == 0 {
			return ErrCartEmpty
		}
		dropFreeBookingFee(cart)
		data, err := s.pricer.Calculate(ctx, PriceCartCommand{Cart: *cart})
		if err != nil {
			return err
		}
		identifier, err := s.counters.Next(ctx, checkoutCounterID, 1)
		if err != nil {
			return fmt.Errorf("%w: checkout identifier: %v", ErrCartUnavailable, err)
		}
		now := s.now()
		data.Identifier = identifier
		data.PreparedAt = &now
		cart.Prepared = &data
		prepared = data
		return nil
	})
	if err != nil {
		return CheckoutData{}, err
	}
	s.logger(ctx, "checkout.prepared", map[string]any{
		"userID":     userID,
		"identifier": prepared.Identifier,
		"total":      prepared.RemainingTotal.StringFixed(2),
	})
	return prepared, nil
}

// ExpireCart releases an abandoned cart. Tasks that arrive before the stored expiration are stale
// and ignored.
func (s *purchaseOrchestrator) ExpireCart(ctx context.Context, userID int64) (ExpireCartResult, error) {
	if userID == 0 {
		return ExpireCartResult{}, ErrCartInvalidInput
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return ExpireCartResult{}, err
	}
	if len(cart.Items) == 0 || cart.ExpiresAt.After(s.now()) {
		return ExpireCartResult{}, nil
	}

	keys := make([]ItemKey, 0, len(cart.Items))
	for _, item := range cart.Items {
		keys = append(keys, item.Key())
	}
	if _, err := s.carts.RemoveItems(ctx, userID, keys); err != nil {
		return ExpireCartResult{}, err
	}
	var released []ItemKey
	for _, key := range keys {
		if key.Component == domain.ComponentShoppingCart {
			continue
		}
		s.unload(ctx, userID, key)
		released = append(released, key)
	}
	s.logger(ctx, "cart.expired", map[string]any{"userID": userID, "released": len(released)})
	return ExpireCartResult{Expired: true, Released: released}, nil
}

func (s *purchaseOrchestrator) sanitize(raw string) string {
	return textutil.SanitizePlainText(raw, maxAnnotationRunes)
}

func (s *purchaseOrchestrator) creditCostCenter(costCenter string) string {
	if !s.ccCredits {
		return ""
	}
	return costCenter
}
