package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories/memory"
)

const testComponent = "mod_booking"

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, field string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("expected %s %s, got %s", field, want, got.StringFixed(2))
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubPermissions struct {
	cashiers  map[int64]bool
	verifiers map[int64]bool
	// blocked users may not buy; everyone else can.
	blocked map[int64]bool
}

func (s stubPermissions) IsCashier(_ context.Context, userID int64) bool {
	return s.cashiers[userID]
}

func (s stubPermissions) CanBuy(_ context.Context, userID int64) bool {
	return !s.blocked[userID]
}

func (s stubPermissions) CanVerifyPayments(_ context.Context, userID int64) bool {
	return s.verifiers[userID]
}

type stubScheduler struct {
	mu    sync.Mutex
	calls []scheduledTask
	err   error
}

type scheduledTask struct {
	task    string
	userID  int64
	payload map[string]string
	runAt   time.Time
}

func (s *stubScheduler) RescheduleOrQueue(_ context.Context, task string, userID int64, payload map[string]string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, scheduledTask{task: task, userID: userID, payload: payload, runAt: runAt})
	return s.err
}

// stubProvider serves items from a map and records the callbacks it receives.
type stubProvider struct {
	mu    sync.Mutex
	items map[int64]CartItem
	quota float64

	allowFunc    func(area string, itemID, userID int64) (AllowResult, error)
	checkoutFunc func(area string, itemID int64, method PaymentMethod, userID int64) (bool, error)
	cancelFunc   func(area string, itemID, userID int64) (bool, error)
	unloadFunc   func(area string, itemID, userID int64) (UnloadResult, error)

	unloaded   []int64
	checkedOut []int64
	canceled   []int64
	methods    []PaymentMethod
}

func newStubProvider(items ...CartItem) *stubProvider {
	p := &stubProvider{items: make(map[int64]CartItem)}
	for _, item := range items {
		p.items[item.ItemID] = item
	}
	return p
}

func (p *stubProvider) LoadCartItem(_ context.Context, area string, itemID, _ int64) (*CartItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[itemID]
	if !ok {
		return nil, ErrCartInvalidInput
	}
	item.Area = area
	return &item, nil
}

func (p *stubProvider) UnloadCartItem(_ context.Context, area string, itemID, userID int64) (UnloadResult, error) {
	p.mu.Lock()
	p.unloaded = append(p.unloaded, itemID)
	fn := p.unloadFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(area, itemID, userID)
	}
	return UnloadResult{Success: true}, nil
}

func (p *stubProvider) SuccessfulCheckout(_ context.Context, area string, itemID int64, method PaymentMethod, userID int64) (bool, error) {
	p.mu.Lock()
	fn := p.checkoutFunc
	p.mu.Unlock()
	if fn != nil {
		ok, err := fn(area, itemID, method, userID)
		if err != nil || !ok {
			return ok, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedOut = append(p.checkedOut, itemID)
	p.methods = append(p.methods, method)
	return true, nil
}

func (p *stubProvider) CancelPurchase(_ context.Context, area string, itemID, userID int64) (bool, error) {
	p.mu.Lock()
	fn := p.cancelFunc
	p.canceled = append(p.canceled, itemID)
	p.mu.Unlock()
	if fn != nil {
		return fn(area, itemID, userID)
	}
	return true, nil
}

func (p *stubProvider) AllowAddItemToCart(_ context.Context, area string, itemID, userID int64) (AllowResult, error) {
	p.mu.Lock()
	fn := p.allowFunc
	item, ok := p.items[itemID]
	p.mu.Unlock()
	if fn != nil {
		return fn(area, itemID, userID)
	}
	if !ok {
		return AllowResult{Allow: false}, nil
	}
	return AllowResult{Allow: true, ItemName: item.Name, CostCenter: item.CostCenter}, nil
}

func (p *stubProvider) QuotaConsumed(context.Context, string, int64, int64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quota, nil
}

func (p *stubProvider) checkedOutIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.checkedOut...)
}

func (p *stubProvider) unloadedIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.unloaded...)
}

type stubVerifier struct {
	confirmation PaymentConfirmation
	err          error
}

func (v stubVerifier) VerifyPayment(_ context.Context, reference string) (PaymentConfirmation, error) {
	if v.err != nil {
		return PaymentConfirmation{}, v.err
	}
	out := v.confirmation
	out.Reference = reference
	return out, nil
}

func bookableItem(id int64, price string) CartItem {
	return CartItem{
		Component: testComponent,
		Area:      "option",
		ItemID:    id,
		Name:      "Option " + decimal.NewFromInt(id).String(),
		Price:     dec(price),
		Currency:  "EUR",
	}
}

func itemKey(id int64) ItemKey {
	return ItemKey{Component: testComponent, Area: "option", ItemID: id}
}

// purchaseEnv wires the orchestrator over in-memory repositories.
type purchaseEnv struct {
	clock        *testClock
	repos        *memory.Registry
	credits      CreditLedgerService
	carts        CartStore
	pricer       PricingEngine
	registry     *ProviderRegistry
	provider     *stubProvider
	perms        *stubPermissions
	orchestrator PurchaseOrchestrator
}

type purchaseEnvOptions struct {
	fee            *BookingFeePolicyDeps
	cancelFee      string
	rebooking      RebookingPolicy
	verifier       PaymentVerifier
	checkout       func(carts CartStore) CheckoutFlow
	sameCostCenter bool
	maxItems       int
	quotaRefund    bool
}

func newPurchaseEnv(t *testing.T, opts purchaseEnvOptions, items ...CartItem) *purchaseEnv {
	t.Helper()
	env := &purchaseEnv{
		clock:    newTestClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)),
		provider: newStubProvider(items...),
		perms:    &stubPermissions{cashiers: map[int64]bool{}, verifiers: map[int64]bool{}, blocked: map[int64]bool{}},
	}
	env.repos = memory.NewRegistry(env.clock.Now)

	credits, err := NewCreditLedger(CreditLedgerDeps{
		Repository: env.repos.Credits(),
		Clock:      env.clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing credit ledger: %v", err)
	}
	env.credits = credits

	pricer, err := NewPricingEngine(PricingEngineDeps{Credits: credits, Clock: env.clock.Now})
	if err != nil {
		t.Fatalf("unexpected error constructing pricing engine: %v", err)
	}
	env.pricer = pricer

	var fees BookingFeeHook
	if opts.fee != nil {
		feeDeps := *opts.fee
		feeDeps.History = env.repos.History()
		fees, err = NewBookingFeePolicy(feeDeps)
		if err != nil {
			t.Fatalf("unexpected error constructing booking fee policy: %v", err)
		}
	}
	carts, err := NewCartStore(CartStoreDeps{
		Repository: env.repos.Carts(),
		Pricer:     pricer,
		FeePolicy:  fees,
		MaxItems:   opts.maxItems,
		Clock:      env.clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart store: %v", err)
	}
	env.carts = carts

	env.registry = NewProviderRegistry(ProviderRegistryDeps{Timeout: time.Second})
	env.registry.Register(testComponent, env.provider)
	env.registry.Register(domain.ComponentShoppingCart, NewShoppingCartProvider())

	var flow CheckoutFlow
	if opts.checkout != nil {
		flow = opts.checkout(carts)
	}
	cancelFee := decimal.Zero
	if opts.cancelFee != "" {
		cancelFee = dec(opts.cancelFee)
	}
	orchestrator, err := NewPurchaseOrchestrator(PurchaseOrchestratorDeps{
		Carts:               carts,
		Pricer:              pricer,
		Credits:             credits,
		Providers:           env.registry,
		Permissions:         env.perms,
		Checkout:            flow,
		History:             env.repos.History(),
		Ledger:              env.repos.Ledger(),
		Counters:            env.repos.Counters(),
		Verifier:            opts.verifier,
		MaxItems:            opts.maxItems,
		SameCostCenter:      opts.sameCostCenter,
		CancelationFee:      cancelFee,
		RefundConsumedQuota: opts.quotaRefund,
		Rebooking:           opts.rebooking,
		Clock:               env.clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing purchase orchestrator: %v", err)
	}
	env.orchestrator = orchestrator
	return env
}

func (e *purchaseEnv) add(t *testing.T, acting ActingContext, id int64) AddItemResult {
	t.Helper()
	res, err := e.orchestrator.AddItemToCart(context.Background(), acting, itemKey(id))
	if err != nil {
		t.Fatalf("unexpected error adding item %d: %v", id, err)
	}
	return res
}
