package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/config"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Credits   services.CreditLedgerService
	Pricing   services.PricingEngine
	Carts     services.CartStore
	Checkout  services.CheckoutFlow
	Purchases services.PurchaseOrchestrator
	History   services.HistoryService
	Providers *services.ProviderRegistry
}

// ItemProviderRegistration names a remote component and its provider.
type ItemProviderRegistration struct {
	Component string
	Provider  services.ItemProvider
}

// Infrastructure carries the adapters built by the binary. Every field is optional.
type Infrastructure struct {
	Scheduler     services.TaskScheduler
	Verifier      services.PaymentVerifier
	Exporter      services.SummaryExporter
	VAT           services.VATVerifier
	Permissions   services.PermissionChecker
	ItemProviders []ItemProviderRegistration
	Logger        func(context.Context, string, map[string]any)
	Meter         metric.Meter
	Clock         func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore and
// Redis repositories, while tests supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and cart backends.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	perms := infra.Permissions
	if perms == nil {
		return Services{}, errors.New("permission checker is required")
	}
	location, err := time.LoadLocation(strings.TrimSpace(cfg.Cart.Timezone))
	if err != nil {
		return Services{}, fmt.Errorf("load cart timezone: %w", err)
	}

	svc.Providers = services.NewProviderRegistry(services.ProviderRegistryDeps{
		Timeout:         cfg.Providers.Timeout,
		BreakerFailures: uint32(max(cfg.Providers.BreakerFailures, 0)),
		BreakerCooldown: cfg.Providers.BreakerCooldown,
		Logger:          logger,
		Meter:           infra.Meter,
	})
	svc.Providers.Register(domain.ComponentShoppingCart, services.NewShoppingCartProvider())
	for _, registration := range infra.ItemProviders {
		if registration.Provider == nil || strings.TrimSpace(registration.Component) == "" {
			continue
		}
		svc.Providers.Register(registration.Component, registration.Provider)
	}

	// The ledger refreshes the credit cached on the cart; the cart store is built afterwards.
	var carts services.CartStore
	credits, err := services.NewCreditLedger(services.CreditLedgerDeps{
		Repository:      reg.Credits(),
		Clock:           clock,
		DefaultCurrency: cfg.Cart.Currency,
		OnBalanceChanged: func(ctx context.Context, userID int64, view domain.CreditView) {
			if carts == nil {
				return
			}
			if err := carts.RefreshCredit(ctx, userID, view); err != nil {
				logger(ctx, "cart.credit_refresh_failed", map[string]any{"userId": userID, "error": err.Error()})
			}
		},
		Logger: logger,
		Meter:  infra.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build credit ledger: %w", err)
	}
	svc.Credits = credits

	var taxMatrix *services.TaxMatrix
	if raw := strings.TrimSpace(cfg.Cart.TaxMatrix); raw != "" {
		taxMatrix, err = services.ParseTaxMatrix(raw)
		if err != nil {
			return Services{}, fmt.Errorf("parse tax matrix: %w", err)
		}
	}
	pricer, err := services.NewPricingEngine(services.PricingEngineDeps{
		Credits:           credits,
		TaxMatrix:         taxMatrix,
		TaxesEnabled:      cfg.Cart.TaxesEnabled,
		PricesAreNet:      cfg.Cart.PricesAreNet,
		DiscountPrecision: int32(cfg.Cart.DiscountPrecision),
		CostCenterCredits: cfg.Cart.CostCenterCredits,
		Currency:          cfg.Cart.Currency,
		Clock:             clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricer

	var feePolicy services.BookingFeeHook
	bookingFee, err := parseAmount("booking fee", cfg.Cart.BookingFee)
	if err != nil {
		return Services{}, err
	}
	if bookingFee.IsPositive() {
		feePolicy, err = services.NewBookingFeePolicy(services.BookingFeePolicyDeps{
			History:  reg.History(),
			Amount:   bookingFee,
			Currency: cfg.Cart.Currency,
			Mode:     services.BookingFeeMode(strings.ToLower(strings.TrimSpace(cfg.Cart.BookingFeeMode))),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build booking fee policy: %w", err)
		}
	}

	carts, err = services.NewCartStore(services.CartStoreDeps{
		Repository: reg.Carts(),
		Pricer:     pricer,
		Scheduler:  infra.Scheduler,
		FeePolicy:  feePolicy,
		MaxItems:   cfg.Cart.MaxItems,
		TTL:        cfg.Cart.TTL,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart store: %w", err)
	}
	svc.Carts = carts

	steps, err := services.BuildCheckoutSteps(services.CheckoutStepsConfig{
		RequiredAddresses: cfg.Cart.RequiredAddresses,
		Addresses:         reg.Addresses(),
		VATStep:           cfg.Cart.VATStep,
		VATMandatory:      cfg.Cart.VATMandatory,
		VAT:               infra.VAT,
		TermsStep:         cfg.Cart.TermsStep,
		CreditUsageStep:   cfg.Cart.CreditUsageStep,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout steps: %w", err)
	}
	flow, err := services.NewCheckoutFlow(services.CheckoutFlowDeps{
		Carts:  carts,
		Steps:  steps,
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout flow: %w", err)
	}
	svc.Checkout = flow

	cancelFee, err := parseAmount("cancelation fee", cfg.Cart.CancelationFee)
	if err != nil {
		return Services{}, err
	}
	rebookingFee, err := parseAmount("rebooking fee", cfg.Cart.RebookingFee)
	if err != nil {
		return Services{}, err
	}
	purchases, err := services.NewPurchaseOrchestrator(services.PurchaseOrchestratorDeps{
		Carts:               carts,
		Pricer:              pricer,
		Credits:             credits,
		Providers:           svc.Providers,
		Permissions:         perms,
		Checkout:            flow,
		History:             reg.History(),
		Ledger:              reg.Ledger(),
		Counters:            reg.Counters(),
		Verifier:            infra.Verifier,
		MaxItems:            cfg.Cart.MaxItems,
		SameCostCenter:      cfg.Cart.SameCostCenter,
		CostCenterCredits:   cfg.Cart.CostCenterCredits,
		Currency:            cfg.Cart.Currency,
		CancelationFee:      cancelFee,
		RefundConsumedQuota: cfg.Cart.RefundQuota,
		Installments:        cfg.Cart.Installments,
		Rebooking: services.RebookingPolicy{
			Enabled:      cfg.Cart.RebookingEnabled,
			Period:       cfg.Cart.RebookingPeriod,
			MaxPerPeriod: cfg.Cart.RebookingMax,
			Fee:          rebookingFee,
		},
		Clock:  clock,
		Logger: logger,
		Meter:  infra.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build purchase orchestrator: %w", err)
	}
	svc.Purchases = purchases

	history, err := services.NewHistoryService(services.HistoryServiceDeps{
		History:     reg.History(),
		Ledger:      reg.Ledger(),
		Permissions: perms,
		Exporter:    infra.Exporter,
		Location:    location,
		Logger:      logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build history service: %w", err)
	}
	svc.History = history

	return svc, nil
}

func parseAmount(name, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", name, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse %s: must not be negative", name)
	}
	return amount, nil
}
