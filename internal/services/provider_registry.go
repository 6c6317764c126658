package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultProviderTimeout         = 5 * time.Second
	defaultProviderBreakerFailures = 5
	defaultProviderBreakerCooldown = 30 * time.Second
)

// ProviderRegistryDeps tunes how provider callbacks are guarded.
type ProviderRegistryDeps struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Logger          func(context.Context, string, map[string]any)
	Meter           metric.Meter
}

// ProviderRegistry maps components to their item providers. Every call through a resolved provider
// runs with a timeout inside a per-component circuit breaker.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]*guardedProvider
	timeout   time.Duration
	failures  uint32
	cooldown  time.Duration
	logger    func(context.Context, string, map[string]any)
	metrics   *cartMetrics
}

// NewProviderRegistry returns an empty registry.
func NewProviderRegistry(deps ProviderRegistryDeps) *ProviderRegistry {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	failures := deps.BreakerFailures
	if failures == 0 {
		failures = defaultProviderBreakerFailures
	}
	cooldown := deps.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultProviderBreakerCooldown
	}
	return &ProviderRegistry{
		providers: make(map[string]*guardedProvider),
		timeout:   timeout,
		failures:  failures,
		cooldown:  cooldown,
		logger:    logger,
		metrics:   newCartMetrics(deps.Meter),
	}
}

// Register binds a provider to a component, replacing any previous binding.
func (r *ProviderRegistry) Register(component string, provider ItemProvider) {
	component = strings.TrimSpace(component)
	if component == "" || provider == nil {
		return
	}
	failures := r.failures
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        component,
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger(context.Background(), "provider.breaker_state", map[string]any{
				"component": name,
				"from":      from.String(),
				"to":        to.String(),
			})
		},
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[component] = &guardedProvider{
		component: component,
		inner:     provider,
		breaker:   breaker,
		registry:  r,
	}
}

// Provider resolves the guarded provider of a component.
func (r *ProviderRegistry) Provider(component string) (ItemProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[strings.TrimSpace(component)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, component)
	}
	return provider, nil
}

// Components lists the registered components.
func (r *ProviderRegistry) Components() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for component := range r.providers {
		out = append(out, component)
	}
	return out
}

type guardedProvider struct {
	component string
	inner     ItemProvider
	breaker   *gobreaker.CircuitBreaker[any]
	registry  *ProviderRegistry
}

func (g *guardedProvider) LoadCartItem(ctx context.Context, area string, itemID, userID int64) (*CartItem, error) {
	return guard(ctx, g, "load_cart_item", func(ctx context.Context) (*CartItem, error) {
		return g.inner.LoadCartItem(ctx, area, itemID, userID)
	})
}

func (g *guardedProvider) UnloadCartItem(ctx context.Context, area string, itemID, userID int64) (UnloadResult, error) {
	return guard(ctx, g, "unload_cart_item", func(ctx context.Context) (UnloadResult, error) {
		return g.inner.UnloadCartItem(ctx, area, itemID, userID)
	})
}

func (g *guardedProvider) SuccessfulCheckout(ctx context.Context, area string, itemID int64, method PaymentMethod, userID int64) (bool, error) {
	return guard(ctx, g, "successful_checkout", func(ctx context.Context) (bool, error) {
		return g.inner.SuccessfulCheckout(ctx, area, itemID, method, userID)
	})
}

func (g *guardedProvider) CancelPurchase(ctx context.Context, area string, itemID, userID int64) (bool, error) {
	return guard(ctx, g, "cancel_purchase", func(ctx context.Context) (bool, error) {
		return g.inner.CancelPurchase(ctx, area, itemID, userID)
	})
}

func (g *guardedProvider) AllowAddItemToCart(ctx context.Context, area string, itemID, userID int64) (AllowResult, error) {
	return guard(ctx, g, "allow_add_item", func(ctx context.Context) (AllowResult, error) {
		return g.inner.AllowAddItemToCart(ctx, area, itemID, userID)
	})
}

func (g *guardedProvider) QuotaConsumed(ctx context.Context, area string, itemID, userID int64) (float64, error) {
	return guard(ctx, g, "quota_consumed", func(ctx context.Context) (float64, error) {
		return g.inner.QuotaConsumed(ctx, area, itemID, userID)
	})
}

func guard[T any](ctx context.Context, g *guardedProvider, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, g.registry.timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	out, err := g.breaker.Execute(func() (any, error) {
		done := make(chan outcome, 1)
		go func() {
			value, err := fn(callCtx)
			done <- outcome{value: value, err: err}
		}()
		select {
		case res := <-done:
			return res.value, res.err
		case <-callCtx.Done():
			return zero, callCtx.Err()
		}
	})
	if err != nil {
		g.registry.metrics.add(ctx, g.registry.metrics.providerFails, 1,
			attribute.String("component", g.component),
			attribute.String("op", op))
		g.registry.logger(ctx, "provider.call_failed", map[string]any{
			"component": g.component,
			"op":        op,
			"error":     err.Error(),
		})
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w: %s %s: %v", ErrProviderUnavailable, g.component, op, err)
	}
	value, _ := out.(T)
	return value, nil
}
