package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

var errCheckoutCartsRequired = errors.New("checkout flow: cart store is required")

// CheckoutFlowDeps wires the checkout state machine.
type CheckoutFlowDeps struct {
	Carts  CartStore
	Steps  []CheckoutStep
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type checkoutFlow struct {
	carts  CartStore
	steps  []CheckoutStep
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCheckoutFlow constructs the checkout state machine over the ordered steps.
func NewCheckoutFlow(deps CheckoutFlowDeps) (CheckoutFlow, error) {
	if deps.Carts == nil {
		return nil, errCheckoutCartsRequired
	}
	seen := make(map[string]struct{}, len(deps.Steps))
	for _, step := range deps.Steps {
		if step == nil {
			return nil, fmt.Errorf("%w: nil checkout step", ErrCheckoutInvalid)
		}
		if _, dup := seen[step.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate checkout step %q", ErrCheckoutInvalid, step.Name())
		}
		seen[step.Name()] = struct{}{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutFlow{
		carts:  deps.Carts,
		steps:  append([]CheckoutStep(nil), deps.Steps...),
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// CheckPreprocess validates the changed input of one step and caches the outcome in the cart.
func (f *checkoutFlow) CheckPreprocess(ctx context.Context, userID int64, name string, changed map[string]string) (StepOverview, error) {
	step := f.step(name)
	if step == nil {
		return StepOverview{}, fmt.Errorf("%w: unknown checkout step %q", ErrCheckoutInvalid, name)
	}

	overview := StepOverview{Name: step.Name(), Mandatory: step.Mandatory()}
	_, err := f.carts.Update(ctx, userID, func(cart *Cart) error {
		if !step.Active(*cart) {
			return errCartUnchanged
		}
		previous := cart.Steps[step.Name()]
		input := make(map[string]string, len(previous.Data)+len(changed))
		for k, v := range previous.Data {
			input[k] = v
		}
		for k, v := range changed {
			input[k] = strings.TrimSpace(v)
		}

		result, err := step.CheckStatus(ctx, cart, input)
		if err != nil {
			return err
		}
		if cart.Steps == nil {
			cart.Steps = make(map[string]domain.StepState)
		}
		cart.Steps[step.Name()] = domain.StepState{
			Data:      result.Data,
			Valid:     result.Valid,
			Mandatory: step.Mandatory(),
			UpdatedAt: f.now(),
		}
		cart.Prepared = nil

		overview.Active = true
		overview.Valid = result.Valid
		overview.Data = result.Data
		return nil
	})
	if err != nil {
		return StepOverview{}, err
	}
	f.logger(ctx, "checkout.step_checked", map[string]any{
		"userID": userID,
		"step":   step.Name(),
		"valid":  overview.Valid,
	})
	return overview, nil
}

// RenderOverview aggregates every step. Steps without cached state are evaluated on a scratch copy
// of the cart and nothing is persisted.
func (f *checkoutFlow) RenderOverview(ctx context.Context, userID int64) (CheckoutOverview, error) {
	cart, err := f.carts.Get(ctx, userID)
	if err != nil {
		return CheckoutOverview{}, err
	}

	overview := CheckoutOverview{Valid: cart.PurchasableCount() > 0}
	for _, step := range f.steps {
		entry := StepOverview{Name: step.Name(), Mandatory: step.Mandatory(), Active: step.Active(cart)}
		if !entry.Active {
			overview.Steps = append(overview.Steps, entry)
			continue
		}
		if state, ok := cart.Steps[step.Name()]; ok {
			entry.Valid = state.Valid
			entry.Data = state.Data
		} else {
			scratch := scratchCart(cart)
			result, err := step.CheckStatus(ctx, &scratch, nil)
			if err != nil {
				return CheckoutOverview{}, err
			}
			entry.Valid = result.Valid
			entry.Data = result.Data
		}
		if entry.Mandatory && !entry.Valid {
			overview.Valid = false
		}
		overview.Steps = append(overview.Steps, entry)
	}

	data, err := f.carts.Data(ctx, userID)
	if err != nil {
		return CheckoutOverview{}, err
	}
	overview.Checkout = data
	return overview, nil
}

func (f *checkoutFlow) step(name string) CheckoutStep {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, step := range f.steps {
		if step.Name() == name {
			return step
		}
	}
	return nil
}

func scratchCart(cart Cart) Cart {
	scratch := cart
	scratch.Addresses = make(map[string]string, len(cart.Addresses))
	for k, v := range cart.Addresses {
		scratch.Addresses[k] = v
	}
	return scratch
}
