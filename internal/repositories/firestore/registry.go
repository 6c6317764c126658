package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/firestore"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

// Registry wires the durable Firestore repositories. Carts may come from another backend.
type Registry struct {
	provider  *pfirestore.Provider
	carts     repositories.CartRepository
	credits   *CreditRepository
	history   *HistoryRepository
	ledger    *LedgerRepository
	counters  *CounterRepository
	addresses *AddressRepository
	closers   []func(context.Context) error
}

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithCarts overrides the Firestore cart repository, typically with the Redis one.
func WithCarts(carts repositories.CartRepository, closer func(context.Context) error) RegistryOption {
	return func(r *Registry) {
		if carts != nil {
			r.carts = carts
		}
		if closer != nil {
			r.closers = append(r.closers, closer)
		}
	}
}

// NewRegistry builds every Firestore repository on the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.credits, err = NewCreditRepository(provider); err != nil {
		return nil, err
	}
	if reg.history, err = NewHistoryRepository(provider); err != nil {
		return nil, err
	}
	if reg.ledger, err = NewLedgerRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	if reg.carts == nil {
		carts, err := NewCartRepository(provider, nil)
		if err != nil {
			return nil, err
		}
		reg.carts = carts
	}
	return reg, nil
}

// Close releases the cart backend and the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, closer := range r.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.provider.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close firestore: %w", err))
	}
	return errors.Join(errs...)
}

func (r *Registry) Carts() repositories.CartRepository        { return r.carts }
func (r *Registry) Credits() repositories.CreditRepository    { return r.credits }
func (r *Registry) History() repositories.HistoryRepository   { return r.history }
func (r *Registry) Ledger() repositories.LedgerRepository     { return r.ledger }
func (r *Registry) Counters() repositories.CounterRepository  { return r.counters }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

var _ repositories.Registry = (*Registry)(nil)
