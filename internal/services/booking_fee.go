package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories"
)

// BookingFeeMode controls how often a user pays the booking fee.
type BookingFeeMode string

const (
	// BookingFeeOnce charges the fee only for the first purchase of a user.
	BookingFeeOnce BookingFeeMode = "once"
	// BookingFeeAlways charges the fee with every purchase.
	BookingFeeAlways BookingFeeMode = "always"
)

var errBookingFeeHistoryRequired = errors.New("booking fee: history repository is required for once mode")

// BookingFeePolicyDeps configures the booking fee.
type BookingFeePolicyDeps struct {
	History     repositories.HistoryRepository
	Amount      decimal.Decimal
	Currency    string
	Mode        BookingFeeMode
	Name        string
	TaxCategory string
}

type bookingFeePolicy struct {
	history     repositories.HistoryRepository
	amount      decimal.Decimal
	currency    string
	once        bool
	name        string
	taxCategory string
}

// NewBookingFeePolicy builds the hook that injects the booking fee into a cart.
func NewBookingFeePolicy(deps BookingFeePolicyDeps) (BookingFeeHook, error) {
	once := deps.Mode != BookingFeeAlways
	if once && deps.History == nil {
		return nil, errBookingFeeHistoryRequired
	}
	name := strings.TrimSpace(deps.Name)
	if name == "" {
		name = "Booking fee"
	}
	return &bookingFeePolicy{
		history:     deps.History,
		amount:      domain.RoundMoney(deps.Amount),
		currency:    strings.ToUpper(strings.TrimSpace(deps.Currency)),
		once:        once,
		name:        name,
		taxCategory: deps.TaxCategory,
	}, nil
}

func bookingFeeKey() ItemKey {
	return ItemKey{Component: domain.ComponentShoppingCart, Area: domain.AreaBookingFee, ItemID: domain.BookingFeeItemID}
}

// BeforeAdd appends the fee unless the cart already carries one, a rebooking is in progress,
// the incoming item is free or the user already paid the fee once.
func (p *bookingFeePolicy) BeforeAdd(ctx context.Context, cart *Cart, item CartItem) error {
	if !p.amount.IsPositive() || item.IsAuxiliary() {
		return nil
	}
	if cart.Has(bookingFeeKey()) || len(cart.RebookMarkers()) > 0 {
		return nil
	}
	if !item.Price.IsPositive() {
		return nil
	}
	if p.once {
		paid, err := p.history.CountPaid(ctx, cart.UserID, bookingFeeKey())
		if err != nil {
			if isContextError(err) {
				return err
			}
			return fmt.Errorf("%w: booking fee history: %v", ErrCartUnavailable, err)
		}
		if paid > 0 {
			return nil
		}
	}

	currency := p.currency
	if currency == "" {
		currency = item.Currency
	}
	cart.Items = append(cart.Items, CartItem{
		Component:   domain.ComponentShoppingCart,
		Area:        domain.AreaBookingFee,
		ItemID:      domain.BookingFeeItemID,
		UserID:      cart.UserID,
		Name:        p.name,
		Price:       p.amount,
		Currency:    currency,
		TaxCategory: p.taxCategory,
		AddedAt:     item.AddedAt,
	})
	return nil
}

// dropFreeBookingFee removes the booking fee when every purchasable item is free.
func dropFreeBookingFee(cart *Cart) bool {
	idx := cart.Find(bookingFeeKey())
	if idx < 0 {
		return false
	}
	for _, item := range cart.Items {
		if item.IsAuxiliary() {
			continue
		}
		if effectivePrice(item).IsPositive() {
			return false
		}
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	return true
}
