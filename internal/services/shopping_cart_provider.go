package services

import (
	"context"
	"fmt"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

// shoppingCartProvider answers callbacks for the items the cart creates itself: booking fees,
// rebooking credits and rebook markers.
type shoppingCartProvider struct{}

// NewShoppingCartProvider returns the provider registered for the shopping cart component.
func NewShoppingCartProvider() ItemProvider {
	return shoppingCartProvider{}
}

func (shoppingCartProvider) LoadCartItem(_ context.Context, area string, itemID, _ int64) (*CartItem, error) {
	return nil, fmt.Errorf("%w: %s/%s/%d is created by the cart", ErrCartInvalidInput, domain.ComponentShoppingCart, area, itemID)
}

func (shoppingCartProvider) UnloadCartItem(context.Context, string, int64, int64) (UnloadResult, error) {
	return UnloadResult{Success: true}, nil
}

func (shoppingCartProvider) SuccessfulCheckout(_ context.Context, area string, _ int64, _ PaymentMethod, _ int64) (bool, error) {
	switch area {
	case domain.AreaBookingFee, domain.AreaRebookingCredit, domain.AreaRebookItem:
		return true, nil
	}
	return false, nil
}

func (shoppingCartProvider) CancelPurchase(_ context.Context, area string, _, _ int64) (bool, error) {
	return area == domain.AreaBookingFee || area == domain.AreaRebookItem, nil
}

func (shoppingCartProvider) AllowAddItemToCart(context.Context, string, int64, int64) (AllowResult, error) {
	return AllowResult{Allow: true}, nil
}

func (shoppingCartProvider) QuotaConsumed(context.Context, string, int64, int64) (float64, error) {
	return 0, nil
}
