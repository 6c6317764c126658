package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/httpx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

// onBehalfParam lets a cashier address another user's cart or history.
const onBehalfParam = "userId"

var errUnauthenticated = httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized)

// actingFromRequest derives the acting context from the authenticated identity. The userId query
// parameter targets another user; the services decide whether the operator may do that.
func actingFromRequest(r *http.Request) (services.ActingContext, *httpx.Error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || identity.UserID == 0 {
		return services.ActingContext{}, &errUnauthenticated
	}
	acting := domain.Self(identity.UserID)
	if raw := strings.TrimSpace(r.URL.Query().Get(onBehalfParam)); raw != "" {
		target, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || target == 0 {
			bad := httpx.NewError("invalid_request", "userId must be a non-zero integer", http.StatusBadRequest)
			return services.ActingContext{}, &bad
		}
		acting.TargetUserID = target
	}
	return acting, nil
}

func itemKeyFromPath(r *http.Request) (services.ItemKey, error) {
	component := strings.TrimSpace(chi.URLParam(r, "component"))
	area := strings.TrimSpace(chi.URLParam(r, "area"))
	itemID, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "itemId")), 10, 64)
	if component == "" || area == "" || err != nil {
		return services.ItemKey{}, errors.New("component, area and numeric itemId are required")
	}
	return services.ItemKey{Component: component, Area: area, ItemID: itemID}, nil
}

type itemKeyRequest struct {
	Component string `json:"component"`
	Area      string `json:"area"`
	ItemID    int64  `json:"itemId"`
}

func (req itemKeyRequest) key() (services.ItemKey, error) {
	key := services.ItemKey{
		Component: strings.TrimSpace(req.Component),
		Area:      strings.TrimSpace(req.Area),
		ItemID:    req.ItemID,
	}
	if key.Component == "" || key.Area == "" || key.ItemID == 0 {
		return services.ItemKey{}, errors.New("component, area and itemId are required")
	}
	return key, nil
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func writeInvalidRequest(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeNoStore(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	httpx.WriteJSON(w, status, payload)
}

// writeServiceError maps service sentinel errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var status int
	var code string
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, services.ErrPermissionDenied):
		status, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrCreditInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrPricingCurrencyMismatch):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, services.ErrItemNotInCart):
		status, code = http.StatusNotFound, "item_not_in_cart"
	case errors.Is(err, services.ErrPurchaseNotFound):
		status, code = http.StatusNotFound, "purchase_not_found"
	case errors.Is(err, services.ErrProviderNotRegistered):
		status, code = http.StatusNotFound, "component_not_found"
	case errors.Is(err, services.ErrCartEmpty):
		status, code = http.StatusUnprocessableEntity, "cart_empty"
	case errors.Is(err, services.ErrCheckoutInvalid):
		status, code = http.StatusUnprocessableEntity, "checkout_invalid"
	case errors.Is(err, services.ErrCheckoutNotPrepared):
		status, code = http.StatusConflict, "checkout_not_prepared"
	case errors.Is(err, services.ErrPaymentNotVerified):
		status, code = http.StatusPaymentRequired, "payment_not_verified"
	case errors.Is(err, services.ErrInsufficientCredit):
		status, code = http.StatusUnprocessableEntity, "insufficient_credit"
	case errors.Is(err, services.ErrPurchaseAlreadyCanceled):
		status, code = http.StatusConflict, "already_canceled"
	case errors.Is(err, services.ErrCancellationWindowClosed):
		status, code = http.StatusUnprocessableEntity, "cancellation_window_closed"
	case errors.Is(err, services.ErrCancellationRejected):
		status, code = http.StatusUnprocessableEntity, "cancellation_rejected"
	case errors.Is(err, services.ErrRebookingDisabled):
		status, code = http.StatusUnprocessableEntity, "rebooking_disabled"
	case errors.Is(err, services.ErrCartConflict), errors.Is(err, services.ErrCreditConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrProviderUnavailable):
		status, code = http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrCreditUnavailable),
		errors.Is(err, services.ErrHistoryUnavailable):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, services.ErrLedgerInconsistent):
		httpx.WriteError(ctx, w, httpx.NewError("ledger_inconsistent", "credit ledger needs attention", http.StatusInternalServerError))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "unexpected error", http.StatusInternalServerError))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), status))
}

func requireService(ctx context.Context, w http.ResponseWriter, available bool, name string) bool {
	if available {
		return true
	}
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", fmt.Sprintf("%s service is unavailable", name), http.StatusServiceUnavailable))
	return false
}
