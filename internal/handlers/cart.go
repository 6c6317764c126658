package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/httpx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

// CartHandlers exposes the cart of the authenticated user, or of another user for cashiers.
type CartHandlers struct {
	authn     *auth.Authenticator
	purchases services.PurchaseOrchestrator
}

// NewCartHandlers constructs handlers enforcing authentication before invoking the orchestrator.
func NewCartHandlers(authn *auth.Authenticator, purchases services.PurchaseOrchestrator) *CartHandlers {
	return &CartHandlers{authn: authn, purchases: purchases}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Get("/items/{component}/{area}/{itemId}/allowed", h.allowItem)
	r.Delete("/items/{component}/{area}/{itemId}", h.deleteItem)
	r.Put("/credit", h.setCredit)
	r.Put("/installments", h.setInstallments)
	r.Post("/rebook", h.rebook)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cart") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	data, err := h.purchases.GetCart(ctx, acting)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, data)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cart") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req itemKeyRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	key, err := req.key()
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}

	result, err := h.purchases.AddItemToCart(ctx, acting, key)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusCreated
	if result.Item == nil {
		// Refusals are answered in-band with the verdict and the unchanged cart.
		status = http.StatusOK
	}
	writeNoStore(w, status, result)
}

func (h *CartHandlers) allowItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cart") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	key, err := itemKeyFromPath(r)
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	decision, err := h.purchases.AllowAddItemToCart(ctx, acting, key)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, decision)
}

func (h *CartHandlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cart") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	key, err := itemKeyFromPath(r)
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	data, err := h.purchases.DeleteItemFromCart(ctx, acting, key)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, data)
}

func (h *CartHandlers) setCredit(w http.ResponseWriter, r *http.Request) {
	if !requireService(r.Context(), w, h.purchases != nil, "cart") {
		return
	}
	h.toggle(w, r, h.purchases.SetCreditUsage)
}

func (h *CartHandlers) setInstallments(w http.ResponseWriter, r *http.Request) {
	if !requireService(r.Context(), w, h.purchases != nil, "cart") {
		return
	}
	h.toggle(w, r, h.purchases.SetInstallmentUsage)
}

func (h *CartHandlers) toggle(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, acting services.ActingContext, use bool) (services.CheckoutData, error)) {
	ctx := r.Context()
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req toggleRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	data, err := apply(ctx, acting, req.Enabled)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, data)
}

type rebookRequest struct {
	HistoryID string `json:"historyId"`
}

func (h *CartHandlers) rebook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cart") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req rebookRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	historyID := strings.TrimSpace(req.HistoryID)
	if historyID == "" {
		writeInvalidRequest(ctx, w, errors.New("historyId is required"))
		return
	}
	data, err := h.purchases.RebookItem(ctx, acting, historyID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, data)
}
