package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/httpx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/pagination"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

var historyPageOptions = pagination.Options{
	DefaultPageSize: 20,
	MaxPageSize:     100,
	OrderField:      "createdAt",
	DefaultDesc:     true,
}

// HistoryHandlers lists purchases and cancels them.
type HistoryHandlers struct {
	authn      *auth.Authenticator
	history    services.HistoryService
	purchases  services.PurchaseOrchestrator
	idempotent func(http.Handler) http.Handler
}

// NewHistoryHandlers constructs the history handlers. idempotent may be nil.
func NewHistoryHandlers(authn *auth.Authenticator, history services.HistoryService, purchases services.PurchaseOrchestrator, idempotent func(http.Handler) http.Handler) *HistoryHandlers {
	return &HistoryHandlers{authn: authn, history: history, purchases: purchases, idempotent: idempotent}
}

// Routes wires the /history endpoints onto the provided router.
func (h *HistoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.list)
	cancel := r
	if h.idempotent != nil {
		cancel = r.With(h.idempotent)
	}
	cancel.Post("/{historyId}:cancel", h.cancel)
}

type historyPage struct {
	Items         []services.HistoryRecord `json:"items"`
	NextPageToken string                   `json:"nextPageToken,omitempty"`
}

func (h *HistoryHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.history != nil, "history") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	params, err := pagination.FromRequest(r, historyPageOptions)
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	records, err := h.history.ListHistory(ctx, acting)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if !params.Desc {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}
	items, next, err := pagination.Slice(records, params)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, historyPage{Items: items, NextPageToken: next})
}

type cancelRequest struct {
	Component        string           `json:"component"`
	Area             string           `json:"area"`
	ItemID           int64            `json:"itemId"`
	CustomCredit     *decimal.Decimal `json:"customCredit,omitempty"`
	CancelationFee   *decimal.Decimal `json:"cancelationFee,omitempty"`
	ApplyToComponent *bool            `json:"applyToComponent,omitempty"`
}

func (h *HistoryHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "history") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	historyID := strings.TrimSpace(chi.URLParam(r, "historyId"))
	if historyID == "" {
		writeInvalidRequest(ctx, w, errors.New("history id is required"))
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	key, err := itemKeyRequest{Component: req.Component, Area: req.Area, ItemID: req.ItemID}.key()
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	applyToComponent := true
	if req.ApplyToComponent != nil {
		applyToComponent = *req.ApplyToComponent
	}

	result, err := h.purchases.CancelPurchase(ctx, services.CancelPurchaseCommand{
		Acting:           acting,
		Component:        key.Component,
		Area:             key.Area,
		ItemID:           key.ItemID,
		UserID:           acting.TargetUserID,
		HistoryID:        historyID,
		CustomCredit:     req.CustomCredit,
		CancelationFee:   req.CancelationFee,
		ApplyToComponent: applyToComponent,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, result)
}
