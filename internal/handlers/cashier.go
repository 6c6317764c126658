package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/httpx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

// CashierHandlers serve the cashier desk. Every route targets the user named by the userId query
// parameter except the daily summary.
type CashierHandlers struct {
	authn      *auth.Authenticator
	purchases  services.PurchaseOrchestrator
	history    services.HistoryService
	idempotent func(http.Handler) http.Handler
	location   *time.Location
	clock      func() time.Time
}

// CashierOption customises the cashier handlers.
type CashierOption func(*CashierHandlers)

// WithCashierIdempotency guards the state-changing cashier endpoints with mw.
func WithCashierIdempotency(mw func(http.Handler) http.Handler) CashierOption {
	return func(h *CashierHandlers) {
		h.idempotent = mw
	}
}

// WithCashierLocation sets the timezone used to resolve the summary day.
func WithCashierLocation(loc *time.Location) CashierOption {
	return func(h *CashierHandlers) {
		if loc != nil {
			h.location = loc
		}
	}
}

// WithCashierClock injects the clock used when no day is given.
func WithCashierClock(clock func() time.Time) CashierOption {
	return func(h *CashierHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewCashierHandlers constructs the cashier handlers.
func NewCashierHandlers(authn *auth.Authenticator, purchases services.PurchaseOrchestrator, history services.HistoryService, opts ...CashierOption) *CashierHandlers {
	h := &CashierHandlers{
		authn:     authn,
		purchases: purchases,
		history:   history,
		location:  time.UTC,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cashier endpoints onto the provided router.
func (h *CashierHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser(auth.CapabilityCashier))
	}
	r.Get("/summary", h.summary)
	r.Get("/ledger", h.ledger)
	mutating := r
	if h.idempotent != nil {
		mutating = r.With(h.idempotent)
	}
	mutating.Post("/discount", h.discount)
	mutating.Post("/credit", h.addCredit)
	mutating.Post("/payout", h.payout)
	mutating.Post("/confirm", h.confirm)
}

type discountRequest struct {
	Component string          `json:"component"`
	Area      string          `json:"area"`
	ItemID    int64           `json:"itemId"`
	Kind      string          `json:"kind"`
	Value     decimal.Decimal `json:"value"`
}

func (h *CashierHandlers) discount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cashier") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req discountRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	key, err := itemKeyRequest{Component: req.Component, Area: req.Area, ItemID: req.ItemID}.key()
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	discount := domain.Discount{Kind: domain.DiscountKind(strings.ToLower(strings.TrimSpace(req.Kind))), Value: req.Value}
	data, err := h.purchases.AddDiscountToItem(ctx, acting, key, discount)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, data)
}

type creditRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	CostCenter string          `json:"costCenter"`
	Method     string          `json:"method"`
	Annotation string          `json:"annotation"`
}

func (h *CashierHandlers) addCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cashier") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req creditRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	balance, err := h.purchases.AddCredit(ctx, services.ManualCreditCommand{
		Acting:     acting,
		Amount:     req.Amount,
		Currency:   strings.TrimSpace(req.Currency),
		CostCenter: strings.TrimSpace(req.CostCenter),
		Method:     services.PaymentMethod(strings.TrimSpace(req.Method)),
		Annotation: req.Annotation,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, balance)
}

type payoutRequest struct {
	CostCenter string `json:"costCenter"`
	Method     string `json:"method"`
	Annotation string `json:"annotation"`
}

func (h *CashierHandlers) payout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cashier") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req payoutRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	balance, err := h.purchases.PayoutCredit(ctx, services.PayoutCreditCommand{
		Acting:     acting,
		CostCenter: strings.TrimSpace(req.CostCenter),
		Method:     services.PaymentMethod(strings.TrimSpace(req.Method)),
		Annotation: req.Annotation,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, balance)
}

type deskConfirmRequest struct {
	Method     string `json:"method"`
	Annotation string `json:"annotation"`
}

func (h *CashierHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "cashier") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req deskConfirmRequest
	if err := httpx.DecodeJSON(r, &req, true); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	result, err := h.purchases.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		Acting:     acting,
		Method:     services.PaymentMethod(strings.TrimSpace(req.Method)),
		Annotation: req.Annotation,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if !result.Succeeded() {
		status = http.StatusMultiStatus
	}
	writeNoStore(w, status, result)
}

type exportResponse struct {
	Day      string `json:"day"`
	Location string `json:"location"`
}

// summary answers GET /summary?day=YYYY-MM-DD[&export=true].
func (h *CashierHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.history != nil, "history") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	day, err := h.dayFromQuery(r)
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	export := false
	if raw := strings.TrimSpace(r.URL.Query().Get("export")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeInvalidRequest(ctx, w, errors.New("export must be a boolean"))
			return
		}
		export = parsed
	}

	if export {
		location, err := h.history.ExportDailySummary(ctx, acting, day)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeNoStore(w, http.StatusOK, exportResponse{Day: day.Format(time.DateOnly), Location: location})
		return
	}
	summary, err := h.history.DailySummary(ctx, acting, day)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, summary)
}

type ledgerResponse struct {
	Day     string                 `json:"day"`
	Entries []services.LedgerEntry `json:"entries"`
}

// ledger answers GET /ledger?day=YYYY-MM-DD with the raw ledger rows of that day.
func (h *CashierHandlers) ledger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.history != nil, "history") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	day, err := h.dayFromQuery(r)
	if err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	entries, err := h.history.ListLedger(ctx, acting, day)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []services.LedgerEntry{}
	}
	writeNoStore(w, http.StatusOK, ledgerResponse{Day: day.Format(time.DateOnly), Entries: entries})
}

// dayFromQuery reads ?day=YYYY-MM-DD in the desk timezone, defaulting to today.
func (h *CashierHandlers) dayFromQuery(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("day"))
	if raw == "" {
		return h.clock().In(h.location), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, h.location)
	if err != nil {
		return time.Time{}, errors.New("day must be formatted as YYYY-MM-DD")
	}
	return day, nil
}
