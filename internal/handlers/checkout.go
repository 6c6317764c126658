package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/httpx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

// CheckoutHandlers drives the checkout steps and commits carts.
type CheckoutHandlers struct {
	authn      *auth.Authenticator
	flow       services.CheckoutFlow
	purchases  services.PurchaseOrchestrator
	perms      services.PermissionChecker
	idempotent func(http.Handler) http.Handler
}

// CheckoutOption customises the checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency guards the confirm endpoint with the given middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotent = mw
	}
}

// WithCheckoutPermissions overrides the permission checker used for on-behalf access.
func WithCheckoutPermissions(perms services.PermissionChecker) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if perms != nil {
			h.perms = perms
		}
	}
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, flow services.CheckoutFlow, purchases services.PurchaseOrchestrator, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{authn: authn, flow: flow, purchases: purchases, perms: auth.Permissions{}}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.overview)
	r.Post("/steps/{step}", h.checkStep)
	r.Post("/prepare", h.prepare)
	confirm := r
	if h.idempotent != nil {
		confirm = r.With(h.idempotent)
	}
	confirm.Post("/confirm", h.confirm)
}

// stepTarget resolves the user whose checkout is addressed. The flow itself is not
// permission-aware, so on-behalf access is checked here.
func (h *CheckoutHandlers) stepTarget(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ctx := r.Context()
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return 0, false
	}
	if acting.OnBehalf() && !h.perms.IsCashier(ctx, acting.OperatorID) {
		writeServiceError(ctx, w, services.ErrPermissionDenied)
		return 0, false
	}
	return acting.TargetUserID, true
}

func (h *CheckoutHandlers) overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.flow != nil, "checkout") {
		return
	}
	userID, ok := h.stepTarget(w, r)
	if !ok {
		return
	}
	overview, err := h.flow.RenderOverview(ctx, userID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, overview)
}

func (h *CheckoutHandlers) checkStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.flow != nil, "checkout") {
		return
	}
	userID, ok := h.stepTarget(w, r)
	if !ok {
		return
	}
	step := strings.TrimSpace(chi.URLParam(r, "step"))
	if step == "" {
		writeInvalidRequest(ctx, w, errors.New("step is required"))
		return
	}
	changed := map[string]string{}
	if err := httpx.DecodeJSON(r, &changed, true); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	overview, err := h.flow.CheckPreprocess(ctx, userID, step, changed)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, overview)
}

func (h *CheckoutHandlers) prepare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "checkout") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	data, err := h.purchases.PrepareCheckout(ctx, acting)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeNoStore(w, http.StatusOK, data)
}

type confirmRequest struct {
	Identifier       int64  `json:"identifier"`
	PaymentReference string `json:"paymentReference"`
	Method           string `json:"method"`
	Annotation       string `json:"annotation"`
}

func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requireService(ctx, w, h.purchases != nil, "checkout") {
		return
	}
	acting, authErr := actingFromRequest(r)
	if authErr != nil {
		httpx.WriteError(ctx, w, *authErr)
		return
	}
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req, true); err != nil {
		writeInvalidRequest(ctx, w, err)
		return
	}
	if req.Identifier < 0 {
		writeInvalidRequest(ctx, w, errors.New("identifier must not be negative"))
		return
	}
	result, err := h.purchases.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		Acting:           acting,
		Method:           services.PaymentMethod(strings.TrimSpace(req.Method)),
		Identifier:       req.Identifier,
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		Annotation:       req.Annotation,
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
