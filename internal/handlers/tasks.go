package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/httpx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/jobs"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/requestctx"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

// maxRetryAfter caps the Retry-After hint for tasks delivered ahead of time.
const maxRetryAfter = 10 * time.Minute

// TaskHandlers receive Pub/Sub push deliveries of deferred tasks. Any non-2xx answer makes
// Pub/Sub redeliver the message.
type TaskHandlers struct {
	purchases services.PurchaseOrchestrator
	clock     func() time.Time
}

// TaskOption customises the task handlers.
type TaskOption func(*TaskHandlers)

// WithTaskClock overrides the clock used to decide whether a task is due.
func WithTaskClock(clock func() time.Time) TaskOption {
	return func(h *TaskHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewTaskHandlers constructs the push endpoints.
func NewTaskHandlers(purchases services.PurchaseOrchestrator, opts ...TaskOption) *TaskHandlers {
	h := &TaskHandlers{purchases: purchases, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /internal/tasks endpoints. Authentication is applied by the router group.
func (h *TaskHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/tasks/cart-expire", h.expireCart)
}

type expireResponse struct {
	Task   string                   `json:"task"`
	UserID int64                    `json:"userId"`
	Result services.ExpireCartResult `json:"result"`
}

func (h *TaskHandlers) expireCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestctx.Logger(ctx)
	if !requireService(ctx, w, h.purchases != nil, "cart") {
		return
	}

	msg, err := jobs.DecodePush(r)
	if err != nil {
		// Malformed deliveries are acknowledged so they are not redelivered forever.
		logger.Warn("tasks: dropping malformed push", zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if msg.Task != services.TaskExpireCart {
		logger.Warn("tasks: dropping unknown task", zap.String("task", msg.Task), zap.Int64("userId", msg.UserID))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	now := h.clock()
	if !msg.Due(now) {
		wait := msg.RunAt.Sub(now)
		if wait > maxRetryAfter {
			wait = maxRetryAfter
		}
		seconds := int(wait.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		httpx.WriteError(ctx, w, httpx.NewError("task_not_due", "task is scheduled for later", http.StatusServiceUnavailable))
		return
	}

	result, err := h.purchases.ExpireCart(ctx, msg.UserID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expireResponse{Task: msg.Task, UserID: msg.UserID, Result: result})
}
