package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	annotationsKey
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// annotations is a mutable slot shared by outer middleware and inner handlers.
type annotations struct {
	mu     sync.Mutex
	userID string
}

// WithAnnotations attaches a slot that inner middleware can fill via SetUserID.
func WithAnnotations(ctx context.Context) context.Context {
	if _, ok := ctx.Value(annotationsKey).(*annotations); ok {
		return ctx
	}
	return context.WithValue(ctx, annotationsKey, &annotations{})
}

// SetUserID records the authenticated user for outer middleware. It is a no-op without a slot.
func SetUserID(ctx context.Context, userID string) {
	a, ok := ctx.Value(annotationsKey).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.userID = userID
	a.mu.Unlock()
}

// UserID returns the user recorded by SetUserID.
func UserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	a, ok := ctx.Value(annotationsKey).(*annotations)
	if !ok {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}
