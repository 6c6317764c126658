package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger for empty context")
	}
	logger := zap.NewExample()
	if Logger(WithLogger(context.Background(), logger)) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestAnnotationsAreVisibleToOuterContext(t *testing.T) {
	outer := WithAnnotations(context.Background())
	inner := context.WithValue(outer, struct{}{}, "x")
	SetUserID(inner, "42")
	if got := UserID(outer); got != "42" {
		t.Fatalf("expected outer context to see user id, got %q", got)
	}

	SetUserID(context.Background(), "7")
	if UserID(context.Background()) != "" {
		t.Fatalf("expected no user id without annotations")
	}
}

func TestTraceID(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc"})
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id")
	}
}
