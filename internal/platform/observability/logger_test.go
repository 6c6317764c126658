package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/requestctx"
)

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "checkout.confirmed", map[string]any{"userID": int64(7), "identifier": int64(100)})
	logEvent(context.Background(), "credits.ledger_inconsistent", map[string]any{"error": errors.New("sequence gap")})
	logEvent(context.Background(), "cart.write_conflict", nil)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["userID"] != int64(7) {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.ErrorLevel || entries[1].ContextMap()["error"] != "sequence gap" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
	if entries[2].Level != zapcore.WarnLevel || entries[2].ContextMap()["event"] != "cart.write_conflict" {
		t.Fatalf("unexpected third entry %+v", entries[2])
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	logEvent := EventLogger(zap.New(baseCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	logEvent(ctx, "cart.item_added", map[string]any{"item": "mod_booking/option/1"})

	if baseLogs.Len() != 0 || reqLogs.Len() != 1 {
		t.Fatalf("expected request logger to receive the event, base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
}

func TestSanitizeStringDropsControlCharacters(t *testing.T) {
	if got := sanitizeString("GET\n\x00/cart", 0); got != "GET/cart" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	if got := SanitizeMethod("PROPFINDXYZ"); got != "PROPFINDXY" {
		t.Fatalf("expected truncation, got %q", got)
	}
}
