package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()
	err := NewError("cart_full", "cart\nis full", http.StatusConflict).WithDetails(map[string]any{"max": 10})
	WriteError(ctx, rec, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "cart_full" || body["message"] != "cart is full" || body["trace_id"] != "trace-1" {
		t.Fatalf("unexpected envelope %v", body)
	}
	details, _ := body["details"].(map[string]any)
	if details["max"] != float64(10) {
		t.Fatalf("expected details to be included, got %v", body["details"])
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Amount string `json:"amount"`
	}

	var p payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"5.00"}`))
	if err := DecodeJSON(req, &p, false); err != nil || p.Amount != "5.00" {
		t.Fatalf("unexpected decode result %+v %v", p, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"5","extra":1}`))
	if err := DecodeJSON(req, &p, false); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(req, &p, false); err == nil {
		t.Fatalf("expected empty body to be rejected")
	}
	if err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &p, true); err != nil {
		t.Fatalf("expected empty body to be allowed, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1"}{"amount":"2"}`))
	if err := DecodeJSON(req, &p, false); err == nil {
		t.Fatalf("expected trailing object to be rejected")
	}
}
