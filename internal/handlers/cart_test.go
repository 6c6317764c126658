package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/services"
)

func newCartRouter(purchases services.PurchaseOrchestrator) chi.Router {
	router := chi.NewRouter()
	NewCartHandlers(nil, purchases).Routes(router)
	return router
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestCartHandlersGetCartRequiresIdentity(t *testing.T) {
	router := newCartRouter(&stubPurchases{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartHandlersGetCartOnBehalf(t *testing.T) {
	var captured services.ActingContext
	router := newCartRouter(&stubPurchases{
		getFn: func(_ context.Context, acting services.ActingContext) (services.CheckoutData, error) {
			captured = acting
			return services.CheckoutData{UserID: acting.TargetUserID, Currency: "EUR"}, nil
		},
	})

	req := withUser(httptest.NewRequest(http.MethodGet, "/?userId=42", nil), 7, "cashier")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OperatorID != 7 || captured.TargetUserID != 42 {
		t.Fatalf("unexpected acting context %+v", captured)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-store cache header, got %q", cc)
	}
}

func TestCartHandlersRejectsInvalidOnBehalfTarget(t *testing.T) {
	router := newCartRouter(&stubPurchases{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/?userId=abc", nil), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var gotKey services.ItemKey
	router := newCartRouter(&stubPurchases{
		addFn: func(_ context.Context, _ services.ActingContext, key services.ItemKey) (services.AddItemResult, error) {
			gotKey = key
			if key.ItemID == 2 {
				return services.AddItemResult{Verdict: domain.VerdictAlreadyInCart}, nil
			}
			return services.AddItemResult{Verdict: domain.VerdictSuccess, Item: &services.CartItem{ItemID: key.ItemID}}, nil
		},
	})

	req := withUser(httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"component":" mod_booking ","area":"option","itemId":1}`)), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotKey != (services.ItemKey{Component: "mod_booking", Area: "option", ItemID: 1}) {
		t.Fatalf("unexpected key %+v", gotKey)
	}

	req = withUser(httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"component":"mod_booking","area":"option","itemId":2}`)), 7)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected in-band refusal with 200, got %d", rr.Code)
	}
	var body services.AddItemResult
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Verdict != domain.VerdictAlreadyInCart {
		t.Fatalf("expected verdict ALREADYINCART, got %s", body.Verdict)
	}
}

func TestCartHandlersAddItemValidatesBody(t *testing.T) {
	router := newCartRouter(&stubPurchases{})

	cases := []string{``, `{"component":"mod_booking"}`, `{"component":"x","area":"y","itemId":1,"extra":true}`}
	for _, body := range cases {
		req := withUser(httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(body)), 7)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestCartHandlersDeleteItemMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrItemNotInCart, http.StatusNotFound},
		{services.ErrPermissionDenied, http.StatusForbidden},
		{services.ErrProviderUnavailable, http.StatusBadGateway},
		{services.ErrCartUnavailable, http.StatusServiceUnavailable},
		{services.ErrLedgerInconsistent, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", services.ErrCartConflict), http.StatusConflict},
	}
	for _, tc := range cases {
		serviceErr, want := tc.err, tc.want
		router := newCartRouter(&stubPurchases{
			deleteFn: func(context.Context, services.ActingContext, services.ItemKey) (services.CheckoutData, error) {
				return services.CheckoutData{}, serviceErr
			},
		})
		req := withUser(httptest.NewRequest(http.MethodDelete, "/items/mod_booking/option/5", nil), 7)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("%v: expected %d, got %d", serviceErr, want, rr.Code)
		}
	}
}

func TestCartHandlersDeleteItemRejectsNonNumericID(t *testing.T) {
	router := newCartRouter(&stubPurchases{})

	req := withUser(httptest.NewRequest(http.MethodDelete, "/items/mod_booking/option/abc", nil), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersToggles(t *testing.T) {
	router := newCartRouter(&stubPurchases{})

	req := withUser(httptest.NewRequest(http.MethodPut, "/credit", strings.NewReader(`{"enabled":true}`)), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var data services.CheckoutData
	if err := json.Unmarshal(rr.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !data.UseCredit {
		t.Fatalf("expected credit usage to be enabled")
	}

	req = withUser(httptest.NewRequest(http.MethodPut, "/installments", strings.NewReader(`{"enabled":true}`)), 7)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if err := json.Unmarshal(rr.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !data.UseInstallments {
		t.Fatalf("expected installments to be enabled")
	}
}

func TestCartHandlersRebook(t *testing.T) {
	var gotID string
	router := newCartRouter(&stubPurchases{
		rebookFn: func(_ context.Context, _ services.ActingContext, historyID string) (services.CheckoutData, error) {
			gotID = historyID
			return services.CheckoutData{}, services.ErrRebookingDisabled
		},
	})

	req := withUser(httptest.NewRequest(http.MethodPost, "/rebook", strings.NewReader(`{"historyId":" h-1 "}`)), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "rebooking_disabled" {
		t.Fatalf("expected rebooking_disabled, got %s", code)
	}
	if gotID != "h-1" {
		t.Fatalf("expected trimmed history id, got %q", gotID)
	}
}

func TestCartHandlersWithoutServiceReturnUnavailable(t *testing.T) {
	router := chi.NewRouter()
	NewCartHandlers(nil, nil).Routes(router)

	req := withUser(httptest.NewRequest(http.MethodPut, "/credit", strings.NewReader(`{"enabled":true}`)), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
