package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

func newTestPricer(t *testing.T, deps PricingEngineDeps) PricingEngine {
	t.Helper()
	if deps.Clock == nil {
		now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
		deps.Clock = func() time.Time { return now }
	}
	engine, err := NewPricingEngine(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing pricing engine: %v", err)
	}
	return engine
}

func mustTaxMatrix(t *testing.T, raw string) *TaxMatrix {
	t.Helper()
	matrix, err := ParseTaxMatrix(raw)
	if err != nil {
		t.Fatalf("unexpected error parsing tax matrix: %v", err)
	}
	return matrix
}

func TestPricingEngineDerivesNetFromGrossPrice(t *testing.T) {
	engine := newTestPricer(t, PricingEngineDeps{TaxesEnabled: true, TaxMatrix: mustTaxMatrix(t, "default A:15")})

	item := bookableItem(1, "10.00")
	item.TaxCategory = "A"
	data, err := engine.Calculate(context.Background(), PriceCartCommand{
		Cart:    Cart{UserID: 7, Items: []CartItem{item}},
		Balance: &Balance{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	priced := data.Items[0]
	assertDecimal(t, "price", priced.Price, "10.00")
	assertDecimal(t, "net", priced.PriceNet, "8.70")
	assertDecimal(t, "tax", priced.Tax, "1.30")
	assertDecimal(t, "rate", priced.TaxRate, "0.15")
	assertDecimal(t, "total", data.Price, "10.00")
	assertDecimal(t, "total tax", data.Tax, "1.30")
	if !data.TaxesEnabled {
		t.Fatalf("expected taxes enabled flag")
	}
}

func TestPricingEngineAddsTaxToNetPrices(t *testing.T) {
	engine := newTestPricer(t, PricingEngineDeps{
		TaxesEnabled: true,
		PricesAreNet: true,
		TaxMatrix:    mustTaxMatrix(t, "default A:15 B:0\nAT A:20"),
	})

	item := bookableItem(1, "10.00")
	item.TaxCategory = "A"
	data, err := engine.Calculate(context.Background(), PriceCartCommand{
		Cart:    Cart{UserID: 7, TaxCountry: "AT", Items: []CartItem{item}},
		Balance: &Balance{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDecimal(t, "net", data.PriceNet, "10.00")
	assertDecimal(t, "gross", data.PriceGross, "12.00")
	assertDecimal(t, "tax", data.Tax, "2.00")
	assertDecimal(t, "price", data.Price, "12.00")
}

func TestPricingEngineRejectsUnknownTaxCategory(t *testing.T) {
	engine := newTestPricer(t, PricingEngineDeps{TaxesEnabled: true, TaxMatrix: mustTaxMatrix(t, "default A:15")})

	item := bookableItem(1, "10.00")
	item.TaxCategory = "Z"
	_, err := engine.Calculate(context.Background(), PriceCartCommand{Cart: Cart{UserID: 7, Items: []CartItem{item}}, Balance: &Balance{}})
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
	}
}

func TestPricingEngineDeductsAvailableCredit(t *testing.T) {
	engine := newTestPricer(t, PricingEngineDeps{})

	cases := []struct {
		name            string
		balance         string
		currency        string
		deductible      string
		remainingTotal  string
		remainingCredit string
	}{
		{"partial credit", "14.10", "EUR", "14.10", "30.00", "0.00"},
		{"credit exceeds total", "50.00", "EUR", "44.10", "0.00", "5.90"},
		{"foreign credit ignored", "50.00", "USD", "0", "44.10", "50.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := engine.Calculate(context.Background(), PriceCartCommand{
				Cart:    Cart{UserID: 7, UseCredit: true, Items: []CartItem{bookableItem(1, "44.10")}},
				Balance: &Balance{Amount: dec(tc.balance), Currency: tc.currency},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertDecimal(t, "deductible", data.Deductible, tc.deductible)
			assertDecimal(t, "remaining total", data.RemainingTotal, tc.remainingTotal)
			assertDecimal(t, "remaining credit", data.RemainingCredit, tc.remainingCredit)
		})
	}
}

func TestPricingEngineIgnoresCreditUnlessEnabled(t *testing.T) {
	engine := newTestPricer(t, PricingEngineDeps{})

	data, err := engine.Calculate(context.Background(), PriceCartCommand{
		Cart:    Cart{UserID: 7, Items: []CartItem{bookableItem(1, "44.10")}},
		Balance: &Balance{Amount: dec("14.10"), Currency: "EUR"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDecimal(t, "deductible", data.Deductible, "0")
	assertDecimal(t, "remaining total", data.RemainingTotal, "44.10")
	assertDecimal(t, "credit", data.Credit, "14.10")
}

func TestPricingEngineAppliesDiscounts(t *testing.T) {
	cases := []struct {
		name      string
		precision int32
		price     string
		discount  domain.Discount
		want      string
		wantDisc  string
	}{
		{"percent rounded to whole units", 0, "33.33", domain.Discount{Kind: domain.DiscountPercent, Value: dec("10")}, "30.33", "3"},
		{"percent rounded to cents", 2, "33.33", domain.Discount{Kind: domain.DiscountPercent, Value: dec("10")}, "30.00", "3.33"},
		{"absolute", 2, "20.00", domain.Discount{Kind: domain.DiscountAbsolute, Value: dec("5.50")}, "14.50", "5.50"},
		{"absolute clamped to price", 2, "20.00", domain.Discount{Kind: domain.DiscountAbsolute, Value: dec("50")}, "0", "20.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestPricer(t, PricingEngineDeps{DiscountPrecision: tc.precision})
			item := bookableItem(1, tc.price)
			item.Discount = tc.discount
			data, err := engine.Calculate(context.Background(), PriceCartCommand{Cart: Cart{UserID: 7, Items: []CartItem{item}}, Balance: &Balance{}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertDecimal(t, "price", data.Price, tc.want)
			assertDecimal(t, "discount", data.Discount, tc.wantDisc)
			assertDecimal(t, "initial total", data.InitialTotal, tc.price)
		})
	}
}

func TestPricingEngineNeverReturnsNegativeTotal(t *testing.T) {
	engine := newTestPricer(t, PricingEngineDeps{TaxesEnabled: true, TaxMatrix: mustTaxMatrix(t, "default A:20")})

	credit := CartItem{
		Component: domain.ComponentShoppingCart,
		Area:      domain.AreaRebookingCredit,
		ItemID:    domain.RebookingCreditItemID,
		Price:     dec("-30.00"),
		Currency:  "EUR",
	}
	data, err := engine.Calculate(context.Background(), PriceCartCommand{
		Cart:    Cart{UserID: 7, Items: []CartItem{bookableItem(1, "20.00"), credit}},
		Balance: &Balance{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDecimal(t, "total", data.Price, "0")
	assertDecimal(t, "credit item", data.Items[1].Price, "-20.00")
	assertDecimal(t, "credit item tax", data.Items[1].Tax, "0")
}

func TestPricingEngineRejectsMixedCurrencies(t *testing.T) {
	engine := newTestPricer(t, PricingEngineDeps{})

	other := bookableItem(2, "5")
	other.Currency = "USD"
	_, err := engine.Calculate(context.Background(), PriceCartCommand{
		Cart:    Cart{UserID: 7, Items: []CartItem{bookableItem(1, "10"), other}},
		Balance: &Balance{},
	})
	if !errors.Is(err, ErrPricingCurrencyMismatch) {
		t.Fatalf("expected ErrPricingCurrencyMismatch, got %v", err)
	}
}

func TestPricingEnginePlansInstallments(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestPricer(t, PricingEngineDeps{Clock: func() time.Time { return now }})

	item := bookableItem(1, "100.00")
	item.Installment = &domain.InstallmentPlan{DownPayment: dec("50"), NumberOfPayments: 3, IntervalDays: 30}
	data, err := engine.Calculate(context.Background(), PriceCartCommand{
		Cart:    Cart{UserID: 7, UseInstallments: true, Items: []CartItem{item}},
		Balance: &Balance{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertDecimal(t, "due now", data.Items[0].DueNow, "50")
	assertDecimal(t, "total", data.Price, "50")
	if len(data.Installments) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(data.Installments))
	}
	want := []string{"16.67", "16.67", "16.66"}
	for i, due := range data.Installments {
		assertDecimal(t, "installment", due.Amount, want[i])
		if expected := now.AddDate(0, 0, 30*(i+1)); !due.DueAt.Equal(expected) {
			t.Fatalf("installment %d: expected due %s, got %s", i+1, expected, due.DueAt)
		}
	}
}

type stubCreditBalance struct {
	CreditLedgerService
	balanceFunc func(ctx context.Context, userID int64, costCenter string) (Balance, error)
}

func (s stubCreditBalance) Balance(ctx context.Context, userID int64, costCenter string) (Balance, error) {
	return s.balanceFunc(ctx, userID, costCenter)
}

func TestPricingEngineLooksUpCostCenterCredit(t *testing.T) {
	var requested []string
	credits := stubCreditBalance{balanceFunc: func(_ context.Context, userID int64, costCenter string) (Balance, error) {
		if userID != 7 {
			t.Fatalf("unexpected user %d", userID)
		}
		requested = append(requested, costCenter)
		return Balance{Amount: dec("3"), Currency: "EUR", CostCenter: costCenter}, nil
	}}

	item := bookableItem(1, "10")
	item.CostCenter = "sports"
	cart := Cart{UserID: 7, UseCredit: true, Items: []CartItem{item}}

	shared := newTestPricer(t, PricingEngineDeps{Credits: credits})
	if _, err := shared.Calculate(context.Background(), PriceCartCommand{Cart: cart}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	split := newTestPricer(t, PricingEngineDeps{Credits: credits, CostCenterCredits: true})
	data, err := split.Calculate(context.Background(), PriceCartCommand{Cart: cart})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(requested) != 2 || requested[0] != "" || requested[1] != "sports" {
		t.Fatalf("unexpected cost center lookups %q", requested)
	}
	if data.CostCenter != "sports" {
		t.Fatalf("expected cost center sports, got %q", data.CostCenter)
	}
	assertDecimal(t, "remaining total", data.RemainingTotal, "7")
}
