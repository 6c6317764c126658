package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

const defaultInstallmentIntervalDays = 30

// PricingEngineDeps configures price computation.
type PricingEngineDeps struct {
	Credits      CreditLedgerService
	TaxMatrix    *TaxMatrix
	TaxesEnabled bool
	// PricesAreNet declares stored item prices as net amounts; otherwise they are gross.
	PricesAreNet bool
	// DiscountPrecision is the number of decimals percentage discounts are rounded to (0 or 2).
	DiscountPrecision int32
	// CostCenterCredits keeps a separate credit balance per cost center.
	CostCenterCredits bool
	Currency          string
	Clock             func() time.Time
}

type pricingEngine struct {
	credits           CreditLedgerService
	matrix            *TaxMatrix
	taxesEnabled      bool
	pricesAreNet      bool
	discountPrecision int32
	costCenterCredits bool
	currency          string
	now               func() time.Time
}

// NewPricingEngine constructs the pricing engine. A nil credit ledger prices every cart without credit.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.TaxesEnabled && deps.TaxMatrix == nil {
		return nil, fmt.Errorf("%w: tax matrix is required when taxes are enabled", ErrPricingInvalidInput)
	}
	precision := deps.DiscountPrecision
	if precision != 0 {
		precision = domain.MoneyPlaces
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "EUR"
	}
	return &pricingEngine{
		credits:           deps.Credits,
		matrix:            deps.TaxMatrix,
		taxesEnabled:      deps.TaxesEnabled,
		pricesAreNet:      deps.PricesAreNet,
		discountPrecision: precision,
		costCenterCredits: deps.CostCenterCredits,
		currency:          currency,
		now:               func() time.Time { return clock().UTC() },
	}, nil
}

// Calculate derives the checkout snapshot of the cart.
func (e *pricingEngine) Calculate(ctx context.Context, cmd PriceCartCommand) (CheckoutData, error) {
	cart := cmd.Cart
	data := CheckoutData{
		UserID:          cart.UserID,
		Currency:        e.currency,
		UseCredit:       cart.UseCredit,
		UseInstallments: cart.UseInstallments,
		TaxesEnabled:    e.taxesEnabled,
		ExpiresAt:       cart.ExpiresAt,
	}

	seen := ""
	for _, item := range cart.Items {
		if item.Currency == "" {
			continue
		}
		currency := strings.ToUpper(item.Currency)
		if seen != "" && seen != currency {
			return CheckoutData{}, fmt.Errorf("%w: %s and %s", ErrPricingCurrencyMismatch, seen, currency)
		}
		seen = currency
	}
	if seen != "" {
		data.Currency = seen
	}
	data.CostCenter = firstCostCenter(cart)

	for _, item := range cart.Items {
		priced, err := e.priceItem(item, cart.TaxCountry)
		if err != nil {
			return CheckoutData{}, err
		}
		data.Items = append(data.Items, priced)
	}
	if cart.UseInstallments {
		data.Installments = e.planInstallments(data.Items)
	}
	absorbNegativeTotal(data.Items)

	total := decimal.Zero
	for _, priced := range data.Items {
		total = total.Add(priced.DueNow)
		data.PriceNet = data.PriceNet.Add(priced.PriceNet)
		data.PriceGross = data.PriceGross.Add(priced.PriceGross)
		data.Tax = data.Tax.Add(priced.Tax)
		data.Discount = data.Discount.Add(priced.Discount)
	}
	data.Count = len(data.Items)
	data.Price = domain.RoundMoney(total)
	data.InitialTotal = data.Price.Add(data.Discount)

	balance, err := e.balance(ctx, cart, cmd.Balance, data.CostCenter)
	if err != nil {
		return CheckoutData{}, err
	}
	usable := balance.Amount
	if balance.Currency != "" && balance.Currency != data.Currency {
		usable = decimal.Zero
	}
	data.Credit = domain.RoundMoney(balance.Amount)
	data.RemainingTotal = data.Price
	data.RemainingCredit = data.Credit
	if cart.UseCredit && usable.IsPositive() {
		data.Deductible = decimal.Min(data.Price, usable)
		data.RemainingTotal = data.Price.Sub(data.Deductible)
		data.RemainingCredit = data.Credit.Sub(data.Deductible)
	}
	return data, nil
}

func (e *pricingEngine) priceItem(item CartItem, country string) (PricedItem, error) {
	list := domain.RoundMoney(item.Price)
	discount := e.discountOf(item)
	charged := domain.RoundMoney(list.Sub(discount))

	rate := decimal.Zero
	if e.taxesEnabled && !item.IsRebookingCredit() && !item.IsRebookMarker() {
		rate = e.matrix.TaxForCategory(item.TaxCategory, country)
		if rate.IsNegative() {
			return PricedItem{}, fmt.Errorf("%w: unknown tax category %q for %s", ErrPricingInvalidInput, item.TaxCategory, item.Key())
		}
	}

	priced := PricedItem{Item: item, TaxRate: rate}
	factor := decimal.NewFromInt(1).Add(rate)
	if e.pricesAreNet {
		priced.PriceNet = charged
		priced.PriceGross = domain.RoundMoney(charged.Mul(factor))
		priced.Discount = domain.RoundMoney(discount.Mul(factor))
	} else {
		priced.PriceGross = charged
		priced.PriceNet = domain.RoundMoney(charged.Div(factor))
		priced.Discount = discount
	}
	priced.Tax = priced.PriceGross.Sub(priced.PriceNet)
	priced.Price = priced.PriceGross
	priced.DueNow = priced.Price
	return priced, nil
}

// discountOf returns the discount in the stored price basis, clamped to the list price.
func (e *pricingEngine) discountOf(item CartItem) decimal.Decimal {
	list := domain.RoundMoney(item.Price)
	if item.Discount.IsZero() || !list.IsPositive() {
		return decimal.Zero
	}
	var discount decimal.Decimal
	switch item.Discount.Kind {
	case domain.DiscountPercent:
		discount = list.Mul(item.Discount.Value).Div(hundred).Round(e.discountPrecision)
	case domain.DiscountAbsolute:
		discount = domain.RoundMoney(item.Discount.Value)
	default:
		return decimal.Zero
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, list)
}

// absorbNegativeTotal raises negative items, newest first, until the sum is no longer negative.
func absorbNegativeTotal(items []PricedItem) {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.DueNow)
	}
	for i := len(items) - 1; i >= 0 && total.IsNegative(); i-- {
		if !items[i].Price.IsNegative() {
			continue
		}
		raise := decimal.Min(total.Neg(), items[i].Price.Neg())
		adjusted := items[i].Price.Add(raise)
		items[i].Price = adjusted
		items[i].PriceGross = adjusted
		items[i].PriceNet = adjusted
		items[i].Tax = decimal.Zero
		items[i].DueNow = adjusted
		total = total.Add(raise)
	}
}

func (e *pricingEngine) planInstallments(items []PricedItem) []domain.InstallmentDue {
	var schedule []domain.InstallmentDue
	now := e.now()
	for i := range items {
		plan := items[i].Item.Installment
		if plan == nil || plan.NumberOfPayments <= 0 || !items[i].Price.IsPositive() {
			continue
		}
		down := domain.RoundMoney(plan.DownPayment)
		if down.IsNegative() {
			down = decimal.Zero
		}
		down = decimal.Min(down, items[i].Price)
		remainder := items[i].Price.Sub(down)
		if !remainder.IsPositive() {
			continue
		}
		items[i].DueNow = down

		interval := plan.IntervalDays
		if interval <= 0 {
			interval = defaultInstallmentIntervalDays
		}
		first := now.AddDate(0, 0, interval)
		if plan.FirstDueAt != nil {
			first = plan.FirstDueAt.UTC()
		}
		count := plan.NumberOfPayments
		share := domain.RoundMoney(remainder.Div(decimal.NewFromInt(int64(count))))
		allocated := decimal.Zero
		for seq := 1; seq <= count; seq++ {
			amount := share
			if seq == count {
				amount = remainder.Sub(allocated)
			}
			allocated = allocated.Add(amount)
			key := items[i].Item.Key()
			schedule = append(schedule, domain.InstallmentDue{
				Component: key.Component,
				Area:      key.Area,
				ItemID:    key.ItemID,
				Sequence:  seq,
				Amount:    amount,
				DueAt:     first.AddDate(0, 0, (seq-1)*interval),
			})
		}
	}
	return schedule
}

func (e *pricingEngine) balance(ctx context.Context, cart Cart, override *Balance, costCenter string) (Balance, error) {
	if override != nil {
		return *override, nil
	}
	if e.credits == nil || cart.UserID <= 0 {
		return Balance{Currency: e.currency}, nil
	}
	if !e.costCenterCredits {
		costCenter = ""
	}
	return e.credits.Balance(ctx, cart.UserID, costCenter)
}

// effectivePrice is the list price minus an absolute or percentage discount, without taxes.
func effectivePrice(item CartItem) decimal.Decimal {
	list := domain.RoundMoney(item.Price)
	switch item.Discount.Kind {
	case domain.DiscountPercent:
		return domain.RoundMoney(list.Sub(list.Mul(item.Discount.Value).Div(hundred)))
	case domain.DiscountAbsolute:
		return list.Sub(domain.RoundMoney(item.Discount.Value))
	}
	return list
}

func firstCostCenter(cart Cart) string {
	for _, item := range cart.Items {
		if !item.IsAuxiliary() && item.CostCenter != "" {
			return item.CostCenter
		}
	}
	return ""
}
