package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimals every currency figure is rounded to.
const MoneyPlaces int32 = 2

// RoundMoney rounds half away from zero to two decimals.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyPlaces)
}

// PricedItem is a cart item with its computed price components.
type PricedItem struct {
	Item CartItem `json:"item"`
	// Price is the amount charged for the item after discount, in the same basis as stored prices.
	Price      decimal.Decimal `json:"price"`
	PriceNet   decimal.Decimal `json:"priceNet"`
	PriceGross decimal.Decimal `json:"priceGross"`
	Tax        decimal.Decimal `json:"tax"`
	TaxRate    decimal.Decimal `json:"taxRate"`
	Discount   decimal.Decimal `json:"discount"`
	// DueNow is what the checkout charges for the item; equals Price unless paid in installments.
	DueNow decimal.Decimal `json:"dueNow"`
}

// InstallmentDue is one future installment payment.
type InstallmentDue struct {
	Component string          `json:"component"`
	Area      string          `json:"area"`
	ItemID    int64           `json:"itemId"`
	Sequence  int             `json:"sequence"`
	Amount    decimal.Decimal `json:"amount"`
	DueAt     time.Time       `json:"dueAt"`
}

// CheckoutData is the checkout-ready snapshot of a cart.
type CheckoutData struct {
	UserID          int64            `json:"userId"`
	Identifier      int64            `json:"identifier,omitempty"`
	Currency        string           `json:"currency"`
	Items           []PricedItem     `json:"items"`
	Count           int              `json:"count"`
	Price           decimal.Decimal  `json:"price"`
	PriceNet        decimal.Decimal  `json:"priceNet"`
	PriceGross      decimal.Decimal  `json:"priceGross"`
	Tax             decimal.Decimal  `json:"tax"`
	Discount        decimal.Decimal  `json:"discount"`
	InitialTotal    decimal.Decimal  `json:"initialTotal"`
	Credit          decimal.Decimal  `json:"credit"`
	UseCredit       bool             `json:"useCredit"`
	Deductible      decimal.Decimal  `json:"deductible"`
	RemainingTotal  decimal.Decimal  `json:"remainingTotal"`
	RemainingCredit decimal.Decimal  `json:"remainingCredit"`
	CostCenter      string           `json:"costCenter,omitempty"`
	TaxesEnabled    bool             `json:"taxesEnabled"`
	UseInstallments bool             `json:"useInstallments"`
	Installments    []InstallmentDue `json:"installments,omitempty"`
	ExpiresAt       time.Time        `json:"expiresAt"`
	PreparedAt      *time.Time       `json:"preparedAt,omitempty"`
}

// Item returns the priced item with the given key.
func (d CheckoutData) Item(key ItemKey) (PricedItem, bool) {
	for _, item := range d.Items {
		if item.Item.Key() == key {
			return item, true
		}
	}
	return PricedItem{}, false
}
