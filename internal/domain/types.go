package domain

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// ComponentShoppingCart is the component owning booking fees, rebooking credits and rebook markers.
	ComponentShoppingCart = "local_shopping_cart"

	// AreaBookingFee identifies the booking fee item.
	AreaBookingFee = "bookingfee"
	// AreaRebookingCredit identifies the negative rebooking credit item.
	AreaRebookingCredit = "rebookingcredit"
	// AreaRebookItem identifies a marker item referencing a purchase that is being rebooked.
	AreaRebookItem = "rebookitem"

	// BookingFeeItemID is the fixed item id used for booking fee items.
	BookingFeeItemID int64 = 1
	// RebookingCreditItemID is the fixed item id used for rebooking credit items.
	RebookingCreditItemID int64 = 1
)

// ItemKey identifies a purchasable item independent of the owning user.
type ItemKey struct {
	Component string `json:"component"`
	Area      string `json:"area"`
	ItemID    int64  `json:"itemId"`
}

// String renders the key in component/area/itemId form, mainly for logs.
func (k ItemKey) String() string {
	return k.Component + "/" + k.Area + "/" + strconv.FormatInt(k.ItemID, 10)
}

// DiscountKind records whether a discount was entered as a percentage or as an absolute amount.
type DiscountKind string

const (
	// DiscountNone marks items without a discount.
	DiscountNone DiscountKind = ""
	// DiscountPercent marks a percentage discount; Value is in percent (10 = 10%).
	DiscountPercent DiscountKind = "percent"
	// DiscountAbsolute marks an absolute discount in the item currency.
	DiscountAbsolute DiscountKind = "absolute"
)

// Discount captures the discount attached to a cart item.
type Discount struct {
	Kind  DiscountKind    `json:"kind,omitempty"`
	Value decimal.Decimal `json:"value"`
}

// IsZero reports whether the discount has no effect.
func (d Discount) IsZero() bool {
	return d.Kind == DiscountNone || d.Value.IsZero()
}

// InstallmentPlan describes how an item may be paid in parts.
type InstallmentPlan struct {
	DownPayment      decimal.Decimal `json:"downPayment"`
	NumberOfPayments int             `json:"numberOfPayments"`
	IntervalDays     int             `json:"intervalDays"`
	FirstDueAt       *time.Time      `json:"firstDueAt,omitempty"`
}

// CartItem is a single reserved item in a user's cart. Price is the list price before discount.
type CartItem struct {
	Component   string           `json:"component"`
	Area        string           `json:"area"`
	ItemID      int64            `json:"itemId"`
	UserID      int64            `json:"userId"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Price       decimal.Decimal  `json:"price"`
	Currency    string           `json:"currency"`
	TaxCategory string           `json:"taxCategory,omitempty"`
	Discount    Discount         `json:"discount"`
	CostCenter  string           `json:"costCenter,omitempty"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
	CancelUntil *time.Time       `json:"cancelUntil,omitempty"`
	Installment *InstallmentPlan `json:"installment,omitempty"`
	// RebookHistoryID references the purchase a rebook marker replaces.
	RebookHistoryID string `json:"rebookHistoryId,omitempty"`
	// CarriedValue is the amount a rebook marker brings into the new purchase.
	CarriedValue decimal.Decimal `json:"carriedValue"`
	AddedAt      time.Time       `json:"addedAt"`
}

// Key returns the composite item key.
func (i CartItem) Key() ItemKey {
	return ItemKey{Component: i.Component, Area: i.Area, ItemID: i.ItemID}
}

// IsBookingFee reports whether the item is the automatically added booking fee.
func (i CartItem) IsBookingFee() bool {
	return i.Component == ComponentShoppingCart && i.Area == AreaBookingFee
}

// IsRebookingCredit reports whether the item is the negative rebooking credit.
func (i CartItem) IsRebookingCredit() bool {
	return i.Component == ComponentShoppingCart && i.Area == AreaRebookingCredit
}

// IsRebookMarker reports whether the item references a purchase being rebooked.
func (i CartItem) IsRebookMarker() bool {
	return i.Component == ComponentShoppingCart && i.Area == AreaRebookItem
}

// IsAuxiliary reports whether the item only exists alongside purchasable items.
func (i CartItem) IsAuxiliary() bool {
	return i.IsBookingFee() || i.IsRebookingCredit() || i.IsRebookMarker()
}

// StepState is the cached state of a single checkout step.
type StepState struct {
	Data      map[string]string `json:"data,omitempty"`
	Valid     bool              `json:"valid"`
	Mandatory bool              `json:"mandatory"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// CreditView caches the last known credit balance of the cart owner.
type CreditView struct {
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	CostCenter  string          `json:"costCenter,omitempty"`
	RefreshedAt time.Time       `json:"refreshedAt"`
}

// Cart is the transient per-user shopping cart.
type Cart struct {
	UserID          int64                `json:"userId"`
	Items           []CartItem           `json:"items"`
	ExpiresAt       time.Time            `json:"expiresAt"`
	UseCredit       bool                 `json:"useCredit"`
	UseInstallments bool                 `json:"useInstallments"`
	TaxCountry      string               `json:"taxCountry,omitempty"`
	VATNumber       string               `json:"vatNumber,omitempty"`
	VATCountry      string               `json:"vatCountry,omitempty"`
	VATVerified     bool                 `json:"vatVerified"`
	Addresses       map[string]string    `json:"addresses,omitempty"`
	Steps           map[string]StepState `json:"steps,omitempty"`
	Credit          *CreditView          `json:"credit,omitempty"`
	Prepared        *CheckoutData        `json:"prepared,omitempty"`
	Version         int64                `json:"version"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// Find returns the index of the item with the given key or -1.
func (c Cart) Find(key ItemKey) int {
	for i, item := range c.Items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}

// Has reports whether the cart contains an item with the given key.
func (c Cart) Has(key ItemKey) bool {
	return c.Find(key) >= 0
}

// PurchasableCount counts items that are not booking fees, rebooking credits or rebook markers.
func (c Cart) PurchasableCount() int {
	count := 0
	for _, item := range c.Items {
		if !item.IsAuxiliary() {
			count++
		}
	}
	return count
}

// RebookMarkers returns the rebook marker items in cart order.
func (c Cart) RebookMarkers() []CartItem {
	var markers []CartItem
	for _, item := range c.Items {
		if item.IsRebookMarker() {
			markers = append(markers, item)
		}
	}
	return markers
}

// ActingContext names the operator issuing a request and the user the request acts upon.
// Both ids are equal when a buyer acts for themselves.
type ActingContext struct {
	OperatorID   int64 `json:"operatorId"`
	TargetUserID int64 `json:"targetUserId"`
}

// Self returns an acting context for a user acting on their own behalf.
func Self(userID int64) ActingContext {
	return ActingContext{OperatorID: userID, TargetUserID: userID}
}

// OnBehalf reports whether the operator acts for another user.
func (a ActingContext) OnBehalf() bool {
	return a.OperatorID != a.TargetUserID
}

// GuestUserID derives a stable negative user id for a guest session key.
func GuestUserID(sessionKey string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(sessionKey)))
	id := int64(h.Sum64() >> 1)
	if id == 0 {
		id = 1
	}
	return -id
}

// Verdict is the outcome of an add-to-cart policy check.
type Verdict string

const (
	VerdictSuccess       Verdict = "SUCCESS"
	VerdictAlreadyInCart Verdict = "ALREADYINCART"
	VerdictCartIsFull    Verdict = "CARTISFULL"
	VerdictCostCenter    Verdict = "COSTCENTER"
	VerdictFullyBooked   Verdict = "FULLYBOOKED"
	VerdictAlreadyBooked Verdict = "ALREADYBOOKED"
	VerdictError         Verdict = "ERROR"
)

// OK reports whether the verdict allows adding the item.
func (v Verdict) OK() bool {
	return v == VerdictSuccess
}
