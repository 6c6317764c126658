package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart              = domain.Cart
	CartItem          = domain.CartItem
	ItemKey           = domain.ItemKey
	CheckoutData      = domain.CheckoutData
	PricedItem        = domain.PricedItem
	HistoryRecord     = domain.HistoryRecord
	LedgerEntry       = domain.LedgerEntry
	CreditTransaction = domain.CreditTransaction
	ActingContext     = domain.ActingContext
	Verdict           = domain.Verdict
	PaymentMethod     = domain.PaymentMethod
	CashSummary       = domain.CashSummary
	Address           = domain.Address
)

// CreditLedgerService owns the append-only credit ledger.
type CreditLedgerService interface {
	Balance(ctx context.Context, userID int64, costCenter string) (Balance, error)
	AddCredit(ctx context.Context, cmd AddCreditCommand) (CreditTransaction, error)
	UseCredit(ctx context.Context, cmd UseCreditCommand) (*CreditTransaction, error)
}

// CartStore owns the transient per-user cart.
type CartStore interface {
	Get(ctx context.Context, userID int64) (Cart, error)
	AddItem(ctx context.Context, item CartItem) (Cart, Verdict, error)
	DeleteItem(ctx context.Context, userID int64, key ItemKey) (Cart, error)
	RemoveItems(ctx context.Context, userID int64, keys []ItemKey) (Cart, error)
	Update(ctx context.Context, userID int64, fn func(*Cart) error) (Cart, error)
	Clear(ctx context.Context, userID int64) error
	Data(ctx context.Context, userID int64) (CheckoutData, error)
	RefreshCredit(ctx context.Context, userID int64, view domain.CreditView) error
}

// PricingEngine derives the checkout snapshot of a cart.
type PricingEngine interface {
	Calculate(ctx context.Context, cmd PriceCartCommand) (CheckoutData, error)
}

// CheckoutFlow drives the multi-step checkout validation.
type CheckoutFlow interface {
	CheckPreprocess(ctx context.Context, userID int64, step string, changed map[string]string) (StepOverview, error)
	RenderOverview(ctx context.Context, userID int64) (CheckoutOverview, error)
}

// PurchaseOrchestrator is the entry point for cart, checkout and cancellation operations.
type PurchaseOrchestrator interface {
	AllowAddItemToCart(ctx context.Context, acting ActingContext, key ItemKey) (AllowDecision, error)
	AddItemToCart(ctx context.Context, acting ActingContext, key ItemKey) (AddItemResult, error)
	DeleteItemFromCart(ctx context.Context, acting ActingContext, key ItemKey) (CheckoutData, error)
	GetCart(ctx context.Context, acting ActingContext) (CheckoutData, error)
	SetCreditUsage(ctx context.Context, acting ActingContext, use bool) (CheckoutData, error)
	SetInstallmentUsage(ctx context.Context, acting ActingContext, use bool) (CheckoutData, error)
	AddDiscountToItem(ctx context.Context, acting ActingContext, key ItemKey, discount domain.Discount) (CheckoutData, error)
	PrepareCheckout(ctx context.Context, acting ActingContext) (CheckoutData, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (ConfirmPaymentResult, error)
	CancelPurchase(ctx context.Context, cmd CancelPurchaseCommand) (CancelPurchaseResult, error)
	RebookItem(ctx context.Context, acting ActingContext, historyID string) (CheckoutData, error)
	ExpireCart(ctx context.Context, userID int64) (ExpireCartResult, error)
	AddCredit(ctx context.Context, cmd ManualCreditCommand) (Balance, error)
	PayoutCredit(ctx context.Context, cmd PayoutCreditCommand) (Balance, error)
}

// HistoryService serves read-only views over history and ledger.
type HistoryService interface {
	ListHistory(ctx context.Context, acting ActingContext) ([]HistoryRecord, error)
	ListLedger(ctx context.Context, acting ActingContext, day time.Time) ([]LedgerEntry, error)
	DailySummary(ctx context.Context, acting ActingContext, day time.Time) (CashSummary, error)
	ExportDailySummary(ctx context.Context, acting ActingContext, day time.Time) (string, error)
}

// ItemProvider is implemented per component and owns the purchasable items of that component.
type ItemProvider interface {
	LoadCartItem(ctx context.Context, area string, itemID, userID int64) (*CartItem, error)
	UnloadCartItem(ctx context.Context, area string, itemID, userID int64) (UnloadResult, error)
	SuccessfulCheckout(ctx context.Context, area string, itemID int64, method PaymentMethod, userID int64) (bool, error)
	CancelPurchase(ctx context.Context, area string, itemID, userID int64) (bool, error)
	AllowAddItemToCart(ctx context.Context, area string, itemID, userID int64) (AllowResult, error)
	QuotaConsumed(ctx context.Context, area string, itemID, userID int64) (float64, error)
}

// UnloadResult is returned when a provider releases a reservation.
type UnloadResult struct {
	Success       bool      `json:"success"`
	ItemsToUnload []ItemKey `json:"itemsToUnload,omitempty"`
}

// AllowInfo refines a provider's refusal.
type AllowInfo string

const (
	AllowInfoNone          AllowInfo = ""
	AllowInfoFullyBooked   AllowInfo = "fullybooked"
	AllowInfoAlreadyBooked AllowInfo = "alreadybooked"
)

// AllowResult is the provider answer to an add-to-cart request.
type AllowResult struct {
	Allow      bool      `json:"allow"`
	Info       AllowInfo `json:"info,omitempty"`
	ItemName   string    `json:"itemName,omitempty"`
	CostCenter string    `json:"costCenter,omitempty"`
}

// PermissionChecker answers capability questions for a user.
type PermissionChecker interface {
	IsCashier(ctx context.Context, userID int64) bool
	CanBuy(ctx context.Context, userID int64) bool
	CanVerifyPayments(ctx context.Context, userID int64) bool
}

// TaskScheduler queues deferred work such as cart expiration.
type TaskScheduler interface {
	RescheduleOrQueue(ctx context.Context, task string, userID int64, payload map[string]string, runAt time.Time) error
}

// PaymentVerifier confirms a gateway payment before a prepared checkout is committed.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, reference string) (PaymentConfirmation, error)
}

// PaymentConfirmation is the gateway view of a payment.
type PaymentConfirmation struct {
	Reference  string
	Succeeded  bool
	Amount     decimal.Decimal
	Currency   string
	Identifier int64
}

// VATVerifier validates VAT numbers. Implementations may be purely syntactic.
type VATVerifier interface {
	VerifyVAT(ctx context.Context, country, number string) (bool, error)
}

// AddressBook resolves the addresses a user may select during checkout.
type AddressBook interface {
	List(ctx context.Context, userID int64) ([]Address, error)
}

// Balance is the credit balance of a user and cost center.
type Balance struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	CostCenter string          `json:"costCenter,omitempty"`
}

// AddCreditCommand appends a signed amount to the credit ledger.
type AddCreditCommand struct {
	UserID     int64
	Amount     decimal.Decimal
	Currency   string
	CostCenter string
	OperatorID int64
	Reason     string
	Identifier int64
}

// UseCreditCommand books the deductible of a prepared checkout.
type UseCreditCommand struct {
	UserID     int64
	OperatorID int64
	Checkout   CheckoutData
	// Amount overrides the snapshot deductible when only part of the checkout was committed.
	Amount *decimal.Decimal
}

// PriceCartCommand asks the pricing engine for a snapshot.
type PriceCartCommand struct {
	Cart Cart
	// Balance skips the ledger lookup when set.
	Balance *Balance
}

// StepOverview is the state of one checkout step.
type StepOverview struct {
	Name      string            `json:"name"`
	Active    bool              `json:"active"`
	Mandatory bool              `json:"mandatory"`
	Valid     bool              `json:"valid"`
	Data      map[string]string `json:"data,omitempty"`
}

// CheckoutOverview aggregates every checkout step.
type CheckoutOverview struct {
	Steps    []StepOverview `json:"steps"`
	Valid    bool           `json:"valid"`
	Checkout CheckoutData   `json:"checkout"`
}

// AllowDecision is the verdict of the add-to-cart policy chain.
type AllowDecision struct {
	Verdict    Verdict `json:"verdict"`
	ItemName   string  `json:"itemName,omitempty"`
	CostCenter string  `json:"costCenter,omitempty"`
}

// AddItemResult reports the outcome of adding an item.
type AddItemResult struct {
	Verdict  Verdict      `json:"verdict"`
	Item     *CartItem    `json:"item,omitempty"`
	Checkout CheckoutData `json:"checkout"`
}

// ConfirmPaymentCommand commits the cart. Identifier selects the gateway path when non-zero.
type ConfirmPaymentCommand struct {
	Acting           ActingContext
	Method           PaymentMethod
	Identifier       int64
	PaymentReference string
	Annotation       string
}

// ItemFailure describes an item that could not be committed.
type ItemFailure struct {
	Key   ItemKey `json:"key"`
	Error string  `json:"error"`
}

// ConfirmPaymentResult reports a checkout commit.
type ConfirmPaymentResult struct {
	Identifier int64           `json:"identifier"`
	Records    []HistoryRecord `json:"records"`
	Failures   []ItemFailure   `json:"failures,omitempty"`
	Checkout   CheckoutData    `json:"checkout"`
	Replayed   bool            `json:"replayed"`
}

// Succeeded reports whether every item was committed.
func (r ConfirmPaymentResult) Succeeded() bool {
	return len(r.Failures) == 0
}

// CancelPurchaseCommand cancels a purchased item. Nil CustomCredit and CancelationFee fall back to
// the computed refund and the configured fee.
type CancelPurchaseCommand struct {
	Acting           ActingContext
	Component        string
	Area             string
	ItemID           int64
	UserID           int64
	HistoryID        string
	CustomCredit     *decimal.Decimal
	CancelationFee   *decimal.Decimal
	ApplyToComponent bool
}

// CancelPurchaseResult reports a cancellation.
type CancelPurchaseResult struct {
	Success  bool            `json:"success"`
	Credit   decimal.Decimal `json:"credit"`
	Fee      decimal.Decimal `json:"fee"`
	Currency string          `json:"currency"`
	Record   HistoryRecord   `json:"record"`
	Ledger   LedgerEntry     `json:"ledger"`
	Balance  Balance         `json:"balance"`
}

// ExpireCartResult reports what an expiration run released.
type ExpireCartResult struct {
	Expired  bool      `json:"expired"`
	Released []ItemKey `json:"released,omitempty"`
}

// ManualCreditCommand books credit at the cashier desk.
type ManualCreditCommand struct {
	Acting     ActingContext
	Amount     decimal.Decimal
	Currency   string
	CostCenter string
	Method     PaymentMethod
	Annotation string
}

// PayoutCreditCommand pays back the whole credit balance of a user.
type PayoutCreditCommand struct {
	Acting     ActingContext
	CostCenter string
	Method     PaymentMethod
	Annotation string
}
