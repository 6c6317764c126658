package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how a purchase or cash movement was settled.
type PaymentMethod string

const (
	PaymentMethodOnline             PaymentMethod = "online"
	PaymentMethodCashier            PaymentMethod = "cashier"
	PaymentMethodCredits            PaymentMethod = "credits"
	PaymentMethodCashierCash        PaymentMethod = "cashier_cash"
	PaymentMethodCashierCreditCard  PaymentMethod = "cashier_creditcard"
	PaymentMethodCashierDebitCard   PaymentMethod = "cashier_debitcard"
	PaymentMethodCashierManual      PaymentMethod = "cashier_manual"
	PaymentMethodCreditsPaidCash    PaymentMethod = "credits_paid_back_cash"
	PaymentMethodCreditsPaidBanking PaymentMethod = "credits_paid_back_transfer"
	PaymentMethodRebooking          PaymentMethod = "rebooking"
)

// IsCashier reports whether the method is settled at the cashier desk.
func (m PaymentMethod) IsCashier() bool {
	switch m {
	case PaymentMethodCashier, PaymentMethodCashierCash, PaymentMethodCashierCreditCard,
		PaymentMethodCashierDebitCard, PaymentMethodCashierManual:
		return true
	}
	return false
}

// Valid reports whether the method is one of the known methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodOnline, PaymentMethodCredits, PaymentMethodCreditsPaidCash,
		PaymentMethodCreditsPaidBanking, PaymentMethodRebooking:
		return true
	}
	return m.IsCashier()
}

// PaymentStatus is the lifecycle state of a history or ledger row.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusAborted  PaymentStatus = "aborted"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusCanceled PaymentStatus = "canceled"
)

// CreditTransaction is one append-only row of the credit ledger.
type CreditTransaction struct {
	ID         string          `json:"id"`
	UserID     int64           `json:"userId"`
	CostCenter string          `json:"costCenter"`
	Sequence   int64           `json:"sequence"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	Currency   string          `json:"currency"`
	Reason     string          `json:"reason"`
	Identifier int64           `json:"identifier,omitempty"`
	OperatorID int64           `json:"operatorId"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Credit transaction reasons.
const (
	CreditReasonManual       = "manual"
	CreditReasonCheckout     = "checkout"
	CreditReasonCancellation = "cancellation"
	CreditReasonPayout       = "payout"
)

// HistoryRecord is the durable record of one purchased item.
type HistoryRecord struct {
	ID            string           `json:"id"`
	UserID        int64            `json:"userId"`
	Component     string           `json:"component"`
	Area          string           `json:"area"`
	ItemID        int64            `json:"itemId"`
	ItemName      string           `json:"itemName"`
	Price         decimal.Decimal  `json:"price"`
	Tax           decimal.Decimal  `json:"tax"`
	TaxRate       decimal.Decimal  `json:"taxRate"`
	TaxCategory   string           `json:"taxCategory,omitempty"`
	Discount      decimal.Decimal  `json:"discount"`
	Credits       decimal.Decimal  `json:"credits"`
	Fee           decimal.Decimal  `json:"fee"`
	Currency      string           `json:"currency"`
	CostCenter    string           `json:"costCenter,omitempty"`
	Identifier    int64            `json:"identifier"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	PaymentStatus PaymentStatus    `json:"paymentStatus"`
	CancelUntil   *time.Time       `json:"cancelUntil,omitempty"`
	Installment   *InstallmentPlan `json:"installment,omitempty"`
	Annotation    string           `json:"annotation,omitempty"`
	OperatorID    int64            `json:"operatorId"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	CanceledAt    *time.Time       `json:"canceledAt,omitempty"`
}

// Key returns the item key of the purchased item.
func (r HistoryRecord) Key() ItemKey {
	return ItemKey{Component: r.Component, Area: r.Area, ItemID: r.ItemID}
}

// LedgerEntry is an immutable financial row: purchase, cancellation or cash movement.
type LedgerEntry struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"userId"`
	Component     string          `json:"component"`
	Area          string          `json:"area"`
	ItemID        int64           `json:"itemId"`
	ItemName      string          `json:"itemName"`
	Price         decimal.Decimal `json:"price"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Credits       decimal.Decimal `json:"credits"`
	Fee           decimal.Decimal `json:"fee"`
	Currency      string          `json:"currency"`
	CostCenter    string          `json:"costCenter,omitempty"`
	Identifier    int64           `json:"identifier"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	// ReferenceID points at the history record a cancellation entry refers to.
	ReferenceID string    `json:"referenceId,omitempty"`
	Annotation  string    `json:"annotation,omitempty"`
	OperatorID  int64     `json:"operatorId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CashSummaryLine aggregates ledger amounts of one payment method.
type CashSummaryLine struct {
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Currency      string          `json:"currency"`
	Count         int             `json:"count"`
	Amount        decimal.Decimal `json:"amount"`
}

// CashSummary is the daily cash movement report.
type CashSummary struct {
	Day   time.Time         `json:"day"`
	Lines []CashSummaryLine `json:"lines"`
	Total decimal.Decimal   `json:"total"`
}
