package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product's VATRate is nullable: a zero rate is a genuine 0% VAT band,
// while an absent rate falls back to the default when the product is put
// on a cart.
type Product struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	PriceGross   decimal.Decimal     `json:"price_gross"`
	VATRate      decimal.NullDecimal `json:"vat_rate"`
	PurchaseCost decimal.Decimal     `json:"purchase_cost,omitempty"`
	Active       bool                `json:"active"`
}

// LineItem is a draft-sale position. UnitPriceGross and VATRate determine
// the net price; editing either side of the price recomputes the other,
// never the quantity.
type LineItem struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	UnitPriceGross decimal.Decimal `json:"unit_price_gross"`
	VATRate        decimal.Decimal `json:"vat_rate"`
	Quantity       int             `json:"quantity"`
	PurchaseCost   decimal.Decimal `json:"purchase_cost,omitempty"`
}

// DiscountApplication records the one discount active on a cart. The
// computed amount comes from the ledger and is never recalculated locally.
type DiscountApplication struct {
	DiscountID     string          `json:"discount_id"`
	Kind           string          `json:"kind"`
	Value          decimal.Decimal `json:"value"`
	ComputedAmount decimal.Decimal `json:"computed_amount"`
	LedgerRecordID string          `json:"ledger_record_id"`
	Note           string          `json:"note,omitempty"`
}

const (
	DiscountKindPercent = "percent"
	DiscountKindFixed   = "fixed"
)

const (
	DiscountAvailable   = "available"
	DiscountExhausted   = "usage_limit_exhausted"
	DiscountNotStarted  = "not_started"
	DiscountExpired     = "expired"
	DiscountDeactivated = "deactivated"
)

type Discount struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Value        decimal.Decimal `json:"value"`
	Availability string          `json:"availability"`
}

// DiscountGrant is the ledger's answer to an apply request.
type DiscountGrant struct {
	ComputedAmount decimal.Decimal `json:"computed_amount"`
	LedgerRecordID string          `json:"ledger_record_id"`
}

// CartSnapshot is the serialized form of a draft cart, used when a cart is
// parked in the ledger and later resumed. The cart does not own the
// snapshot once it has been handed over.
type CartSnapshot struct {
	CustomerID      string               `json:"customer_id,omitempty"`
	TransactionID   string               `json:"transaction_id,omitempty"`
	Lines           []LineItem           `json:"lines"`
	AppliedDiscount *DiscountApplication `json:"applied_discount,omitempty"`
}

type HeldCart struct {
	ID         string       `json:"id"`
	Cashier    string       `json:"cashier"`
	LocationID string       `json:"location_id"`
	Label      string       `json:"label,omitempty"`
	Snapshot   CartSnapshot `json:"snapshot"`
	HeldAt     time.Time    `json:"held_at"`
}

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

// Shift is a cash-drawer session owned by one cashier at one location.
// Opening records the counted drawer against the expected float with a
// soft tolerance; closing reconciles cash, terminal and fiscal channels
// penny-exact and archives the record.
type Shift struct {
	ID         string     `json:"id"`
	Cashier    string     `json:"cashier"`
	LocationID string     `json:"location_id"`
	Status     string     `json:"status"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`

	StartingCashExpected decimal.Decimal `json:"starting_cash_expected"`
	StartingCashPhysical decimal.Decimal `json:"starting_cash_physical"`
	OpeningDifference    decimal.Decimal `json:"opening_difference"`
	OpeningDiscrepancy   bool            `json:"opening_discrepancy"`

	EndingCashPhysical decimal.Decimal `json:"ending_cash_physical"`
	SafebagAmount      decimal.Decimal `json:"safebag_amount"`

	CashExpected       decimal.Decimal `json:"cash_expected"`
	CashDifference     decimal.Decimal `json:"cash_difference"`
	TerminalExpected   decimal.Decimal `json:"terminal_expected"`
	TerminalActual     decimal.Decimal `json:"terminal_actual"`
	TerminalDifference decimal.Decimal `json:"terminal_difference"`
	FiscalExpected     decimal.Decimal `json:"fiscal_expected"`
	FiscalActual       decimal.Decimal `json:"fiscal_actual"`
	FiscalDifference   decimal.Decimal `json:"fiscal_difference"`

	OutOfTolerance bool   `json:"out_of_tolerance"`
	Overridden     bool   `json:"overridden"`
	Notes          string `json:"notes,omitempty"`
}

type ShiftOpenRequest struct {
	Cashier             string          `json:"cashier"`
	LocationID          string          `json:"location_id"`
	PhysicalCashCounted decimal.Decimal `json:"physical_cash_counted"`
	Denominations       map[string]int  `json:"denominations,omitempty"`
	Confirmed           bool            `json:"confirmed"`
}

type ShiftCloseRequest struct {
	Cashier            string          `json:"cashier"`
	LocationID         string          `json:"location_id"`
	EndingCashPhysical decimal.Decimal `json:"ending_cash_physical"`
	SafebagAmount      decimal.Decimal `json:"safebag_amount"`
	TerminalActual     decimal.Decimal `json:"terminal_actual"`
	FiscalActual       decimal.Decimal `json:"fiscal_actual"`
	Override           bool            `json:"override"`
	SupervisorPIN      string          `json:"supervisor_pin,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	IdempotencyKey     string          `json:"idempotency_key,omitempty"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type TerminalTotals struct {
	CardSales decimal.Decimal `json:"card_sales"`
	BLIKSales decimal.Decimal `json:"blik_sales"`
}

type FiscalTotals struct {
	Sales   decimal.Decimal `json:"sales"`
	Returns decimal.Decimal `json:"returns"`
}

type SafebagDeposit struct {
	ID         string          `json:"id"`
	LocationID string          `json:"location_id"`
	ShiftID    string          `json:"shift_id"`
	Cashier    string          `json:"cashier"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	PaymentCash = "cash"
	PaymentCard = "card"
	PaymentBLIK = "blik"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusCorrected = "corrected"
)

// TransactionLine is a position of a finalized sale. PositionID is the
// stable handle corrections refer to.
type TransactionLine struct {
	PositionID string          `json:"position_id"`
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
}

type Transaction struct {
	ID             string            `json:"id"`
	Cashier        string            `json:"cashier"`
	LocationID     string            `json:"location_id"`
	ShiftID        string            `json:"shift_id"`
	CustomerID     string            `json:"customer_id,omitempty"`
	PaymentMethod  string            `json:"payment_method"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	Total          decimal.Decimal   `json:"total"`
	Status         string            `json:"status"`
	Lines          []TransactionLine `json:"lines"`
	CreatedAt      time.Time         `json:"created_at"`
}

type SaleSubmitRequest struct {
	CartID         string `json:"cart_id"`
	Cashier        string `json:"cashier"`
	LocationID     string `json:"location_id"`
	CustomerID     string `json:"customer_id,omitempty"`
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type SaleSubmitResponse struct {
	TransactionID  string          `json:"transaction_id"`
	ShiftID        string          `json:"shift_id"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	Duplicate      bool            `json:"duplicate"`
}

const (
	CorrectionModeQuantity = "quantity"
	CorrectionModeAmount   = "amount"
)

// Correction reason codes. ReasonOther requires free-text justification.
const (
	ReasonDamagedGoods   = "damaged_goods"
	ReasonCustomerReturn = "customer_return"
	ReasonPricingError   = "pricing_error"
	ReasonOther          = "other"
)

// CorrectionLine keeps quantity and amount consistent at all times:
// CorrectionAmount = CorrectionQuantity * UnitPrice, each clamped to its
// original value.
type CorrectionLine struct {
	PositionID         string          `json:"position_id"`
	ProductID          string          `json:"product_id"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	OriginalQuantity   decimal.Decimal `json:"original_quantity"`
	OriginalAmount     decimal.Decimal `json:"original_amount"`
	CorrectionQuantity decimal.Decimal `json:"correction_quantity"`
	CorrectionAmount   decimal.Decimal `json:"correction_amount"`
	Selected           bool            `json:"selected"`
}

// Correction is a create-once return document against a finalized sale.
// It never mutates the parent transaction's lines.
type Correction struct {
	ID                  string           `json:"id"`
	ParentTransactionID string           `json:"parent_transaction_id"`
	Mode                string           `json:"mode"`
	ReasonCode          string           `json:"reason_code"`
	ReasonText          string           `json:"reason_text,omitempty"`
	Lines               []CorrectionLine `json:"lines"`
	DocumentNumber      string           `json:"document_number,omitempty"`
	TotalAmount         decimal.Decimal  `json:"total_amount"`
	CreatedAt           time.Time        `json:"created_at"`
}

type CorrectionStartRequest struct {
	TransactionID string `json:"transaction_id"`
	Mode          string `json:"mode"`
	ReasonCode    string `json:"reason_code"`
	ReasonText    string `json:"reason_text,omitempty"`
}

type CorrectionSubmitRequest struct {
	CorrectionID   string `json:"correction_id"`
	SupervisorPIN  string `json:"supervisor_pin"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type CorrectionSubmitResponse struct {
	CorrectionID   string          `json:"correction_id"`
	DocumentNumber string          `json:"document_number"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Duplicate      bool            `json:"duplicate"`
}

type DiscountApplyRequest struct {
	CartID         string `json:"cart_id"`
	DiscountID     string `json:"discount_id"`
	Note           string `json:"note,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type DiscountApplyResponse struct {
	Discount   DiscountApplication `json:"discount"`
	FinalTotal decimal.Decimal     `json:"final_total"`
	Duplicate  bool                `json:"duplicate"`
}

type CartView struct {
	ID              string               `json:"id"`
	TransactionID   string               `json:"transaction_id,omitempty"`
	CustomerID      string               `json:"customer_id,omitempty"`
	Lines           []LineItem           `json:"lines"`
	AppliedDiscount *DiscountApplication `json:"applied_discount,omitempty"`
	Subtotal        decimal.Decimal      `json:"subtotal"`
	FinalTotal      decimal.Decimal      `json:"final_total"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	LocationID string    `json:"location_id"`
	Cashier    string    `json:"cashier,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
