// Package payments records money movements against guests, corporates and
// vendors and posts each completed movement to the ledger.
package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/rules"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Type is the direction of a payment.
type Type string

const (
	TypeReceipt    Type = "RECEIPT"
	TypePayment    Type = "PAYMENT"
	TypeRefund     Type = "REFUND"
	TypeAdjustment Type = "ADJUSTMENT"
)

func (t Type) processable() bool {
	return t == TypeReceipt || t == TypePayment || t == TypeAdjustment
}

// Status enumerates payment lifecycle values.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

func (s Status) open() bool { return s == StatusPending || s == StatusProcessing }

// Method reuses the rules engine vocabulary.
type Method = rules.Method

// Fees are charged by intermediaries and borne by the hotel.
type Fees struct {
	Processing money.Money `json:"processing"`
	Gateway    money.Money `json:"gateway"`
	Bank       money.Money `json:"bank"`
}

// Total sums all fees in cur.
func (f Fees) Total(cur money.Currency) money.Money {
	return money.Sum(cur, f.Processing, f.Gateway, f.Bank)
}

type Payment struct {
	ID               uuid.UUID      `json:"id"`
	HotelID          uuid.UUID      `json:"hotel_id"`
	Number           string         `json:"number"`
	Type             Type           `json:"type"`
	Method           Method         `json:"method"`
	Amount           money.Money    `json:"amount"`
	Currency         money.Currency `json:"currency"`
	Fees             Fees           `json:"fees"`
	NetAmount        money.Money    `json:"net_amount"`
	CustomerRef      string         `json:"customer_ref,omitempty"`
	InvoiceID        *uuid.UUID     `json:"invoice_id,omitempty"`
	BookingID        string         `json:"booking_id,omitempty"`
	Reference        string         `json:"reference,omitempty"`
	Status           Status         `json:"status"`
	RequiresApproval bool           `json:"requires_approval"`
	Warnings         []string       `json:"warnings,omitempty"`
	IdempotencyKey   string         `json:"idempotency_key,omitempty"`
	JournalEntryID   *uuid.UUID     `json:"journal_entry_id,omitempty"`
	RefundOfID       *uuid.UUID     `json:"refund_of_id,omitempty"`
	RefundedAmount   money.Money    `json:"refunded_amount"`
	Reason           string         `json:"reason,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	Reconciled       bool           `json:"reconciled"`
	ReconciledAt     *time.Time     `json:"reconciled_at,omitempty"`
	ReconciledBy     string         `json:"reconciled_by,omitempty"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
	CreatedBy        string         `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Refundable is what remains of a completed receipt after earlier refunds.
func (p Payment) Refundable() money.Money {
	return p.Amount.Sub(p.RefundedAmount.WithCurrency(p.Currency))
}

func (p Payment) clone() Payment {
	p.Warnings = append([]string(nil), p.Warnings...)
	return p
}

// ProcessInput describes a new payment.
type ProcessInput struct {
	HotelID        uuid.UUID
	Type           Type
	Method         Method
	Amount         money.Money
	Fees           Fees
	CustomerRef    string
	InvoiceID      *uuid.UUID
	BookingID      string
	Reference      string
	IdempotencyKey string
	// Defer leaves the payment PENDING; Complete posts it later.
	Defer bool
}

// ListFilter narrows List.
type ListFilter struct {
	HotelID    uuid.UUID
	Status     Status
	Type       Type
	InvoiceID  *uuid.UUID
	Reconciled *bool
	Page       shared.PageRequest
}

func (f ListFilter) match(p Payment) bool {
	switch {
	case p.HotelID != f.HotelID:
		return false
	case f.Status != "" && p.Status != f.Status:
		return false
	case f.Type != "" && p.Type != f.Type:
		return false
	case f.InvoiceID != nil && (p.InvoiceID == nil || *p.InvoiceID != *f.InvoiceID):
		return false
	case f.Reconciled != nil && p.Reconciled != *f.Reconciled:
		return false
	}
	return true
}

var (
	ErrPaymentNotFound   = shared.NewError(shared.KindNotFound, "payment.not_found", "payment not found")
	ErrInvalidStatus     = shared.NewError(shared.KindState, "payment.invalid_status", "payment status does not allow this operation")
	ErrAlreadyReconciled = shared.NewError(shared.KindState, "payment.already_reconciled", "payment is already reconciled")
	ErrDuplicateNumber   = shared.NewError(shared.KindConflict, "payment.duplicate_number", "payment number already used")
)
