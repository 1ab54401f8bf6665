// Package invoices issues customer invoices, posts them to receivables when
// sent and tracks what has been paid against them.
package invoices

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Status enumerates invoice lifecycle values.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSent          Status = "SENT"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusOverdue       Status = "OVERDUE"
	StatusCancelled     Status = "CANCELLED"
	StatusRefunded      Status = "REFUNDED"
)

// Payable reports whether payments may be recorded against the invoice.
func (s Status) Payable() bool {
	return s == StatusSent || s == StatusPartiallyPaid || s == StatusOverdue
}

// CustomerKind names who is billed.
type CustomerKind string

const (
	CustomerGuest     CustomerKind = "GUEST"
	CustomerCorporate CustomerKind = "CORPORATE"
	CustomerVendor    CustomerKind = "VENDOR"
)

func (k CustomerKind) valid() bool {
	return k == CustomerGuest || k == CustomerCorporate || k == CustomerVendor
}

// Customer is denormalised onto the invoice at creation.
type Customer struct {
	Kind  CustomerKind `json:"kind"`
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Email string       `json:"email,omitempty"`
	Phone string       `json:"phone,omitempty"`
}

// LineItem is one billed charge. A nil AccountID credits room revenue.
type LineItem struct {
	Description string          `json:"description"`
	AccountID   *uuid.UUID      `json:"account_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   money.Money     `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	TaxAmount   money.Money     `json:"tax_amount"`
	Amount      money.Money     `json:"amount"`
}

// Discount reduces the invoice by a flat amount plus a percentage of the subtotal.
type Discount struct {
	Description string          `json:"description"`
	Flat        money.Money     `json:"flat"`
	Pct         decimal.Decimal `json:"pct"`
}

type Invoice struct {
	ID              uuid.UUID      `json:"id"`
	HotelID         uuid.UUID      `json:"hotel_id"`
	Number          string         `json:"number"`
	Customer        Customer       `json:"customer"`
	BookingID       string         `json:"booking_id,omitempty"`
	Currency        money.Currency `json:"currency"`
	IssueDate       time.Time      `json:"issue_date"`
	DueDate         time.Time      `json:"due_date"`
	Lines           []LineItem     `json:"line_items"`
	Discounts       []Discount     `json:"discounts,omitempty"`
	Subtotal        money.Money    `json:"subtotal"`
	TotalTax        money.Money    `json:"total_tax"`
	TotalDiscount   money.Money    `json:"total_discount"`
	TotalAmount     money.Money    `json:"total_amount"`
	PaidAmount      money.Money    `json:"paid_amount"`
	BalanceAmount   money.Money    `json:"balance_amount"`
	Status          Status         `json:"status"`
	PaymentIDs      []uuid.UUID    `json:"payment_ids,omitempty"`
	JournalEntryID  *uuid.UUID     `json:"journal_entry_id,omitempty"`
	ReversalEntryID *uuid.UUID     `json:"reversal_entry_id,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

var hundred = decimal.NewFromInt(100)

// Recalculate derives every total from the lines, discounts and paid amount.
func (inv *Invoice) Recalculate() {
	cur := inv.Currency
	inv.Subtotal = money.Zero(cur)
	inv.TotalTax = money.Zero(cur)
	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.UnitPrice = l.UnitPrice.WithCurrency(cur)
		l.Amount = l.UnitPrice.Mul(l.Quantity).Round(2)
		l.TaxAmount = l.Amount.Mul(l.TaxRate.Div(hundred)).Round(2)
		inv.Subtotal = inv.Subtotal.Add(l.Amount)
		inv.TotalTax = inv.TotalTax.Add(l.TaxAmount)
	}
	inv.TotalDiscount = money.Zero(cur)
	for i := range inv.Discounts {
		d := &inv.Discounts[i]
		d.Flat = d.Flat.WithCurrency(cur)
		inv.TotalDiscount = inv.TotalDiscount.Add(d.Flat).Add(inv.Subtotal.Mul(d.Pct.Div(hundred)).Round(2))
	}
	inv.TotalAmount = inv.Subtotal.Add(inv.TotalTax).Sub(inv.TotalDiscount)
	inv.PaidAmount = inv.PaidAmount.WithCurrency(cur)
	inv.BalanceAmount = inv.TotalAmount.Sub(inv.PaidAmount)
}

// DeriveStatus computes the status implied by the amounts and the due date.
// DRAFT, CANCELLED and REFUNDED are kept as they are.
func (inv Invoice) DeriveStatus(now time.Time) Status {
	switch inv.Status {
	case StatusDraft, StatusCancelled, StatusRefunded:
		return inv.Status
	}
	switch {
	case !inv.BalanceAmount.IsPositive() || inv.BalanceAmount.IsNegligible():
		return StatusPaid
	case clock.Date(now).After(clock.Date(inv.DueDate)):
		return StatusOverdue
	case inv.PaidAmount.IsPositive():
		return StatusPartiallyPaid
	}
	return StatusSent
}

func (inv Invoice) clone() Invoice {
	inv.Lines = append([]LineItem(nil), inv.Lines...)
	inv.Discounts = append([]Discount(nil), inv.Discounts...)
	inv.PaymentIDs = append([]uuid.UUID(nil), inv.PaymentIDs...)
	return inv
}

// CreateInput describes a new draft invoice.
type CreateInput struct {
	HotelID   uuid.UUID
	Customer  Customer
	BookingID string
	Currency  money.Currency
	IssueDate time.Time
	DueDate   time.Time
	Lines     []LineItem
	Discounts []Discount
	Notes     string
}

// DraftChanges replaces the editable parts of a draft. Nil fields are left alone.
type DraftChanges struct {
	DueDate   *time.Time
	Lines     []LineItem
	Discounts []Discount
	Notes     *string
}

// ListFilter narrows List.
type ListFilter struct {
	HotelID    uuid.UUID
	Statuses   []Status
	CustomerID string
	DueBefore  time.Time
	Page       shared.PageRequest
}

func (f ListFilter) match(inv Invoice) bool {
	if inv.HotelID != f.HotelID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			found = found || inv.Status == s
		}
		if !found {
			return false
		}
	}
	if f.CustomerID != "" && inv.Customer.ID != f.CustomerID {
		return false
	}
	if !f.DueBefore.IsZero() && !inv.DueDate.Before(f.DueBefore) {
		return false
	}
	return true
}

var (
	ErrInvoiceNotFound = shared.NewError(shared.KindNotFound, "invoice.not_found", "invoice not found")
	ErrInvalidStatus   = shared.NewError(shared.KindState, "invoice.invalid_status", "invoice status does not allow this operation")
	ErrHasPayments     = shared.NewError(shared.KindState, "invoice.has_payments", "invoice has payments applied")
	ErrOverpayment     = shared.NewError(shared.KindValidation, "invoice.overpayment", "payment exceeds the invoice balance")
	ErrDuplicateNumber = shared.NewError(shared.KindConflict, "invoice.duplicate_number", "invoice number already used")
)
