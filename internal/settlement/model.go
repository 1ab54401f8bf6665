// Package settlement tracks the money lifecycle of a booking: the original
// charge, adjustments, payments, refunds, escalations and disputes. Every
// mutation runs the validation pipeline before it is stored.
package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/rules"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Status enumerates settlement states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusCompleted Status = "COMPLETED"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
)

// acceptsPayments is false once nothing more can be collected.
func (s Status) acceptsPayments() bool {
	return s != StatusCompleted && s != StatusCancelled && s != StatusRefunded
}

func (s Status) acceptsAdjustments() bool {
	return s != StatusCancelled && s != StatusRefunded
}

// Terms govern late fees and escalation.
type Terms struct {
	LateFeeRatePctAnnual decimal.Decimal `json:"late_fee_rate_pct_annual"`
	GracePeriodDays      int             `json:"grace_period_days"`
	MaxEscalationLevel   int             `json:"max_escalation_level"`
}

// DefaultTerms apply when a settlement is created without explicit terms.
func DefaultTerms() Terms {
	return Terms{LateFeeRatePctAnnual: decimal.NewFromInt(12), GracePeriodDays: 3, MaxEscalationLevel: 5}
}

func (t Terms) rules() rules.Terms {
	return rules.Terms{
		LateFeeRatePctAnnual: t.LateFeeRatePctAnnual,
		GracePeriodDays:      t.GracePeriodDays,
		MaxEscalationLevel:   t.MaxEscalationLevel,
	}
}

type Flags struct {
	VIP              bool `json:"vip"`
	Corporate        bool `json:"corporate"`
	RequiresApproval bool `json:"requires_approval"`
	HighValue        bool `json:"high_value"`
}

func (f Flags) rules() rules.Flags {
	return rules.Flags{VIP: f.VIP, Corporate: f.Corporate, RequiresManagerApproval: f.RequiresApproval, HighValue: f.HighValue}
}

// CategoryWriteOff marks adjustments that write an uncollectable balance off
// to bad debt.
const CategoryWriteOff = "write_off"

type Adjustment struct {
	ID             uuid.UUID            `json:"id"`
	Type           rules.AdjustmentType `json:"type"`
	Amount         money.Money          `json:"amount"`
	TaxAmount      money.Money          `json:"tax_amount"`
	Description    string               `json:"description"`
	Category       string               `json:"category,omitempty"`
	Attachments    []string             `json:"attachments,omitempty"`
	Warnings       []string             `json:"warnings,omitempty"`
	DisputeID      *uuid.UUID           `json:"dispute_id,omitempty"`
	JournalEntryID *uuid.UUID           `json:"journal_entry_id,omitempty"`
	CreatedBy      string               `json:"created_by"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Effect is the change the adjustment makes to the final amount.
func (a Adjustment) Effect() money.Money {
	return a.Amount.Add(a.TaxAmount.WithCurrency(a.Amount.Currency()))
}

// PaymentStatus tracks a settlement payment through the approval gate.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentRejected  PaymentStatus = "REJECTED"
)

type Payment struct {
	ID               uuid.UUID     `json:"id"`
	Amount           money.Money   `json:"amount"`
	Method           rules.Method  `json:"method"`
	Reference        string        `json:"reference,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	Status           PaymentStatus `json:"status"`
	RequiresApproval bool          `json:"requires_approval"`
	Warnings         []string      `json:"warnings,omitempty"`
	JournalEntryID   *uuid.UUID    `json:"journal_entry_id,omitempty"`
	ReceivedBy       string        `json:"received_by"`
	ReceivedAt       time.Time     `json:"received_at"`
	DecidedBy        string        `json:"decided_by,omitempty"`
	DecidedAt        *time.Time    `json:"decided_at,omitempty"`
	RejectionReason  string        `json:"rejection_reason,omitempty"`
}

// Refund is money paid back to the guest out of an overpayment.
type Refund struct {
	ID             uuid.UUID          `json:"id"`
	Amount         money.Money        `json:"amount"`
	Method         rules.RefundMethod `json:"method"`
	Reason         string             `json:"reason"`
	Reference      string             `json:"reference,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
	JournalEntryID *uuid.UUID         `json:"journal_entry_id,omitempty"`
	ProcessedBy    string             `json:"processed_by"`
	ProcessedAt    time.Time          `json:"processed_at"`
}

type Escalation struct {
	Level       int       `json:"level"`
	EscalatedAt time.Time `json:"escalated_at"`
	EscalatedBy string    `json:"escalated_by"`
	Reason      string    `json:"reason"`
	Action      string    `json:"action"`
}

var escalationActions = map[int]string{
	1: "first reminder",
	2: "second reminder",
	3: "manager review",
	4: "legal notice",
	5: "collections referral",
}

// EscalationAction names what happens at level.
func EscalationAction(level int) string { return escalationActions[level] }

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPhone    Channel = "phone"
	ChannelLetter   Channel = "letter"
	ChannelInPerson Channel = "in_person"
)

func (c Channel) valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPhone, ChannelLetter, ChannelInPerson:
		return true
	}
	return false
}

type Communication struct {
	ID        uuid.UUID `json:"id"`
	Channel   Channel   `json:"channel"`
	Direction string    `json:"direction"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	SentBy    string    `json:"sent_by"`
	At        time.Time `json:"at"`
}

type DisputeStatus string

const (
	DisputeOpen          DisputeStatus = "OPEN"
	DisputeInvestigating DisputeStatus = "INVESTIGATING"
	DisputeResolved      DisputeStatus = "RESOLVED"
	DisputeRejected      DisputeStatus = "REJECTED"
	DisputeEscalated     DisputeStatus = "ESCALATED"
)

func (s DisputeStatus) closed() bool { return s == DisputeResolved || s == DisputeRejected }

// canMove lists the allowed dispute transitions.
func (s DisputeStatus) canMove(to DisputeStatus) bool {
	switch s {
	case DisputeOpen:
		return to == DisputeInvestigating || to == DisputeEscalated || to.closed()
	case DisputeInvestigating:
		return to == DisputeEscalated || to.closed()
	case DisputeEscalated:
		return to == DisputeInvestigating || to.closed()
	}
	return false
}

// Dispute is a disagreement about the settlement. It never changes balances
// by itself; resolving it may apply an adjustment.
type Dispute struct {
	ID           uuid.UUID     `json:"id"`
	Type         string        `json:"type"`
	Amount       *money.Money  `json:"amount,omitempty"`
	Description  string        `json:"description"`
	RaisedBy     string        `json:"raised_by"`
	Status       DisputeStatus `json:"status"`
	Resolution   string        `json:"resolution,omitempty"`
	Evidence     []string      `json:"evidence,omitempty"`
	AdjustmentID *uuid.UUID    `json:"adjustment_id,omitempty"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy   string        `json:"resolved_by,omitempty"`
	CreatedBy    string        `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// AuditEntry records a correction the pipeline made to stored totals.
type AuditEntry struct {
	Timestamp      time.Time         `json:"timestamp"`
	Type           string            `json:"type"`
	OriginalValues map[string]string `json:"original_values"`
	Corrections    map[string]string `json:"corrections"`
	Reason         string            `json:"reason"`
}

type ValidationMetadata struct {
	LastValidated  time.Time `json:"last_validated"`
	IsValid        bool      `json:"is_valid"`
	ErrorCount     int       `json:"error_count"`
	WarningCount   int       `json:"warning_count"`
	HasCorrections bool      `json:"has_corrections"`
}

type Settlement struct {
	ID                  uuid.UUID          `json:"id"`
	HotelID             uuid.UUID          `json:"hotel_id"`
	Number              string             `json:"number"`
	BookingID           string             `json:"booking_id"`
	GuestID             string             `json:"guest_id,omitempty"`
	GuestName           string             `json:"guest_name,omitempty"`
	Currency            money.Currency     `json:"currency"`
	Status              Status             `json:"status"`
	OriginalAmount      money.Money        `json:"original_amount"`
	Adjustments         []Adjustment       `json:"adjustments"`
	FinalAmount         money.Money        `json:"final_amount"`
	Payments            []Payment          `json:"payments"`
	TotalPaid           money.Money        `json:"total_paid"`
	OutstandingBalance  money.Money        `json:"outstanding_balance"`
	RefundAmount        money.Money        `json:"refund_amount"`
	Refunds             []Refund           `json:"refunds,omitempty"`
	RefundedAmount      money.Money        `json:"refunded_amount"`
	DueDate             time.Time          `json:"due_date"`
	CompletedDate       *time.Time         `json:"completed_date,omitempty"`
	LateFeeThrough      *time.Time         `json:"late_fee_through,omitempty"`
	EscalationLevel     int                `json:"escalation_level"`
	EscalationHistory   []Escalation       `json:"escalation_history,omitempty"`
	NextReminderDue     *time.Time         `json:"next_reminder_due,omitempty"`
	Communications      []Communication    `json:"communications,omitempty"`
	Disputes            []Dispute          `json:"disputes,omitempty"`
	Terms               Terms              `json:"terms"`
	Flags               Flags              `json:"flags"`
	Notes               string             `json:"notes,omitempty"`
	Warnings            []string           `json:"warnings,omitempty"`
	JournalEntryIDs     []uuid.UUID        `json:"journal_entry_ids,omitempty"`
	CalculationAuditLog []AuditEntry       `json:"calculation_audit_log,omitempty"`
	ValidationMetadata  ValidationMetadata `json:"validation_metadata"`
	CancelReason        string             `json:"cancel_reason,omitempty"`
	CancelledAt         *time.Time         `json:"cancelled_at,omitempty"`
	Version             int64              `json:"version"`
	CreatedBy           string             `json:"created_by"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// RefundDue is the overpayment not yet paid back.
func (s Settlement) RefundDue() money.Money {
	due := s.RefundAmount.Sub(s.RefundedAmount.WithCurrency(s.Currency))
	if due.IsNegative() {
		return money.Zero(s.Currency)
	}
	return due
}

func (s Settlement) payment(id uuid.UUID) (int, bool) {
	for i, p := range s.Payments {
		if p.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s Settlement) dispute(id uuid.UUID) (int, bool) {
	for i, d := range s.Disputes {
		if d.ID == id {
			return i, true
		}
	}
	return -1, false
}

// state is the view the rules engine judges candidates against.
func (s Settlement) state(terminal bool) rules.SettlementState {
	facts := make([]rules.PaymentFact, 0, len(s.Payments))
	for _, p := range s.Payments {
		facts = append(facts, rules.PaymentFact{Method: p.Method, Amount: p.Amount, Completed: p.Status == PaymentCompleted})
	}
	return rules.SettlementState{
		Currency:       s.Currency,
		OriginalAmount: s.OriginalAmount,
		FinalAmount:    s.FinalAmount,
		TotalPaid:      s.TotalPaid,
		Outstanding:    s.OutstandingBalance,
		RefundedAmount: s.RefundedAmount,
		Payments:       facts,
		Flags:          s.Flags.rules(),
		Terminal:       terminal,
		Cancelled:      s.Status == StatusCancelled,
		Status:         string(s.Status),
	}
}

func (s Settlement) clone() Settlement {
	s.Adjustments = append([]Adjustment(nil), s.Adjustments...)
	s.Payments = append([]Payment(nil), s.Payments...)
	s.Refunds = append([]Refund(nil), s.Refunds...)
	s.EscalationHistory = append([]Escalation(nil), s.EscalationHistory...)
	s.Communications = append([]Communication(nil), s.Communications...)
	s.Disputes = append([]Dispute(nil), s.Disputes...)
	s.Warnings = append([]string(nil), s.Warnings...)
	s.JournalEntryIDs = append([]uuid.UUID(nil), s.JournalEntryIDs...)
	s.CalculationAuditLog = append([]AuditEntry(nil), s.CalculationAuditLog...)
	return s
}

// CreateInput describes a new settlement for a booking. BookingTotal and
// BookingGuestID, when known, are checked against the settlement.
type CreateInput struct {
	HotelID        uuid.UUID
	BookingID      string
	GuestID        string
	GuestName      string
	Amount         money.Money
	DueDate        time.Time
	Terms          *Terms
	Flags          Flags
	Notes          string
	DiscountPct    decimal.Decimal
	BookingTotal   money.Money
	BookingGuestID string
}

type AdjustmentInput struct {
	Type        rules.AdjustmentType
	Amount      money.Money
	TaxAmount   money.Money
	Description string
	Category    string
	Attachments []string
}

type PaymentInput struct {
	Amount           money.Money
	Method           rules.Method
	Reference        string
	Notes            string
	AllowOverpayment bool
}

type RefundInput struct {
	Amount    money.Money
	Method    rules.RefundMethod
	Reason    string
	Reference string
}

type DisputeInput struct {
	Type        string
	Amount      *money.Money
	Description string
	RaisedBy    string
	Evidence    []string
}

// DisputeUpdate moves a dispute. Adjustment, when set on resolution, is applied
// to the settlement in the same unit of work.
type DisputeUpdate struct {
	Status     DisputeStatus
	Resolution string
	Evidence   []string
	Adjustment *AdjustmentInput
}

type CommunicationInput struct {
	Channel   Channel
	Direction string
	Subject   string
	Message   string
}

type ListFilter struct {
	HotelID            uuid.UUID
	Statuses           []Status
	BookingID          string
	MinEscalationLevel int
	DueBefore          time.Time
	Page               shared.PageRequest
}

func (f ListFilter) match(s Settlement) bool {
	if s.HotelID != f.HotelID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			found = found || s.Status == st
		}
		if !found {
			return false
		}
	}
	switch {
	case f.BookingID != "" && s.BookingID != f.BookingID:
		return false
	case s.EscalationLevel < f.MinEscalationLevel:
		return false
	case !f.DueBefore.IsZero() && !s.DueDate.Before(f.DueBefore):
		return false
	}
	return true
}

var (
	ErrSettlementNotFound = shared.NewError(shared.KindNotFound, "settlement.not_found", "settlement not found")
	ErrInvalidStatus      = shared.NewError(shared.KindState, "settlement.invalid_status", "settlement status does not allow this operation")
	ErrPaymentNotFound    = shared.NewError(shared.KindNotFound, "settlement.payment_not_found", "settlement payment not found")
	ErrDisputeNotFound    = shared.NewError(shared.KindNotFound, "settlement.dispute_not_found", "dispute not found")
	ErrDisputeTransition  = shared.NewError(shared.KindState, "settlement.dispute_transition", "dispute cannot move to that status")
	ErrMaxEscalation      = shared.NewError(shared.KindState, "settlement.max_escalation", "settlement is at its maximum escalation level")
	ErrUnrecoverable      = shared.NewError(shared.KindValidation, "settlement.unrecoverable", "settlement totals cannot be repaired")
	ErrDuplicateNumber    = shared.NewError(shared.KindConflict, "settlement.duplicate_number", "settlement number already used")
	ErrStaleVersion       = shared.NewError(shared.KindRace, "settlement.stale_version", "settlement changed concurrently")
	ErrBookingSettled     = shared.NewError(shared.KindConflict, "settlement.booking_exists", "booking already has an active settlement")
	ErrNoLateFee          = shared.NewError(shared.KindState, "settlement.no_late_fee", "no late fee has accrued")
)
