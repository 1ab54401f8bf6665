package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
)

// Method is how money changed hands.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodCard         Method = "CARD"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodUPI          Method = "UPI"
	MethodOnline       Method = "ONLINE"
	MethodCheck        Method = "CHECK"
	MethodMobile       Method = "MOBILE"
)

var methods = []Method{MethodCash, MethodCard, MethodBankTransfer, MethodUPI, MethodOnline, MethodCheck, MethodMobile}

// ParseMethod normalises a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range methods {
		if known == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("rules: unknown payment method %q", s)
}

// NeedsReference reports whether the method must carry a transaction reference.
func (m Method) NeedsReference() bool {
	return m == MethodBankTransfer || m == MethodUPI
}

// AdjustmentType classifies settlement adjustments.
type AdjustmentType string

const (
	AdjustmentDiscount      AdjustmentType = "discount"
	AdjustmentRefund        AdjustmentType = "refund"
	AdjustmentDamageCharge  AdjustmentType = "damage_charge"
	AdjustmentServiceCharge AdjustmentType = "service_charge"
	AdjustmentLateFee       AdjustmentType = "late_fee"
	AdjustmentExtraCharge   AdjustmentType = "extra_charge"
	AdjustmentTaxCorrection AdjustmentType = "tax_correction"
	AdjustmentCompensation  AdjustmentType = "compensation"
)

// AdjustmentTypes lists the accepted types.
var AdjustmentTypes = []AdjustmentType{
	AdjustmentDiscount, AdjustmentRefund, AdjustmentDamageCharge, AdjustmentServiceCharge,
	AdjustmentLateFee, AdjustmentExtraCharge, AdjustmentTaxCorrection, AdjustmentCompensation,
}

// Valid reports whether t is a known type.
func (t AdjustmentType) Valid() bool {
	for _, known := range AdjustmentTypes {
		if known == t {
			return true
		}
	}
	return false
}

// ExpectedSign is -1 for reductions, 1 for charges and 0 when either is fine.
func (t AdjustmentType) ExpectedSign() int {
	switch t {
	case AdjustmentDiscount, AdjustmentRefund, AdjustmentCompensation:
		return -1
	case AdjustmentDamageCharge, AdjustmentServiceCharge, AdjustmentLateFee, AdjustmentExtraCharge:
		return 1
	}
	return 0
}

// RefundMethod is where a refund is sent.
type RefundMethod string

const (
	RefundToSource     RefundMethod = "REFUND_TO_SOURCE"
	RefundCash         RefundMethod = "CASH"
	RefundBankTransfer RefundMethod = "BANK_TRANSFER"
	RefundUPI          RefundMethod = "UPI"
	RefundCreditNote   RefundMethod = "CREDIT_NOTE"
)

// Valid reports whether m is a known refund method.
func (m RefundMethod) Valid() bool {
	switch m {
	case RefundToSource, RefundCash, RefundBankTransfer, RefundUPI, RefundCreditNote:
		return true
	}
	return false
}

// Flags mark settlements that need extra scrutiny.
type Flags struct {
	VIP                     bool `json:"vip"`
	Corporate               bool `json:"corporate"`
	RequiresManagerApproval bool `json:"requires_manager_approval"`
	HighValue               bool `json:"high_value"`
}

// PaymentFact is a payment already recorded on a settlement.
type PaymentFact struct {
	Method    Method
	Amount    money.Money
	Completed bool
}

// SettlementState is the settlement context a candidate is judged against.
type SettlementState struct {
	Currency       money.Currency
	OriginalAmount money.Money
	FinalAmount    money.Money
	TotalPaid      money.Money
	Outstanding    money.Money
	RefundedAmount money.Money
	Payments       []PaymentFact
	Flags          Flags
	// Terminal is set for completed, cancelled and refunded settlements.
	Terminal  bool
	Cancelled bool
	Status    string
}

// Terms are the per-settlement collection terms.
type Terms struct {
	LateFeeRatePctAnnual decimal.Decimal
	GracePeriodDays      int
	MaxEscalationLevel   int
}

// Booking is the reservation a settlement is raised for.
type Booking struct {
	GuestID string
	Amount  money.Money
}

// SettlementCandidate describes a settlement about to be created.
type SettlementCandidate struct {
	Amount      money.Money
	DueDate     time.Time
	Now         time.Time
	GuestID     string
	Booking     *Booking
	DiscountPct decimal.Decimal
	Notes       string
	Terms       Terms
	Flags       Flags
}

// PaymentCandidate describes a payment about to be recorded.
type PaymentCandidate struct {
	Amount           money.Money
	Method           Method
	Reference        string
	AllowOverpayment bool
	Settlement       SettlementState
}

// AdjustmentCandidate describes an adjustment about to be applied.
type AdjustmentCandidate struct {
	Type        AdjustmentType
	Amount      money.Money
	TaxAmount   money.Money
	Description string
	Attachments int
	// Approver is true when the acting user is an admin or manager.
	Approver   bool
	Settlement SettlementState
}

// RefundCandidate describes a refund disbursement.
type RefundCandidate struct {
	Amount     money.Money
	Method     RefundMethod
	Reason     string
	Settlement SettlementState
}
