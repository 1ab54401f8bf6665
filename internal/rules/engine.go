package rules

import (
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

type rule[C any] struct {
	name  string
	check func(t Thresholds, c C, r *Result)
}

// Engine evaluates candidates against one immutable set of thresholds.
type Engine struct {
	t Thresholds
}

// New builds an engine over t.
func New(t Thresholds) *Engine { return &Engine{t: t.clone()} }

// Thresholds returns a copy of the active limits.
func (e *Engine) Thresholds() Thresholds { return e.t.clone() }

func (c PaymentCandidate) sameCurrency() bool {
	return c.Settlement.Currency == "" || c.Amount.Currency() == c.Settlement.Currency
}

func run[C any](t Thresholds, set []rule[C], c C) Result {
	r := newResult(t)
	for _, rl := range set {
		rl.check(t, c, r)
	}
	return r.done()
}

// ValidateSettlementCreation checks a new settlement.
func (e *Engine) ValidateSettlementCreation(c SettlementCandidate) Result {
	return run(e.t, settlementRules, c)
}

// ValidatePayment checks a payment against the settlement it is applied to.
func (e *Engine) ValidatePayment(c PaymentCandidate) Result {
	return run(e.t, paymentRules, c)
}

// ValidateAdjustment checks an adjustment against the settlement it changes.
func (e *Engine) ValidateAdjustment(c AdjustmentCandidate) Result {
	return run(e.t, adjustmentRules, c)
}

// ValidateRefund checks a refund disbursement.
func (e *Engine) ValidateRefund(c RefundCandidate) Result {
	return run(e.t, refundRules, c)
}

func limit(t Thresholds, d decimal.Decimal, cur money.Currency) string {
	return t.in(d, cur).String()
}

var settlementRules = []rule[SettlementCandidate]{
	{"amount_bounds", func(t Thresholds, c SettlementCandidate, r *Result) {
		if !c.Amount.IsPositive() {
			r.violate("Settlement amount must be positive")
			return
		}
		if c.Amount.Gt(t.in(t.MaxSettlementAmount, c.Amount.Currency())) {
			r.violate("Settlement amount exceeds maximum of %s", limit(t, t.MaxSettlementAmount, c.Amount.Currency()))
		}
		if c.Amount.Ge(t.in(t.HighValueGuest, c.Amount.Currency())) {
			r.warn("High-value settlement; manager approval required")
			r.RequiresApproval = true
		}
	}},
	{"currency", func(t Thresholds, c SettlementCandidate, r *Result) {
		if !t.Supports(c.Amount.Currency()) {
			r.violate("Currency %s is not supported", c.Amount.Currency())
		}
	}},
	{"due_date", func(t Thresholds, c SettlementCandidate, r *Result) {
		if c.DueDate.IsZero() {
			r.violate("Due date is required")
			return
		}
		days := clock.DaysBetween(clock.Date(c.Now), clock.Date(c.DueDate))
		if days > t.MaxOutstandingDays {
			r.violate("Due date exceeds maximum outstanding period of %d days", t.MaxOutstandingDays)
		}
		if days < 0 {
			r.warn("Due date is in the past")
		}
	}},
	{"booking_consistency", func(t Thresholds, c SettlementCandidate, r *Result) {
		if c.Booking == nil {
			return
		}
		if c.Booking.GuestID != "" && c.GuestID != "" && c.Booking.GuestID != c.GuestID {
			r.violate("Guest does not match booking")
		}
		if !c.Booking.Amount.IsPositive() || c.Booking.Amount.Currency() != c.Amount.Currency() {
			return
		}
		ratio := c.Amount.Sub(c.Booking.Amount).Abs().Amount().Div(c.Booking.Amount.Amount())
		switch {
		case ratio.GreaterThan(decimal.NewFromInt(1)):
			r.warn("Settlement amount differs from booking total by more than 100%%")
		case ratio.GreaterThan(decimal.New(5, -1)):
			r.warn("Settlement amount differs from booking total by more than 50%%")
		}
	}},
	{"corporate_discount", func(t Thresholds, c SettlementCandidate, r *Result) {
		if c.DiscountPct.IsNegative() || c.DiscountPct.GreaterThan(decimal.NewFromInt(100)) {
			r.violate("Discount percentage must be between 0 and 100")
			return
		}
		if c.Flags.Corporate && c.DiscountPct.GreaterThan(t.CorporateMaxDiscountPct) {
			r.violate("Corporate discount exceeds maximum of %s%%", t.CorporateMaxDiscountPct.String())
		}
	}},
	{"vip_documentation", func(t Thresholds, c SettlementCandidate, r *Result) {
		if c.Flags.VIP && c.Notes == "" {
			r.warn("VIP settlement has no supporting notes")
		}
	}},
	{"terms", func(t Thresholds, c SettlementCandidate, r *Result) {
		if c.Terms.LateFeeRatePctAnnual.IsNegative() || c.Terms.LateFeeRatePctAnnual.GreaterThan(t.MaxLateFeeRatePctAnnual) {
			r.violate("Late fee rate must be between 0 and %s%%", t.MaxLateFeeRatePctAnnual.String())
		}
		if c.Terms.GracePeriodDays < t.GracePeriodRange[0] || c.Terms.GracePeriodDays > t.GracePeriodRange[1] {
			r.violate("Grace period must be between %d and %d days", t.GracePeriodRange[0], t.GracePeriodRange[1])
		}
		if c.Terms.MaxEscalationLevel < 1 || c.Terms.MaxEscalationLevel > t.MaxEscalationLevel {
			r.violate("Maximum escalation level must be between 1 and %d", t.MaxEscalationLevel)
		}
	}},
	{"manager_flag", func(t Thresholds, c SettlementCandidate, r *Result) {
		if c.Flags.RequiresManagerApproval {
			r.RequiresApproval = true
		}
	}},
}

var paymentRules = []rule[PaymentCandidate]{
	{"settlement_open", func(t Thresholds, c PaymentCandidate, r *Result) {
		if c.Settlement.Terminal {
			r.violate("Settlement is %s; no further payments accepted", c.Settlement.Status)
		}
	}},
	{"currency", func(t Thresholds, c PaymentCandidate, r *Result) {
		if c.Settlement.Currency != "" && c.Amount.Currency() != c.Settlement.Currency {
			r.violate("Payment currency %s does not match settlement currency %s", c.Amount.Currency(), c.Settlement.Currency)
		}
	}},
	{"amount_bounds", func(t Thresholds, c PaymentCandidate, r *Result) {
		cur := c.Amount.Currency()
		if c.Amount.Lt(t.in(t.MinPaymentAmount, cur)) {
			r.violate("Payment amount is below minimum of %s", limit(t, t.MinPaymentAmount, cur))
		}
		if c.Amount.Gt(t.in(t.MaxSinglePayment, cur)) {
			r.violate("Payment amount exceeds maximum of %s", limit(t, t.MaxSinglePayment, cur))
		}
	}},
	{"method", func(t Thresholds, c PaymentCandidate, r *Result) {
		if _, err := ParseMethod(string(c.Method)); err != nil {
			r.violate("Unknown payment method %s", c.Method)
			return
		}
		if c.Method.NeedsReference() && c.Reference == "" {
			r.violate("Reference is required for %s payments", c.Method)
		}
	}},
	{"cash_ceiling", func(t Thresholds, c PaymentCandidate, r *Result) {
		if c.Method != MethodCash || !c.sameCurrency() {
			return
		}
		cur := c.Amount.Currency()
		ceiling := t.in(t.MaxCashPayment, cur)
		if c.Amount.Gt(ceiling) {
			r.violate("Cash payment exceeds limit of %s", ceiling)
			return
		}
		total := c.Amount
		for _, p := range c.Settlement.Payments {
			if p.Completed && p.Method == MethodCash {
				total = total.Add(p.Amount)
			}
		}
		if total.Gt(ceiling) {
			r.violate("Aggregate cash payments of %s exceed limit of %s", total, ceiling)
		}
	}},
	{"overpayment", func(t Thresholds, c PaymentCandidate, r *Result) {
		if c.Settlement.Terminal || !c.sameCurrency() || !c.Amount.Gt(c.Settlement.Outstanding.WithCurrency(c.Amount.Currency())) {
			return
		}
		if !c.AllowOverpayment {
			r.violate("Payment of %s exceeds outstanding balance of %s", c.Amount, c.Settlement.Outstanding)
			return
		}
		r.warn("Overpayment of %s will be held for refund", c.Amount.Sub(c.Settlement.Outstanding))
	}},
	{"aml", func(t Thresholds, c PaymentCandidate, r *Result) {
		cur := c.Amount.Currency()
		if c.Amount.Ge(t.in(t.LargeTransactionThreshold, cur)) {
			r.warn("Large transaction of %s flagged for review", c.Amount)
			r.RequiresApproval = true
		}
		for _, s := range t.StructuringAmounts {
			if t.native(cur) && c.Amount.Eq(t.in(s, cur)) {
				r.warn("Amount %s matches a common structuring pattern", c.Amount)
				r.RequiresApproval = true
				break
			}
		}
		if t.native(cur) && c.Amount.Ge(t.in(t.RoundAmountMinimum, cur)) && c.Amount.Amount().Mod(t.RoundAmountUnit).IsZero() {
			r.warn("Round amount payment of %s", c.Amount)
		}
	}},
	{"manager_flag", func(t Thresholds, c PaymentCandidate, r *Result) {
		if c.Settlement.Flags.RequiresManagerApproval {
			r.RequiresApproval = true
		}
	}},
}

var adjustmentRules = []rule[AdjustmentCandidate]{
	{"settlement_open", func(t Thresholds, c AdjustmentCandidate, r *Result) {
		if c.Settlement.Terminal {
			r.violate("Settlement is %s; adjustments are not allowed", c.Settlement.Status)
		}
	}},
	{"type", func(t Thresholds, c AdjustmentCandidate, r *Result) {
		if !c.Type.Valid() {
			r.violate("Unknown adjustment type %q", c.Type)
		}
	}},
	{"amount", func(t Thresholds, c AdjustmentCandidate, r *Result) {
		if c.Amount.IsZero() {
			r.violate("Adjustment amount must not be zero")
			return
		}
		if c.Settlement.Currency != "" && c.Amount.Currency() != c.Settlement.Currency {
			r.violate("Adjustment currency %s does not match settlement currency %s", c.Amount.Currency(), c.Settlement.Currency)
			return
		}
		if want := c.Type.ExpectedSign(); want != 0 && c.Amount.Sign() != want {
			if want < 0 {
				r.warn("A %s is normally negative", c.Type)
			} else {
				r.warn("A %s is normally positive", c.Type)
			}
		}
	}},
	{"approval", func(t Thresholds, c AdjustmentCandidate, r *Result) {
		cur := c.Amount.Currency()
		if c.Amount.Abs().Gt(t.in(t.AdjustmentApprovalAmount, cur)) {
			r.RequiresApproval = true
			if !c.Approver {
				r.violate("Adjustments above %s require a manager or admin", limit(t, t.AdjustmentApprovalAmount, cur))
			}
		}
		if (c.Type == AdjustmentDiscount || c.Type == AdjustmentRefund) &&
			c.Amount.Abs().Gt(t.in(t.DiscountApprovalAmount, cur)) {
			r.RequiresApproval = true
		}
	}},
	{"documentation", func(t Thresholds, c AdjustmentCandidate, r *Result) {
		if c.Type == AdjustmentDamageCharge && c.Attachments == 0 {
			r.warn("Damage charge has no attachments")
		}
		if c.Type == AdjustmentServiceCharge && c.Description == "" {
			r.violate("Service charge requires a description")
		}
	}},
	{"final_amount", func(t Thresholds, c AdjustmentCandidate, r *Result) {
		if c.Settlement.Currency != "" && c.Amount.Currency() != c.Settlement.Currency {
			return
		}
		after := c.Settlement.FinalAmount.Add(c.Amount).Add(c.TaxAmount.WithCurrency(c.Amount.Currency()))
		if after.IsNegative() && !after.IsNegligible() {
			r.violate("Adjustment would make the final amount negative")
		}
		orig := c.Settlement.OriginalAmount
		if orig.IsPositive() && orig.Currency() == c.Amount.Currency() && c.Amount.Abs().Gt(orig) {
			r.warn("Adjustment exceeds the original amount")
		}
	}},
	{"manager_flag", func(t Thresholds, c AdjustmentCandidate, r *Result) {
		if c.Settlement.Flags.RequiresManagerApproval {
			r.RequiresApproval = true
		}
	}},
}

var refundRules = []rule[RefundCandidate]{
	{"status", func(t Thresholds, c RefundCandidate, r *Result) {
		if c.Settlement.Cancelled {
			r.violate("Cannot refund a cancelled settlement")
		}
	}},
	{"method", func(t Thresholds, c RefundCandidate, r *Result) {
		if !c.Method.Valid() {
			r.violate("Unknown refund method %q", c.Method)
		}
	}},
	{"amount", func(t Thresholds, c RefundCandidate, r *Result) {
		if !c.Amount.IsPositive() {
			r.violate("Refund amount must be positive")
			return
		}
		s := c.Settlement
		cur := c.Amount.Currency()
		if s.Currency != "" && cur != s.Currency {
			r.violate("Refund currency %s does not match settlement currency %s", cur, s.Currency)
			return
		}
		available := s.TotalPaid.WithCurrency(cur).Sub(s.FinalAmount.WithCurrency(cur)).Sub(s.RefundedAmount.WithCurrency(cur))
		if c.Amount.Gt(available) {
			r.violate("Refund amount exceeds refundable balance of %s", money.Max(available, money.Zero(cur)))
		}
		if c.Amount.Ge(t.in(t.SuspiciousRefundThreshold, cur)) {
			r.warn("Large refund of %s flagged for review", c.Amount)
			r.RequiresApproval = true
		}
	}},
	{"refund_to_source", func(t Thresholds, c RefundCandidate, r *Result) {
		if c.Method != RefundToSource {
			return
		}
		for _, p := range c.Settlement.Payments {
			if p.Completed && p.Method == MethodCard && p.Amount.Currency() == c.Amount.Currency() && p.Amount.Ge(c.Amount) {
				return
			}
		}
		r.violate("Refund to source requires a card payment covering the refund amount")
	}},
	{"cash_reason", func(t Thresholds, c RefundCandidate, r *Result) {
		if c.Method == RefundCash && c.Reason == "" {
			r.violate("Cash refunds require a reason")
		}
	}},
	{"manager_flag", func(t Thresholds, c RefundCandidate, r *Result) {
		if c.Settlement.Flags.RequiresManagerApproval {
			r.RequiresApproval = true
		}
	}},
}
