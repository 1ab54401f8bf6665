package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

// AuditAutoCorrection tags audit entries written when stored totals disagree
// with the recomputed ones.
const AuditAutoCorrection = "auto_correction"

// Report is what one pipeline run found.
type Report struct {
	Errors      []string          `json:"errors"`
	Warnings    []string          `json:"warnings"`
	Corrections map[string]string `json:"corrections,omitempty"`
}

type totals struct {
	final       money.Money
	paid        money.Money
	outstanding money.Money
	refund      money.Money
	refunded    money.Money
}

// computeTotals derives every aggregate from the settlement's line history.
// Currencies must already be consistent. The refund amount is the whole
// overpayment; refunds already paid out are tracked separately.
func computeTotals(s Settlement) totals {
	cur := s.Currency
	final := s.OriginalAmount
	for _, a := range s.Adjustments {
		final = final.Add(a.Effect())
	}
	paid := money.Zero(cur)
	for _, p := range s.Payments {
		if p.Status == PaymentCompleted {
			paid = paid.Add(p.Amount)
		}
	}
	refunded := money.Zero(cur)
	for _, r := range s.Refunds {
		refunded = refunded.Add(r.Amount)
	}
	t := totals{final: final, paid: paid, refunded: refunded, outstanding: money.Zero(cur), refund: money.Zero(cur)}
	switch diff := final.Sub(paid); {
	case diff.IsNegligible():
	case diff.IsPositive():
		t.outstanding = diff
	default:
		t.refund = diff.Neg()
	}
	return t
}

// recalculate writes fresh totals onto s.
func recalculate(s *Settlement) {
	t := computeTotals(*s)
	s.FinalAmount = t.final
	s.TotalPaid = t.paid
	s.OutstandingBalance = t.outstanding
	s.RefundAmount = t.refund
	s.RefundedAmount = t.refunded
}

// DeriveStatus maps balances to the canonical status. Cancelled is sticky.
func DeriveStatus(s Settlement, now time.Time) Status {
	if s.Status == StatusCancelled {
		return StatusCancelled
	}
	owed := s.OutstandingBalance.IsPositive() && !s.OutstandingBalance.IsNegligible()
	refund := s.RefundAmount.IsPositive() && !s.RefundAmount.IsNegligible()
	switch {
	case !owed && !refund:
		return StatusCompleted
	case refund:
		return StatusRefunded
	case clock.Date(now).After(clock.Date(s.DueDate)):
		return StatusOverdue
	case s.TotalPaid.IsPositive():
		return StatusPartial
	}
	return StatusPending
}

// normalise checks currencies and rescales every amount. It returns the
// problems it cannot repair.
func normalise(s *Settlement) []string {
	var errs []string
	cur := s.Currency
	if cur == "" {
		cur = s.OriginalAmount.Currency()
		s.Currency = cur
	}
	if cur == "" {
		return []string{"settlement has no currency"}
	}
	fix := func(field string, m money.Money) money.Money {
		m = m.WithCurrency(cur)
		if m.Currency() != cur {
			errs = append(errs, fmt.Sprintf("%s is in %s, settlement is in %s", field, m.Currency(), cur))
			return m
		}
		return money.New(m.Amount(), cur)
	}
	s.OriginalAmount = fix("original amount", s.OriginalAmount)
	s.FinalAmount = fix("final amount", s.FinalAmount)
	s.TotalPaid = fix("total paid", s.TotalPaid)
	s.OutstandingBalance = fix("outstanding balance", s.OutstandingBalance)
	s.RefundAmount = fix("refund amount", s.RefundAmount)
	s.RefundedAmount = fix("refunded amount", s.RefundedAmount)
	for i := range s.Adjustments {
		a := &s.Adjustments[i]
		a.Amount = fix(fmt.Sprintf("adjustment %s", a.ID), a.Amount)
		a.TaxAmount = fix(fmt.Sprintf("adjustment %s tax", a.ID), a.TaxAmount)
	}
	for i := range s.Payments {
		p := &s.Payments[i]
		p.Amount = fix(fmt.Sprintf("payment %s", p.ID), p.Amount)
		if p.Amount.IsNegative() {
			errs = append(errs, fmt.Sprintf("payment %s is negative", p.ID))
		}
	}
	for i := range s.Refunds {
		r := &s.Refunds[i]
		r.Amount = fix(fmt.Sprintf("refund %s", r.ID), r.Amount)
	}
	if s.Terms.LateFeeRatePctAnnual.IsNegative() {
		errs = append(errs, "late fee rate is negative")
	}
	if s.EscalationLevel < 0 || s.EscalationLevel > maxEscalation {
		errs = append(errs, fmt.Sprintf("escalation level %d out of range", s.EscalationLevel))
	}
	return errs
}

// Validate runs the pipeline over a copy of s: normalise amounts, recompute
// aggregates, log any disagreement with the stored totals, re-derive the
// status and stamp the validation metadata. Running it twice with the same
// now yields the same settlement.
func Validate(s Settlement, now time.Time) (Settlement, Report, error) {
	out := s.clone()
	rep := Report{Errors: []string{}, Warnings: []string{}}

	if errs := normalise(&out); len(errs) > 0 {
		rep.Errors = errs
		return s, rep, unrecoverable(s.Number, errs)
	}

	t := computeTotals(out)
	original := map[string]string{}
	corrections := map[string]string{}
	check := func(field string, stored, want money.Money) {
		if !stored.Eq(want) {
			original[field] = stored.Canonical()
			corrections[field] = want.Canonical()
		}
	}
	check("final_amount", out.FinalAmount, t.final)
	check("total_paid", out.TotalPaid, t.paid)
	check("outstanding_balance", out.OutstandingBalance, t.outstanding)
	check("refund_amount", out.RefundAmount, t.refund)
	check("refunded_amount", out.RefundedAmount, t.refunded)
	if len(corrections) > 0 {
		out.CalculationAuditLog = append(out.CalculationAuditLog, AuditEntry{
			Timestamp:      now,
			Type:           AuditAutoCorrection,
			OriginalValues: original,
			Corrections:    corrections,
			Reason:         "stored totals disagreed with line history",
		})
		rep.Corrections = corrections
	}
	out.FinalAmount = t.final
	out.TotalPaid = t.paid
	out.OutstandingBalance = t.outstanding
	out.RefundAmount = t.refund
	out.RefundedAmount = t.refunded

	if out.OriginalAmount.IsNegative() {
		rep.Errors = append(rep.Errors, "original amount is negative")
	}
	if out.FinalAmount.IsNegative() && !out.FinalAmount.IsNegligible() {
		rep.Errors = append(rep.Errors, "final amount is negative")
	}
	if len(rep.Errors) > 0 {
		return s, rep, unrecoverable(s.Number, rep.Errors)
	}

	out.Status = DeriveStatus(out, now)
	if out.Status == StatusCompleted && out.CompletedDate == nil {
		done := now
		out.CompletedDate = &done
	}

	pending := 0
	for _, p := range out.Payments {
		if p.Status == PaymentPending {
			pending++
		}
	}
	if pending > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d payment(s) awaiting approval", pending))
	}
	open := 0
	for _, d := range out.Disputes {
		if !d.Status.closed() {
			open++
		}
	}
	if open > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d open dispute(s)", open))
	}
	if out.Status == StatusOverdue && out.EscalationLevel == 0 {
		rep.Warnings = append(rep.Warnings, "overdue settlement has not been escalated")
	}

	out.ValidationMetadata = ValidationMetadata{
		LastValidated:  now,
		IsValid:        true,
		ErrorCount:     0,
		WarningCount:   len(rep.Warnings),
		HasCorrections: len(out.CalculationAuditLog) > 0,
	}
	return out, rep, nil
}

const maxEscalation = 5

func unrecoverable(number string, errs []string) error {
	err := ErrUnrecoverable.WithMessage("settlement %s: %s", number, errs[0])
	err.Violations = errs
	return err
}

// LateFee is the fee accrued on the outstanding balance at asOf: simple
// annual interest on whole days past the due date and grace period, rounded
// to two places. Days already charged are not charged again.
func LateFee(s Settlement, asOf time.Time) money.Money {
	zero := money.Zero(s.Currency)
	switch s.Status {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return zero
	}
	days := AccrualDays(s, asOf)
	if days <= 0 || !s.OutstandingBalance.IsPositive() {
		return zero
	}
	fee := s.OutstandingBalance.Amount().
		Mul(s.Terms.LateFeeRatePctAnnual).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(36500))
	return money.New(fee.RoundBank(2), s.Currency)
}

// AccrualDays counts the whole days at asOf that are past due date plus
// grace and not yet covered by an applied late fee.
func AccrualDays(s Settlement, asOf time.Time) int {
	from := clock.Date(s.DueDate).AddDate(0, 0, s.Terms.GracePeriodDays)
	if s.LateFeeThrough != nil && s.LateFeeThrough.After(from) {
		from = clock.Date(*s.LateFeeThrough)
	}
	return clock.DaysBetween(from, clock.Date(asOf))
}

// nextReminder doubles the reminder interval with each level.
func nextReminder(now time.Time, level int) time.Time {
	return now.AddDate(0, 0, 1<<level)
}
