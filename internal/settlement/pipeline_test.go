package settlement

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/rules"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func inr(v int64) money.Money { return money.FromInt(v, money.INR) }

var asOf = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

func sample(original int64) Settlement {
	return Settlement{
		ID:             uuid.New(),
		Number:         "STL-2026-000042",
		Currency:       money.INR,
		Status:         StatusPending,
		OriginalAmount: inr(original),
		DueDate:        time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC),
		Terms:          DefaultTerms(),
	}
}

func paid(amount int64, status PaymentStatus) Payment {
	return Payment{ID: uuid.New(), Amount: inr(amount), Method: rules.MethodCash, Status: status}
}

func TestValidateRecomputesTotals(t *testing.T) {
	s := sample(13_216)
	s.Adjustments = []Adjustment{
		{ID: uuid.New(), Type: rules.AdjustmentDamageCharge, Amount: inr(1_000), TaxAmount: inr(180)},
		{ID: uuid.New(), Type: rules.AdjustmentDiscount, Amount: inr(-396)},
	}
	s.Payments = []Payment{paid(5_000, PaymentCompleted), paid(2_000, PaymentPending), paid(700, PaymentRejected)}

	out, rep, err := Validate(s, asOf)
	require.NoError(t, err)
	require.True(t, out.FinalAmount.Eq(inr(14_000)))
	require.True(t, out.TotalPaid.Eq(inr(5_000)))
	require.True(t, out.OutstandingBalance.Eq(inr(9_000)))
	require.True(t, out.RefundAmount.IsZero())
	require.Equal(t, StatusPartial, out.Status)
	require.Contains(t, rep.Warnings, "1 payment(s) awaiting approval")

	require.Len(t, out.CalculationAuditLog, 1)
	entry := out.CalculationAuditLog[0]
	require.Equal(t, AuditAutoCorrection, entry.Type)
	require.Equal(t, "14000.0000", entry.Corrections["final_amount"])
	require.Equal(t, "0.0000", entry.OriginalValues["final_amount"])
	require.True(t, out.ValidationMetadata.IsValid)
	require.True(t, out.ValidationMetadata.HasCorrections)
	require.Equal(t, asOf, out.ValidationMetadata.LastValidated)
}

func TestValidateIsIdempotent(t *testing.T) {
	s := sample(10_000)
	s.Payments = []Payment{paid(4_000, PaymentCompleted)}
	s.Disputes = []Dispute{{ID: uuid.New(), Status: DisputeOpen, Description: "minibar"}}

	once, _, err := Validate(s, asOf)
	require.NoError(t, err)
	twice, rep, err := Validate(once, asOf)
	require.NoError(t, err)
	require.Empty(t, rep.Corrections)

	a, err := json.Marshal(once)
	require.NoError(t, err)
	b, err := json.Marshal(twice)
	require.NoError(t, err)
	require.JSONEq(t, string(a), string(b))
}

func TestValidateNoCorrectionWhenTotalsAgree(t *testing.T) {
	s := sample(8_000)
	recalculate(&s)
	out, rep, err := Validate(s, asOf)
	require.NoError(t, err)
	require.Empty(t, out.CalculationAuditLog)
	require.Nil(t, rep.Corrections)
	require.False(t, out.ValidationMetadata.HasCorrections)
}

func TestValidateRefusesUnrecoverable(t *testing.T) {
	cases := map[string]func(*Settlement){
		"negative final": func(s *Settlement) {
			s.Adjustments = []Adjustment{{ID: uuid.New(), Type: rules.AdjustmentDiscount, Amount: inr(-20_000)}}
		},
		"negative original": func(s *Settlement) { s.OriginalAmount = inr(-1) },
		"foreign payment": func(s *Settlement) {
			s.Payments = []Payment{{ID: uuid.New(), Amount: money.FromInt(10, money.USD), Status: PaymentCompleted}}
		},
		"escalation out of range": func(s *Settlement) { s.EscalationLevel = 9 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := sample(10_000)
			mutate(&s)
			out, rep, err := Validate(s, asOf)
			require.ErrorIs(t, err, ErrUnrecoverable)
			require.ErrorIs(t, err, shared.ErrValidation)
			require.NotEmpty(t, rep.Errors)
			require.Equal(t, s.Status, out.Status)
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	due := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name        string
		status      Status
		outstanding int64
		refund      int64
		paid        int64
		now         time.Time
		want        Status
	}{
		{"fresh", StatusPending, 100, 0, 0, asOf, StatusPending},
		{"partly paid", StatusPending, 60, 0, 40, asOf, StatusPartial},
		{"settled", StatusPartial, 0, 0, 100, asOf, StatusCompleted},
		{"overpaid", StatusPartial, 0, 20, 120, asOf, StatusRefunded},
		{"due today", StatusPending, 100, 0, 0, due.Add(23 * time.Hour), StatusPending},
		{"past due", StatusPartial, 60, 0, 40, due.AddDate(0, 0, 1), StatusOverdue},
		{"cancelled sticks", StatusCancelled, 100, 0, 0, due.AddDate(0, 0, 5), StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Settlement{
				Status:             tc.status,
				DueDate:            due,
				OutstandingBalance: inr(tc.outstanding),
				RefundAmount:       inr(tc.refund),
				TotalPaid:          inr(tc.paid),
			}
			require.Equal(t, tc.want, DeriveStatus(s, tc.now))
		})
	}
}

func TestLateFee(t *testing.T) {
	s := sample(13_216)
	s.DueDate = time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC)
	recalculate(&s)
	s.Status = StatusOverdue

	require.True(t, LateFee(s, asOf).IsZero(), "inside the grace period")

	s.Terms.GracePeriodDays = 0
	fee := LateFee(s, asOf)
	require.Equal(t, "8.6900", fee.Canonical())
	require.Equal(t, 2, AccrualDays(s, asOf))

	through := time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC)
	s.LateFeeThrough = &through
	require.Equal(t, 1, AccrualDays(s, asOf))

	s.Status = StatusCompleted
	require.True(t, LateFee(s, asOf).IsZero())
}

func TestLateFeeRate(t *testing.T) {
	s := sample(36_500)
	s.DueDate = time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	s.Terms = Terms{LateFeeRatePctAnnual: decimal.NewFromInt(10), GracePeriodDays: 0, MaxEscalationLevel: 5}
	recalculate(&s)
	// 10 days at 10% a year on 36,500 is 100.
	require.True(t, LateFee(s, asOf).Eq(inr(100)))
}

func TestNextReminderDoubles(t *testing.T) {
	require.Equal(t, asOf.AddDate(0, 0, 2), nextReminder(asOf, 1))
	require.Equal(t, asOf.AddDate(0, 0, 8), nextReminder(asOf, 3))
}
