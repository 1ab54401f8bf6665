package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func inr(v int64) money.Money { return money.FromInt(v, money.INR) }

func openSettlement(final, paid int64) SettlementState {
	out := final - paid
	if out < 0 {
		out = 0
	}
	return SettlementState{
		Currency:       money.INR,
		OriginalAmount: inr(final),
		FinalAmount:    inr(final),
		TotalPaid:      inr(paid),
		Outstanding:    inr(out),
		Status:         "PENDING",
	}
}

func TestCashPaymentCeiling(t *testing.T) {
	e := New(Defaults())
	res := e.ValidatePayment(PaymentCandidate{
		Amount:     inr(250_000),
		Method:     MethodCash,
		Settlement: openSettlement(400_000, 0),
	})
	require.False(t, res.IsValid)
	require.Len(t, res.Violations, 1)
	require.Contains(t, res.Violations[0], "Cash payment exceeds limit")

	err := res.Err("settlement.payment_rejected")
	require.ErrorIs(t, err, shared.ErrRuleViolation)
	require.Equal(t, res.Violations, shared.AsError(err).Violations)
}

func TestAggregateCashCeiling(t *testing.T) {
	s := openSettlement(400_000, 150_000)
	s.Payments = []PaymentFact{{Method: MethodCash, Amount: inr(150_000), Completed: true}}
	res := New(Defaults()).ValidatePayment(PaymentCandidate{Amount: inr(60_000), Method: MethodCash, Settlement: s})
	require.False(t, res.IsValid)
	require.Contains(t, res.Violations[0], "Aggregate cash payments")
}

func TestPaymentRules(t *testing.T) {
	e := New(Defaults())
	cases := []struct {
		name     string
		in       PaymentCandidate
		valid    bool
		approval bool
		warnings int
	}{
		{"partial card payment", PaymentCandidate{Amount: inr(5_000), Method: MethodCard, Settlement: openSettlement(13_216, 0)}, true, false, 0},
		{"upi without reference", PaymentCandidate{Amount: inr(5_000), Method: MethodUPI, Settlement: openSettlement(13_216, 0)}, false, false, 0},
		{"below minimum", PaymentCandidate{Amount: money.MustParse("0.5", money.INR), Method: MethodCard, Settlement: openSettlement(13_216, 0)}, false, false, 0},
		{"overpayment rejected", PaymentCandidate{Amount: inr(20_000), Method: MethodCard, Settlement: openSettlement(13_216, 0)}, false, false, 0},
		{"overpayment allowed", PaymentCandidate{Amount: inr(20_000), Method: MethodCard, AllowOverpayment: true, Settlement: openSettlement(13_216, 0)}, true, false, 1},
		{"structuring amount", PaymentCandidate{Amount: inr(49_999), Method: MethodCard, Settlement: openSettlement(100_000, 0)}, true, true, 1},
		{"large transfer", PaymentCandidate{Amount: inr(1_500_000), Method: MethodBankTransfer, Reference: "UTR1", Settlement: openSettlement(2_000_000, 0)}, true, true, 2},
		{"terminal settlement", PaymentCandidate{Amount: inr(10), Method: MethodCard, Settlement: SettlementState{Currency: money.INR, Terminal: true, Status: "COMPLETED"}}, false, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := e.ValidatePayment(tc.in)
			require.Equal(t, tc.valid, res.IsValid, "violations: %v", res.Violations)
			require.Equal(t, tc.approval, res.RequiresApproval)
			require.Len(t, res.Warnings, tc.warnings, "warnings: %v", res.Warnings)
		})
	}
}

func TestManagerFlagForcesApproval(t *testing.T) {
	s := openSettlement(10_000, 0)
	s.Flags.RequiresManagerApproval = true
	res := New(Defaults()).ValidatePayment(PaymentCandidate{Amount: inr(1_000), Method: MethodCard, Settlement: s})
	require.True(t, res.IsValid)
	require.True(t, res.RequiresApproval)
}

func TestSettlementCreationRules(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	terms := Terms{LateFeeRatePctAnnual: decimal.NewFromInt(12), GracePeriodDays: 3, MaxEscalationLevel: 5}
	e := New(Defaults())

	ok := e.ValidateSettlementCreation(SettlementCandidate{
		Amount: inr(13_216), DueDate: now.AddDate(0, 0, 7), Now: now, Terms: terms,
		GuestID: "g1", Booking: &Booking{GuestID: "g1", Amount: inr(13_216)},
	})
	require.True(t, ok.IsValid)
	require.Empty(t, ok.Warnings)

	drift := e.ValidateSettlementCreation(SettlementCandidate{
		Amount: inr(30_000), DueDate: now.AddDate(0, 0, 7), Now: now, Terms: terms,
		GuestID: "g2", Booking: &Booking{GuestID: "g1", Amount: inr(10_000)},
	})
	require.False(t, drift.IsValid)
	require.Equal(t, []string{"Guest does not match booking"}, drift.Violations)
	require.Len(t, drift.Warnings, 1)
	require.Contains(t, drift.Warnings[0], "100%")

	bad := e.ValidateSettlementCreation(SettlementCandidate{
		Amount: money.FromInt(100, "XYZ"), DueDate: now.AddDate(2, 0, 0), Now: now,
		Terms:       Terms{LateFeeRatePctAnnual: decimal.NewFromInt(30), GracePeriodDays: 45, MaxEscalationLevel: 5},
		Flags:       Flags{Corporate: true, VIP: true},
		DiscountPct: decimal.NewFromInt(25),
	})
	require.False(t, bad.IsValid)
	require.Len(t, bad.Violations, 5)
	require.Contains(t, bad.Warnings, "VIP settlement has no supporting notes")

	high := e.ValidateSettlementCreation(SettlementCandidate{Amount: inr(2_500_000), DueDate: now, Now: now, Terms: terms})
	require.True(t, high.IsValid)
	require.True(t, high.RequiresApproval)
}

func TestAdjustmentRules(t *testing.T) {
	e := New(Defaults())
	s := openSettlement(13_216, 0)

	res := e.ValidateAdjustment(AdjustmentCandidate{Type: AdjustmentServiceCharge, Amount: inr(500), Settlement: s})
	require.False(t, res.IsValid)
	require.Equal(t, []string{"Service charge requires a description"}, res.Violations)

	res = e.ValidateAdjustment(AdjustmentCandidate{Type: AdjustmentDamageCharge, Amount: inr(2_000), Description: "lamp", Settlement: s})
	require.True(t, res.IsValid)
	require.Equal(t, []string{"Damage charge has no attachments"}, res.Warnings)

	res = e.ValidateAdjustment(AdjustmentCandidate{Type: AdjustmentDiscount, Amount: inr(-20_000), Settlement: s})
	require.False(t, res.IsValid)
	require.Contains(t, res.Violations, "Adjustment would make the final amount negative")
	require.Contains(t, res.Warnings, "Adjustment exceeds the original amount")

	res = e.ValidateAdjustment(AdjustmentCandidate{Type: AdjustmentExtraCharge, Amount: inr(150_000), Description: "event", Settlement: s})
	require.False(t, res.IsValid)
	require.True(t, res.RequiresApproval)

	res = e.ValidateAdjustment(AdjustmentCandidate{Type: AdjustmentExtraCharge, Amount: inr(150_000), Description: "event", Approver: true, Settlement: s})
	require.True(t, res.IsValid)
	require.True(t, res.RequiresApproval)

	res = e.ValidateAdjustment(AdjustmentCandidate{Type: AdjustmentDiscount, Amount: inr(100), Settlement: s})
	require.True(t, res.IsValid)
	require.Equal(t, []string{"A discount is normally negative"}, res.Warnings)

	res = e.ValidateAdjustment(AdjustmentCandidate{Type: "bribe", Amount: inr(100), Settlement: s})
	require.False(t, res.IsValid)
}

func TestRefundRules(t *testing.T) {
	e := New(Defaults())
	s := openSettlement(10_000, 12_000)
	s.Payments = []PaymentFact{
		{Method: MethodCash, Amount: inr(10_000), Completed: true},
		{Method: MethodCard, Amount: inr(2_000), Completed: true},
	}

	require.True(t, e.ValidateRefund(RefundCandidate{Amount: inr(2_000), Method: RefundToSource, Settlement: s}).IsValid)

	over := e.ValidateRefund(RefundCandidate{Amount: inr(2_500), Method: RefundBankTransfer, Settlement: s})
	require.False(t, over.IsValid)
	require.Contains(t, over.Violations[0], "refundable balance")

	noReason := e.ValidateRefund(RefundCandidate{Amount: inr(1_000), Method: RefundCash, Settlement: s})
	require.Equal(t, []string{"Cash refunds require a reason"}, noReason.Violations)

	s.RefundedAmount = inr(1_500)
	partial := e.ValidateRefund(RefundCandidate{Amount: inr(1_000), Method: RefundUPI, Settlement: s})
	require.False(t, partial.IsValid)

	s.Cancelled = true
	require.Contains(t, e.ValidateRefund(RefundCandidate{Amount: inr(100), Method: RefundUPI, Settlement: s}).Violations,
		"Cannot refund a cancelled settlement")
}

func TestStoreOverrides(t *testing.T) {
	store, err := NewStore(Defaults())
	require.NoError(t, err)
	before := store.Engine()

	require.NoError(t, store.ApplyOverrides([]byte(`{"maxCashPayment":"300000","supportedCurrencies":["INR"]}`)))
	after := store.Engine()
	require.NotSame(t, before, after)
	require.True(t, after.Thresholds().MaxCashPayment.Equal(decimal.NewFromInt(300_000)))
	require.Equal(t, []money.Currency{money.INR}, after.Thresholds().SupportedCurrencies)
	require.True(t, before.Thresholds().MaxCashPayment.Equal(decimal.NewFromInt(200_000)))

	res := after.ValidatePayment(PaymentCandidate{Amount: inr(250_000), Method: MethodCash, Settlement: openSettlement(400_000, 0)})
	require.True(t, res.IsValid)
	require.True(t, res.AppliedRules.MaxCashPayment.Equal(decimal.NewFromInt(300_000)))

	require.Error(t, store.ApplyOverrides([]byte(`{"maxEscalationLevel":9}`)))
	require.Error(t, store.ApplyOverrides([]byte(`{"gracePeriodRange":[5,1]}`)))
	require.Error(t, store.ApplyOverrides([]byte(`not json`)))
	require.Same(t, after, store.Engine())
}

func TestForeignPaymentsUseConvertedLimits(t *testing.T) {
	usd := func(v int64) money.Money { return money.FromInt(v, money.USD) }
	state := func(final int64) SettlementState {
		return SettlementState{Currency: money.USD, FinalAmount: usd(final), Outstanding: usd(final), Status: "PENDING"}
	}
	e := New(Defaults())

	res := e.ValidatePayment(PaymentCandidate{Amount: usd(3_000), Method: MethodCash, Settlement: state(5_000)})
	require.False(t, res.IsValid, "3,000 USD is about 249,000 INR, over the cash ceiling")
	require.Contains(t, res.Violations[0], "2409.64 USD")

	res = e.ValidatePayment(PaymentCandidate{Amount: usd(2_000), Method: MethodCash, Settlement: state(5_000)})
	require.True(t, res.IsValid)

	res = e.ValidatePayment(PaymentCandidate{Amount: usd(49_999), Method: MethodCard, Reference: "auth-1", Settlement: state(60_000)})
	require.True(t, res.IsValid)
	require.True(t, res.RequiresApproval, "49,999 USD crosses the large transaction threshold")
	for _, w := range res.Warnings {
		require.NotContains(t, w, "structuring")
	}

	res = e.ValidateRefund(RefundCandidate{
		Amount: usd(7_000),
		Method: RefundBankTransfer,
		Reason: "overcharge",
		Settlement: SettlementState{
			Currency:       money.USD,
			TotalPaid:      usd(10_000),
			FinalAmount:    usd(3_000),
			RefundedAmount: usd(0),
		},
	})
	require.True(t, res.RequiresApproval, "7,000 USD is over the 500,000 INR refund review line")
}

func TestReferenceRates(t *testing.T) {
	base := Defaults()
	noRate := base.clone()
	delete(noRate.ReferenceRates, money.USD)
	res := New(noRate).ValidatePayment(PaymentCandidate{
		Amount:     money.FromInt(3_000, money.USD),
		Method:     MethodCash,
		Settlement: SettlementState{Currency: money.USD, Outstanding: money.FromInt(5_000, money.USD)},
	})
	require.True(t, res.IsValid, "without a reference rate the nominal limit applies")

	over := base.WithReferenceRates(map[money.Currency]decimal.Decimal{money.USD: decimal.NewFromInt(100), money.INR: decimal.NewFromInt(2)})
	require.True(t, over.ReferenceRates[money.USD].Equal(decimal.NewFromInt(100)))
	require.NotContains(t, over.ReferenceRates, money.INR)
	require.True(t, base.ReferenceRates[money.USD].Equal(decimal.NewFromInt(83)), "original left untouched")

	_, err := base.WithOverrides([]byte(`{"referenceRates":{"EUR":"0"}}`))
	require.Error(t, err)
	_, err = base.WithOverrides([]byte(`{"currency":"RUPEE"}`))
	require.Error(t, err)
}
