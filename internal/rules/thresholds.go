// Package rules evaluates settlement, payment, adjustment and refund
// candidates against configurable thresholds. It performs no I/O.
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
)

// Thresholds are the deployment limits, expressed in Currency. Candidates in
// another currency are compared against the limit converted at the
// ReferenceRates entry for their currency: the value of one unit of it in
// Currency. A currency without a reference rate is held to the nominal limit.
type Thresholds struct {
	Currency                  money.Currency                     `json:"currency"`
	ReferenceRates            map[money.Currency]decimal.Decimal `json:"referenceRates"`
	MaxCashPayment            decimal.Decimal                    `json:"maxCashPayment"`
	MaxSinglePayment          decimal.Decimal                    `json:"maxSinglePayment"`
	MinPaymentAmount          decimal.Decimal                    `json:"minPaymentAmount"`
	MaxSettlementAmount       decimal.Decimal                    `json:"maxSettlementAmount"`
	MaxOutstandingDays        int                                `json:"maxOutstandingDays"`
	MaxLateFeeRatePctAnnual   decimal.Decimal                    `json:"maxLateFeeRatePctAnnual"`
	GracePeriodRange          [2]int                             `json:"gracePeriodRange"`
	SupportedCurrencies       []money.Currency                   `json:"supportedCurrencies"`
	LargeTransactionThreshold decimal.Decimal                    `json:"largeTransactionThreshold"`
	SuspiciousRefundThreshold decimal.Decimal                    `json:"suspiciousRefundThreshold"`
	CorporateMaxDiscountPct   decimal.Decimal                    `json:"corporateMaxDiscountPct"`
	HighValueGuest            decimal.Decimal                    `json:"highValueGuest"`
	AdjustmentApprovalAmount  decimal.Decimal                    `json:"adjustmentApprovalAmount"`
	DiscountApprovalAmount    decimal.Decimal                    `json:"discountApprovalAmount"`
	StructuringAmounts        []decimal.Decimal                  `json:"structuringAmounts"`
	RoundAmountMinimum        decimal.Decimal                    `json:"roundAmountMinimum"`
	RoundAmountUnit           decimal.Decimal                    `json:"roundAmountUnit"`
	MaxEscalationLevel        int                                `json:"maxEscalationLevel"`
}

// Defaults returns the INR deployment limits.
func Defaults() Thresholds {
	return Thresholds{
		Currency: money.INR,
		ReferenceRates: map[money.Currency]decimal.Decimal{
			money.USD: decimal.NewFromInt(83),
			money.EUR: decimal.NewFromInt(90),
			money.GBP: decimal.NewFromInt(105),
			money.JPY: decimal.RequireFromString("0.56"),
		},
		MaxCashPayment:            decimal.NewFromInt(200_000),
		MaxSinglePayment:          decimal.NewFromInt(10_000_000),
		MinPaymentAmount:          decimal.NewFromInt(1),
		MaxSettlementAmount:       decimal.NewFromInt(50_000_000),
		MaxOutstandingDays:        365,
		MaxLateFeeRatePctAnnual:   decimal.NewFromInt(25),
		GracePeriodRange:          [2]int{0, 30},
		SupportedCurrencies:       []money.Currency{money.INR, money.USD, money.EUR, money.GBP, money.JPY},
		LargeTransactionThreshold: decimal.NewFromInt(1_000_000),
		SuspiciousRefundThreshold: decimal.NewFromInt(500_000),
		CorporateMaxDiscountPct:   decimal.NewFromInt(20),
		HighValueGuest:            decimal.NewFromInt(2_000_000),
		AdjustmentApprovalAmount:  decimal.NewFromInt(100_000),
		DiscountApprovalAmount:    decimal.NewFromInt(50_000),
		StructuringAmounts: []decimal.Decimal{
			decimal.NewFromInt(49_999),
			decimal.NewFromInt(99_999),
			decimal.NewFromInt(199_999),
			decimal.NewFromInt(499_999),
		},
		RoundAmountMinimum: decimal.NewFromInt(100_000),
		RoundAmountUnit:    decimal.NewFromInt(10_000),
		MaxEscalationLevel: 5,
	}
}

// WithOverrides decodes a JSON object over a copy of t. Keys that are absent
// keep their current value; lists are replaced, not merged.
func (t Thresholds) WithOverrides(raw []byte) (Thresholds, error) {
	out := t.clone()
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Thresholds{}, fmt.Errorf("rules: decode overrides: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Thresholds{}, err
	}
	return out, nil
}

// Validate rejects inconsistent limits.
func (t Thresholds) Validate() error {
	positive := map[string]decimal.Decimal{
		"maxCashPayment":            t.MaxCashPayment,
		"maxSinglePayment":          t.MaxSinglePayment,
		"maxSettlementAmount":       t.MaxSettlementAmount,
		"largeTransactionThreshold": t.LargeTransactionThreshold,
		"suspiciousRefundThreshold": t.SuspiciousRefundThreshold,
		"adjustmentApprovalAmount":  t.AdjustmentApprovalAmount,
		"discountApprovalAmount":    t.DiscountApprovalAmount,
		"roundAmountUnit":           t.RoundAmountUnit,
	}
	for name, v := range positive {
		if !v.IsPositive() {
			return fmt.Errorf("rules: %s must be positive", name)
		}
	}
	switch {
	case t.MinPaymentAmount.IsNegative():
		return fmt.Errorf("rules: minPaymentAmount must not be negative")
	case t.MinPaymentAmount.GreaterThan(t.MaxSinglePayment):
		return fmt.Errorf("rules: minPaymentAmount exceeds maxSinglePayment")
	case t.MaxOutstandingDays <= 0:
		return fmt.Errorf("rules: maxOutstandingDays must be positive")
	case t.GracePeriodRange[0] < 0 || t.GracePeriodRange[0] > t.GracePeriodRange[1]:
		return fmt.Errorf("rules: invalid gracePeriodRange %v", t.GracePeriodRange)
	case t.MaxEscalationLevel < 1 || t.MaxEscalationLevel > 5:
		return fmt.Errorf("rules: maxEscalationLevel must be between 1 and 5")
	case len(t.SupportedCurrencies) == 0:
		return fmt.Errorf("rules: supportedCurrencies must not be empty")
	}
	if _, err := money.ParseCurrency(string(t.Currency)); err != nil {
		return fmt.Errorf("rules: currency: %w", err)
	}
	for c, rate := range t.ReferenceRates {
		if !rate.IsPositive() {
			return fmt.Errorf("rules: reference rate for %s must be positive", c)
		}
	}
	for _, c := range t.SupportedCurrencies {
		if _, err := money.ParseCurrency(string(c)); err != nil {
			return fmt.Errorf("rules: %w", err)
		}
	}
	return nil
}

// Supports reports whether cur is an accepted settlement currency.
func (t Thresholds) Supports(cur money.Currency) bool {
	for _, c := range t.SupportedCurrencies {
		if c == cur {
			return true
		}
	}
	return false
}

// WithReferenceRates returns a copy of t with rates laid over its reference rates.
func (t Thresholds) WithReferenceRates(rates map[money.Currency]decimal.Decimal) Thresholds {
	out := t.clone()
	for c, rate := range rates {
		if c != t.Currency && rate.IsPositive() {
			out.ReferenceRates[c] = rate
		}
	}
	return out
}

// in expresses the limit d, stated in t.Currency, in cur.
func (t Thresholds) in(d decimal.Decimal, cur money.Currency) money.Money {
	if cur == t.Currency || t.Currency == "" {
		return money.New(d, cur)
	}
	rate, ok := t.ReferenceRates[cur]
	if !ok || !rate.IsPositive() {
		return money.New(d, cur)
	}
	return money.New(d.DivRound(rate, money.Scale), cur)
}

// native reports whether cur is the currency the limits are stated in.
func (t Thresholds) native(cur money.Currency) bool {
	return t.Currency == "" || cur == t.Currency
}

func (t Thresholds) clone() Thresholds {
	rates := make(map[money.Currency]decimal.Decimal, len(t.ReferenceRates))
	for c, r := range t.ReferenceRates {
		rates[c] = r
	}
	t.ReferenceRates = rates
	t.SupportedCurrencies = append([]money.Currency(nil), t.SupportedCurrencies...)
	t.StructuringAmounts = append([]decimal.Decimal(nil), t.StructuringAmounts...)
	return t
}
