// Package fx resolves exchange rates by transaction date and converts line
// amounts into the hotel's base currency.
package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Rate is the price of one unit of From in To, effective from Date.
type Rate struct {
	From          money.Currency  `json:"from"`
	To            money.Currency  `json:"to"`
	EffectiveDate time.Time       `json:"effective_date"`
	Rate          decimal.Decimal `json:"rate"`
}

// Pair renders the lookup key such as USDINR.
func Pair(from, to money.Currency) string { return string(from) + string(to) }

// Provider exposes lookup for the rate effective on a date.
type Provider interface {
	RateAt(ctx context.Context, from, to money.Currency, date time.Time) (decimal.Decimal, bool, error)
}

// MissingRateError reports a pair without any rate effective on the date.
type MissingRateError struct {
	Pair string
	Date time.Time
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("fx: no %s rate effective on %s", e.Pair, e.Date.Format("2006-01-02"))
}

// Is lets errors.Is(err, shared.ErrValidation) match missing rates.
func (e *MissingRateError) Is(target error) bool {
	return target == shared.ErrValidation
}

const inverseScale = 10

// Converter applies rates to amounts.
type Converter struct {
	provider Provider
}

// NewConverter constructs a converter instance.
func NewConverter(provider Provider) *Converter {
	return &Converter{provider: provider}
}

// Rate returns the from->to rate effective on date. Same-currency pairs are
// at parity; a missing direct pair falls back to the inverse of the reverse pair.
func (c *Converter) Rate(ctx context.Context, from, to money.Currency, date time.Time) (decimal.Decimal, error) {
	if from == to || from == "" {
		return decimal.NewFromInt(1), nil
	}
	date = clock.Date(date)
	if c != nil && c.provider != nil {
		r, ok, err := c.provider.RateAt(ctx, from, to, date)
		if err != nil {
			return decimal.Zero, err
		}
		if ok {
			return r, nil
		}
		r, ok, err = c.provider.RateAt(ctx, to, from, date)
		if err != nil {
			return decimal.Zero, err
		}
		if ok && r.IsPositive() {
			return decimal.NewFromInt(1).DivRound(r, inverseScale), nil
		}
	}
	return decimal.Zero, &MissingRateError{Pair: Pair(from, to), Date: date}
}

// Convert expresses m in base using the rate effective on date.
func (c *Converter) Convert(ctx context.Context, m money.Money, base money.Currency, date time.Time) (money.Money, decimal.Decimal, error) {
	rate, err := c.Rate(ctx, m.Currency(), base, date)
	if err != nil {
		return money.Money{}, decimal.Zero, err
	}
	return money.New(m.Amount().Mul(rate), base), rate, nil
}
