// Package money implements fixed-precision monetary amounts tagged with an ISO currency.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// Scale is the number of fractional digits kept for stored amounts.
	Scale int32 = 4
	// DisplayScale is the number of fractional digits used at display and settlement boundaries.
	DisplayScale int32 = 2
	divScale     int32 = 6
)

// Tolerance absorbs rounding noise when comparing derived sums.
var Tolerance = decimal.New(1, -Scale)

// ErrCurrencyMismatch is raised when two amounts with different currencies are combined.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Currency is a 3-letter ISO 4217 code.
type Currency string

const (
	INR Currency = "INR"
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
)

// ParseCurrency normalises and validates an ISO currency code.
func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("money: invalid currency %q", code)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("money: invalid currency %q: %w", code, err)
	}
	return Currency(unit.String()), nil
}

func (c Currency) String() string { return string(c) }

// Money is an immutable amount of a single currency.
// The zero value is a currency-less zero that adopts the currency of the
// first operand it is combined with.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New builds Money from a decimal, normalised to Scale digits.
func New(amount decimal.Decimal, cur Currency) Money {
	return Money{amount: amount.RoundBank(Scale), currency: cur}
}

// Zero returns a zero amount in cur.
func Zero(cur Currency) Money {
	return Money{amount: decimal.Zero, currency: cur}
}

// FromInt builds Money from a whole number of major units.
func FromInt(v int64, cur Currency) Money {
	return Money{amount: decimal.NewFromInt(v), currency: cur}
}

// Parse builds Money from a decimal string.
func Parse(s string, cur Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return New(d, cur), nil
}

// MustParse is Parse that panics; intended for constants and tests.
func MustParse(s string, cur Currency) Money {
	m, err := Parse(s, cur)
	if err != nil {
		panic(err)
	}
	return m
}

// FromFloat normalises a legacy float input through its shortest string form
// so binary representation noise never reaches the decimal.
func FromFloat(f float64, cur Currency) Money {
	return New(decimal.RequireFromString(strconv.FormatFloat(f, 'f', -1, 64)), cur)
}

// Amount exposes the underlying decimal.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the currency tag.
func (m Money) Currency() Currency { return m.currency }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsNegligible reports whether the amount is zero within Tolerance.
func (m Money) IsNegligible() bool { return m.amount.Abs().LessThanOrEqual(Tolerance) }

// Sign returns -1, 0 or 1.
func (m Money) Sign() int { return m.amount.Sign() }

// IsPositive reports amount > 0.
func (m Money) IsPositive() bool { return m.amount.Sign() > 0 }

// IsNegative reports amount < 0.
func (m Money) IsNegative() bool { return m.amount.Sign() < 0 }

// WithCurrency returns m tagged with cur when m carries no currency yet.
func (m Money) WithCurrency(cur Currency) Money {
	if m.currency == "" {
		m.currency = cur
	}
	return m
}

func (m Money) resolve(o Money) Currency {
	switch {
	case m.currency == o.currency:
		return m.currency
	case m.currency == "":
		return o.currency
	case o.currency == "":
		return m.currency
	}
	panic(fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, o.currency))
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	cur := m.resolve(o)
	return Money{amount: m.amount.Add(o.amount), currency: cur}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	cur := m.resolve(o)
	return Money{amount: m.amount.Sub(o.amount), currency: cur}
}

// Mul multiplies by a scalar, rounding to Scale digits.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor).RoundBank(Scale), currency: m.currency}
}

// MulInt multiplies by an integer scalar.
func (m Money) MulInt(factor int64) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(factor)), currency: m.currency}
}

// Div divides by a scalar, keeping six fractional digits. Dividing by zero panics.
func (m Money) Div(divisor decimal.Decimal) Money {
	if divisor.IsZero() {
		panic("money: division by zero")
	}
	return Money{amount: m.amount.DivRound(divisor, divScale), currency: m.currency}
}

// Neg returns -m.
func (m Money) Neg() Money { return Money{amount: m.amount.Neg(), currency: m.currency} }

// Abs returns |m|.
func (m Money) Abs() Money { return Money{amount: m.amount.Abs(), currency: m.currency} }

// Round applies banker's rounding to places fractional digits.
func (m Money) Round(places int32) Money {
	return Money{amount: m.amount.RoundBank(places), currency: m.currency}
}

// Cmp compares with tolerance: 0 when the difference is within Tolerance.
func (m Money) Cmp(o Money) int {
	m.resolve(o)
	diff := m.amount.Sub(o.amount)
	if diff.Abs().LessThanOrEqual(Tolerance) {
		return 0
	}
	return diff.Sign()
}

func (m Money) Eq(o Money) bool { return m.Cmp(o) == 0 }
func (m Money) Lt(o Money) bool { return m.Cmp(o) < 0 }
func (m Money) Le(o Money) bool { return m.Cmp(o) <= 0 }
func (m Money) Gt(o Money) bool { return m.Cmp(o) > 0 }
func (m Money) Ge(o Money) bool { return m.Cmp(o) >= 0 }

// Equal reports exact equality of value and currency.
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Sum adds all amounts; the result carries cur when items is empty.
func Sum(cur Currency, items ...Money) Money {
	total := Zero(cur)
	for _, it := range items {
		total = total.Add(it)
	}
	return total
}

// SameCurrency returns an error when items do not share one currency.
func SameCurrency(items ...Money) error {
	var cur Currency
	for _, it := range items {
		if it.currency == "" {
			continue
		}
		if cur == "" {
			cur = it.currency
			continue
		}
		if it.currency != cur {
			return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, cur, it.currency)
		}
	}
	return nil
}

// Canonical renders the amount as the decimal string used for storage.
func (m Money) Canonical() string {
	if m.amount.Exponent() < -Scale {
		return m.amount.String()
	}
	return m.amount.StringFixed(Scale)
}

func (m Money) String() string {
	return m.amount.StringFixed(DisplayScale) + " " + string(m.currency)
}

// Format renders the amount for humans using locale-aware grouping and the
// currency's own symbol and precision. Digits come from the decimal, so no
// amount is rounded through a float.
func (m Money) Format(tag language.Tag) string {
	unit, err := currency.ParseISO(string(m.currency))
	if err != nil {
		return m.String()
	}
	scale, _ := currency.Standard.Rounding(unit)
	rounded := m.amount.RoundBank(int32(scale))
	whole, frac, _ := strings.Cut(rounded.Abs().StringFixed(int32(scale)), ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return m.String()
	}
	p := message.NewPrinter(tag)
	var b strings.Builder
	if rounded.Sign() < 0 {
		b.WriteByte('-')
	}
	b.WriteString(p.Sprint(currency.Symbol(unit)))
	b.WriteByte(' ')
	b.WriteString(p.Sprintf("%d", n))
	if frac != "" {
		b.WriteString(strings.Trim(p.Sprintf("%.1f", 1.5), "15"))
		b.WriteString(frac)
	}
	return b.String()
}

type wireMoney struct {
	Amount   string   `json:"amount"`
	Currency Currency `json:"currency"`
}

// MarshalJSON encodes as {"amount":"<canonical>","currency":"XXX"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMoney{Amount: m.Canonical(), Currency: m.currency})
}

// UnmarshalJSON accepts the amount as a string or a bare JSON number; numbers
// are read from their literal text, never through float64.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   json.RawMessage `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("money: decode: %w", err)
	}
	text := string(bytes.TrimSpace(raw.Amount))
	if text == "" || text == "null" {
		text = "0"
	}
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw.Amount, &text); err != nil {
			return fmt.Errorf("money: decode amount: %w", err)
		}
	}
	var cur Currency
	if raw.Currency != "" {
		parsed, err := ParseCurrency(raw.Currency)
		if err != nil {
			return err
		}
		cur = parsed
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return fmt.Errorf("money: parse %q: %w", text, err)
	}
	*m = New(d, cur)
	return nil
}
