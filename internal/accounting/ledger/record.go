// Package ledger stores posted ledger records and maintains per-account
// running balances in (date, sequence) order.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
)

// StatusPosted is the only status a ledger record carries.
const StatusPosted = "POSTED"

// Record is one immutable debit or credit on an account. Only RunningBalance
// is rewritten, when an earlier-dated record is inserted before it.
type Record struct {
	ID             uuid.UUID       `json:"id"`
	HotelID        uuid.UUID       `json:"hotel_id"`
	JournalEntryID uuid.UUID       `json:"journal_entry_id"`
	LineIndex      int             `json:"line_index"`
	AccountID      uuid.UUID       `json:"account_id"`
	Date           time.Time       `json:"date"`
	Sequence       int64           `json:"sequence"`
	Debit          money.Money     `json:"debit"`
	Credit         money.Money     `json:"credit"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	BaseDebit      money.Money     `json:"base_debit"`
	BaseCredit     money.Money     `json:"base_credit"`
	FiscalYear     int             `json:"fiscal_year"`
	FiscalPeriod   int             `json:"fiscal_period"`
	Status         string          `json:"status"`
	RunningBalance money.Money     `json:"running_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BaseCurrencyAmount is the debit-positive net in base currency.
func (r Record) BaseCurrencyAmount() money.Money {
	return r.BaseDebit.Sub(r.BaseCredit)
}

// Signed is the record's effect on the account balance.
func (r Record) Signed(sign int64) money.Money {
	return r.BaseCurrencyAmount().MulInt(sign)
}

// Totals aggregates base-currency sides for one account.
type Totals struct {
	Debit  money.Money `json:"debit"`
	Credit money.Money `json:"credit"`
}

// Net is Debit - Credit.
func (t Totals) Net() money.Money { return t.Debit.Sub(t.Credit) }

// Add accumulates a record.
func (t Totals) Add(r Record) Totals {
	return Totals{Debit: t.Debit.Add(r.BaseDebit), Credit: t.Credit.Add(r.BaseCredit)}
}

// Filter narrows reads. Zero values are unbounded; From and To are inclusive dates.
type Filter struct {
	HotelID        uuid.UUID
	AccountID      uuid.UUID
	JournalEntryID uuid.UUID
	From           time.Time
	To             time.Time
	FiscalYear     int
	FiscalPeriod   int
}

func (f Filter) match(r Record) bool {
	switch {
	case f.HotelID != uuid.Nil && r.HotelID != f.HotelID:
		return false
	case f.AccountID != uuid.Nil && r.AccountID != f.AccountID:
		return false
	case f.JournalEntryID != uuid.Nil && r.JournalEntryID != f.JournalEntryID:
		return false
	case !f.From.IsZero() && r.Date.Before(f.From):
		return false
	case !f.To.IsZero() && r.Date.After(f.To):
		return false
	case f.FiscalYear != 0 && r.FiscalYear != f.FiscalYear:
		return false
	case f.FiscalPeriod != 0 && r.FiscalPeriod != f.FiscalPeriod:
		return false
	}
	return true
}

// Cursor is a keyset position in (date, sequence) order.
type Cursor struct {
	Date     time.Time
	Sequence int64
}

func (c Cursor) before(r Record) bool {
	if c.Date.IsZero() && c.Sequence == 0 {
		return true
	}
	if !r.Date.Equal(c.Date) {
		return r.Date.After(c.Date)
	}
	return r.Sequence > c.Sequence
}

func less(a, b Record) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.Sequence < b.Sequence
}
