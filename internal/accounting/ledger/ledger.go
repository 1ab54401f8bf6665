package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

// PageSize bounds each store read; cancellation is checked between pages.
const PageSize = 500

// Ledger appends records and keeps running balances consistent.
type Ledger struct {
	store Store
	base  money.Currency
}

// New wraps a store. base is the currency running balances are kept in.
func New(store Store, base money.Currency) *Ledger {
	return &Ledger{store: store, base: base}
}

// Base returns the ledger's base currency.
func (l *Ledger) Base() money.Currency { return l.base }

// Project appends rec for an account with the given normal-side sign and
// re-projects every later-dated record of that account by the same delta.
// It must run inside the transaction that locked the account.
func (l *Ledger) Project(ctx context.Context, rec Record, sign int64) (Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Date = clock.Date(rec.Date)
	rec.Status = StatusPosted
	delta := rec.Signed(sign)

	prev, found, err := l.store.LastOnOrBefore(ctx, rec.AccountID, rec.Date)
	if err != nil {
		return Record{}, err
	}
	running := money.Zero(l.base)
	if found {
		running = prev.RunningBalance
	}
	rec.RunningBalance = running.Add(delta)

	stored, err := l.store.Append(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if _, err := l.store.ShiftAfter(ctx, rec.AccountID, rec.Date, delta); err != nil {
		return Record{}, err
	}
	return stored, nil
}

// Scan visits matching records page by page in (date, sequence) order.
func (l *Ledger) Scan(ctx context.Context, f Filter, fn func([]Record) error) error {
	var cursor Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := l.store.Page(ctx, f, cursor, PageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < PageSize {
			return nil
		}
		last := page[len(page)-1]
		cursor = Cursor{Date: last.Date, Sequence: last.Sequence}
	}
}

// Records collects every matching record.
func (l *Ledger) Records(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	err := l.Scan(ctx, f, func(page []Record) error {
		out = append(out, page...)
		return nil
	})
	return out, err
}

// Totals sums base-currency sides per account.
func (l *Ledger) Totals(ctx context.Context, f Filter) (map[uuid.UUID]Totals, error) {
	return l.store.Totals(ctx, f)
}

// Balance recomputes an account's signed balance from its records as of asOf
// (zero means all records).
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID, sign int64, asOf time.Time) (money.Money, error) {
	totals, err := l.store.Totals(ctx, Filter{AccountID: accountID, To: asOf})
	if err != nil {
		return money.Money{}, fmt.Errorf("ledger: balance %s: %w", accountID, err)
	}
	t, ok := totals[accountID]
	if !ok {
		return money.Zero(l.base), nil
	}
	return t.Net().MulInt(sign).WithCurrency(l.base), nil
}

// VerifyRunning walks an account's records and returns the first record whose
// stored running balance disagrees with the recomputed one.
func (l *Ledger) VerifyRunning(ctx context.Context, accountID uuid.UUID, sign int64) (*Record, money.Money, error) {
	running := money.Zero(l.base)
	var bad *Record
	err := l.Scan(ctx, Filter{AccountID: accountID}, func(page []Record) error {
		for i := range page {
			running = running.Add(page[i].Signed(sign))
			if bad == nil && !page[i].RunningBalance.Eq(running) {
				r := page[i]
				bad = &r
			}
		}
		return nil
	})
	return bad, running, err
}
