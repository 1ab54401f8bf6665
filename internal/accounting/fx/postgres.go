package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/db"
)

// Postgres reads rates from exchange_rates.
type Postgres struct {
	db *db.DB
}

func NewPostgres(database *db.DB) *Postgres {
	return &Postgres{db: database}
}

func (p *Postgres) RateAt(ctx context.Context, from, to money.Currency, date time.Time) (decimal.Decimal, bool, error) {
	var raw string
	err := p.db.Conn(ctx).QueryRow(ctx, `SELECT rate FROM exchange_rates
WHERE from_currency=$1 AND to_currency=$2 AND effective_date <= $3
ORDER BY effective_date DESC LIMIT 1`, string(from), string(to), date).Scan(&raw)
	if err != nil {
		if db.IsNoRows(err) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("fx: rate %s: %w", Pair(from, to), err)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("fx: stored rate %s: %w", Pair(from, to), err)
	}
	return rate, true, nil
}

// Upsert stores rates, replacing any rate for the same pair and date.
func (p *Postgres) Upsert(ctx context.Context, rates []Rate) (int, error) {
	n := 0
	err := p.db.WithinTx(ctx, func(ctx context.Context) error {
		for _, r := range rates {
			_, err := p.db.Conn(ctx).Exec(ctx, `INSERT INTO exchange_rates (from_currency, to_currency, effective_date, rate)
VALUES ($1, $2, $3, $4)
ON CONFLICT (from_currency, to_currency, effective_date) DO UPDATE SET rate = EXCLUDED.rate`,
				string(r.From), string(r.To), r.EffectiveDate, r.Rate.String())
			if err != nil {
				return fmt.Errorf("fx: upsert %s: %w", Pair(r.From, r.To), err)
			}
			n++
		}
		return nil
	})
	return n, err
}
