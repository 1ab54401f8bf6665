package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/db"
)

// PostgresStore keeps records in ledger_records.
type PostgresStore struct {
	db   *db.DB
	base money.Currency
}

func NewPostgresStore(database *db.DB, base money.Currency) *PostgresStore {
	return &PostgresStore{db: database, base: base}
}

const recordColumns = `id, hotel_id, journal_entry_id, line_index, account_id, entry_date, seq, currency, debit, credit,
exchange_rate, base_debit, base_credit, fiscal_year, fiscal_period, status, running_balance, created_at`

func (s *PostgresStore) scan(row pgx.Row) (Record, error) {
	var (
		r                                                Record
		cur, debit, credit, rate, bDebit, bCredit, running string
	)
	err := row.Scan(&r.ID, &r.HotelID, &r.JournalEntryID, &r.LineIndex, &r.AccountID, &r.Date, &r.Sequence,
		&cur, &debit, &credit, &rate, &bDebit, &bCredit, &r.FiscalYear, &r.FiscalPeriod, &r.Status, &running, &r.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	c := money.Currency(cur)
	parse := func(v string, cur money.Currency) money.Money {
		if err != nil {
			return money.Money{}
		}
		var m money.Money
		m, err = money.Parse(v, cur)
		return m
	}
	r.Debit = parse(debit, c)
	r.Credit = parse(credit, c)
	r.BaseDebit = parse(bDebit, s.base)
	r.BaseCredit = parse(bCredit, s.base)
	r.RunningBalance = parse(running, s.base)
	if err == nil {
		r.ExchangeRate, err = decimal.NewFromString(rate)
	}
	if err != nil {
		return Record{}, fmt.Errorf("ledger: decode record %s: %w", r.ID, err)
	}
	return r, nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) (Record, error) {
	err := s.db.Conn(ctx).QueryRow(ctx, `INSERT INTO ledger_records (id, hotel_id, journal_entry_id, line_index, account_id, entry_date,
currency, debit, credit, exchange_rate, base_debit, base_credit, fiscal_year, fiscal_period, status, running_balance, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
RETURNING seq`,
		rec.ID, rec.HotelID, rec.JournalEntryID, rec.LineIndex, rec.AccountID, rec.Date,
		string(rec.Debit.Currency()), rec.Debit.Canonical(), rec.Credit.Canonical(), rec.ExchangeRate.String(),
		rec.BaseDebit.Canonical(), rec.BaseCredit.Canonical(), rec.FiscalYear, rec.FiscalPeriod, rec.Status,
		rec.RunningBalance.Canonical(), rec.CreatedAt).Scan(&rec.Sequence)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: append: %w", db.MapError(err))
	}
	return rec, nil
}

func (s *PostgresStore) LastOnOrBefore(ctx context.Context, accountID uuid.UUID, date time.Time) (Record, bool, error) {
	r, err := s.scan(s.db.Conn(ctx).QueryRow(ctx, `SELECT `+recordColumns+` FROM ledger_records
WHERE account_id = $1 AND entry_date <= $2 ORDER BY entry_date DESC, seq DESC LIMIT 1`, accountID, date))
	if err != nil {
		if db.IsNoRows(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("ledger: last record: %w", err)
	}
	return r, true, nil
}

func (s *PostgresStore) ShiftAfter(ctx context.Context, accountID uuid.UUID, date time.Time, delta money.Money) (int64, error) {
	tag, err := s.db.Conn(ctx).Exec(ctx, `UPDATE ledger_records SET running_balance = (running_balance::numeric + $3::numeric)::text
WHERE account_id = $1 AND entry_date > $2`, accountID, date, delta.Canonical())
	if err != nil {
		return 0, fmt.Errorf("ledger: re-project tail: %w", db.MapError(err))
	}
	return tag.RowsAffected(), nil
}

func where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.HotelID != uuid.Nil {
		add("hotel_id = $%d", f.HotelID)
	}
	if f.AccountID != uuid.Nil {
		add("account_id = $%d", f.AccountID)
	}
	if f.JournalEntryID != uuid.Nil {
		add("journal_entry_id = $%d", f.JournalEntryID)
	}
	if !f.From.IsZero() {
		add("entry_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("entry_date <= $%d", f.To)
	}
	if f.FiscalYear != 0 {
		add("fiscal_year = $%d", f.FiscalYear)
	}
	if f.FiscalPeriod != 0 {
		add("fiscal_period = $%d", f.FiscalPeriod)
	}
	if len(conds) == 0 {
		return "TRUE", args
	}
	return strings.Join(conds, " AND "), args
}

func (s *PostgresStore) Page(ctx context.Context, f Filter, after Cursor, limit int) ([]Record, error) {
	cond, args := where(f)
	if !after.Date.IsZero() || after.Sequence != 0 {
		args = append(args, after.Date, after.Sequence)
		cond += fmt.Sprintf(" AND (entry_date, seq) > ($%d, $%d)", len(args)-1, len(args))
	}
	query := `SELECT ` + recordColumns + ` FROM ledger_records WHERE ` + cond + ` ORDER BY entry_date, seq`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: page: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Totals(ctx context.Context, f Filter) (map[uuid.UUID]Totals, error) {
	cond, args := where(f)
	rows, err := s.db.Conn(ctx).Query(ctx, `SELECT account_id,
COALESCE(SUM(base_debit::numeric), 0)::text,
COALESCE(SUM(base_credit::numeric), 0)::text
FROM ledger_records WHERE `+cond+` GROUP BY account_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: totals: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]Totals)
	for rows.Next() {
		var (
			id            uuid.UUID
			debit, credit string
		)
		if err := rows.Scan(&id, &debit, &credit); err != nil {
			return nil, err
		}
		d, err := money.Parse(debit, s.base)
		if err != nil {
			return nil, err
		}
		c, err := money.Parse(credit, s.base)
		if err != nil {
			return nil, err
		}
		out[id] = Totals{Debit: d, Credit: c}
	}
	return out, rows.Err()
}
