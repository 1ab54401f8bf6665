package periods

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

type Repository interface {
	// Find returns the stored period, or false when it was never closed.
	Find(ctx context.Context, hotelID uuid.UUID, year, period int) (Period, bool, error)
	Save(ctx context.Context, p Period) error
	ListYear(ctx context.Context, hotelID uuid.UUID, year int) ([]Period, error)
}

const periodColumns = `hotel_id, fiscal_year, fiscal_period, code, start_date, end_date, status, closed_at, changed_by, updated_at`

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(database *db.DB) *PostgresRepository {
	return &PostgresRepository{db: database}
}

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.HotelID, &p.FiscalYear, &p.FiscalPeriod, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ChangedBy, &p.UpdatedAt)
	return p, err
}

func (r *PostgresRepository) Find(ctx context.Context, hotelID uuid.UUID, year, period int) (Period, bool, error) {
	p, err := scanPeriod(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE hotel_id=$1 AND fiscal_year=$2 AND fiscal_period=$3`, hotelID, year, period))
	if err != nil {
		if db.IsNoRows(err) {
			return Period{}, false, nil
		}
		return Period{}, false, fmt.Errorf("periods: find: %w", err)
	}
	return p, true, nil
}

func (r *PostgresRepository) Save(ctx context.Context, p Period) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `INSERT INTO periods (`+periodColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (hotel_id, fiscal_year, fiscal_period) DO UPDATE
SET status = EXCLUDED.status, closed_at = EXCLUDED.closed_at, changed_by = EXCLUDED.changed_by, updated_at = EXCLUDED.updated_at`,
		p.HotelID, p.FiscalYear, p.FiscalPeriod, p.Code, p.StartDate, p.EndDate, p.Status, p.ClosedAt, p.ChangedBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("periods: save %s: %w", p.Code, db.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) ListYear(ctx context.Context, hotelID uuid.UUID, year int) ([]Period, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT `+periodColumns+` FROM periods WHERE hotel_id=$1 AND fiscal_year=$2 ORDER BY fiscal_period`, hotelID, year)
	if err != nil {
		return nil, fmt.Errorf("periods: list: %w", err)
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type periodKey struct {
	hotel  uuid.UUID
	year   int
	period int
}

type MemoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[periodKey, Period]
}

func NewMemoryRepository(store *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: store, rows: memstore.NewTable[periodKey, Period]()}
}

func (r *MemoryRepository) Find(ctx context.Context, hotelID uuid.UUID, year, period int) (Period, bool, error) {
	var (
		out   Period
		found bool
	)
	err := r.store.Do(ctx, func(*memstore.Tx) error {
		out, found = r.rows.Get(periodKey{hotelID, year, period})
		return nil
	})
	return out, found, err
}

func (r *MemoryRepository) Save(ctx context.Context, p Period) error {
	return r.store.Do(ctx, func(tx *memstore.Tx) error {
		r.rows.Put(tx, periodKey{p.HotelID, p.FiscalYear, p.FiscalPeriod}, p)
		return nil
	})
}

func (r *MemoryRepository) ListYear(ctx context.Context, hotelID uuid.UUID, year int) ([]Period, error) {
	var out []Period
	err := r.store.Do(ctx, func(*memstore.Tx) error {
		r.rows.Scan(func(k periodKey, p Period) bool {
			if k.hotel == hotelID && k.year == year {
				out = append(out, p)
			}
			return true
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].FiscalPeriod < out[j].FiscalPeriod })
	return out, err
}
