package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

// Budget is the planned natural-side amount for one account and fiscal period.
type Budget struct {
	HotelID      uuid.UUID   `json:"hotel_id"`
	AccountID    uuid.UUID   `json:"account_id"`
	FiscalYear   int         `json:"fiscal_year"`
	FiscalPeriod int         `json:"fiscal_period"`
	Amount       money.Money `json:"amount"`
	UpdatedBy    string      `json:"updated_by"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// BudgetRepository persists budget lines.
type BudgetRepository interface {
	Upsert(ctx context.Context, b Budget) error
	ListYear(ctx context.Context, hotelID uuid.UUID, year int) ([]Budget, error)
}

type PostgresBudgetRepository struct {
	db *db.DB
}

func NewPostgresBudgetRepository(database *db.DB) *PostgresBudgetRepository {
	return &PostgresBudgetRepository{db: database}
}

func (r *PostgresBudgetRepository) Upsert(ctx context.Context, b Budget) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `INSERT INTO budgets (hotel_id, account_id, fiscal_year, fiscal_period, amount, currency, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (hotel_id, account_id, fiscal_year, fiscal_period)
DO UPDATE SET amount = EXCLUDED.amount, currency = EXCLUDED.currency, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		b.HotelID, b.AccountID, b.FiscalYear, b.FiscalPeriod, b.Amount.Canonical(), string(b.Amount.Currency()), b.UpdatedBy, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("reports: upsert budget: %w", db.MapError(err))
	}
	return nil
}

func (r *PostgresBudgetRepository) ListYear(ctx context.Context, hotelID uuid.UUID, year int) ([]Budget, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT hotel_id, account_id, fiscal_year, fiscal_period, amount, currency, updated_by, updated_at
FROM budgets WHERE hotel_id = $1 AND fiscal_year = $2 ORDER BY fiscal_period, account_id`, hotelID, year)
	if err != nil {
		return nil, fmt.Errorf("reports: list budgets: %w", err)
	}
	defer rows.Close()
	var out []Budget
	for rows.Next() {
		var (
			b           Budget
			amount, cur string
		)
		if err := rows.Scan(&b.HotelID, &b.AccountID, &b.FiscalYear, &b.FiscalPeriod, &amount, &cur, &b.UpdatedBy, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if b.Amount, err = money.Parse(amount, money.Currency(cur)); err != nil {
			return nil, fmt.Errorf("reports: stored budget amount: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type budgetKey struct {
	hotel   uuid.UUID
	account uuid.UUID
	year    int
	period  int
}

type MemoryBudgetRepository struct {
	store *memstore.Store
	rows  *memstore.Table[budgetKey, Budget]
}

func NewMemoryBudgetRepository(store *memstore.Store) *MemoryBudgetRepository {
	return &MemoryBudgetRepository{store: store, rows: memstore.NewTable[budgetKey, Budget]()}
}

func (r *MemoryBudgetRepository) Upsert(ctx context.Context, b Budget) error {
	return r.store.Do(ctx, func(tx *memstore.Tx) error {
		r.rows.Put(tx, budgetKey{b.HotelID, b.AccountID, b.FiscalYear, b.FiscalPeriod}, b)
		return nil
	})
}

func (r *MemoryBudgetRepository) ListYear(ctx context.Context, hotelID uuid.UUID, year int) ([]Budget, error) {
	var out []Budget
	err := r.store.Do(ctx, func(*memstore.Tx) error {
		r.rows.Scan(func(k budgetKey, b Budget) bool {
			if k.hotel == hotelID && k.year == year {
				out = append(out, b)
			}
			return true
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiscalPeriod != out[j].FiscalPeriod {
			return out[i].FiscalPeriod < out[j].FiscalPeriod
		}
		return out[i].AccountID.String() < out[j].AccountID.String()
	})
	return out, err
}
