package invoices

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Invoice, error)
	List(ctx context.Context, f ListFilter) ([]Invoice, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

type TxRepository interface {
	Insert(ctx context.Context, inv Invoice) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error)
	Update(ctx context.Context, inv Invoice) error
}

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(database *db.DB) *PostgresRepository {
	return &PostgresRepository{db: database}
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return Invoice{}, err
	}
	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invoice{}, fmt.Errorf("invoices: decode: %w", err)
	}
	return inv, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, inv Invoice) error {
	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("invoices: encode: %w", err)
	}
	_, err = r.db.Conn(ctx).Exec(ctx, `INSERT INTO invoices (id, hotel_id, number, status, customer_id, customer_name,
due_date, balance_amount, currency, journal_entry_id, doc, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.ID, inv.HotelID, inv.Number, inv.Status, inv.Customer.ID, inv.Customer.Name, inv.DueDate,
		inv.BalanceAmount.Canonical(), inv.Currency, inv.JournalEntryID, doc, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoices: insert %s: %w", inv.Number, db.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, inv Invoice) error {
	doc, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("invoices: encode: %w", err)
	}
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE invoices SET status = $2, due_date = $3, balance_amount = $4,
journal_entry_id = $5, doc = $6, updated_at = $7 WHERE id = $1`,
		inv.ID, inv.Status, inv.DueDate, inv.BalanceAmount.Canonical(), inv.JournalEntryID, doc, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoices: update %s: %w", inv.Number, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound.WithMessage("invoice %s not found", inv.ID)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return r.one(ctx, `SELECT doc FROM invoices WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return r.one(ctx, `SELECT doc FROM invoices WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (Invoice, error) {
	inv, err := scanInvoice(r.db.Conn(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("invoices: get: %w", err)
	}
	return inv, nil
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Invoice, error) {
	query := `SELECT doc FROM invoices WHERE hotel_id = $1`
	args := []any{f.HotelID}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	if !f.DueBefore.IsZero() {
		args = append(args, f.DueBefore)
		query += fmt.Sprintf(" AND due_date < $%d", len(args))
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY due_date, number LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("invoices: list: %w", err)
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type MemoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[uuid.UUID, Invoice]
}

func NewMemoryRepository(store *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: store, rows: memstore.NewTable[uuid.UUID, Invoice]()}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.store.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx, m)
	})
}

func (m *MemoryRepository) Insert(ctx context.Context, inv Invoice) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		var dup bool
		m.rows.Scan(func(_ uuid.UUID, other Invoice) bool {
			dup = other.HotelID == inv.HotelID && other.Number == inv.Number
			return !dup
		})
		if dup {
			return ErrDuplicateNumber.WithMessage("invoice %s already exists", inv.Number)
		}
		m.rows.Put(tx, inv.ID, inv.clone())
		return nil
	})
}

func (m *MemoryRepository) Update(ctx context.Context, inv Invoice) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		if _, ok := m.rows.Get(inv.ID); !ok {
			return ErrInvoiceNotFound.WithMessage("invoice %s not found", inv.ID)
		}
		m.rows.Put(tx, inv.ID, inv.clone())
		return nil
	})
}

func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	var out Invoice
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		inv, ok := m.rows.Get(id)
		if !ok {
			return ErrInvoiceNotFound.WithMessage("invoice %s not found", id)
		}
		out = inv.clone()
		return nil
	})
	return out, err
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) List(ctx context.Context, f ListFilter) ([]Invoice, error) {
	var out []Invoice
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, inv Invoice) bool {
			if f.match(inv) {
				out = append(out, inv.clone())
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].Number < out[j].Number
	})
	start, end := f.Page.Window(len(out))
	return out[start:end], nil
}
