package payments

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
	Get(ctx context.Context, id uuid.UUID) (Payment, error)
	GetByIdempotencyKey(ctx context.Context, hotelID uuid.UUID, key string) (Payment, error)
	List(ctx context.Context, f ListFilter) ([]Payment, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

type TxRepository interface {
	Insert(ctx context.Context, p Payment) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Payment, error)
	Update(ctx context.Context, p Payment) error
}

// PostgresRepository keeps the payment document in payments.doc and mirrors
// the filterable fields into columns.
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

func scanPayment(row pgx.Row) (Payment, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return Payment{}, err
	}
	var p Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payment{}, fmt.Errorf("payments: decode: %w", err)
	}
	return p, nil
}

func idempotencyKey(p Payment) *string {
	if p.IdempotencyKey == "" {
		return nil
	}
	return &p.IdempotencyKey
}

func (r *PostgresRepository) Insert(ctx context.Context, p Payment) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("payments: encode: %w", err)
	}
	_, err = r.db.Conn(ctx).Exec(ctx, `INSERT INTO payments (id, hotel_id, number, type, method, status, invoice_id,
idempotency_key, reconciled, journal_entry_id, doc, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.HotelID, p.Number, p.Type, p.Method, p.Status, p.InvoiceID, idempotencyKey(p), p.Reconciled,
		p.JournalEntryID, doc, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payments: insert %s: %w", p.Number, db.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, p Payment) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("payments: encode: %w", err)
	}
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE payments SET status = $2, reconciled = $3, journal_entry_id = $4, doc = $5,
idempotency_key = $6, updated_at = $7 WHERE id = $1`, p.ID, p.Status, p.Reconciled, p.JournalEntryID, doc, idempotencyKey(p), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payments: update %s: %w", p.ID, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound.WithMessage("payment %s not found", p.ID)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	return r.one(ctx, `SELECT doc FROM payments WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Payment, error) {
	return r.one(ctx, `SELECT doc FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) GetByIdempotencyKey(ctx context.Context, hotelID uuid.UUID, key string) (Payment, error) {
	return r.one(ctx, `SELECT doc FROM payments WHERE hotel_id = $1 AND idempotency_key = $2`, hotelID, key)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (Payment, error) {
	p, err := scanPayment(r.db.Conn(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return Payment{}, ErrPaymentNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: get: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	query := `SELECT doc FROM payments WHERE hotel_id = $1`
	args := []any{f.HotelID}
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.InvoiceID != nil {
		add("invoice_id = $%d", *f.InvoiceID)
	}
	if f.Reconciled != nil {
		add("reconciled = $%d", *f.Reconciled)
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payments: list: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type MemoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[uuid.UUID, Payment]
}

func NewMemoryRepository(store *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: store, rows: memstore.NewTable[uuid.UUID, Payment]()}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.store.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx, m)
	})
}

func (m *MemoryRepository) Insert(ctx context.Context, p Payment) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		var dup bool
		m.rows.Scan(func(_ uuid.UUID, other Payment) bool {
			dup = other.HotelID == p.HotelID && (other.Number == p.Number ||
				(p.IdempotencyKey != "" && other.IdempotencyKey == p.IdempotencyKey))
			return !dup
		})
		if dup {
			return ErrDuplicateNumber.WithMessage("payment %s already exists", p.Number)
		}
		m.rows.Put(tx, p.ID, p.clone())
		return nil
	})
}

func (m *MemoryRepository) Update(ctx context.Context, p Payment) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		if _, ok := m.rows.Get(p.ID); !ok {
			return ErrPaymentNotFound.WithMessage("payment %s not found", p.ID)
		}
		m.rows.Put(tx, p.ID, p.clone())
		return nil
	})
}

func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (Payment, error) {
	var out Payment
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		p, ok := m.rows.Get(id)
		if !ok {
			return ErrPaymentNotFound.WithMessage("payment %s not found", id)
		}
		out = p.clone()
		return nil
	})
	return out, err
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Payment, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) GetByIdempotencyKey(ctx context.Context, hotelID uuid.UUID, key string) (Payment, error) {
	var (
		out   Payment
		found bool
	)
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, p Payment) bool {
			if p.HotelID == hotelID && p.IdempotencyKey == key {
				out, found = p.clone(), true
			}
			return !found
		})
		if !found {
			return ErrPaymentNotFound
		}
		return nil
	})
	return out, err
}

func (m *MemoryRepository) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	var out []Payment
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, p Payment) bool {
			if f.match(p) {
				out = append(out, p.clone())
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	start, end := f.Page.Window(len(out))
	return out[start:end], nil
}
