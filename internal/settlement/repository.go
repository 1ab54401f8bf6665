package settlement

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
	Get(ctx context.Context, id uuid.UUID) (Settlement, error)
	List(ctx context.Context, f ListFilter) ([]Settlement, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository writes settlements inside a unit of work. Update succeeds only
// when the stored version still equals prev.
type TxRepository interface {
	Insert(ctx context.Context, s Settlement) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Settlement, error)
	Update(ctx context.Context, s Settlement, prev int64) error
	ActiveForBooking(ctx context.Context, hotelID uuid.UUID, bookingID string) (bool, error)
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

func scanSettlement(row pgx.Row) (Settlement, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return Settlement{}, err
	}
	var s Settlement
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settlement{}, fmt.Errorf("settlement: decode: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, s Settlement) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("settlement: encode: %w", err)
	}
	_, err = r.db.Conn(ctx).Exec(ctx, `INSERT INTO settlements (id, hotel_id, number, booking_id, status, due_date,
escalation_level, next_reminder_due, outstanding_balance, currency, version, doc, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.HotelID, s.Number, s.BookingID, s.Status, s.DueDate, s.EscalationLevel, s.NextReminderDue,
		s.OutstandingBalance.Canonical(), s.Currency, s.Version, doc, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("settlement: insert %s: %w", s.Number, db.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, s Settlement, prev int64) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("settlement: encode: %w", err)
	}
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE settlements SET status = $3, due_date = $4, escalation_level = $5,
next_reminder_due = $6, outstanding_balance = $7, version = $8, doc = $9, updated_at = $10
WHERE id = $1 AND version = $2`,
		s.ID, prev, s.Status, s.DueDate, s.EscalationLevel, s.NextReminderDue,
		s.OutstandingBalance.Canonical(), s.Version, doc, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("settlement: update %s: %w", s.Number, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion.WithMessage("settlement %s changed since version %d", s.Number, prev)
	}
	return nil
}

func (r *PostgresRepository) ActiveForBooking(ctx context.Context, hotelID uuid.UUID, bookingID string) (bool, error) {
	var n int
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT count(*) FROM settlements
WHERE hotel_id = $1 AND booking_id = $2 AND status <> $3`, hotelID, bookingID, StatusCancelled).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("settlement: booking lookup: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Settlement, error) {
	return r.one(ctx, `SELECT doc FROM settlements WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Settlement, error) {
	return r.one(ctx, `SELECT doc FROM settlements WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) one(ctx context.Context, query string, args ...any) (Settlement, error) {
	s, err := scanSettlement(r.db.Conn(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return Settlement{}, ErrSettlementNotFound
	}
	if err != nil {
		return Settlement{}, fmt.Errorf("settlement: get: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Settlement, error) {
	query := `SELECT doc FROM settlements WHERE hotel_id = $1`
	args := []any{f.HotelID}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if f.BookingID != "" {
		args = append(args, f.BookingID)
		query += fmt.Sprintf(" AND booking_id = $%d", len(args))
	}
	if f.MinEscalationLevel > 0 {
		args = append(args, f.MinEscalationLevel)
		query += fmt.Sprintf(" AND escalation_level >= $%d", len(args))
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
		return nil, fmt.Errorf("settlement: list: %w", err)
	}
	defer rows.Close()
	var out []Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type MemoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[uuid.UUID, Settlement]
}

func NewMemoryRepository(store *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: store, rows: memstore.NewTable[uuid.UUID, Settlement]()}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.store.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx, m)
	})
}

func (m *MemoryRepository) Insert(ctx context.Context, s Settlement) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		var dup bool
		m.rows.Scan(func(_ uuid.UUID, other Settlement) bool {
			dup = other.HotelID == s.HotelID && other.Number == s.Number
			return !dup
		})
		if dup {
			return ErrDuplicateNumber.WithMessage("settlement %s already exists", s.Number)
		}
		m.rows.Put(tx, s.ID, s.clone())
		return nil
	})
}

func (m *MemoryRepository) Update(ctx context.Context, s Settlement, prev int64) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		cur, ok := m.rows.Get(s.ID)
		if !ok {
			return ErrSettlementNotFound.WithMessage("settlement %s not found", s.ID)
		}
		if cur.Version != prev {
			return ErrStaleVersion.WithMessage("settlement %s changed since version %d", s.Number, prev)
		}
		m.rows.Put(tx, s.ID, s.clone())
		return nil
	})
}

func (m *MemoryRepository) ActiveForBooking(ctx context.Context, hotelID uuid.UUID, bookingID string) (bool, error) {
	var found bool
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, s Settlement) bool {
			found = s.HotelID == hotelID && s.BookingID == bookingID && s.Status != StatusCancelled
			return !found
		})
		return nil
	})
	return found, err
}

func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (Settlement, error) {
	var out Settlement
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		s, ok := m.rows.Get(id)
		if !ok {
			return ErrSettlementNotFound.WithMessage("settlement %s not found", id)
		}
		out = s.clone()
		return nil
	})
	return out, err
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Settlement, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) List(ctx context.Context, f ListFilter) ([]Settlement, error) {
	var out []Settlement
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, s Settlement) bool {
			if f.match(s) {
				out = append(out, s.clone())
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
