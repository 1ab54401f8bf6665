package journals

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

// Repository encapsulates storage for journal entries.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (JournalEntry, error)
	List(ctx context.Context, f ListFilter) ([]JournalEntry, error)
	// WithTx runs fn in a unit of work, joining the caller's when one is bound to ctx.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertJournalEntry(ctx context.Context, e JournalEntry) error
	GetJournalForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error)
	UpdateJournalEntry(ctx context.Context, e JournalEntry) error
}

const entryColumns = `id, hotel_id, number, entry_date, kind, description, ref_kind, ref_id, currency, status,
posted_at, posted_by, reversal_of_id, reversed_by_id, fiscal_year, fiscal_period, created_by, created_at, updated_at`

// PostgresRepository stores entries in journal_entries and journal_lines.
type PostgresRepository struct {
	db *db.DB
}

// NewPostgresRepository builds the pgx-backed repository.
func NewPostgresRepository(database *db.DB) *PostgresRepository {
	return &PostgresRepository{db: database}
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx, r)
	})
}

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var (
		e        JournalEntry
		number   *string
		cur      string
		postedBy *string
		fy, fp   *int
	)
	err := row.Scan(&e.ID, &e.HotelID, &number, &e.Date, &e.Kind, &e.Description, &e.RefKind, &e.RefID, &cur, &e.Status,
		&e.PostedAt, &postedBy, &e.ReversalOfID, &e.ReversedByID, &fy, &fp, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	e.Currency = money.Currency(cur)
	if number != nil {
		e.Number = *number
	}
	if postedBy != nil {
		e.PostedBy = *postedBy
	}
	if fy != nil {
		e.FiscalYear = *fy
	}
	if fp != nil {
		e.FiscalPeriod = *fp
	}
	return e, nil
}

func nullable[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

func (r *PostgresRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) error {
	conn := r.db.Conn(ctx)
	_, err := conn.Exec(ctx, `INSERT INTO journal_entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		e.ID, e.HotelID, nullable(e.Number), e.Date, e.Kind, e.Description, e.RefKind, e.RefID, string(e.Currency), e.Status,
		e.PostedAt, nullable(e.PostedBy), e.ReversalOfID, e.ReversedByID, nullable(e.FiscalYear), nullable(e.FiscalPeriod),
		e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("journals: insert entry: %w", db.MapError(err))
	}
	batch := &pgx.Batch{}
	for idx, l := range e.Lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, line_index, account_id, description, debit, credit)
VALUES ($1, $2, $3, $4, $5, $6)`, e.ID, idx, l.AccountID, l.Description, l.Debit.Canonical(), l.Credit.Canonical())
	}
	results := conn.SendBatch(ctx, batch)
	defer results.Close()
	for range e.Lines {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("journals: insert line: %w", db.MapError(err))
		}
	}
	return nil
}

func (r *PostgresRepository) GetJournalForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return r.get(ctx, id, "")
}

func (r *PostgresRepository) get(ctx context.Context, id uuid.UUID, suffix string) (JournalEntry, error) {
	e, err := scanEntry(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id = $1`+suffix, id))
	if db.IsNoRows(err) {
		return JournalEntry{}, acct.ErrJournalNotFound.WithMessage("journal %s not found", id)
	}
	if err != nil {
		return JournalEntry{}, fmt.Errorf("journals: get %s: %w", id, err)
	}
	lines, err := r.lines(ctx, []uuid.UUID{id})
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines[id]
	return e, nil
}

func (r *PostgresRepository) lines(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]JournalLine, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT l.entry_id, l.account_id, l.description, l.debit, l.credit, e.currency
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE l.entry_id = ANY($1::uuid[]) ORDER BY l.entry_id, l.line_index`, keys)
	if err != nil {
		return nil, fmt.Errorf("journals: lines: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID][]JournalLine, len(ids))
	for rows.Next() {
		var (
			entryID       uuid.UUID
			l             JournalLine
			debit, credit string
			cur           string
		)
		if err := rows.Scan(&entryID, &l.AccountID, &l.Description, &debit, &credit, &cur); err != nil {
			return nil, err
		}
		if l.Debit, err = money.Parse(debit, money.Currency(cur)); err != nil {
			return nil, err
		}
		if l.Credit, err = money.Parse(credit, money.Currency(cur)); err != nil {
			return nil, err
		}
		out[entryID] = append(out[entryID], l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateJournalEntry(ctx context.Context, e JournalEntry) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE journal_entries SET number = $2, entry_date = $3, status = $4, posted_at = $5,
posted_by = $6, reversed_by_id = $7, fiscal_year = $8, fiscal_period = $9, updated_at = $10 WHERE id = $1`,
		e.ID, nullable(e.Number), e.Date, e.Status, e.PostedAt, nullable(e.PostedBy), e.ReversedByID,
		nullable(e.FiscalYear), nullable(e.FiscalPeriod), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("journals: update %s: %w", e.ID, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return acct.ErrJournalNotFound.WithMessage("journal %s not found", e.ID)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE hotel_id = $1`
	args := []any{f.HotelID}
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if !f.From.IsZero() {
		add("entry_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("entry_date <= $%d", f.To)
	}
	if f.RefKind != "" {
		add("ref_kind = $%d", f.RefKind)
	}
	if f.RefID != "" {
		add("ref_id = $%d", f.RefID)
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY entry_date DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journals: list: %w", err)
	}
	var (
		out []JournalEntry
		ids []uuid.UUID
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
		ids = append(ids, e.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// MemoryRepository keeps entries in a memstore table.
type MemoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[uuid.UUID, JournalEntry]
}

// NewMemoryRepository builds an in-process repository sharing store's transactions.
func NewMemoryRepository(store *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: store, rows: memstore.NewTable[uuid.UUID, JournalEntry]()}
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.store.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx, m)
	})
}

func (m *MemoryRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		if _, ok := m.rows.Get(e.ID); ok {
			return acct.ErrSourceConflict.WithMessage("journal %s already exists", e.ID)
		}
		m.rows.Put(tx, e.ID, e.clone())
		return nil
	})
}

func (m *MemoryRepository) GetJournalForUpdate(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	return m.Get(ctx, id)
}

func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	var out JournalEntry
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		e, ok := m.rows.Get(id)
		if !ok {
			return acct.ErrJournalNotFound.WithMessage("journal %s not found", id)
		}
		out = e.clone()
		return nil
	})
	return out, err
}

func (m *MemoryRepository) UpdateJournalEntry(ctx context.Context, e JournalEntry) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		if _, ok := m.rows.Get(e.ID); !ok {
			return acct.ErrJournalNotFound.WithMessage("journal %s not found", e.ID)
		}
		if e.Number != "" {
			var dup bool
			m.rows.Scan(func(id uuid.UUID, other JournalEntry) bool {
				dup = id != e.ID && other.HotelID == e.HotelID && other.Number == e.Number
				return !dup
			})
			if dup {
				return acct.ErrSourceConflict.WithMessage("journal number %s already used", e.Number)
			}
		}
		m.rows.Put(tx, e.ID, e.clone())
		return nil
	})
}

func (m *MemoryRepository) List(ctx context.Context, f ListFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, e JournalEntry) bool {
			if f.match(e) {
				out = append(out, e.clone())
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	start, end := f.Page.Window(len(out))
	return out[start:end], nil
}
