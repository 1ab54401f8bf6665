package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Repository persists accounts. LockForPosting and UpdateBalance are only
// meaningful inside a transaction.
type Repository interface {
	Insert(ctx context.Context, a Account) error
	Update(ctx context.Context, a Account) error
	Get(ctx context.Context, id uuid.UUID) (Account, error)
	GetByCode(ctx context.Context, hotelID uuid.UUID, code string) (Account, error)
	List(ctx context.Context, f ListFilter) ([]Account, error)
	// LockForPosting loads and locks accounts in ascending id order.
	LockForPosting(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Account, error)
	// UpdateBalance writes the cached balance when the stored version still equals expectedVersion.
	UpdateBalance(ctx context.Context, id uuid.UUID, balance money.Money, expectedVersion int64, at time.Time) error
	Hotels(ctx context.Context) ([]uuid.UUID, error)
}

const accountColumns = `id, hotel_id, code, name, kind, sub_type, normal_side, parent_id, is_active, currency, current_balance, balance_version, created_at, updated_at`

// PostgresRepository stores accounts in the accounts table.
type PostgresRepository struct {
	db *db.DB
}

// NewPostgresRepository builds the pgx-backed repository.
func NewPostgresRepository(database *db.DB) *PostgresRepository {
	return &PostgresRepository{db: database}
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a       Account
		balance string
		cur     string
	)
	err := row.Scan(&a.ID, &a.HotelID, &a.Code, &a.Name, &a.Kind, &a.SubType, &a.NormalSide, &a.ParentID,
		&a.IsActive, &cur, &balance, &a.BalanceVersion, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	a.Currency = money.Currency(cur)
	a.CurrentBalance, err = money.Parse(balance, a.Currency)
	if err != nil {
		return Account{}, fmt.Errorf("accounts: stored balance of %s: %w", a.Code, err)
	}
	return a, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, a Account) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.HotelID, a.Code, a.Name, a.Kind, a.SubType, a.NormalSide, a.ParentID, a.IsActive,
		string(a.Currency), a.CurrentBalance.Canonical(), a.BalanceVersion, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		err = db.MapError(err)
		if errors.Is(err, shared.ErrConflict) {
			return ErrDuplicateCode.WithMessage("account code %s already exists", a.Code).Wrap(err)
		}
		return fmt.Errorf("accounts: insert %s: %w", a.Code, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, a Account) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE accounts SET name = $2, sub_type = $3, parent_id = $4, is_active = $5, updated_at = $6 WHERE id = $1`,
		a.ID, a.Name, a.SubType, a.ParentID, a.IsActive, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("accounts: update %s: %w", a.ID, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	a, err := scanAccount(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *PostgresRepository) GetByCode(ctx context.Context, hotelID uuid.UUID, code string) (Account, error) {
	a, err := scanAccount(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE hotel_id = $1 AND code = $2`, hotelID, code))
	if db.IsNoRows(err) {
		return Account{}, ErrAccountNotFound.WithMessage("account %s not found", code)
	}
	return a, err
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE hotel_id = $1`
	args := []any{f.HotelID}
	if f.Kind != "" {
		args = append(args, f.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY code"
	return r.query(ctx, query, args...)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("accounts: query: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LockForPosting(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Account, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		keys = append(keys, id.String())
	}
	list, err := r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]Account, len(list))
	for _, a := range list {
		out[a.ID] = a
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, ErrAccountNotFound.WithMessage("account %s not found", id)
		}
	}
	return out, nil
}

func (r *PostgresRepository) UpdateBalance(ctx context.Context, id uuid.UUID, balance money.Money, expectedVersion int64, at time.Time) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE accounts SET current_balance = $2, balance_version = balance_version + 1, updated_at = $4
WHERE id = $1 AND balance_version = $3`, id, balance.Canonical(), expectedVersion, at)
	if err != nil {
		return fmt.Errorf("accounts: update balance %s: %w", id, db.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceVersion
	}
	return nil
}

func (r *PostgresRepository) Hotels(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT DISTINCT hotel_id FROM accounts ORDER BY hotel_id`)
	if err != nil {
		return nil, fmt.Errorf("accounts: hotels: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// MemoryRepository keeps accounts in a memstore table.
type MemoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[uuid.UUID, Account]
}

// NewMemoryRepository builds an in-process repository sharing store's transactions.
func NewMemoryRepository(store *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: store, rows: memstore.NewTable[uuid.UUID, Account]()}
}

func (m *MemoryRepository) Insert(ctx context.Context, a Account) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		if _, ok := m.rows.Get(a.ID); ok {
			return ErrDuplicateCode.WithMessage("account %s already exists", a.ID)
		}
		if _, ok := m.byCode(a.HotelID, a.Code); ok {
			return ErrDuplicateCode.WithMessage("account code %s already exists", a.Code)
		}
		m.rows.Put(tx, a.ID, a.clone())
		return nil
	})
}

func (m *MemoryRepository) Update(ctx context.Context, a Account) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		cur, ok := m.rows.Get(a.ID)
		if !ok {
			return ErrAccountNotFound
		}
		cur.Name, cur.SubType, cur.ParentID, cur.IsActive, cur.UpdatedAt = a.Name, a.SubType, a.ParentID, a.IsActive, a.UpdatedAt
		m.rows.Put(tx, a.ID, cur.clone())
		return nil
	})
}

func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	var out Account
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		a, ok := m.rows.Get(id)
		if !ok {
			return ErrAccountNotFound
		}
		out = a.clone()
		return nil
	})
	return out, err
}

func (m *MemoryRepository) byCode(hotelID uuid.UUID, code string) (Account, bool) {
	var (
		found Account
		ok    bool
	)
	m.rows.Scan(func(_ uuid.UUID, a Account) bool {
		if a.HotelID == hotelID && a.Code == code {
			found, ok = a.clone(), true
			return false
		}
		return true
	})
	return found, ok
}

func (m *MemoryRepository) GetByCode(ctx context.Context, hotelID uuid.UUID, code string) (Account, error) {
	var out Account
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		a, ok := m.byCode(hotelID, code)
		if !ok {
			return ErrAccountNotFound.WithMessage("account %s not found", code)
		}
		out = a
		return nil
	})
	return out, err
}

func (m *MemoryRepository) List(ctx context.Context, f ListFilter) ([]Account, error) {
	var out []Account
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, a Account) bool {
			if a.HotelID != f.HotelID || (f.Kind != "" && a.Kind != f.Kind) || (f.ActiveOnly && !a.IsActive) {
				return true
			}
			out = append(out, a.clone())
			return true
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

func (m *MemoryRepository) LockForPosting(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Account, error) {
	out := make(map[uuid.UUID]Account, len(ids))
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		for _, id := range sortedIDs(ids) {
			a, ok := m.rows.Get(id)
			if !ok {
				return ErrAccountNotFound.WithMessage("account %s not found", id)
			}
			out[id] = a.clone()
		}
		return nil
	})
	return out, err
}

func (m *MemoryRepository) UpdateBalance(ctx context.Context, id uuid.UUID, balance money.Money, expectedVersion int64, at time.Time) error {
	return m.store.Do(ctx, func(tx *memstore.Tx) error {
		a, ok := m.rows.Get(id)
		if !ok {
			return ErrAccountNotFound
		}
		if a.BalanceVersion != expectedVersion {
			return ErrBalanceVersion
		}
		a.CurrentBalance = balance
		a.BalanceVersion++
		a.UpdatedAt = at
		m.rows.Put(tx, id, a)
		return nil
	})
}

func (m *MemoryRepository) Hotels(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, a Account) bool {
			seen[a.HotelID] = struct{}{}
			return true
		})
		return nil
	})
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return sortedIDs(out), err
}
