package mappings

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

type Repository interface {
	Get(ctx context.Context, hotelID uuid.UUID, module, key string) (AccountMapping, error)
	Upsert(ctx context.Context, m AccountMapping) error
	List(ctx context.Context, hotelID uuid.UUID) ([]AccountMapping, error)
}

type PostgresRepository struct {
	db *db.DB
}

func NewPostgresRepository(database *db.DB) *PostgresRepository {
	return &PostgresRepository{db: database}
}

// Get resolves an account mapping for the specified key.
func (r *PostgresRepository) Get(ctx context.Context, hotelID uuid.UUID, module, key string) (AccountMapping, error) {
	var m AccountMapping
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT hotel_id, module, key, account_code, updated_at FROM account_mappings WHERE hotel_id=$1 AND module=$2 AND key=$3`,
		hotelID, module, key).Scan(&m.HotelID, &m.Module, &m.Key, &m.AccountCode, &m.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return AccountMapping{}, acct.ErrMappingNotFound
		}
		return AccountMapping{}, fmt.Errorf("mappings: get %s/%s: %w", module, key, err)
	}
	return m, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, m AccountMapping) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `INSERT INTO account_mappings (hotel_id, module, key, account_code, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (hotel_id, module, key) DO UPDATE SET account_code = EXCLUDED.account_code, updated_at = EXCLUDED.updated_at`,
		m.HotelID, m.Module, m.Key, m.AccountCode, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("mappings: upsert %s/%s: %w", m.Module, m.Key, db.MapError(err))
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, hotelID uuid.UUID) ([]AccountMapping, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT hotel_id, module, key, account_code, updated_at FROM account_mappings WHERE hotel_id=$1 ORDER BY module, key`, hotelID)
	if err != nil {
		return nil, fmt.Errorf("mappings: list: %w", err)
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.HotelID, &m.Module, &m.Key, &m.AccountCode, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type mappingKey struct {
	hotel  uuid.UUID
	module string
	key    string
}

type MemoryRepository struct {
	store *memstore.Store
	rows  *memstore.Table[mappingKey, AccountMapping]
}

func NewMemoryRepository(store *memstore.Store) *MemoryRepository {
	return &MemoryRepository{store: store, rows: memstore.NewTable[mappingKey, AccountMapping]()}
}

func (r *MemoryRepository) Get(ctx context.Context, hotelID uuid.UUID, module, key string) (AccountMapping, error) {
	var out AccountMapping
	err := r.store.Do(ctx, func(*memstore.Tx) error {
		m, ok := r.rows.Get(mappingKey{hotelID, module, key})
		if !ok {
			return acct.ErrMappingNotFound
		}
		out = m
		return nil
	})
	return out, err
}

func (r *MemoryRepository) Upsert(ctx context.Context, m AccountMapping) error {
	return r.store.Do(ctx, func(tx *memstore.Tx) error {
		r.rows.Put(tx, mappingKey{m.HotelID, m.Module, m.Key}, m)
		return nil
	})
}

func (r *MemoryRepository) List(ctx context.Context, hotelID uuid.UUID) ([]AccountMapping, error) {
	var out []AccountMapping
	err := r.store.Do(ctx, func(*memstore.Tx) error {
		r.rows.Scan(func(k mappingKey, m AccountMapping) bool {
			if k.hotel == hotelID {
				out = append(out, m)
			}
			return true
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Key < out[j].Key
	})
	return out, err
}
