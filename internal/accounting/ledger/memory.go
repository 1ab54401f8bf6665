package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

// MemoryStore keeps records in a memstore table.
type MemoryStore struct {
	store *memstore.Store
	rows  *memstore.Table[uuid.UUID, Record]
	seq   *memstore.Table[struct{}, int64]
}

func NewMemoryStore(store *memstore.Store) *MemoryStore {
	return &MemoryStore{
		store: store,
		rows:  memstore.NewTable[uuid.UUID, Record](),
		seq:   memstore.NewTable[struct{}, int64](),
	}
}

func (m *MemoryStore) Append(ctx context.Context, rec Record) (Record, error) {
	err := m.store.Do(ctx, func(tx *memstore.Tx) error {
		next, _ := m.seq.Get(struct{}{})
		next++
		m.seq.Put(tx, struct{}{}, next)
		rec.Sequence = next
		m.rows.Put(tx, rec.ID, rec)
		return nil
	})
	return rec, err
}

func (m *MemoryStore) LastOnOrBefore(ctx context.Context, accountID uuid.UUID, date time.Time) (Record, bool, error) {
	var (
		last  Record
		found bool
	)
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, r Record) bool {
			if r.AccountID != accountID || r.Date.After(date) {
				return true
			}
			if !found || less(last, r) {
				last, found = r, true
			}
			return true
		})
		return nil
	})
	return last, found, err
}

func (m *MemoryStore) ShiftAfter(ctx context.Context, accountID uuid.UUID, date time.Time, delta money.Money) (int64, error) {
	var n int64
	err := m.store.Do(ctx, func(tx *memstore.Tx) error {
		var shifted []Record
		m.rows.Scan(func(_ uuid.UUID, r Record) bool {
			if r.AccountID == accountID && r.Date.After(date) {
				shifted = append(shifted, r)
			}
			return true
		})
		for _, r := range shifted {
			r.RunningBalance = r.RunningBalance.Add(delta)
			m.rows.Put(tx, r.ID, r)
		}
		n = int64(len(shifted))
		return nil
	})
	return n, err
}

func (m *MemoryStore) Page(ctx context.Context, f Filter, after Cursor, limit int) ([]Record, error) {
	var out []Record
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, r Record) bool {
			if f.match(r) && after.before(r) {
				out = append(out, r)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Totals(ctx context.Context, f Filter) (map[uuid.UUID]Totals, error) {
	out := make(map[uuid.UUID]Totals)
	err := m.store.Do(ctx, func(*memstore.Tx) error {
		m.rows.Scan(func(_ uuid.UUID, r Record) bool {
			if f.match(r) {
				out[r.AccountID] = out[r.AccountID].Add(r)
			}
			return true
		})
		return nil
	})
	return out, err
}
