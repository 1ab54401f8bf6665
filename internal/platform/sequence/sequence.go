// Package sequence issues gap-tolerant monotonic document numbers per (hotel, document type, year).
package sequence

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

// Document types.
const (
	DocJournal    = "JE"
	DocInvoice    = "INV"
	DocPayment    = "PAY"
	DocSettlement = "STL"
)

// Sequencer hands out the next number. Calls made inside a transaction are
// rolled back with it.
type Sequencer interface {
	Next(ctx context.Context, hotelID uuid.UUID, docType string, year int) (int64, error)
}

// Format renders numbers such as INV-2026-000042.
func Format(docType string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%06d", docType, year, n)
}

// Postgres keeps counters in document_counters.
type Postgres struct {
	db *db.DB
}

// NewPostgres builds the postgres sequencer.
func NewPostgres(database *db.DB) *Postgres {
	return &Postgres{db: database}
}

func (p *Postgres) Next(ctx context.Context, hotelID uuid.UUID, docType string, year int) (int64, error) {
	var value int64
	err := p.db.Conn(ctx).QueryRow(ctx, `INSERT INTO document_counters (hotel_id, doc_type, year, value)
VALUES ($1, $2, $3, 1)
ON CONFLICT (hotel_id, doc_type, year) DO UPDATE SET value = document_counters.value + 1
RETURNING value`, hotelID, docType, year).Scan(&value)
	if err != nil {
		return 0, db.MapError(fmt.Errorf("sequence: next %s/%d: %w", docType, year, err))
	}
	return value, nil
}

type counterKey struct {
	hotel   uuid.UUID
	docType string
	year    int
}

// Memory keeps counters in a memstore table.
type Memory struct {
	store    *memstore.Store
	counters *memstore.Table[counterKey, int64]
}

// NewMemory builds an in-process sequencer sharing store's transactions.
func NewMemory(store *memstore.Store) *Memory {
	return &Memory{store: store, counters: memstore.NewTable[counterKey, int64]()}
}

func (m *Memory) Next(ctx context.Context, hotelID uuid.UUID, docType string, year int) (int64, error) {
	var value int64
	err := m.store.Do(ctx, func(tx *memstore.Tx) error {
		key := counterKey{hotel: hotelID, docType: docType, year: year}
		current, _ := m.counters.Get(key)
		value = current + 1
		m.counters.Put(tx, key, value)
		return nil
	})
	return value, err
}
