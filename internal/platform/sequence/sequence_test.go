package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
)

func TestMemorySequencePerKey(t *testing.T) {
	ctx := context.Background()
	seq := NewMemory(memstore.New())
	hotel := uuid.New()

	n, err := seq.Next(ctx, hotel, DocInvoice, 2026)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, _ = seq.Next(ctx, hotel, DocInvoice, 2026)
	require.EqualValues(t, 2, n)

	n, _ = seq.Next(ctx, hotel, DocInvoice, 2027)
	require.EqualValues(t, 1, n)
	n, _ = seq.Next(ctx, uuid.New(), DocInvoice, 2026)
	require.EqualValues(t, 1, n)
	n, _ = seq.Next(ctx, hotel, DocJournal, 2026)
	require.EqualValues(t, 1, n)
}

func TestMemorySequenceConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	seq := NewMemory(memstore.New())
	hotel := uuid.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[int64]bool{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(ctx, hotel, DocSettlement, 2026)
			require.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 50)
}

func TestMemorySequenceRollsBackWithTx(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seq := NewMemory(store)
	hotel := uuid.New()

	_ = store.WithinTx(ctx, func(ctx context.Context) error {
		_, _ = seq.Next(ctx, hotel, DocJournal, 2026)
		return errors.New("abort")
	})
	n, err := seq.Next(ctx, hotel, DocJournal, 2026)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "INV-2026-000042", Format(DocInvoice, 2026, 42))
}
