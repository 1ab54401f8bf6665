package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRollbackRestoresRows(t *testing.T) {
	s := New()
	tbl := NewTable[string, int]()
	ctx := context.Background()

	require.NoError(t, s.Do(ctx, func(tx *Tx) error {
		tbl.Put(tx, "a", 1)
		return nil
	}))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.Do(ctx, func(tx *Tx) error {
			tbl.Put(tx, "a", 2)
			tbl.Put(tx, "b", 3)
			tbl.Delete(tx, "a")
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	v, ok := tbl.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	_, ok = tbl.Get("b")
	require.False(t, ok)
}

func TestOnRollbackRunsOnlyOnFailure(t *testing.T) {
	s := New()
	ctx := context.Background()
	var undone []string

	require.False(t, s.OnRollback(ctx, func() { undone = append(undone, "outside") }))

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context) error {
		require.True(t, s.OnRollback(ctx, func() { undone = append(undone, "committed") }))
		return nil
	}))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		s.OnRollback(ctx, func() { undone = append(undone, "first") })
		s.OnRollback(ctx, func() { undone = append(undone, "second") })
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"second", "first"}, undone)
}

func TestCancelledContextRollsBack(t *testing.T) {
	s := New()
	tbl := NewTable[string, int]()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.Do(ctx, func(tx *Tx) error {
			tbl.Put(tx, "x", 1)
			cancel()
			return nil
		})
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, tbl.Len())
}
