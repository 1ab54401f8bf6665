// Package memstore is an in-process store with rollback-capable transactions.
// It backs the memory repositories used in development and tests.
package memstore

import (
	"context"
	"sync"
)

// Store serialises all access behind one lock; a transaction holds it for its whole duration.
type Store struct {
	mu sync.Mutex
}

// Tx collects undo actions for the running unit of work.
type Tx struct {
	undo []func()
}

// OnRollback registers fn to run if the unit of work fails.
func (t *Tx) OnRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *Tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

type ctxKey struct{ s *Store }

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// WithinTx runs fn atomically; nested calls join the outer transaction.
// Cancellation observed before commit rolls the work back.
func (s *Store) WithinTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(ctxKey{s}).(*Tx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{}
	err := fn(context.WithValue(ctx, ctxKey{s}, tx))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// OnRollback registers fn with the transaction carried by ctx. It reports
// false when ctx has none.
func (s *Store) OnRollback(ctx context.Context, fn func()) bool {
	tx, ok := ctx.Value(ctxKey{s}).(*Tx)
	if ok {
		tx.OnRollback(fn)
	}
	return ok
}

// Do runs fn with the caller's transaction, or an implicit one.
func (s *Store) Do(ctx context.Context, fn func(*Tx) error) error {
	if tx, ok := ctx.Value(ctxKey{s}).(*Tx); ok {
		return fn(tx)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(ctxKey{s}).(*Tx))
	})
}
