package memstore

// Table is a keyed collection whose writes are undone on rollback.
// Callers must hold the store lock, which Store.Do guarantees.
type Table[K comparable, V any] struct {
	rows map[K]V
}

// NewTable returns an empty table.
func NewTable[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{rows: make(map[K]V)}
}

// Get returns the row stored under k.
func (t *Table[K, V]) Get(k K) (V, bool) {
	v, ok := t.rows[k]
	return v, ok
}

// Put stores v under k.
func (t *Table[K, V]) Put(tx *Tx, k K, v V) {
	prev, had := t.rows[k]
	t.rows[k] = v
	tx.OnRollback(func() {
		if had {
			t.rows[k] = prev
			return
		}
		delete(t.rows, k)
	})
}

// Delete removes k.
func (t *Table[K, V]) Delete(tx *Tx, k K) {
	prev, had := t.rows[k]
	if !had {
		return
	}
	delete(t.rows, k)
	tx.OnRollback(func() { t.rows[k] = prev })
}

// Len returns the row count.
func (t *Table[K, V]) Len() int { return len(t.rows) }

// Scan visits every row until fn returns false. Order is unspecified.
func (t *Table[K, V]) Scan(fn func(K, V) bool) {
	for k, v := range t.rows {
		if !fn(k, v) {
			return
		}
	}
}
