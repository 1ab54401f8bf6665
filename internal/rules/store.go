package rules

import "sync/atomic"

// Store holds the active Engine. Readers never block; Replace swaps the
// whole configuration at once.
type Store struct {
	current atomic.Pointer[Engine]
}

// NewStore starts from t.
func NewStore(t Thresholds) (*Store, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(New(t))
	return s, nil
}

// Engine returns the active engine.
func (s *Store) Engine() *Engine { return s.current.Load() }

// Replace installs a new configuration.
func (s *Store) Replace(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.current.Store(New(t))
	return nil
}

// ApplyOverrides layers JSON overrides on the active configuration.
func (s *Store) ApplyOverrides(raw []byte) error {
	next, err := s.Engine().Thresholds().WithOverrides(raw)
	if err != nil {
		return err
	}
	s.current.Store(New(next))
	return nil
}
