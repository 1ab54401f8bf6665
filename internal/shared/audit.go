package shared

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  string
	HotelID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (l AuditLog) validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// Execer runs a statement on a pool or a transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ConnFunc resolves the connection for ctx, preferring the transaction it carries.
type ConnFunc func(ctx context.Context) Execer

// AuditLogger writes records into audit_logs on the caller's unit of work, so
// a rolled back change leaves no audit row behind.
type AuditLogger struct {
	conn ConnFunc
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(conn ConnFunc) *AuditLogger {
	return &AuditLogger{conn: conn}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.conn == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.conn(ctx).Exec(ctx, `INSERT INTO audit_logs (actor_id, hotel_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.ActorID, log.HotelID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// UndoRegistry queues work to undo if the unit of work carried by ctx rolls back.
// It reports false when ctx carries none.
type UndoRegistry interface {
	OnRollback(ctx context.Context, fn func()) bool
}

type memoryEntry struct {
	seq uint64
	log AuditLog
}

// MemoryAuditLog keeps audit records in memory.
type MemoryAuditLog struct {
	mu   sync.Mutex
	seq  uint64
	logs []memoryEntry
	undo UndoRegistry
}

// NewMemoryAuditLog returns an empty in-memory audit trail.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// JoinTx drops records written inside a unit of work that later rolls back.
func (m *MemoryAuditLog) JoinTx(undo UndoRegistry) *MemoryAuditLog {
	m.undo = undo
	return m
}

func (m *MemoryAuditLog) Record(ctx context.Context, log AuditLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.logs = append(m.logs, memoryEntry{seq: seq, log: log})
	m.mu.Unlock()
	if m.undo != nil {
		m.undo.OnRollback(ctx, func() { m.drop(seq) })
	}
	return nil
}

func (m *MemoryAuditLog) drop(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.logs {
		if e.seq == seq {
			m.logs = append(m.logs[:i], m.logs[i+1:]...)
			return
		}
	}
}

// Entries returns a copy of the recorded logs, optionally filtered by action.
func (m *MemoryAuditLog) Entries(action string) []AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditLog, 0, len(m.logs))
	for _, e := range m.logs {
		if action == "" || e.log.Action == action {
			out = append(out, e.log)
		}
	}
	return out
}
