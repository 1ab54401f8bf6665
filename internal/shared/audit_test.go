package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type undoKey struct{}

// undoLog is a unit of work carried by ctx that records undo functions.
type undoLog struct{ undo []func() }

func (undoLog) OnRollback(ctx context.Context, fn func()) bool {
	u, ok := ctx.Value(undoKey{}).(*undoLog)
	if ok {
		u.undo = append(u.undo, fn)
	}
	return ok
}

func (u *undoLog) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
}

func TestMemoryAuditLogDropsRolledBackRecords(t *testing.T) {
	trail := NewMemoryAuditLog().JoinTx(undoLog{})
	bg := context.Background()

	require.NoError(t, trail.Record(bg, AuditLog{Action: "journal.post", Entity: "journal_entry", EntityID: "j1"}))

	tx := &undoLog{}
	ctx := context.WithValue(bg, undoKey{}, tx)
	require.NoError(t, trail.Record(ctx, AuditLog{Action: "settlement.payment", Entity: "settlement", EntityID: "s1"}))
	require.NoError(t, trail.Record(bg, AuditLog{Action: "journal.post", Entity: "journal_entry", EntityID: "j2"}))
	require.Len(t, trail.Entries(""), 3)

	tx.rollback()
	logs := trail.Entries("")
	require.Len(t, logs, 2)
	require.Equal(t, "j1", logs[0].EntityID)
	require.Equal(t, "j2", logs[1].EntityID)
	require.Empty(t, trail.Entries("settlement.payment"))
}

func TestAuditRecordRequiresEntity(t *testing.T) {
	trail := NewMemoryAuditLog()
	require.Error(t, trail.Record(context.Background(), AuditLog{Action: "journal.post"}))
	require.Error(t, NewAuditLogger(nil).Record(context.Background(), AuditLog{Action: "a", Entity: "e", EntityID: "1"}))
}
