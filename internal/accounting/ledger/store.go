package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
)

// Store is the persistence port. Writes must run inside the caller's transaction.
type Store interface {
	// Append stores rec and assigns its Sequence.
	Append(ctx context.Context, rec Record) (Record, error)
	// LastOnOrBefore returns the latest record of the account dated on or before date.
	LastOnOrBefore(ctx context.Context, accountID uuid.UUID, date time.Time) (Record, bool, error)
	// ShiftAfter adds delta to the running balance of every record of the account dated after date.
	ShiftAfter(ctx context.Context, accountID uuid.UUID, date time.Time, delta money.Money) (int64, error)
	// Page returns up to limit records matching f after the cursor, in (date, sequence) order.
	Page(ctx context.Context, f Filter, after Cursor, limit int) ([]Record, error)
	// Totals sums base-currency sides per account.
	Totals(ctx context.Context, f Filter) (map[uuid.UUID]Totals, error)
}
