// Package accountingtest wires the accounting core over the in-memory store
// for tests of the packages that post to the ledger.
package accountingtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/accounting/mappings"
	"github.com/lodgeledger/lodgeledger/internal/accounting/periods"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Env is a seeded hotel with a working posting path.
type Env struct {
	Store    *memstore.Store
	Clock    *clock.Mock
	Audit    *shared.MemoryAuditLog
	Accounts *accounts.Service
	Mappings *mappings.Service
	Journals *journals.Service
	Ledger   *ledger.Ledger
	Periods  *periods.Service
	Sequence sequence.Sequencer
	Hotel    uuid.UUID
	Manager  shared.UserContext
	Staff    shared.UserContext
}

// New seeds the chart of accounts for a fresh hotel. The clock starts at now.
func New(t testing.TB, now time.Time) *Env {
	t.Helper()
	store := memstore.New()
	clk := clock.NewMock(now)
	audit := shared.NewMemoryAuditLog().JoinTx(store)
	accountRepo := accounts.NewMemoryRepository(store)
	accountSvc := accounts.NewService(accountRepo, store, audit, clk, money.INR)
	cal, err := periods.NewCalendar(4)
	require.NoError(t, err)
	periodSvc := periods.NewService(periods.NewMemoryRepository(store), cal, audit, clk)
	ldg := ledger.New(ledger.NewMemoryStore(store), money.INR)
	seq := sequence.NewMemory(store)
	journalSvc := journals.NewService(journals.NewMemoryRepository(store), accountRepo, ldg, periodSvc, seq, audit, clk)

	hotel := uuid.New()
	manager := shared.UserContext{UserID: "mgr-1", Name: "Meera", Role: shared.RoleManager, HotelID: hotel}
	_, err = accountSvc.Seed(context.Background(), manager, hotel)
	require.NoError(t, err)

	return &Env{
		Store:    store,
		Clock:    clk,
		Audit:    audit,
		Accounts: accountSvc,
		Mappings: mappings.NewService(mappings.NewMemoryRepository(store), accountSvc, clk),
		Journals: journalSvc,
		Ledger:   ldg,
		Periods:  periodSvc,
		Sequence: seq,
		Hotel:    hotel,
		Manager:  manager,
		Staff:    shared.UserContext{UserID: "staff-1", Name: "Ravi", Role: shared.RoleStaff, HotelID: hotel},
	}
}

// Account returns the seeded account with code.
func (e *Env) Account(t testing.TB, code string) accounts.Account {
	t.Helper()
	acc, err := e.Accounts.GetByCode(context.Background(), e.Hotel, code)
	require.NoError(t, err)
	return acc
}

// Balance returns the cached balance of code, in its normal-side sign.
func (e *Env) Balance(t testing.TB, code string) money.Money {
	t.Helper()
	return e.Account(t, code).CurrentBalance
}

// INR is shorthand for whole rupees.
func INR(v int64) money.Money { return money.FromInt(v, money.INR) }
