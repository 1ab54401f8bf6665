package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/accounting/periods"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func TestRunDetectsAndRepairsDrift(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	clk := clock.NewMock(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC))
	accountRepo := accounts.NewMemoryRepository(store)
	accountSvc := accounts.NewService(accountRepo, store, nil, clk, money.INR)
	cal, err := periods.NewCalendar(4)
	require.NoError(t, err)
	periodSvc := periods.NewService(periods.NewMemoryRepository(store), cal, nil, clk)
	ldg := ledger.New(ledger.NewMemoryStore(store), money.INR)
	journalSvc := journals.NewService(journals.NewMemoryRepository(store), accountRepo, ldg, periodSvc, sequence.NewMemory(store), nil, clk)

	hotel := uuid.New()
	user := shared.SystemUser(hotel)
	_, err = accountSvc.Seed(ctx, user, hotel)
	require.NoError(t, err)
	cash, err := accountSvc.GetByCode(ctx, hotel, accounts.CodeCashOnHand)
	require.NoError(t, err)
	revenue, err := accountSvc.GetByCode(ctx, hotel, accounts.CodeRoomRevenue)
	require.NoError(t, err)

	_, err = journalSvc.Emit(ctx, user, journals.DraftInput{
		HotelID:     hotel,
		Description: "Night audit",
		Lines: []journals.LineInput{
			{AccountID: cash.ID, Debit: money.FromInt(4200, money.INR)},
			{AccountID: revenue.ID, Credit: money.FromInt(4200, money.INR)},
		},
	})
	require.NoError(t, err)

	svc := NewService(accountRepo, ldg, store, clk, nil)
	clean, err := svc.Run(ctx, hotel, false)
	require.NoError(t, err)
	require.True(t, clean.Clean())
	require.True(t, clean.TotalDebit.Eq(money.FromInt(4200, money.INR)))

	cash, err = accountSvc.Get(ctx, cash.ID)
	require.NoError(t, err)
	require.NoError(t, accountRepo.UpdateBalance(ctx, cash.ID, money.FromInt(4000, money.INR), cash.BalanceVersion, clk.Now()))

	found, err := svc.Run(ctx, hotel, false)
	require.NoError(t, err)
	require.Len(t, found.Drifts, 1)
	require.Equal(t, accounts.CodeCashOnHand, found.Drifts[0].Code)
	require.True(t, found.Drifts[0].Difference.Eq(money.FromInt(-200, money.INR)))
	require.False(t, found.Drifts[0].Repaired)
	require.True(t, found.Balanced)

	repaired, err := svc.Run(ctx, hotel, true)
	require.NoError(t, err)
	require.Equal(t, 1, repaired.Repaired)

	after, err := svc.RunAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.True(t, after[0].Clean())
}
