package mappings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func TestResolveDefaultsAndOverrides(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	accountSvc := accounts.NewService(accounts.NewMemoryRepository(store), store, nil, nil, money.INR)
	hotel := uuid.New()
	_, err := accountSvc.Seed(ctx, shared.SystemUser(hotel), hotel)
	require.NoError(t, err)

	svc := NewService(NewMemoryRepository(store), accountSvc, nil)

	ar, err := svc.Resolve(ctx, hotel, ModuleSettlement, KeyReceivable)
	require.NoError(t, err)
	require.Equal(t, accounts.CodeAccountsReceivable, ar.Code)

	_, err = svc.Set(ctx, hotel, "settlement", "receivable", accounts.CodeGuestLedger)
	require.NoError(t, err)
	ar, err = svc.Resolve(ctx, hotel, ModuleSettlement, KeyReceivable)
	require.NoError(t, err)
	require.Equal(t, accounts.CodeGuestLedger, ar.Code)

	billingAR, err := svc.Resolve(ctx, hotel, ModuleBilling, KeyReceivable)
	require.NoError(t, err)
	require.Equal(t, accounts.CodeAccountsReceivable, billingAR.Code, "overrides are per module")

	_, err = svc.Resolve(ctx, hotel, ModuleBilling, "UNKNOWN")
	require.ErrorIs(t, err, acct.ErrMappingNotFound)

	_, err = svc.Set(ctx, hotel, ModuleBilling, KeyFees, "69999")
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)

	list, err := svc.List(ctx, hotel)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestResolveRejectsInactiveAccount(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	accountSvc := accounts.NewService(accounts.NewMemoryRepository(store), store, nil, nil, money.INR)
	hotel := uuid.New()
	user := shared.SystemUser(hotel)
	_, err := accountSvc.Seed(ctx, user, hotel)
	require.NoError(t, err)
	fees, err := accountSvc.GetByCode(ctx, hotel, accounts.CodePaymentFees)
	require.NoError(t, err)
	_, err = accountSvc.Deactivate(ctx, user, fees.ID)
	require.NoError(t, err)

	svc := NewService(NewMemoryRepository(store), accountSvc, nil)
	_, err = svc.Resolve(ctx, hotel, ModuleBilling, KeyFees)
	require.ErrorIs(t, err, accounts.ErrAccountInactive)
}
