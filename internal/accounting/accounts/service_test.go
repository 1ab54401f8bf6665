package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func newTestService(t *testing.T) (*Service, *MemoryRepository, *shared.MemoryAuditLog) {
	t.Helper()
	store := memstore.New()
	repo := NewMemoryRepository(store)
	audit := shared.NewMemoryAuditLog()
	clk := clock.NewMock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	return NewService(repo, store, audit, clk, money.INR), repo, audit
}

func TestCreateDerivesNormalSide(t *testing.T) {
	svc, _, audit := newTestService(t)
	ctx := context.Background()
	hotel := uuid.New()
	user := shared.UserContext{UserID: "m1", Role: shared.RoleManager, HotelID: hotel}

	cash, err := svc.Create(ctx, user, CreateInput{HotelID: hotel, Code: "10150", Name: "Petty Cash", Kind: KindAsset, SubType: SubCash})
	require.NoError(t, err)
	require.Equal(t, SideDebit, cash.NormalSide)
	require.True(t, cash.IsActive)
	require.True(t, cash.CurrentBalance.IsZero())
	require.Equal(t, money.INR, cash.Currency)

	rev, err := svc.Create(ctx, user, CreateInput{HotelID: hotel, Code: "40900", Name: "Spa Revenue", Kind: KindRevenue})
	require.NoError(t, err)
	require.Equal(t, SideCredit, rev.NormalSide)
	require.Equal(t, SubOtherRevenue, rev.SubType)

	require.Len(t, audit.Entries("accounts.create"), 2)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	hotel := uuid.New()
	user := shared.SystemUser(hotel)

	cases := []CreateInput{
		{HotelID: hotel, Code: "1000", Name: "Short", Kind: KindAsset},
		{HotelID: hotel, Code: "40100", Name: "Wrong range", Kind: KindAsset},
		{HotelID: hotel, Code: "10A00", Name: "Letters", Kind: KindAsset},
		{HotelID: hotel, Code: "10100", Name: "", Kind: KindAsset},
		{HotelID: hotel, Code: "10100", Name: "Bad kind", Kind: "INCOME"},
		{HotelID: hotel, Code: "10100", Name: "Bad sub", Kind: KindAsset, SubType: SubRoom},
		{Code: "10100", Name: "No hotel", Kind: KindAsset},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, user, in)
		require.ErrorIs(t, err, shared.ErrValidation, "input %+v", in)
	}
}

func TestDuplicateCodeConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	hotel := uuid.New()
	user := shared.SystemUser(hotel)

	_, err := svc.Create(ctx, user, CreateInput{HotelID: hotel, Code: "61500", Name: "Laundry", Kind: KindExpense})
	require.NoError(t, err)
	_, err = svc.Create(ctx, user, CreateInput{HotelID: hotel, Code: "61500", Name: "Laundry again", Kind: KindExpense})
	require.ErrorIs(t, err, ErrDuplicateCode)
	require.ErrorIs(t, err, shared.ErrConflict)

	other := uuid.New()
	_, err = svc.Create(ctx, shared.SystemUser(other), CreateInput{HotelID: other, Code: "61500", Name: "Laundry", Kind: KindExpense})
	require.NoError(t, err, "codes are unique per hotel only")
}

func TestSeedIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	hotel := uuid.New()
	user := shared.SystemUser(hotel)

	created, err := svc.Seed(ctx, user, hotel)
	require.NoError(t, err)
	require.Len(t, created, len(SeedChart))

	again, err := svc.Seed(ctx, user, hotel)
	require.NoError(t, err)
	require.Empty(t, again)

	cash, err := svc.GetByCode(ctx, hotel, CodeCashOnHand)
	require.NoError(t, err)
	require.NotNil(t, cash.ParentID)
	parent, err := svc.Get(ctx, *cash.ParentID)
	require.NoError(t, err)
	require.Equal(t, "10000", parent.Code)

	revenue, err := svc.ListByKind(ctx, hotel, KindRevenue)
	require.NoError(t, err)
	for _, a := range revenue {
		require.Equal(t, SideCredit, a.NormalSide)
		require.Equal(t, byte('4'), a.Code[0])
	}
	for i := 1; i < len(revenue); i++ {
		require.Less(t, revenue[i-1].Code, revenue[i].Code)
	}
}

func TestUpdateAndDeactivate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	hotel := uuid.New()
	user := shared.SystemUser(hotel)
	_, err := svc.Seed(ctx, user, hotel)
	require.NoError(t, err)

	amenities, err := svc.GetByCode(ctx, hotel, "50300")
	require.NoError(t, err)
	name := "Guest Amenities and Toiletries"
	updated, err := svc.Update(ctx, user, amenities.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, name, updated.Name)
	require.Equal(t, KindCOGS, updated.Kind)

	off, err := svc.Deactivate(ctx, user, amenities.ID)
	require.NoError(t, err)
	require.False(t, off.IsActive)

	active, err := svc.List(ctx, hotel, true)
	require.NoError(t, err)
	require.Len(t, active, len(SeedChart)-1)
	all, err := svc.List(ctx, hotel, false)
	require.NoError(t, err)
	require.Len(t, all, len(SeedChart))
}

func TestParentRules(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	hotel := uuid.New()
	user := shared.SystemUser(hotel)
	_, err := svc.Seed(ctx, user, hotel)
	require.NoError(t, err)

	assets, err := svc.GetByCode(ctx, hotel, "10000")
	require.NoError(t, err)
	cash, err := svc.GetByCode(ctx, hotel, CodeCashOnHand)
	require.NoError(t, err)
	revenue, err := svc.GetByCode(ctx, hotel, CodeRoomRevenue)
	require.NoError(t, err)

	_, err = svc.Update(ctx, user, cash.ID, UpdateInput{ParentID: &revenue.ID})
	require.ErrorIs(t, err, ErrInvalidAccount, "kind mismatch")

	_, err = svc.Update(ctx, user, assets.ID, UpdateInput{ParentID: &cash.ID})
	require.ErrorIs(t, err, ErrInvalidAccount, "cycle")

	_, err = svc.Update(ctx, user, cash.ID, UpdateInput{ParentID: &cash.ID})
	require.ErrorIs(t, err, ErrInvalidAccount, "self")

	cleared, err := svc.Update(ctx, user, cash.ID, UpdateInput{ClearParent: true})
	require.NoError(t, err)
	require.Nil(t, cleared.ParentID)
}

func TestMemoryBalanceVersioning(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	hotel := uuid.New()
	acc, err := svc.Create(ctx, shared.SystemUser(hotel), CreateInput{HotelID: hotel, Code: "10150", Name: "Petty Cash", Kind: KindAsset})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, repo.UpdateBalance(ctx, acc.ID, money.FromInt(100, money.INR), 0, now))
	require.ErrorIs(t, repo.UpdateBalance(ctx, acc.ID, money.FromInt(200, money.INR), 0, now), shared.ErrRace)

	locked, err := repo.LockForPosting(ctx, []uuid.UUID{acc.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), locked[acc.ID].BalanceVersion)
	require.True(t, locked[acc.ID].CurrentBalance.Equal(money.FromInt(100, money.INR)))

	_, err = repo.LockForPosting(ctx, []uuid.UUID{acc.ID, uuid.New()})
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSignedFollowsNormalSide(t *testing.T) {
	debit := Account{NormalSide: SideDebit}
	credit := Account{NormalSide: SideCredit}
	d := money.FromInt(500, money.INR)
	c := money.FromInt(200, money.INR)
	require.True(t, debit.Signed(d, c).Equal(money.FromInt(300, money.INR)))
	require.True(t, credit.Signed(d, c).Equal(money.FromInt(-300, money.INR)))
}
