package periods

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

func TestCalendarLocate(t *testing.T) {
	cal, err := NewCalendar(4)
	require.NoError(t, err)

	year, period := cal.Locate(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 2026, year)
	require.Equal(t, 1, period)

	year, period = cal.Locate(time.Date(2027, 3, 31, 23, 0, 0, 0, time.UTC))
	require.Equal(t, 2026, year)
	require.Equal(t, 12, period)

	year, period = cal.Locate(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 2025, year)
	require.Equal(t, 10, period)

	start, end := cal.Bounds(2026, 11)
	require.Equal(t, time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC), end)

	ys, ye := cal.YearBounds(2026)
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), ys)
	require.Equal(t, time.Date(2027, 3, 31, 0, 0, 0, 0, time.UTC), ye)

	_, err = NewCalendar(13)
	require.Error(t, err)

	jan := Calendar{}
	year, period = jan.Locate(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 2026, year)
	require.Equal(t, 12, period)
}

func TestCloseLockReopen(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cal, _ := NewCalendar(4)
	audit := shared.NewMemoryAuditLog()
	svc := NewService(NewMemoryRepository(store), cal, audit, nil)
	hotel := uuid.New()
	manager := shared.UserContext{UserID: "m", Role: shared.RoleManager, HotelID: hotel}
	admin := shared.UserContext{UserID: "a", Role: shared.RoleAdmin}
	staff := shared.UserContext{UserID: "s", Role: shared.RoleStaff, HotelID: hotel}
	may := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	_, _, err := svc.Guard(ctx, hotel, may, false)
	require.NoError(t, err)

	_, err = svc.Close(ctx, staff, hotel, 2026, 2)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)

	p, err := svc.Close(ctx, manager, hotel, 2026, 2)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, p.Status)
	require.NotNil(t, p.ClosedAt)

	_, _, err = svc.Guard(ctx, hotel, may, false)
	require.ErrorIs(t, err, acct.ErrPeriodClosed)
	year, period, err := svc.Guard(ctx, hotel, may, true)
	require.NoError(t, err)
	require.Equal(t, 2026, year)
	require.Equal(t, 2, period)

	_, err = svc.Lock(ctx, manager, hotel, 2026, 2)
	require.NoError(t, err)
	_, _, err = svc.Guard(ctx, hotel, may, true)
	require.ErrorIs(t, err, acct.ErrPeriodLocked)
	require.ErrorIs(t, err, shared.ErrState)

	_, err = svc.Reopen(ctx, manager, hotel, 2026, 2)
	require.ErrorIs(t, err, ErrInvalidTransition, "only admins unlock")

	p, err = svc.Reopen(ctx, admin, hotel, 2026, 2)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusClosed, p.Status)
	p, err = svc.Reopen(ctx, manager, hotel, 2026, 2)
	require.NoError(t, err)
	require.Equal(t, PeriodStatusOpen, p.Status)
	require.Nil(t, p.ClosedAt)

	year2026, err := svc.ListYear(ctx, hotel, 2026)
	require.NoError(t, err)
	require.Len(t, year2026, 12)
	require.Equal(t, "FY2026-P01", year2026[0].Code)

	require.Len(t, audit.Entries("periods.transition"), 4)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to PeriodStatus
		admin    bool
		want     bool
	}{
		{PeriodStatusOpen, PeriodStatusClosed, false, true},
		{PeriodStatusOpen, PeriodStatusLocked, false, true},
		{PeriodStatusClosed, PeriodStatusOpen, false, true},
		{PeriodStatusLocked, PeriodStatusClosed, false, false},
		{PeriodStatusLocked, PeriodStatusClosed, true, true},
		{PeriodStatusLocked, PeriodStatusOpen, true, false},
		{PeriodStatusLocked, PeriodStatusLocked, false, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to, tc.admin), "%s -> %s admin=%v", tc.from, tc.to, tc.admin)
	}
}
