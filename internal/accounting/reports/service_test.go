package reports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/accounting/periods"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/cache"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type fixture struct {
	svc      *Service
	journals *journals.Service
	accounts *accounts.Service
	audit    *shared.MemoryAuditLog
	hotel    uuid.UUID
	user     shared.UserContext
}

func date(month time.Month, day int) time.Time {
	return time.Date(2026, month, day, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T, jc *cache.JSONCache) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	clk := clock.NewMock(time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC))
	audit := shared.NewMemoryAuditLog()
	accountRepo := accounts.NewMemoryRepository(store)
	accountSvc := accounts.NewService(accountRepo, store, audit, clk, money.INR)
	cal, err := periods.NewCalendar(4)
	require.NoError(t, err)
	periodSvc := periods.NewService(periods.NewMemoryRepository(store), cal, audit, clk)
	ldg := ledger.New(ledger.NewMemoryStore(store), money.INR)
	journalSvc := journals.NewService(journals.NewMemoryRepository(store), accountRepo, ldg, periodSvc, sequence.NewMemory(store), audit, clk)

	hotel := uuid.New()
	user := shared.UserContext{UserID: "mgr-1", Role: shared.RoleManager, HotelID: hotel}
	_, err = accountSvc.Seed(ctx, user, hotel)
	require.NoError(t, err)

	svc := NewService(accountSvc, ldg, NewMemoryBudgetRepository(store), cal, jc, audit, clk)
	return &fixture{svc: svc, journals: journalSvc, accounts: accountSvc, audit: audit, hotel: hotel, user: user}
}

func (f *fixture) account(t *testing.T, code string) accounts.Account {
	t.Helper()
	acc, err := f.accounts.GetByCode(context.Background(), f.hotel, code)
	require.NoError(t, err)
	return acc
}

func (f *fixture) emit(t *testing.T, on time.Time, debitCode, creditCode string, amount int64) {
	t.Helper()
	_, err := f.journals.Emit(context.Background(), f.user, journals.DraftInput{
		HotelID:     f.hotel,
		Date:        on,
		Description: debitCode + " / " + creditCode,
		Lines: []journals.LineInput{
			{AccountID: f.account(t, debitCode).ID, Debit: inr(amount)},
			{AccountID: f.account(t, creditCode).ID, Credit: inr(amount)},
		},
	})
	require.NoError(t, err)
}

// seedActivity posts a month of capital, room sales, a furniture purchase,
// a utility bill and a cash-to-bank transfer.
func (f *fixture) seedActivity(t *testing.T) {
	f.emit(t, date(time.May, 5), accounts.CodeCashOnHand, "30100", 100000)
	f.emit(t, date(time.June, 1), accounts.CodeCashOnHand, accounts.CodeRoomRevenue, 50000)
	f.emit(t, date(time.June, 2), "15100", accounts.CodeCashOnHand, 20000)
	f.emit(t, date(time.June, 3), "61000", accounts.CodeBank, 3000)
	f.emit(t, date(time.June, 4), accounts.CodeBank, accounts.CodeCashOnHand, 10000)
}

func TestStatementsFromLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.seedActivity(t)
	ctx := context.Background()

	may, err := f.svc.TrialBalance(ctx, f.hotel, date(time.May, 31))
	require.NoError(t, err)
	require.True(t, may.Balanced)
	require.True(t, may.TotalDebit.Eq(inr(100000)))

	tb, err := f.svc.TrialBalance(ctx, f.hotel, time.Time{})
	require.NoError(t, err)
	require.True(t, tb.Balanced)
	require.True(t, tb.TotalDebit.Eq(inr(150000)))
	require.True(t, tb.TotalCredit.Eq(inr(150000)))
	require.Equal(t, date(time.June, 10), tb.AsOf)

	pl, err := f.svc.ProfitAndLoss(ctx, f.hotel, date(time.June, 1), date(time.June, 30))
	require.NoError(t, err)
	require.True(t, pl.Revenue.Total.Eq(inr(50000)))
	require.Equal(t, accounts.SubRoom, pl.Revenue.SubTypes[0].SubType)
	require.True(t, pl.Expense.Total.Eq(inr(3000)))
	require.Equal(t, accounts.SubOperating, pl.Expense.SubTypes[0].SubType)
	require.True(t, pl.NetIncome.Eq(inr(47000)))

	bs, err := f.svc.BalanceSheet(ctx, f.hotel, date(time.June, 30))
	require.NoError(t, err)
	require.True(t, bs.Assets.Total.Eq(inr(147000)))
	require.True(t, bs.Equity.Total.Eq(inr(147000)))
	require.True(t, bs.Balanced)
}

func TestCashFlowClassifiesCounterparts(t *testing.T) {
	f := newFixture(t, nil)
	f.seedActivity(t)
	ctx := context.Background()

	cf, err := f.svc.CashFlow(ctx, f.hotel, date(time.June, 1), date(time.June, 30))
	require.NoError(t, err)
	require.True(t, cf.OpeningCash.Eq(inr(100000)))
	require.Len(t, cf.Sections, 3)
	require.Equal(t, ActivityOperating, cf.Sections[0].Activity)
	require.True(t, cf.Sections[0].Total.Eq(inr(47000)))
	require.Len(t, cf.Sections[0].Lines, 2)
	require.True(t, cf.Sections[1].Total.Eq(inr(-20000)))
	require.True(t, cf.Sections[2].Total.IsZero())
	require.True(t, cf.NetChange.Eq(inr(27000)))
	require.True(t, cf.ClosingCash.Eq(inr(127000)))

	may, err := f.svc.CashFlow(ctx, f.hotel, date(time.May, 1), date(time.May, 31))
	require.NoError(t, err)
	require.True(t, may.Sections[2].Total.Eq(inr(100000)))
	require.True(t, may.OpeningCash.IsZero())
}

func TestBudgetVarianceAgainstLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.seedActivity(t)
	ctx := context.Background()
	revenue := f.account(t, accounts.CodeRoomRevenue)
	utilities := f.account(t, "61000")

	_, err := f.svc.SetBudget(ctx, f.user, BudgetInput{HotelID: f.hotel, AccountID: revenue.ID, FiscalYear: 2026, FiscalPeriod: 3, Amount: inr(40000)})
	require.NoError(t, err)
	_, err = f.svc.SetBudget(ctx, f.user, BudgetInput{HotelID: f.hotel, AccountID: utilities.ID, FiscalYear: 2026, FiscalPeriod: 3, Amount: inr(4000)})
	require.NoError(t, err)
	require.Len(t, f.audit.Entries("budget.set"), 2)

	_, err = f.svc.SetBudget(ctx, f.user, BudgetInput{HotelID: f.hotel, AccountID: revenue.ID, FiscalYear: 2026, FiscalPeriod: 13, Amount: inr(1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	bv, err := f.svc.BudgetVariance(ctx, f.hotel, 2026, 3, 3)
	require.NoError(t, err)
	require.Len(t, bv.Rows, 2)
	require.True(t, bv.Rows[0].Actual.Eq(inr(50000)))
	require.True(t, bv.Rows[0].Variance.Eq(inr(10000)))
	require.True(t, bv.Rows[1].Actual.Eq(inr(3000)))
	require.Equal(t, "-0.25", bv.Rows[1].VariancePct.String())

	listed, err := f.svc.ListBudgets(ctx, f.hotel, 2026)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestBudgetsScopedToHotel(t *testing.T) {
	f := newFixture(t, nil)
	staff := shared.UserContext{UserID: "staff-9", Role: shared.RoleStaff, HotelID: uuid.New()}
	_, err := f.svc.SetBudget(context.Background(), staff, BudgetInput{
		HotelID: f.hotel, AccountID: f.account(t, accounts.CodeRoomRevenue).ID, FiscalYear: 2026, FiscalPeriod: 1, Amount: inr(1),
	})
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
}

func TestAgedReceivablesUsesSource(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.WithReceivables(receivables{
		{Number: "INV-2026-000001", DueDate: date(time.March, 1), Balance: inr(8000)},
		{Number: "INV-2026-000002", DueDate: date(time.June, 20), Balance: inr(1500)},
	})

	aged, err := f.svc.AgedReceivables(context.Background(), f.hotel, time.Time{})
	require.NoError(t, err)
	require.Equal(t, f.hotel, aged.HotelID)
	require.True(t, aged.Buckets[0].Amount.Eq(inr(1500)))
	require.True(t, aged.Buckets[3].Amount.Eq(inr(8000)))
	require.Equal(t, 101, aged.Buckets[3].Items[0].DaysPastDue)
}

func TestAgedReceivablesConvertsForeignBalances(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.svc.WithReceivables(receivables{
		{Number: "STL-2026-000001", DueDate: date(time.June, 1), Balance: inr(5000)},
		{Number: "STL-2026-000002", DueDate: date(time.June, 1), Balance: money.FromInt(100, money.USD)},
	})

	_, err := f.svc.AgedReceivables(ctx, f.hotel, time.Time{})
	require.ErrorIs(t, err, shared.ErrValidation)

	rates := fx.NewStatic()
	rates.Add(fx.Rate{From: money.USD, To: money.INR, EffectiveDate: date(time.January, 1), Rate: decimal.NewFromInt(83)})
	f.svc.WithConverter(fx.NewConverter(rates))

	aged, err := f.svc.AgedReceivables(ctx, f.hotel, time.Time{})
	require.NoError(t, err)
	require.Equal(t, money.INR, aged.Currency)
	require.True(t, aged.Buckets[0].Amount.Eq(inr(13300)))
	require.True(t, aged.Total.Eq(inr(13300)))

	items := aged.Buckets[0].Items
	require.Len(t, items, 2)
	require.Nil(t, items[0].Original)
	require.True(t, items[1].Balance.Eq(inr(8300)))
	require.NotNil(t, items[1].Original)
	require.True(t, items[1].Original.Eq(money.FromInt(100, money.USD)))
}

func TestRangeValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.ProfitAndLoss(ctx, f.hotel, date(time.June, 30), date(time.June, 1))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.CashFlow(ctx, f.hotel, time.Time{}, date(time.June, 1))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.BudgetVariance(ctx, f.hotel, 2026, 5, 2)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSummaryRunsAllStatements(t *testing.T) {
	f := newFixture(t, nil)
	f.seedActivity(t)

	sum, err := f.svc.Summary(context.Background(), f.hotel, date(time.June, 1), date(time.June, 30))
	require.NoError(t, err)
	require.True(t, sum.TrialBalance.Balanced)
	require.True(t, sum.ProfitAndLoss.NetIncome.Eq(inr(47000)))
	require.True(t, sum.BalanceSheet.Balanced)
	require.True(t, sum.CashFlow.ClosingCash.Eq(inr(127000)))
}

func TestCachedUntilInvalidated(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, cache.NewJSON(client, "reports", time.Minute))
	ctx := context.Background()
	f.emit(t, date(time.June, 1), accounts.CodeCashOnHand, accounts.CodeRoomRevenue, 1000)

	first, err := f.svc.TrialBalance(ctx, f.hotel, date(time.June, 30))
	require.NoError(t, err)
	require.True(t, first.TotalDebit.Eq(inr(1000)))

	f.emit(t, date(time.June, 2), accounts.CodeCashOnHand, accounts.CodeRoomRevenue, 500)
	stale, err := f.svc.TrialBalance(ctx, f.hotel, date(time.June, 30))
	require.NoError(t, err)
	require.True(t, stale.TotalDebit.Eq(inr(1000)))

	require.NoError(t, f.svc.Invalidate(ctx, f.hotel))
	fresh, err := f.svc.TrialBalance(ctx, f.hotel, date(time.June, 30))
	require.NoError(t, err)
	require.True(t, fresh.TotalDebit.Eq(inr(1500)))
	require.True(t, fresh.Balanced)
}

func TestReversalRestoresTrialBalance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.emit(t, date(time.June, 1), accounts.CodeCashOnHand, accounts.CodeRoomRevenue, 1000)
	before, err := f.svc.TrialBalance(ctx, f.hotel, date(time.June, 10))
	require.NoError(t, err)

	res, err := f.journals.Emit(ctx, f.user, journals.DraftInput{
		HotelID:     f.hotel,
		Date:        date(time.June, 2),
		Description: "Mistaken charge",
		Lines: []journals.LineInput{
			{AccountID: f.account(t, accounts.CodeCashOnHand).ID, Debit: inr(700)},
			{AccountID: f.account(t, accounts.CodeOtherRevenue).ID, Credit: inr(700)},
		},
	})
	require.NoError(t, err)
	_, err = f.journals.Reverse(ctx, f.user, res.Entry.ID, "entered twice")
	require.NoError(t, err)

	after, err := f.svc.TrialBalance(ctx, f.hotel, date(time.June, 10))
	require.NoError(t, err)
	require.True(t, after.TotalDebit.Eq(before.TotalDebit))
	require.True(t, after.TotalCredit.Eq(before.TotalCredit))
	require.Equal(t, len(before.Groups), len(after.Groups))
}
