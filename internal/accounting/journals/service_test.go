package journals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/accounting/periods"
	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	accounts *accounts.Service
	periods  *periods.Service
	ledger   *ledger.Ledger
	audit    *shared.MemoryAuditLog
	clock    *clock.Mock
	hotel    uuid.UUID
	user     shared.UserContext
	cash     accounts.Account
	revenue  accounts.Account
}

func newFixture(t *testing.T) *fixture {
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
	repo := NewMemoryRepository(store)
	svc := NewService(repo, accountRepo, ldg, periodSvc, sequence.NewMemory(store), audit, clk)

	hotel := uuid.New()
	user := shared.UserContext{UserID: "mgr-1", Role: shared.RoleManager, HotelID: hotel}
	_, err = accountSvc.Seed(ctx, user, hotel)
	require.NoError(t, err)
	cash, err := accountSvc.GetByCode(ctx, hotel, accounts.CodeCashOnHand)
	require.NoError(t, err)
	revenue, err := accountSvc.GetByCode(ctx, hotel, accounts.CodeRoomRevenue)
	require.NoError(t, err)

	return &fixture{
		svc: svc, repo: repo, accounts: accountSvc, periods: periodSvc, ledger: ldg,
		audit: audit, clock: clk, hotel: hotel, user: user, cash: cash, revenue: revenue,
	}
}

func (f *fixture) draft(date time.Time, debit, credit money.Money) DraftInput {
	return DraftInput{
		HotelID:     f.hotel,
		Date:        date,
		Description: "Room night",
		Lines: []LineInput{
			{AccountID: f.cash.ID, Debit: debit},
			{AccountID: f.revenue.ID, Credit: credit},
		},
	}
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) money.Money {
	t.Helper()
	acc, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return acc.CurrentBalance
}

func (f *fixture) records(t *testing.T, filter ledger.Filter) []ledger.Record {
	t.Helper()
	out, err := f.ledger.Records(context.Background(), filter)
	require.NoError(t, err)
	return out
}

func inr(v int64) money.Money { return money.FromInt(v, money.INR) }

func TestBalancedPostingUpdatesBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(50000), inr(50000)))
	require.NoError(t, err)
	require.Equal(t, JournalStatusDraft, entry.Status)
	require.Empty(t, entry.Number)
	require.Empty(t, f.records(t, ledger.Filter{HotelID: f.hotel}))

	result, err := f.svc.Post(ctx, f.user, entry.ID)
	require.NoError(t, err)
	require.Equal(t, 2, result.Records)
	require.Equal(t, JournalStatusPosted, result.Entry.Status)
	require.Equal(t, "JE-2026-000001", result.Entry.Number)
	require.Equal(t, 2026, result.Entry.FiscalYear)
	require.Equal(t, 3, result.Entry.FiscalPeriod)
	require.NotNil(t, result.Entry.PostedAt)

	require.True(t, f.balance(t, f.cash.ID).Eq(inr(50000)))
	require.True(t, f.balance(t, f.revenue.ID).Eq(inr(50000)))

	totals, err := f.ledger.Totals(ctx, ledger.Filter{HotelID: f.hotel})
	require.NoError(t, err)
	var debit, credit money.Money
	for _, tot := range totals {
		debit = debit.Add(tot.Debit)
		credit = credit.Add(tot.Credit)
	}
	require.True(t, debit.Eq(credit))
	require.True(t, debit.Eq(inr(50000)))
	require.Len(t, f.audit.Entries("journal.post"), 1)
}

func TestUnbalancedDraftRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(50000), inr(49999)))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorIs(t, err, acct.ErrUnbalanced)
	require.Contains(t, err.Error(), "50000.0000")
	require.Contains(t, err.Error(), "49999.0000")

	_, err = f.svc.CreateDraft(ctx, f.user, DraftInput{
		HotelID: f.hotel, Description: "one line",
		Lines: []LineInput{{AccountID: f.cash.ID, Debit: inr(10)}},
	})
	require.ErrorIs(t, err, acct.ErrTooFewLines)

	_, err = f.svc.CreateDraft(ctx, f.user, DraftInput{
		HotelID: f.hotel, Description: "both sides",
		Lines: []LineInput{
			{AccountID: f.cash.ID, Debit: inr(10), Credit: inr(10)},
			{AccountID: f.revenue.ID, Credit: inr(10)},
		},
	})
	require.ErrorIs(t, err, acct.ErrInvalidLine)

	_, err = f.svc.CreateDraft(ctx, f.user, DraftInput{
		HotelID: f.hotel, Description: "mixed",
		Lines: []LineInput{
			{AccountID: f.cash.ID, Debit: inr(10)},
			{AccountID: f.revenue.ID, Credit: money.FromInt(10, money.USD)},
		},
	})
	require.ErrorIs(t, err, acct.ErrMixedCurrency)
}

func TestPostingUnbalancedStoredDraftWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	draft := JournalEntry{
		ID: uuid.New(), HotelID: f.hotel, Date: clock.Date(now), Kind: KindManual,
		Description: "imported", Currency: money.INR, Status: JournalStatusDraft,
		CreatedAt: now, UpdatedAt: now,
		Lines: []JournalLine{
			{AccountID: f.cash.ID, Debit: inr(50000), Credit: money.Zero(money.INR)},
			{AccountID: f.revenue.ID, Debit: money.Zero(money.INR), Credit: inr(49999)},
		},
	}
	require.NoError(t, f.repo.InsertJournalEntry(ctx, draft))

	_, err := f.svc.Post(ctx, f.user, draft.ID)
	require.ErrorIs(t, err, acct.ErrUnbalanced)
	require.Empty(t, f.records(t, ledger.Filter{HotelID: f.hotel}))
	require.True(t, f.balance(t, f.cash.ID).IsZero())

	stored, err := f.svc.Get(ctx, f.user, draft.ID)
	require.NoError(t, err)
	require.Equal(t, JournalStatusDraft, stored.Status)
}

func TestDoublePostFailsWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(1200), inr(1200)))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, f.user, entry.ID)
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, f.user, entry.ID)
	require.ErrorIs(t, err, shared.ErrState)
	require.ErrorIs(t, err, acct.ErrAlreadyPosted)
	require.Len(t, f.records(t, ledger.Filter{JournalEntryID: entry.ID}), 2)
	require.True(t, f.balance(t, f.cash.ID).Eq(inr(1200)))
}

func TestReversalRestoresBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e1, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(50000), inr(50000)))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, f.user, e1.ID)
	require.NoError(t, err)

	_, err = f.svc.Reverse(ctx, f.user, e1.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	rev, err := f.svc.Reverse(ctx, f.user, e1.ID, "guest moved")
	require.NoError(t, err)
	require.Equal(t, KindReversing, rev.Entry.Kind)
	require.Equal(t, JournalStatusPosted, rev.Entry.Status)
	require.NotNil(t, rev.Entry.ReversalOfID)
	require.Equal(t, e1.ID, *rev.Entry.ReversalOfID)
	require.Equal(t, "JE-2026-000002", rev.Entry.Number)

	original, err := f.svc.Get(ctx, f.user, e1.ID)
	require.NoError(t, err)
	require.Equal(t, JournalStatusReversed, original.Status)
	require.Equal(t, rev.Entry.ID, *original.ReversedByID)

	require.True(t, f.balance(t, f.cash.ID).IsNegligible())
	require.True(t, f.balance(t, f.revenue.ID).IsNegligible())
	require.Len(t, f.records(t, ledger.Filter{HotelID: f.hotel}), 4)

	_, err = f.svc.Reverse(ctx, f.user, e1.ID, "again")
	require.ErrorIs(t, err, acct.ErrAlreadyReversed)
	_, err = f.svc.Post(ctx, f.user, e1.ID)
	require.ErrorIs(t, err, acct.ErrAlreadyPosted)
}

func TestReverseRequiresPostedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(10), inr(10)))
	require.NoError(t, err)

	_, err = f.svc.Reverse(ctx, f.user, entry.ID, "typo")
	require.ErrorIs(t, err, acct.ErrNotPosted)
}

func TestLockedPeriodRejectsPostingAndReversalMovesToToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	may := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)

	posted, err := f.svc.CreateDraft(ctx, f.user, f.draft(may, inr(700), inr(700)))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, f.user, posted.ID)
	require.NoError(t, err)

	late, err := f.svc.CreateDraft(ctx, f.user, f.draft(may, inr(300), inr(300)))
	require.NoError(t, err)

	_, err = f.periods.Lock(ctx, f.user, f.hotel, 2026, 2)
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, f.user, late.ID)
	require.ErrorIs(t, err, shared.ErrState)
	require.ErrorIs(t, err, acct.ErrPeriodLocked)

	rev, err := f.svc.Reverse(ctx, f.user, posted.ID, "wrong guest")
	require.NoError(t, err)
	require.Equal(t, clock.Date(f.clock.Now()), rev.Entry.Date)
	require.Equal(t, 3, rev.Entry.FiscalPeriod)
	require.True(t, f.balance(t, f.cash.ID).IsNegligible())
}

func TestClosedPeriodAcceptsAdjustingEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	may := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	_, err := f.periods.Close(ctx, f.user, f.hotel, 2026, 2)
	require.NoError(t, err)

	manual, err := f.svc.CreateDraft(ctx, f.user, f.draft(may, inr(10), inr(10)))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, f.user, manual.ID)
	require.ErrorIs(t, err, acct.ErrPeriodClosed)

	in := f.draft(may, inr(10), inr(10))
	in.Kind = KindAdjusting
	adjusting, err := f.svc.CreateDraft(ctx, f.user, in)
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, f.user, adjusting.ID)
	require.NoError(t, err)
}

func TestBackDatedPostingReprojectsRunningBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	june := time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC)
	may := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Emit(ctx, f.user, f.draft(june, inr(50000), inr(50000)))
	require.NoError(t, err)
	_, err = f.svc.Emit(ctx, f.user, f.draft(may, inr(1000), inr(1000)))
	require.NoError(t, err)

	recs := f.records(t, ledger.Filter{AccountID: f.cash.ID})
	require.Len(t, recs, 2)
	require.True(t, recs[0].Date.Equal(may))
	require.True(t, recs[0].RunningBalance.Eq(inr(1000)))
	require.True(t, recs[1].RunningBalance.Eq(inr(51000)))

	bad, _, err := f.ledger.VerifyRunning(ctx, f.cash.ID, f.cash.NormalSide.Sign())
	require.NoError(t, err)
	require.Nil(t, bad)
	require.True(t, f.balance(t, f.cash.ID).Eq(inr(51000)))
}

func TestForeignCurrencyPostsInBase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rates := fx.NewStatic()
	rates.Add(fx.Rate{From: money.USD, To: money.INR, EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Rate: decimal.RequireFromString("83.25")})
	f.svc.WithConverter(fx.NewConverter(rates))

	usd := money.FromInt(100, money.USD)
	result, err := f.svc.Emit(ctx, f.user, f.draft(f.clock.Now(), usd, usd))
	require.NoError(t, err)
	require.Equal(t, money.USD, result.Entry.Currency)

	recs := f.records(t, ledger.Filter{JournalEntryID: result.Entry.ID})
	require.Len(t, recs, 2)
	require.True(t, recs[0].BaseDebit.Eq(inr(8325)))
	require.True(t, recs[0].ExchangeRate.Equal(decimal.RequireFromString("83.25")))
	require.True(t, f.balance(t, f.cash.ID).Eq(inr(8325)))

	eur := money.FromInt(5, money.EUR)
	_, err = f.svc.Emit(ctx, f.user, f.draft(f.clock.Now(), eur, eur))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestVoidOnlyDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(5), inr(5)))
	require.NoError(t, err)

	voided, err := f.svc.Void(ctx, f.user, entry.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, JournalStatusVoided, voided.Status)

	_, err = f.svc.Post(ctx, f.user, entry.ID)
	require.ErrorIs(t, err, acct.ErrInvalidStatus)
	_, err = f.svc.Void(ctx, f.user, entry.ID, "")
	require.ErrorIs(t, err, acct.ErrInvalidStatus)
}

func TestOtherHotelIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(5), inr(5)))
	require.NoError(t, err)

	outsider := shared.UserContext{UserID: "staff-9", Role: shared.RoleStaff, HotelID: uuid.New()}
	_, err = f.svc.Post(ctx, outsider, entry.ID)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
	_, err = f.svc.Get(ctx, outsider, entry.ID)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)

	in := f.draft(f.clock.Now(), inr(5), inr(5))
	in.HotelID = outsider.HotelID
	_, err = f.svc.CreateDraft(ctx, outsider, in)
	require.ErrorIs(t, err, acct.ErrInvalidLine)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateDraft(ctx, f.user, f.draft(f.clock.Now(), inr(5), inr(5)))
		require.NoError(t, err)
	}
	_, err := f.svc.Emit(ctx, f.user, f.draft(f.clock.Now(), inr(5), inr(5)))
	require.NoError(t, err)

	drafts, err := f.svc.List(ctx, f.user, ListFilter{HotelID: f.hotel, Status: JournalStatusDraft})
	require.NoError(t, err)
	require.Len(t, drafts, 3)
	posted, err := f.svc.List(ctx, f.user, ListFilter{HotelID: f.hotel, Status: JournalStatusPosted})
	require.NoError(t, err)
	require.Len(t, posted, 1)
	require.Equal(t, KindAutomatic, posted[0].Kind)
}
