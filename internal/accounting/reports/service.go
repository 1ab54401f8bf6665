package reports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/accounting/periods"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/cache"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

const dateLayout = "2006-01-02"

// AccountLister is the slice of the chart of accounts reports read.
type AccountLister interface {
	List(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]accounts.Account, error)
	Get(ctx context.Context, id uuid.UUID) (accounts.Account, error)
}

// AuditPort records budget changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RateConverter expresses a receivable in the reporting currency.
type RateConverter interface {
	Convert(ctx context.Context, m money.Money, base money.Currency, date time.Time) (money.Money, decimal.Decimal, error)
}

// Service loads ledger data for the builders and caches the results per hotel.
type Service struct {
	accounts    AccountLister
	ledger      *ledger.Ledger
	budgets     BudgetRepository
	receivables ReceivablesSource
	fx          RateConverter
	calendar    periods.Calendar
	cache       *cache.JSONCache
	audit       AuditPort
	clock       clock.Clock
}

// NewService wires the report service. A nil cache disables caching.
func NewService(list AccountLister, ldg *ledger.Ledger, budgets BudgetRepository, calendar periods.Calendar, jc *cache.JSONCache, audit AuditPort, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if jc == nil {
		jc = cache.NewJSON(nil, "reports", 0)
	}
	return &Service{accounts: list, ledger: ldg, budgets: budgets, fx: fx.NewConverter(nil), calendar: calendar, cache: jc, audit: audit, clock: clk}
}

// WithConverter sets the rate source for foreign-currency receivables.
func (s *Service) WithConverter(c RateConverter) *Service {
	if c != nil {
		s.fx = c
	}
	return s
}

// WithReceivables attaches the open-invoice source used by AgedReceivables.
func (s *Service) WithReceivables(src ReceivablesSource) *Service {
	s.receivables = src
	return s
}

// Base is the reporting currency.
func (s *Service) Base() money.Currency { return s.ledger.Base() }

// Invalidate drops every cached report of a hotel.
func (s *Service) Invalidate(ctx context.Context, hotelID uuid.UUID) error {
	return s.cache.Bump(ctx, scope(hotelID))
}

func scope(hotelID uuid.UUID) string { return "hotel:" + hotelID.String() }

func cached[T any](ctx context.Context, s *Service, hotelID uuid.UUID, parts []string, load func(context.Context) (T, error)) (T, error) {
	var out T
	key, err := s.cache.Key(ctx, scope(hotelID), parts...)
	if err != nil {
		return out, err
	}
	err = s.cache.Fetch(ctx, key, &out, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	return out, err
}

func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return clock.Date(s.clock.Now())
	}
	return clock.Date(t)
}

func checkRange(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return shared.Validation("report.invalid_range", "from and to are required")
	}
	if to.Before(from) {
		return shared.Validation("report.invalid_range", "to %s precedes from %s", to.Format(dateLayout), from.Format(dateLayout))
	}
	return nil
}

// balances loads the chart with totals before from (opening) and within [from, to].
// A zero from means the window starts at the first record.
func (s *Service) balances(ctx context.Context, hotelID uuid.UUID, from, to time.Time) ([]AccountBalance, []accounts.Account, error) {
	list, err := s.accounts.List(ctx, hotelID, false)
	if err != nil {
		return nil, nil, err
	}
	var opening map[uuid.UUID]ledger.Totals
	if !from.IsZero() {
		opening, err = s.ledger.Totals(ctx, ledger.Filter{HotelID: hotelID, To: from.AddDate(0, 0, -1)})
		if err != nil {
			return nil, nil, err
		}
	}
	window, err := s.ledger.Totals(ctx, ledger.Filter{HotelID: hotelID, From: from, To: to})
	if err != nil {
		return nil, nil, err
	}
	return Balances(list, opening, window, s.Base()), list, nil
}

// TrialBalance as of the end of asOf; zero means today.
func (s *Service) TrialBalance(ctx context.Context, hotelID uuid.UUID, asOf time.Time) (TrialBalance, error) {
	asOf = s.asOf(asOf)
	return cached(ctx, s, hotelID, []string{"tb", asOf.Format(dateLayout)}, func(ctx context.Context) (TrialBalance, error) {
		rows, _, err := s.balances(ctx, hotelID, time.Time{}, asOf)
		if err != nil {
			return TrialBalance{}, err
		}
		tb := BuildTrialBalance(rows, s.Base())
		tb.HotelID, tb.AsOf = hotelID, asOf
		return tb, nil
	})
}

// ProfitAndLoss over [from, to].
func (s *Service) ProfitAndLoss(ctx context.Context, hotelID uuid.UUID, from, to time.Time) (ProfitAndLoss, error) {
	if err := checkRange(from, to); err != nil {
		return ProfitAndLoss{}, err
	}
	from, to = clock.Date(from), clock.Date(to)
	return cached(ctx, s, hotelID, []string{"pl", from.Format(dateLayout), to.Format(dateLayout)}, func(ctx context.Context) (ProfitAndLoss, error) {
		rows, _, err := s.balances(ctx, hotelID, from, to)
		if err != nil {
			return ProfitAndLoss{}, err
		}
		pl := BuildProfitAndLoss(rows, s.Base())
		pl.HotelID, pl.From, pl.To = hotelID, from, to
		return pl, nil
	})
}

// BalanceSheet at the end of asOf; zero means today.
func (s *Service) BalanceSheet(ctx context.Context, hotelID uuid.UUID, asOf time.Time) (BalanceSheet, error) {
	asOf = s.asOf(asOf)
	return cached(ctx, s, hotelID, []string{"bs", asOf.Format(dateLayout)}, func(ctx context.Context) (BalanceSheet, error) {
		rows, _, err := s.balances(ctx, hotelID, time.Time{}, asOf)
		if err != nil {
			return BalanceSheet{}, err
		}
		bs := BuildBalanceSheet(rows, s.Base())
		bs.HotelID, bs.AsOf = hotelID, asOf
		return bs, nil
	})
}

// AgedReceivables buckets open invoices as of asOf. Receivables move on every
// payment without a ledger post to the same scope, so the result is not cached.
// Foreign-currency balances are converted at the rate effective on asOf.
func (s *Service) AgedReceivables(ctx context.Context, hotelID uuid.UUID, asOf time.Time) (AgedReceivables, error) {
	asOf = s.asOf(asOf)
	var items []OpenItem
	if s.receivables != nil {
		var err error
		if items, err = s.receivables.OpenReceivables(ctx, hotelID, asOf); err != nil {
			return AgedReceivables{}, err
		}
	}
	base := s.Base()
	inBase := make([]OpenItem, 0, len(items))
	for _, item := range items {
		if item.Balance.Currency() != base {
			converted, _, err := s.fx.Convert(ctx, item.Balance, base, asOf)
			if err != nil {
				return AgedReceivables{}, err
			}
			original := item.Balance
			item.Original, item.Balance = &original, converted
		}
		inBase = append(inBase, item)
	}
	out := BuildAgedReceivables(inBase, asOf, base)
	out.HotelID = hotelID
	return out, nil
}

// CashFlow over [from, to].
func (s *Service) CashFlow(ctx context.Context, hotelID uuid.UUID, from, to time.Time) (CashFlow, error) {
	if err := checkRange(from, to); err != nil {
		return CashFlow{}, err
	}
	from, to = clock.Date(from), clock.Date(to)
	return cached(ctx, s, hotelID, []string{"cf", from.Format(dateLayout), to.Format(dateLayout)}, func(ctx context.Context) (CashFlow, error) {
		list, err := s.accounts.List(ctx, hotelID, false)
		if err != nil {
			return CashFlow{}, err
		}
		chart := make(map[uuid.UUID]accounts.Account, len(list))
		for _, acc := range list {
			chart[acc.ID] = acc
		}
		opening, err := s.ledger.Totals(ctx, ledger.Filter{HotelID: hotelID, To: from.AddDate(0, 0, -1)})
		if err != nil {
			return CashFlow{}, err
		}
		openingCash := money.Zero(s.Base())
		for id, t := range opening {
			if chart[id].IsCash() {
				openingCash = openingCash.Add(t.Net())
			}
		}
		records, err := s.ledger.Records(ctx, ledger.Filter{HotelID: hotelID, From: from, To: to})
		if err != nil {
			return CashFlow{}, err
		}
		cf := BuildCashFlow(records, chart, openingCash, s.Base())
		cf.HotelID, cf.From, cf.To = hotelID, from, to
		return cf, nil
	})
}

// BudgetVariance compares budgets with actuals for periods [fromPeriod, toPeriod]
// of a fiscal year. Zero periods default to the whole year.
func (s *Service) BudgetVariance(ctx context.Context, hotelID uuid.UUID, year, fromPeriod, toPeriod int) (BudgetVariance, error) {
	if fromPeriod == 0 {
		fromPeriod = 1
	}
	if toPeriod == 0 {
		toPeriod = 12
	}
	if year <= 0 || fromPeriod < 1 || toPeriod > 12 || fromPeriod > toPeriod {
		return BudgetVariance{}, shared.Validation("report.invalid_period", "invalid period range %d/%d-%d", year, fromPeriod, toPeriod)
	}
	from, _ := s.calendar.Bounds(year, fromPeriod)
	_, to := s.calendar.Bounds(year, toPeriod)
	return cached(ctx, s, hotelID, []string{"bv", periods.Code(year, fromPeriod), periods.Code(year, toPeriod)}, func(ctx context.Context) (BudgetVariance, error) {
		budgets, err := s.budgets.ListYear(ctx, hotelID, year)
		if err != nil {
			return BudgetVariance{}, err
		}
		inRange := budgets[:0]
		for _, b := range budgets {
			if b.FiscalPeriod >= fromPeriod && b.FiscalPeriod <= toPeriod {
				inRange = append(inRange, b)
			}
		}
		rows, _, err := s.balances(ctx, hotelID, from, to)
		if err != nil {
			return BudgetVariance{}, err
		}
		bv := BuildBudgetVariance(inRange, rows, s.Base())
		bv.HotelID, bv.FiscalYear, bv.FromPeriod, bv.ToPeriod = hotelID, year, fromPeriod, toPeriod
		return bv, nil
	})
}

// Summary bundles the headline statements for a window.
type Summary struct {
	TrialBalance  TrialBalance  `json:"trial_balance"`
	ProfitAndLoss ProfitAndLoss `json:"profit_and_loss"`
	BalanceSheet  BalanceSheet  `json:"balance_sheet"`
	CashFlow      CashFlow      `json:"cash_flow"`
}

// Summary builds the statements concurrently; the first failure cancels the rest.
func (s *Service) Summary(ctx context.Context, hotelID uuid.UUID, from, to time.Time) (Summary, error) {
	if err := checkRange(from, to); err != nil {
		return Summary{}, err
	}
	var out Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.TrialBalance, err = s.TrialBalance(gctx, hotelID, to)
		return err
	})
	g.Go(func() error {
		var err error
		out.ProfitAndLoss, err = s.ProfitAndLoss(gctx, hotelID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		out.BalanceSheet, err = s.BalanceSheet(gctx, hotelID, to)
		return err
	})
	g.Go(func() error {
		var err error
		out.CashFlow, err = s.CashFlow(gctx, hotelID, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return out, nil
}

// BudgetInput sets one budget line.
type BudgetInput struct {
	HotelID      uuid.UUID
	AccountID    uuid.UUID
	FiscalYear   int
	FiscalPeriod int
	Amount       money.Money
}

// SetBudget creates or replaces a budget line and invalidates cached reports.
func (s *Service) SetBudget(ctx context.Context, user shared.UserContext, in BudgetInput) (Budget, error) {
	if !user.CanAccessHotel(in.HotelID) {
		return Budget{}, shared.NotAuthorized("user %s cannot manage budgets of hotel %s", user.UserID, in.HotelID)
	}
	if in.FiscalYear <= 0 || in.FiscalPeriod < 1 || in.FiscalPeriod > 12 {
		return Budget{}, shared.Validation("budget.invalid_period", "invalid fiscal period %d/%d", in.FiscalYear, in.FiscalPeriod)
	}
	if in.Amount.IsNegative() {
		return Budget{}, shared.Validation("budget.negative_amount", "budget amount must not be negative")
	}
	if cur := in.Amount.Currency(); cur != "" && cur != s.Base() {
		return Budget{}, shared.Validation("budget.currency", "budgets are kept in %s, got %s", s.Base(), cur)
	}
	acc, err := s.accounts.Get(ctx, in.AccountID)
	if err != nil {
		return Budget{}, err
	}
	if acc.HotelID != in.HotelID {
		return Budget{}, accounts.ErrAccountNotFound.WithMessage("account %s not found in hotel %s", in.AccountID, in.HotelID)
	}
	b := Budget{
		HotelID:      in.HotelID,
		AccountID:    acc.ID,
		FiscalYear:   in.FiscalYear,
		FiscalPeriod: in.FiscalPeriod,
		Amount:       in.Amount.WithCurrency(s.Base()),
		UpdatedBy:    user.Actor(),
		UpdatedAt:    s.clock.Now(),
	}
	if err := s.budgets.Upsert(ctx, b); err != nil {
		return Budget{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  user.Actor(),
			HotelID:  in.HotelID.String(),
			Action:   "budget.set",
			Entity:   "budget",
			EntityID: acc.ID.String(),
			Meta:     map[string]any{"code": acc.Code, "period": periods.Code(b.FiscalYear, b.FiscalPeriod), "amount": b.Amount.Canonical()},
			At:       b.UpdatedAt,
		}); err != nil {
			return Budget{}, err
		}
	}
	return b, s.Invalidate(ctx, in.HotelID)
}

// ListBudgets returns a hotel's budget lines for a fiscal year.
func (s *Service) ListBudgets(ctx context.Context, hotelID uuid.UUID, year int) ([]Budget, error) {
	if year <= 0 {
		return nil, shared.Validation("budget.invalid_period", "fiscal year is required")
	}
	return s.budgets.ListYear(ctx, hotelID, year)
}
