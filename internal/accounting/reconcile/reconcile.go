// Package reconcile compares cached account balances with the ledger and
// checks that each hotel's ledger still balances.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// DefaultConcurrency bounds accounts verified at once.
const DefaultConcurrency = 8

// AccountStore lists accounts and rewrites cached balances.
type AccountStore interface {
	List(ctx context.Context, f accounts.ListFilter) ([]accounts.Account, error)
	Hotels(ctx context.Context) ([]uuid.UUID, error)
	LockForPosting(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance money.Money, expectedVersion int64, at time.Time) error
}

// Drift describes one account whose cache or running balances disagree with the ledger.
type Drift struct {
	AccountID    uuid.UUID      `json:"account_id"`
	Code         string         `json:"code"`
	Name         string         `json:"name"`
	Cached       money.Money    `json:"cached"`
	Ledger       money.Money    `json:"ledger"`
	Difference   money.Money    `json:"difference"`
	RunningBreak *ledger.Record `json:"running_break,omitempty"`
	Repaired     bool           `json:"repaired"`
}

// Report summarises one hotel.
type Report struct {
	HotelID     uuid.UUID   `json:"hotel_id"`
	CheckedAt   time.Time   `json:"checked_at"`
	Accounts    int         `json:"accounts"`
	Drifts      []Drift     `json:"drifts"`
	Repaired    int         `json:"repaired"`
	TotalDebit  money.Money `json:"total_debit"`
	TotalCredit money.Money `json:"total_credit"`
	Balanced    bool        `json:"balanced"`
}

// Clean reports no drift and a balanced ledger.
func (r Report) Clean() bool { return len(r.Drifts) == 0 && r.Balanced }

type Service struct {
	accounts    AccountStore
	ledger      *ledger.Ledger
	tx          shared.Transactor
	clock       clock.Clock
	logger      *slog.Logger
	concurrency int
}

func NewService(store AccountStore, ldg *ledger.Ledger, tx shared.Transactor, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: store, ledger: ldg, tx: tx, clock: clk, logger: logger, concurrency: DefaultConcurrency}
}

// WithConcurrency overrides DefaultConcurrency.
func (s *Service) WithConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// Run verifies every account of hotelID. With repair set, drifted caches are
// rewritten from the ledger; running balances are only reported.
func (s *Service) Run(ctx context.Context, hotelID uuid.UUID, repair bool) (Report, error) {
	list, err := s.accounts.List(ctx, accounts.ListFilter{HotelID: hotelID})
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: list accounts: %w", err)
	}
	report := Report{HotelID: hotelID, CheckedAt: s.clock.Now(), Accounts: len(list)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, acc := range list {
		acc := acc
		g.Go(func() error {
			drift, found, err := s.check(gctx, acc, repair)
			if err != nil || !found {
				return err
			}
			mu.Lock()
			report.Drifts = append(report.Drifts, drift)
			if drift.Repaired {
				report.Repaired++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	sort.Slice(report.Drifts, func(i, j int) bool { return report.Drifts[i].Code < report.Drifts[j].Code })

	totals, err := s.ledger.Totals(ctx, ledger.Filter{HotelID: hotelID})
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: totals: %w", err)
	}
	report.TotalDebit, report.TotalCredit = money.Zero(s.ledger.Base()), money.Zero(s.ledger.Base())
	for _, t := range totals {
		report.TotalDebit = report.TotalDebit.Add(t.Debit)
		report.TotalCredit = report.TotalCredit.Add(t.Credit)
	}
	report.Balanced = report.TotalDebit.Eq(report.TotalCredit)
	if !report.Balanced {
		s.logger.Error("ledger out of balance",
			slog.String("hotel_id", hotelID.String()),
			slog.String("debit", report.TotalDebit.Canonical()),
			slog.String("credit", report.TotalCredit.Canonical()))
	}
	return report, nil
}

func (s *Service) check(ctx context.Context, acc accounts.Account, repair bool) (Drift, bool, error) {
	sign := acc.NormalSide.Sign()
	broken, computed, err := s.ledger.VerifyRunning(ctx, acc.ID, sign)
	if err != nil {
		return Drift{}, false, fmt.Errorf("reconcile: verify %s: %w", acc.Code, err)
	}
	cached := money.New(acc.CurrentBalance.Amount(), s.ledger.Base())
	if broken == nil && cached.Eq(computed) {
		return Drift{}, false, nil
	}
	drift := Drift{
		AccountID:    acc.ID,
		Code:         acc.Code,
		Name:         acc.Name,
		Cached:       cached,
		Ledger:       computed,
		Difference:   cached.Sub(computed),
		RunningBreak: broken,
	}
	attrs := []any{
		slog.String("hotel_id", acc.HotelID.String()),
		slog.String("account", acc.Code),
		slog.String("cached", cached.Canonical()),
		slog.String("ledger", computed.Canonical()),
	}
	if broken != nil {
		attrs = append(attrs, slog.String("running_break", broken.ID.String()))
	}
	s.logger.Warn("account balance drift", attrs...)

	if repair && !cached.Eq(computed) {
		if err := s.repair(ctx, acc.ID, sign); err != nil {
			return Drift{}, false, err
		}
		drift.Repaired = true
	}
	return drift, true, nil
}

// repair recomputes under the posting lock so no concurrent post slips between read and write.
func (s *Service) repair(ctx context.Context, id uuid.UUID, sign int64) error {
	return shared.RetryOnRace(ctx, 3, func() error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			locked, err := s.accounts.LockForPosting(ctx, []uuid.UUID{id})
			if err != nil {
				return err
			}
			acc := locked[id]
			balance, err := s.ledger.Balance(ctx, id, sign, time.Time{})
			if err != nil {
				return err
			}
			return s.accounts.UpdateBalance(ctx, id, balance, acc.BalanceVersion, s.clock.Now())
		})
	})
}

// RunAll reconciles every hotel that has accounts.
func (s *Service) RunAll(ctx context.Context, repair bool) ([]Report, error) {
	hotels, err := s.accounts.Hotels(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: hotels: %w", err)
	}
	out := make([]Report, 0, len(hotels))
	for _, hotelID := range hotels {
		report, err := s.Run(ctx, hotelID, repair)
		if err != nil {
			return out, fmt.Errorf("reconcile: hotel %s: %w", hotelID, err)
		}
		out = append(out, report)
	}
	return out, nil
}
