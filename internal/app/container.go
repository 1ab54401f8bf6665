package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/accounting/mappings"
	"github.com/lodgeledger/lodgeledger/internal/accounting/periods"
	"github.com/lodgeledger/lodgeledger/internal/accounting/reconcile"
	"github.com/lodgeledger/lodgeledger/internal/accounting/reports"
	auditpkg "github.com/lodgeledger/lodgeledger/internal/audit"
	"github.com/lodgeledger/lodgeledger/internal/billing/invoices"
	"github.com/lodgeledger/lodgeledger/internal/billing/payments"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/observability"
	"github.com/lodgeledger/lodgeledger/internal/platform/cache"
	"github.com/lodgeledger/lodgeledger/internal/platform/db"
	"github.com/lodgeledger/lodgeledger/internal/platform/lock"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/rules"
	"github.com/lodgeledger/lodgeledger/internal/settlement"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Container holds the wired services of one process.
type Container struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Clock   clock.Clock

	Pool  *pgxpool.Pool
	Redis *redis.Client

	AccountRepo accounts.Repository
	Accounts    *accounts.Service
	Periods     *periods.Service
	Ledger      *ledger.Ledger
	Journals    *journals.Service
	Mappings    *mappings.Service
	Rates       *fx.Static
	RatesStore  *fx.Postgres
	Rules       *rules.Store
	Reports     *reports.Service
	Reconcile   *reconcile.Service
	Invoices    *invoices.Service
	Payments    *payments.Service
	Settlements *settlement.Service
	Idempotency KeyPurger
	Audit       *auditpkg.Service
	RBAC        *rbac.Service
}

// Options tune Build for tests.
type Options struct {
	Clock   clock.Clock
	Metrics *observability.Metrics
}

// Build connects to the configured backing services and wires every
// service. Without DATABASE_URL all state lives in memory; without
// REDIS_ADDR reports are not cached and locks are process-local.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, opts Options) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: opts.Metrics, Clock: clk, RBAC: rbac.NewService()}
	if c.Metrics == nil {
		c.Metrics = observability.NewMetrics()
	}
	base := cfg.BaseCurrency()

	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}
	calendar, err := periods.NewCalendar(cfg.FiscalYearStartMonth)
	if err != nil {
		return nil, err
	}
	rates, err := fx.ParseRates(cfg.FXRates)
	if err != nil {
		return nil, err
	}
	c.Rates = fx.NewStatic()
	for _, r := range rates {
		c.Rates.Add(r)
	}
	thresholds = thresholds.WithReferenceRates(referenceRates(rates, thresholds.Currency))
	if c.Rules, err = rules.NewStore(thresholds); err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		if c.Redis, err = cache.New(ctx, cfg.RedisAddr); err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
	}

	var (
		tx           shared.Transactor
		audit        auditRecorder
		idem         idempotencyStore
		seq          sequence.Sequencer
		periodRepo   periods.Repository
		ledgerStore  ledger.Store
		journalRepo  journals.Repository
		mappingRepo  mappings.Repository
		budgetRepo   reports.BudgetRepository
		invoiceRepo  invoices.Repository
		paymentRepo  payments.Repository
		stlRepo      settlement.Repository
		rateProvider fx.Provider = c.Rates
	)
	if cfg.DatabaseURL != "" {
		if c.Pool, err = db.New(ctx, cfg.DatabaseURL); err != nil {
			c.Close()
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		database := db.Wrap(c.Pool)
		tx = database
		audit = shared.NewAuditLogger(func(ctx context.Context) shared.Execer { return database.Conn(ctx) })
		c.Audit = auditpkg.NewService(auditpkg.NewPostgresRepository(c.Pool))
		idem = shared.NewIdempotencyStore(c.Pool)
		seq = sequence.NewPostgres(database)
		c.AccountRepo = accounts.NewPostgresRepository(database)
		periodRepo = periods.NewPostgresRepository(database)
		ledgerStore = ledger.NewPostgresStore(database, base)
		journalRepo = journals.NewPostgresRepository(database)
		mappingRepo = mappings.NewPostgresRepository(database)
		budgetRepo = reports.NewPostgresBudgetRepository(database)
		invoiceRepo = invoices.NewPostgresRepository(database)
		paymentRepo = payments.NewPostgresRepository(database)
		stlRepo = settlement.NewPostgresRepository(database)
		c.RatesStore = fx.NewPostgres(database)
		rateProvider = fx.Chain{c.RatesStore, c.Rates}
	} else {
		store := memstore.New()
		tx = store
		trail := shared.NewMemoryAuditLog().JoinTx(store)
		audit = trail
		c.Audit = auditpkg.NewService(auditpkg.NewMemoryRepository(trail))
		idem = shared.NewMemoryIdempotencyStore()
		seq = sequence.NewMemory(store)
		c.AccountRepo = accounts.NewMemoryRepository(store)
		periodRepo = periods.NewMemoryRepository(store)
		ledgerStore = ledger.NewMemoryStore(store)
		journalRepo = journals.NewMemoryRepository(store)
		mappingRepo = mappings.NewMemoryRepository(store)
		budgetRepo = reports.NewMemoryBudgetRepository(store)
		invoiceRepo = invoices.NewMemoryRepository(store)
		paymentRepo = payments.NewMemoryRepository(store)
		stlRepo = settlement.NewMemoryRepository(store)
	}

	var locker lock.Locker = lock.NewLocal()
	var reportCache *cache.JSONCache
	if c.Redis != nil {
		locker = lock.NewRedis(c.Redis, cfg.SettlementLockTTL)
		reportCache = cache.NewJSON(c.Redis, "lodgeledger:reports", cfg.ReportCacheTTL)
	}

	c.Accounts = accounts.NewService(c.AccountRepo, tx, audit, clk, base)
	c.Periods = periods.NewService(periodRepo, calendar, audit, clk)
	c.Ledger = ledger.New(ledgerStore, base)
	c.Mappings = mappings.NewService(mappingRepo, c.Accounts, clk)
	c.Reports = reports.NewService(c.Accounts, c.Ledger, budgetRepo, calendar, reportCache, audit, clk)
	c.Reconcile = reconcile.NewService(c.AccountRepo, c.Ledger, tx, clk, logger)

	observer := &domainObserver{metrics: c.Metrics, reports: c.Reports, logger: logger}
	c.Journals = journals.NewService(journalRepo, c.AccountRepo, c.Ledger, c.Periods, seq, audit, clk)
	converter := fx.NewConverter(rateProvider)
	c.Journals.WithConverter(converter)
	c.Journals.WithLogger(logger)
	c.Journals.WithObserver(observer)
	c.Journals.WithMaxRetries(cfg.PostingMaxRetries)

	c.Idempotency = idem
	c.Payments = payments.NewService(paymentRepo, c.Journals, c.Mappings, c.Rules, idem, locker, seq, audit, clk)
	c.Payments.WithLogger(logger)
	c.Payments.WithMaxRetries(cfg.PostingMaxRetries)
	c.Invoices = invoices.NewService(invoiceRepo, c.Journals, c.Mappings, c.Payments, seq, audit, clk)
	c.Invoices.WithLogger(logger)
	c.Invoices.WithMaxRetries(cfg.PostingMaxRetries)
	c.Payments.WithInvoices(c.Invoices)

	c.Settlements = settlement.NewService(stlRepo, c.Journals, c.Mappings, c.Rules, locker, seq, audit, clk)
	c.Settlements.WithLogger(logger)
	c.Settlements.WithObserver(observer)
	c.Settlements.WithMaxRetries(cfg.PostingMaxRetries)

	c.Reports.WithReceivables(reports.Receivables{c.Invoices, c.Settlements}).WithConverter(converter)
	return c, nil
}

// referenceRates picks the latest configured rate into the threshold currency
// for each source currency.
func referenceRates(rates []fx.Rate, to money.Currency) map[money.Currency]decimal.Decimal {
	latest := make(map[money.Currency]fx.Rate)
	for _, r := range rates {
		if r.To != to {
			continue
		}
		if cur, ok := latest[r.From]; !ok || r.EffectiveDate.After(cur.EffectiveDate) {
			latest[r.From] = r
		}
	}
	out := make(map[money.Currency]decimal.Decimal, len(latest))
	for c, r := range latest {
		out[c] = r.Rate
	}
	return out
}

// Close releases pooled connections.
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// KeyPurger drops remembered request keys older than a cutoff.
type KeyPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type idempotencyStore interface {
	payments.IdempotencyPort
	KeyPurger
}

type auditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// domainObserver feeds service events into metrics and drops cached reports
// of a hotel whenever its ledger changes.
type domainObserver struct {
	metrics *observability.Metrics
	reports *reports.Service
	logger  *slog.Logger
}

func (o *domainObserver) JournalPosted(hotelID uuid.UUID, kind string, records int) {
	o.metrics.JournalPosted(hotelID, kind, records)
	if err := o.reports.Invalidate(context.Background(), hotelID); err != nil {
		o.logger.Warn("invalidate report cache", slog.String("hotel_id", hotelID.String()), slog.Any("error", err))
	}
}

func (o *domainObserver) JournalRejected(op string, reason shared.Kind) {
	o.metrics.JournalRejected(op, reason)
}

func (o *domainObserver) SettlementChanged(hotelID uuid.UUID, op string, from, to settlement.Status) {
	o.metrics.SettlementChanged(hotelID, op, string(from), string(to))
}

func (o *domainObserver) SettlementRejected(op string, reason shared.Kind) {
	o.metrics.SettlementRejected(op, reason)
}
