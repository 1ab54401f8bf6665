package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/rules"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// DatabaseURL empty runs every store in memory.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	// RedisAddr empty disables the report cache, distributed locks and jobs.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	DefaultCurrency      string `envconfig:"DEFAULT_CURRENCY" default:"INR"`
	FiscalYearStartMonth int    `envconfig:"FISCAL_YEAR_START_MONTH" default:"4"`
	RulesOverrides       string `envconfig:"RULES_OVERRIDES"`
	FXRates              string `envconfig:"FX_RATES"`

	PostingMaxRetries  int           `envconfig:"POSTING_MAX_RETRIES" default:"3"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	ReportCacheTTL     time.Duration `envconfig:"REPORT_CACHE_TTL" default:"10m"`
	SettlementLockTTL  time.Duration `envconfig:"SETTLEMENT_LOCK_TTL" default:"15s"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"5"`

	// IdempotencyRetention bounds how long payment request keys are remembered.
	IdempotencyRetention time.Duration `envconfig:"IDEMPOTENCY_RETENTION" default:"72h"`
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: missing")
	}
	var errs []error
	if _, err := money.ParseCurrency(c.DefaultCurrency); err != nil {
		errs = append(errs, fmt.Errorf("config: DEFAULT_CURRENCY: %w", err))
	}
	if c.FiscalYearStartMonth < 1 || c.FiscalYearStartMonth > 12 {
		errs = append(errs, fmt.Errorf("config: FISCAL_YEAR_START_MONTH %d out of range", c.FiscalYearStartMonth))
	}
	if c.PostingMaxRetries < 0 {
		errs = append(errs, errors.New("config: POSTING_MAX_RETRIES must not be negative"))
	}
	if c.IdempotencyRetention < 0 {
		errs = append(errs, errors.New("config: IDEMPOTENCY_RETENTION must not be negative"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("config: RATE_LIMIT_PER_MINUTE must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Thresholds(); err != nil {
		errs = append(errs, err)
	}
	if _, err := fx.ParseRates(c.FXRates); err != nil {
		errs = append(errs, fmt.Errorf("config: FX_RATES: %w", err))
	}
	return errors.Join(errs...)
}

// BaseCurrency is the parsed DEFAULT_CURRENCY.
func (c *Config) BaseCurrency() money.Currency {
	cur, err := money.ParseCurrency(c.DefaultCurrency)
	if err != nil {
		return money.INR
	}
	return cur
}

// Thresholds applies RULES_OVERRIDES to the default thresholds.
func (c *Config) Thresholds() (rules.Thresholds, error) {
	base := rules.Defaults()
	if strings.TrimSpace(c.RulesOverrides) == "" {
		return base, nil
	}
	t, err := base.WithOverrides([]byte(c.RulesOverrides))
	if err != nil {
		return rules.Thresholds{}, fmt.Errorf("config: RULES_OVERRIDES: %w", err)
	}
	return t, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL %q: %w", raw, err)
	}
	return level, nil
}
