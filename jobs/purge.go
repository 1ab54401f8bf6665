package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	jobmetrics "github.com/lodgeledger/lodgeledger/internal/jobs"
)

// DefaultKeyRetention applies when the purge job has no retention set.
const DefaultKeyRetention = 72 * time.Hour

// KeyPurger drops idempotency keys recorded before cutoff.
type KeyPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdempotencyPurgeJob keeps the idempotency table bounded.
type IdempotencyPurgeJob struct {
	Store     KeyPurger
	Retention time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

func NewIdempotencyPurgeJob(store KeyPurger, retention time.Duration, clk clock.Clock, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPurgeJob {
	return &IdempotencyPurgeJob{Store: store, Retention: retention, Clock: clk, Logger: logger, Metrics: metrics}
}

func (j *IdempotencyPurgeJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("jobs: idempotency purge not configured")
	}
	if _, err := decode(task); err != nil {
		return err
	}
	metrics := metricsOr(j.Metrics)
	tracker := metrics.Track(TaskIdempotencyPurge)

	retention := j.Retention
	if retention <= 0 {
		retention = DefaultKeyRetention
	}
	var clk clock.Clock = clock.System{}
	if j.Clock != nil {
		clk = j.Clock
	}
	cutoff := clk.Now().Add(-retention)
	n, err := j.Store.Purge(ctx, cutoff)
	if err != nil {
		jobLogger(j.Logger, TaskIdempotencyPurge).Error("purge keys", slog.Any("error", err))
		return tracker.End(err)
	}
	metrics.AddItems(TaskIdempotencyPurge, "purged", int(n))
	jobLogger(j.Logger, TaskIdempotencyPurge).Info("purged keys", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	return tracker.End(nil)
}
