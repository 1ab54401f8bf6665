package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/lodgeledger/lodgeledger/internal/accounting/reconcile"
	jobmetrics "github.com/lodgeledger/lodgeledger/internal/jobs"
)

// Reconciler checks one hotel's cached balances against its ledger.
type Reconciler interface {
	Run(ctx context.Context, hotelID uuid.UUID, repair bool) (reconcile.Report, error)
}

// ReconcileJob runs balance reconciliation for one or all hotels.
type ReconcileJob struct {
	Service Reconciler
	Hotels  HotelLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(service Reconciler, hotels HotelLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Service: service, Hotels: hotels, Logger: logger, Metrics: metrics}
}

// Handle executes the reconciliation. Drift is reported, not returned as an
// error; only failures to read the ledger are retried.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	payload, err := decode(task)
	if err != nil {
		return err
	}

	tracker := metricsOr(j.Metrics).Track(TaskLedgerReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	hotels, err := resolveHotels(ctx, j.Hotels, payload.HotelID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve hotels", slog.String("hotel", payload.HotelID), slog.Any("error", err))
		return resultErr
	}

	start := time.Now()
	drifted, repaired := 0, 0
	for _, hotelID := range hotels {
		report, err := j.Service.Run(ctx, hotelID, payload.Repair)
		if err != nil {
			resultErr = err
			j.log().Error("reconcile hotel", slog.String("hotel_id", hotelID.String()), slog.Any("error", err))
			return resultErr
		}
		drifted += len(report.Drifts)
		repaired += report.Repaired
		if !report.Clean() {
			j.log().Warn("ledger drift",
				slog.String("hotel_id", hotelID.String()),
				slog.Int("drifts", len(report.Drifts)),
				slog.Int("repaired", report.Repaired),
				slog.Bool("balanced", report.Balanced))
		}
	}
	metricsOr(j.Metrics).AddItems(TaskLedgerReconcile, "drift", drifted)
	metricsOr(j.Metrics).AddItems(TaskLedgerReconcile, "repaired", repaired)

	j.log().Info("reconciled ledgers", slog.Int("hotels", len(hotels)), slog.Int("drifts", drifted), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *ReconcileJob) log() *slog.Logger {
	return jobLogger(j.Logger, TaskLedgerReconcile)
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
