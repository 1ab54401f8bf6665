package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/lodgeledger/lodgeledger/internal/jobs"
	"github.com/lodgeledger/lodgeledger/internal/settlement"
)

// SettlementSweeper moves overdue settlements along their escalation path.
type SettlementSweeper interface {
	SweepOverdue(ctx context.Context, hotelID uuid.UUID) (settlement.SweepResult, error)
}

// InvoiceRefresher marks overdue invoices.
type InvoiceRefresher interface {
	RefreshOverdue(ctx context.Context, hotelID uuid.UUID) (int, error)
}

// SettlementSweepJob runs the overdue sweep for one or all hotels.
type SettlementSweepJob struct {
	Sweeper SettlementSweeper
	Hotels  HotelLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func NewSettlementSweepJob(sweeper SettlementSweeper, hotels HotelLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *SettlementSweepJob {
	return &SettlementSweepJob{Sweeper: sweeper, Hotels: hotels, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep. A failing hotel stops the run so asynq retries
// it; hotels already swept are idempotent on retry.
func (j *SettlementSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("settlement sweep: dependencies not configured")
	}
	var total settlement.SweepResult
	err := perHotel(ctx, task, j.Hotels, j.Metrics, j.Logger, TaskSettlementSweep, func(ctx context.Context, hotelID uuid.UUID) error {
		res, err := j.Sweeper.SweepOverdue(ctx, hotelID)
		total.Overdue += res.Overdue
		total.Escalated += res.Escalated
		return err
	})
	metricsOr(j.Metrics).AddItems(TaskSettlementSweep, "overdue", total.Overdue)
	metricsOr(j.Metrics).AddItems(TaskSettlementSweep, "escalated", total.Escalated)
	if err == nil {
		jobLogger(j.Logger, TaskSettlementSweep).Info("swept settlements",
			slog.Int("overdue", total.Overdue), slog.Int("escalated", total.Escalated))
	}
	return err
}

// InvoiceOverdueJob refreshes invoice statuses for one or all hotels.
type InvoiceOverdueJob struct {
	Refresher InvoiceRefresher
	Hotels    HotelLister
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

func NewInvoiceOverdueJob(refresher InvoiceRefresher, hotels HotelLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceOverdueJob {
	return &InvoiceOverdueJob{Refresher: refresher, Hotels: hotels, Logger: logger, Metrics: metrics}
}

func (j *InvoiceOverdueJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Refresher == nil {
		return errors.New("invoice overdue: dependencies not configured")
	}
	changed := 0
	err := perHotel(ctx, task, j.Hotels, j.Metrics, j.Logger, TaskInvoiceOverdue, func(ctx context.Context, hotelID uuid.UUID) error {
		n, err := j.Refresher.RefreshOverdue(ctx, hotelID)
		changed += n
		return err
	})
	metricsOr(j.Metrics).AddItems(TaskInvoiceOverdue, "overdue", changed)
	return err
}

func perHotel(ctx context.Context, task *asynq.Task, lister HotelLister, metrics *jobmetrics.Metrics, logger *slog.Logger, job string, fn func(context.Context, uuid.UUID) error) error {
	payload, err := decode(task)
	if err != nil {
		return err
	}
	tracker := metricsOr(metrics).Track(job)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	log := jobLogger(logger, job)
	hotels, err := resolveHotels(ctx, lister, payload.HotelID)
	if err != nil {
		resultErr = err
		log.Error("resolve hotels", slog.String("hotel", payload.HotelID), slog.Any("error", err))
		return resultErr
	}
	for _, hotelID := range hotels {
		if err := fn(ctx, hotelID); err != nil {
			resultErr = err
			log.Error("hotel failed", slog.String("hotel_id", hotelID.String()), slog.Any("error", err))
			return resultErr
		}
	}
	return resultErr
}
