package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lodgeledger/lodgeledger/internal/app"
	jobmetrics "github.com/lodgeledger/lodgeledger/internal/jobs"
	"github.com/lodgeledger/lodgeledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if cfg.RedisAddr == "" || cfg.DatabaseURL == "" {
		logger.Error("worker needs DATABASE_URL and REDIS_ADDR")
		os.Exit(1)
	}

	container, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("wire services", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	metrics := jobmetrics.NewMetrics(container.Metrics.Registerer())
	reconcileJob := jobs.NewReconcileJob(container.Reconcile, container.AccountRepo, logger, metrics)
	sweepJob := jobs.NewSettlementSweepJob(container.Settlements, container.AccountRepo, logger, metrics)
	overdueJob := jobs.NewInvoiceOverdueJob(container.Invoices, container.AccountRepo, logger, metrics)
	purgeJob := jobs.NewIdempotencyPurgeJob(container.Idempotency, cfg.IdempotencyRetention, container.Clock, logger, metrics)

	reconcileTask, err := jobs.NewReconcileTask("all", false)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewSettlementSweepTask("all")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	overdueTask, err := jobs.NewInvoiceOverdueTask("all")
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}

	purgeTask, err := jobs.NewIdempotencyPurgeTask()
	if err != nil {
		logger.Error("build purge task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		Redis:       asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Jobs: map[string]jobs.Job{
			jobs.TaskLedgerReconcile:  reconcileJob,
			jobs.TaskSettlementSweep:  sweepJob,
			jobs.TaskInvoiceOverdue:   overdueJob,
			jobs.TaskIdempotencyPurge: purgeJob,
		},
		Schedules: []jobs.Schedule{
			{Cron: "15 0 * * *", Task: sweepTask, MaxRetry: 3},
			{Cron: "20 0 * * *", Task: overdueTask, MaxRetry: 3},
			{Cron: "0 3 * * *", Task: reconcileTask, MaxRetry: 3},
			{Cron: "30 3 * * *", Task: purgeTask, MaxRetry: 1},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.AppAddr, Handler: container.Metrics.Handler(), ReadTimeout: cfg.AppReadTimeout}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.AppAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
