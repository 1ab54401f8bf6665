package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const defaultConcurrency = 5

// Job processes one task type.
type Job interface {
	Handle(ctx context.Context, task *asynq.Task) error
}

// Schedule enqueues Task on a cron expression.
type Schedule struct {
	Cron     string
	Task     *asynq.Task
	MaxRetry int
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	Redis       asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	// Location evaluates cron expressions; UTC when nil.
	Location  *time.Location
	Jobs      map[string]Job
	Schedules []Schedule
}

// Worker owns the asynq server and, when schedules exist, its scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewWorker validates the job table and builds the server. Every scheduled
// task type must have a registered job.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if len(cfg.Jobs) == 0 {
		return nil, errors.New("jobs: no jobs registered")
	}
	for _, s := range cfg.Schedules {
		if s.Cron == "" || s.Task == nil {
			return nil, errors.New("jobs: schedule needs a cron expression and a task")
		}
		if _, ok := cfg.Jobs[s.Task.Type()]; !ok {
			return nil, fmt.Errorf("jobs: schedule for unregistered task %q", s.Task.Type())
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker"))
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	mux := asynq.NewServeMux()
	for typ, job := range cfg.Jobs {
		mux.HandleFunc(typ, job.Handle)
	}
	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency:  concurrency,
		Queues:       map[string]int{QueueDefault: 1},
		Logger:       asynqLogger{logger},
		ErrorHandler: failureLogger(logger),
	})

	w := &Worker{server: server, mux: mux, logger: logger}
	if len(cfg.Schedules) > 0 {
		w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{Location: location, Logger: asynqLogger{logger}})
		for _, s := range cfg.Schedules {
			opts := []asynq.Option{asynq.Queue(QueueDefault)}
			if s.MaxRetry > 0 {
				opts = append(opts, asynq.MaxRetry(s.MaxRetry))
			}
			id, err := w.scheduler.Register(s.Cron, s.Task, opts...)
			if err != nil {
				return nil, fmt.Errorf("jobs: schedule %s: %w", s.Task.Type(), err)
			}
			logger.Info("scheduled", slog.String("task", s.Task.Type()), slog.String("cron", s.Cron), slog.String("entry", id))
		}
	}
	return w, nil
}

// Run processes tasks until ctx is cancelled or the server fails.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	<-ctx.Done()
	w.logger.Info("draining worker")
	w.server.Shutdown()
	return ctx.Err()
}

// failureLogger reports every failed attempt with its retry position.
func failureLogger(logger *slog.Logger) asynq.ErrorHandlerFunc {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		level := slog.LevelWarn
		if retried >= maxRetry {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "task failed",
			slog.String("task", task.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err),
		)
	}
}

// asynqLogger routes asynq's internal logs through slog.
type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
