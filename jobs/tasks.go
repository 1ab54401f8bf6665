package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/lodgeledger/lodgeledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskLedgerReconcile compares cached account balances with the ledger.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskSettlementSweep marks settlements overdue and escalates them.
	TaskSettlementSweep = "settlement:sweep"
	// TaskInvoiceOverdue marks sent invoices past their due date overdue.
	TaskInvoiceOverdue = "invoice:overdue"
	// TaskIdempotencyPurge drops expired payment request keys. It ignores the hotel.
	TaskIdempotencyPurge = "idempotency:purge"

	allHotels = "all"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Types lists every task the worker handles.
var Types = []string{TaskLedgerReconcile, TaskSettlementSweep, TaskInvoiceOverdue, TaskIdempotencyPurge}

// HotelPayload scopes a task to one hotel, or to every hotel with "all".
type HotelPayload struct {
	HotelID string `json:"hotel_id"`
	Repair  bool   `json:"repair,omitempty"`
}

// NewTask builds a task of taskType for hotel. Repair only applies to
// reconciliation.
func NewTask(taskType, hotel string, repair bool) (*asynq.Task, error) {
	known := false
	for _, t := range Types {
		known = known || t == taskType
	}
	if !known {
		return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
	}
	hotel = strings.TrimSpace(hotel)
	if hotel == "" {
		hotel = allHotels
	}
	if hotel != allHotels {
		if _, err := uuid.Parse(hotel); err != nil {
			return nil, fmt.Errorf("jobs: invalid hotel id %q", hotel)
		}
	}
	body, err := json.Marshal(HotelPayload{HotelID: hotel, Repair: repair && taskType == TaskLedgerReconcile})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewReconcileTask creates a ledger reconciliation task.
func NewReconcileTask(hotel string, repair bool) (*asynq.Task, error) {
	return NewTask(TaskLedgerReconcile, hotel, repair)
}

// NewSettlementSweepTask creates an overdue settlement sweep.
func NewSettlementSweepTask(hotel string) (*asynq.Task, error) {
	return NewTask(TaskSettlementSweep, hotel, false)
}

// NewInvoiceOverdueTask creates an invoice overdue refresh.
func NewInvoiceOverdueTask(hotel string) (*asynq.Task, error) {
	return NewTask(TaskInvoiceOverdue, hotel, false)
}

// NewIdempotencyPurgeTask creates a purge of expired request keys.
func NewIdempotencyPurgeTask() (*asynq.Task, error) {
	return NewTask(TaskIdempotencyPurge, allHotels, false)
}

// HotelLister enumerates hotels with a chart of accounts.
type HotelLister interface {
	Hotels(ctx context.Context) ([]uuid.UUID, error)
}

func decode(t *asynq.Task) (HotelPayload, error) {
	var payload HotelPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("jobs: decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if payload.HotelID == "" {
		payload.HotelID = allHotels
	}
	return payload, nil
}

func resolveHotels(ctx context.Context, lister HotelLister, raw string) ([]uuid.UUID, error) {
	if raw != "" && raw != allHotels {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("jobs: invalid hotel id %q: %w", raw, asynq.SkipRetry)
		}
		return []uuid.UUID{id}, nil
	}
	if lister == nil {
		return nil, fmt.Errorf("jobs: hotel lister not configured")
	}
	return lister.Hotels(ctx)
}
