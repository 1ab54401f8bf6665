package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/reconcile"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	jobmetrics "github.com/lodgeledger/lodgeledger/internal/jobs"
	"github.com/lodgeledger/lodgeledger/internal/settlement"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type hotelList []uuid.UUID

func (h hotelList) Hotels(context.Context) ([]uuid.UUID, error) { return h, nil }

type reconcilerStub struct {
	calls  []uuid.UUID
	repair bool
	drift  map[uuid.UUID]int
}

func (r *reconcilerStub) Run(_ context.Context, hotelID uuid.UUID, repair bool) (reconcile.Report, error) {
	r.calls = append(r.calls, hotelID)
	r.repair = repair
	rep := reconcile.Report{HotelID: hotelID, Balanced: true}
	for i := 0; i < r.drift[hotelID]; i++ {
		rep.Drifts = append(rep.Drifts, reconcile.Drift{})
	}
	if repair {
		rep.Repaired = len(rep.Drifts)
	}
	return rep, nil
}

type sweeperStub struct {
	results map[uuid.UUID]settlement.SweepResult
	fail    uuid.UUID
	calls   int
}

func (s *sweeperStub) SweepOverdue(_ context.Context, hotelID uuid.UUID) (settlement.SweepResult, error) {
	s.calls++
	if hotelID == s.fail {
		return settlement.SweepResult{}, errors.New("store unavailable")
	}
	return s.results[hotelID], nil
}

type refresherFunc func(context.Context, uuid.UUID) (int, error)

func (f refresherFunc) RefreshOverdue(ctx context.Context, hotelID uuid.UUID) (int, error) {
	return f(ctx, hotelID)
}

func TestNewTaskValidates(t *testing.T) {
	task, err := NewReconcileTask("", true)
	require.NoError(t, err)
	require.Equal(t, TaskLedgerReconcile, task.Type())
	var payload HotelPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, HotelPayload{HotelID: "all", Repair: true}, payload)

	hotel := uuid.NewString()
	task, err = NewSettlementSweepTask(hotel)
	require.NoError(t, err)
	var sweep HotelPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &sweep))
	require.Equal(t, HotelPayload{HotelID: hotel}, sweep)

	task, err = NewTask(TaskSettlementSweep, hotel, true)
	require.NoError(t, err)
	var forced HotelPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &forced))
	require.False(t, forced.Repair, "only reconciliation repairs")

	_, err = NewInvoiceOverdueTask("hotel-9")
	require.Error(t, err)
	_, err = NewTask("email:send", "all", false)
	require.Error(t, err)
}

func TestReconcileJobCoversAllHotels(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	stub := &reconcilerStub{drift: map[uuid.UUID]int{b: 2}}
	reg := prometheus.NewRegistry()
	job := NewReconcileJob(stub, hotelList{a, b}, quiet, jobmetrics.NewMetrics(reg))

	task, err := NewReconcileTask("all", true)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []uuid.UUID{a, b}, stub.calls)
	require.True(t, stub.repair)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Equal(t, 2.0, counterValue(families, "lodgeledger_job_items_total", "repaired"))
}

func TestReconcileJobSingleHotel(t *testing.T) {
	hotel := uuid.New()
	stub := &reconcilerStub{}
	job := &ReconcileJob{Service: stub, Logger: quiet, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewReconcileTask(hotel.String(), false)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []uuid.UUID{hotel}, stub.calls)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := &ReconcileJob{Service: &reconcilerStub{}, Logger: quiet}
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte(`{"hotel_id":"nope"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSettlementSweepStopsOnFailure(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	stub := &sweeperStub{
		results: map[uuid.UUID]settlement.SweepResult{a: {Overdue: 2, Escalated: 1}},
		fail:    b,
	}
	reg := prometheus.NewRegistry()
	job := NewSettlementSweepJob(stub, hotelList{a, b, c}, quiet, jobmetrics.NewMetrics(reg))

	task, err := NewSettlementSweepTask("")
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, 2, stub.calls)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Equal(t, 2.0, counterValue(families, "lodgeledger_job_items_total", "overdue"))
	require.Equal(t, 1.0, counterValue(families, "lodgeledger_jobs_failures_total", ""))
}

func TestInvoiceOverdueJob(t *testing.T) {
	hotels := hotelList{uuid.New(), uuid.New()}
	seen := 0
	job := NewInvoiceOverdueJob(refresherFunc(func(context.Context, uuid.UUID) (int, error) {
		seen++
		return 3, nil
	}), hotels, quiet, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewInvoiceOverdueTask("all")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2, seen)
}

func TestJobsWithoutDependencies(t *testing.T) {
	task, err := NewReconcileTask("all", false)
	require.NoError(t, err)
	require.Error(t, (&ReconcileJob{}).Handle(context.Background(), task))
	require.Error(t, (&SettlementSweepJob{}).Handle(context.Background(), task))
	require.Error(t, (&InvoiceOverdueJob{}).Handle(context.Background(), task))
	require.Error(t, (&IdempotencyPurgeJob{}).Handle(context.Background(), task))
}

func TestIdempotencyPurgeUsesRetention(t *testing.T) {
	ctx := context.Background()
	store := shared.NewMemoryIdempotencyStore()
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "payments"))
	require.NoError(t, store.CheckAndInsert(ctx, "k2", "payments"))

	clk := clock.NewMock(time.Now().UTC())
	reg := prometheus.NewRegistry()
	job := NewIdempotencyPurgeJob(store, 0, clk, quiet, jobmetrics.NewMetrics(reg))
	task, err := NewIdempotencyPurgeTask()
	require.NoError(t, err)

	require.NoError(t, job.Handle(ctx, task))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "payments"), shared.ErrIdempotencyConflict, "inside retention")

	clk.Advance(DefaultKeyRetention + time.Minute)
	require.NoError(t, job.Handle(ctx, task))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "payments"), "purged key is accepted again")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Equal(t, 2.0, counterValue(families, "lodgeledger_job_items_total", "purged"))
}

// counterValue sums a counter family, filtering by the outcome label when set.
func counterValue(families []*dto.MetricFamily, name, outcome string) float64 {
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			match := outcome == ""
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					match = true
				}
			}
			if match {
				total += metric.GetCounter().GetValue()
			}
		}
	}
	return total
}
