package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type jobFunc func(context.Context, *asynq.Task) error

func (f jobFunc) Handle(ctx context.Context, t *asynq.Task) error { return f(ctx, t) }

func TestNewWorkerRejectsBadTables(t *testing.T) {
	noop := jobFunc(func(context.Context, *asynq.Task) error { return nil })
	sweep, err := NewSettlementSweepTask("all")
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{Logger: quiet})
	require.ErrorContains(t, err, "no jobs")

	_, err = NewWorker(WorkerConfig{
		Logger:    quiet,
		Jobs:      map[string]Job{TaskLedgerReconcile: noop},
		Schedules: []Schedule{{Cron: "15 0 * * *", Task: sweep}},
	})
	require.ErrorContains(t, err, `unregistered task "settlement:sweep"`)

	_, err = NewWorker(WorkerConfig{
		Logger:    quiet,
		Jobs:      map[string]Job{TaskSettlementSweep: noop},
		Schedules: []Schedule{{Task: sweep}},
	})
	require.ErrorContains(t, err, "cron expression")
}

type inspectorStub struct {
	info *asynq.QueueInfo
	err  error
}

func (s inspectorStub) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func serveHealth(t *testing.T, h *Handler) (int, map[string]json.RawMessage) {
	t.Helper()
	r := chi.NewRouter()
	h.MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestHealthReportsQueue(t *testing.T) {
	code, body := serveHealth(t, NewHandler(inspectorStub{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1, Archived: 2}}, quiet))
	require.Equal(t, http.StatusOK, code)
	var got QueueHealth
	require.NoError(t, json.Unmarshal(body["data"], &got))
	require.Equal(t, QueueHealth{Queue: QueueDefault, Enabled: true, Pending: 3, Retry: 1, Archived: 2}, got)
}

func TestHealthWithoutRedis(t *testing.T) {
	code, body := serveHealth(t, NewHandler(nil, quiet))
	require.Equal(t, http.StatusOK, code)
	var got QueueHealth
	require.NoError(t, json.Unmarshal(body["data"], &got))
	require.False(t, got.Enabled)
}

func TestHealthInspectorFailure(t *testing.T) {
	code, body := serveHealth(t, NewHandler(inspectorStub{err: errors.New("dial tcp: refused")}, quiet))
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, string(body["error"]), "jobs.queue_unavailable")
}
