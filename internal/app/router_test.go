package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/observability"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/jobs"

	_ "github.com/lodgeledger/lodgeledger/testing"
)

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Kind string `json:"kind"`
		Code string `json:"code"`
	} `json:"error"`
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
	hotel   uuid.UUID
}

func testConfig() *Config {
	return &Config{
		AppEnv:               "test",
		LogLevel:             "warn",
		DefaultCurrency:      "INR",
		FiscalYearStartMonth: 4,
		PostingMaxRetries:    3,
		RateLimitPerMinute:   1000,
		AppRequestTimeout:    5 * time.Second,
		FXRates:              `{"USDINR": "83.10"}`,
	}
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := Build(context.Background(), testConfig(), logger, Options{
		Clock:   clock.NewMock(time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)),
		Metrics: observability.NewMetrics(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return &apiClient{t: t, handler: NewRouter(RouterParams{Container: c, JobHandler: jobs.NewHandler(nil, logger)}), hotel: uuid.New()}
}

func (a *apiClient) do(method, path, role string, body any) (int, envelope) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(rbac.HeaderUserID, role+"-1")
		req.Header.Set(rbac.HeaderRole, role)
		req.Header.Set(rbac.HeaderHotelID, a.hotel.String())
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func TestHealthAndMetrics(t *testing.T) {
	api := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"store":"memory"`)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "lodgeledger_http_requests_total")
}

func TestRequestsNeedIdentity(t *testing.T) {
	api := newAPI(t)
	code, env := api.do(http.MethodGet, "/accounts", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "error", env.Status)

	code, env = api.do(http.MethodPost, "/accounts/seed", "guest", nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "NOT_AUTHORIZED", env.Error.Kind)
}

func TestSettlementFlowThroughAPI(t *testing.T) {
	api := newAPI(t)
	code, _ := api.do(http.MethodPost, "/accounts/seed", "manager", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := api.do(http.MethodPost, "/settlements", "manager", map[string]any{
		"booking_id": "BK-1001",
		"guest_name": "Asha Rao",
		"amount":     "13216.00",
		"currency":   "INR",
		"due_date":   "2026-06-20",
	})
	require.Equal(t, http.StatusCreated, code, env)
	var created struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Equal(t, "PENDING", created.Status)

	code, env = api.do(http.MethodPost, "/settlements/"+created.ID.String()+"/payments", "staff", map[string]any{
		"amount": "5000",
		"method": "CASH",
	})
	require.Equal(t, http.StatusCreated, code, env)

	code, env = api.do(http.MethodGet, "/reports/trial-balance", "staff", nil)
	require.Equal(t, http.StatusOK, code)
	var tb struct {
		Balanced bool `json:"balanced"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tb))
	require.True(t, tb.Balanced)

	code, env = api.do(http.MethodGet, "/reports/aged-receivables", "manager", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(env.Data), "STL-")

	code, _ = api.do(http.MethodGet, "/audit", "staff", nil)
	require.Equal(t, http.StatusForbidden, code)
	code, env = api.do(http.MethodGet, "/audit?entity=settlement&entity_id="+created.ID.String(), "manager", nil)
	require.Equal(t, http.StatusOK, code, env)
	var trail struct {
		Rows []struct {
			Action string `json:"action"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &trail))
	require.GreaterOrEqual(t, len(trail.Rows), 2)
}

func TestPeriodLifecycleThroughAPI(t *testing.T) {
	api := newAPI(t)
	body := map[string]any{"fiscal_year": 2026, "fiscal_period": 1}

	code, env := api.do(http.MethodPost, "/periods/close", "staff", body)
	require.Equal(t, http.StatusForbidden, code, env)

	code, env = api.do(http.MethodPost, "/periods/close", "manager", body)
	require.Equal(t, http.StatusOK, code, env)
	code, env = api.do(http.MethodPost, "/periods/lock", "manager", body)
	require.Equal(t, http.StatusOK, code, env)

	code, env = api.do(http.MethodGet, "/periods?year=2026", "staff", nil)
	require.Equal(t, http.StatusOK, code)
	var list []struct {
		FiscalPeriod int    `json:"fiscal_period"`
		Status       string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 12)
	require.Equal(t, "LOCKED", list[0].Status)
}

func TestJobsHealthWithoutRedis(t *testing.T) {
	api := newAPI(t)
	code, env := api.do(http.MethodGet, "/jobs/health", "manager", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(env.Data), `"queue":"default"`)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	api := newAPI(t)
	code, env := api.do(http.MethodGet, "/nowhere", "manager", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NOT_FOUND", env.Error.Kind)
}
