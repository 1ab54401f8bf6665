package periods

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/platform/memstore"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type HandlerSuite struct {
	suite.Suite
	router http.Handler
	audit  *shared.MemoryAuditLog
	hotel  uuid.UUID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cal, err := NewCalendar(4)
	s.Require().NoError(err)
	s.audit = shared.NewMemoryAuditLog()
	clk := clock.NewMock(time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC))
	svc := NewService(NewMemoryRepository(memstore.New()), cal, s.audit, clk)
	mw := rbac.Middleware{Service: rbac.NewService(), Logger: logger}

	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/periods", NewHandler(logger, svc, mw).MountRoutes)
	s.router = r
	s.hotel = uuid.New()
}

func (s *HandlerSuite) do(method, path, role string, body any) (int, json.RawMessage) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(rbac.HeaderUserID, "u-"+role)
	req.Header.Set(rbac.HeaderRole, role)
	req.Header.Set(rbac.HeaderHotelID, s.hotel.String())
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &env))
	return rr.Code, env.Data
}

func (s *HandlerSuite) TestListDefaultsToCurrentYear() {
	code, data := s.do(http.MethodGet, "/periods", "staff", nil)
	s.Equal(http.StatusOK, code)
	var out []Period
	s.Require().NoError(json.Unmarshal(data, &out))
	s.Len(out, 12)
	s.Equal(2026, out[0].FiscalYear)
	s.Equal(PeriodStatusOpen, out[2].Status)
}

func (s *HandlerSuite) TestCloseNeedsManager() {
	req := map[string]any{"fiscal_year": 2026, "fiscal_period": 2}
	code, _ := s.do(http.MethodPost, "/periods/close", "staff", req)
	s.Equal(http.StatusForbidden, code)

	code, data := s.do(http.MethodPost, "/periods/close", "manager", req)
	s.Require().Equal(http.StatusOK, code)
	var p Period
	s.Require().NoError(json.Unmarshal(data, &p))
	s.Equal(PeriodStatusClosed, p.Status)
	s.Equal("u-manager", p.ChangedBy)
	s.NotEmpty(s.audit.Entries(""))
}

func (s *HandlerSuite) TestLockedPeriodReopensOnlyForAdmin() {
	req := map[string]any{"fiscal_year": 2026, "fiscal_period": 1}
	code, _ := s.do(http.MethodPost, "/periods/lock", "manager", req)
	s.Require().Equal(http.StatusOK, code)

	code, _ = s.do(http.MethodPost, "/periods/reopen", "manager", req)
	s.Equal(http.StatusConflict, code)

	code, data := s.do(http.MethodPost, "/periods/reopen", "admin", req)
	s.Require().Equal(http.StatusOK, code)
	var p Period
	s.Require().NoError(json.Unmarshal(data, &p))
	s.Equal(PeriodStatusClosed, p.Status)
}

func (s *HandlerSuite) TestRejectsBadPeriod() {
	code, _ := s.do(http.MethodPost, "/periods/close", "manager", map[string]any{"fiscal_year": 2026, "fiscal_period": 13})
	s.Equal(http.StatusBadRequest, code)
}
