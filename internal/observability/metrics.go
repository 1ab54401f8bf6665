// Package observability owns the Prometheus registry of the API process:
// HTTP request metrics plus the posting and settlement counters fed by the
// services' observer hooks.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

const namespace = "lodgeledger"

// Metrics collects the Prometheus metrics of the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	journals        *prometheus.CounterVec
	ledgerRecords   prometheus.Counter
	rejections      *prometheus.CounterVec
	settlements     *prometheus.CounterVec
}

// NewMetrics builds a private registry with the process and Go collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	journals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_entries_posted_total",
		Help:      "Journal entries posted by kind.",
	}, []string{"kind"})
	records := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_records_total",
		Help:      "Ledger records appended.",
	})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_rejected_total",
		Help:      "Rejected core operations by component, operation and error kind.",
	}, []string{"component", "op", "kind"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlement_transitions_total",
		Help:      "Settlement operations by operation and resulting status.",
	}, []string{"op", "from", "to"})
	registry.MustRegister(
		requests, duration, journals, records, rejections, settlements,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		journals:        journals,
		ledgerRecords:   records,
		rejections:      rejections,
		settlements:     settlements,
	}
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records every HTTP request against its chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry so job metrics can join it.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// JournalPosted counts a posted entry and its ledger records.
func (m *Metrics) JournalPosted(_ uuid.UUID, kind string, records int) {
	if m == nil {
		return
	}
	m.journals.WithLabelValues(kind).Inc()
	m.ledgerRecords.Add(float64(records))
}

func (m *Metrics) JournalRejected(op string, reason shared.Kind) {
	m.rejected("journal", op, reason)
}

// SettlementChanged counts a settlement operation by the status it left behind.
func (m *Metrics) SettlementChanged(_ uuid.UUID, op string, from, to string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(op, from, to).Inc()
}

func (m *Metrics) SettlementRejected(op string, reason shared.Kind) {
	m.rejected("settlement", op, reason)
}

func (m *Metrics) rejected(component, op string, reason shared.Kind) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(component, op, string(reason)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
