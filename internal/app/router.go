package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/periods"
	"github.com/lodgeledger/lodgeledger/internal/accounting/reports"
	"github.com/lodgeledger/lodgeledger/internal/audit"
	"github.com/lodgeledger/lodgeledger/internal/billing/invoices"
	"github.com/lodgeledger/lodgeledger/internal/billing/payments"
	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/settlement"
	"github.com/lodgeledger/lodgeledger/internal/shared"
	"github.com/lodgeledger/lodgeledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Container  *Container
	JobHandler *jobs.Handler
	// AccessLog toggles chi's request logger.
	AccessLog bool
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	c := params.Container
	logger := c.Logger
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  c.Config,
		Metrics: c.Metrics,
	}) {
		r.Use(mw)
	}
	if params.AccessLog {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "store": "memory"}
		if c.Pool != nil {
			status["store"] = "postgres"
			if err := c.Pool.Ping(r.Context()); err != nil {
				logger.Warn("healthz ping", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "postgres"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, status)
	})
	r.Method(http.MethodGet, "/metrics", c.Metrics.Handler())

	mw := rbac.Middleware{Service: c.RBAC, Logger: logger}
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)
		r.Route("/accounts", accounts.NewHandler(logger, c.Accounts, mw).MountRoutes)
		r.Route("/periods", periods.NewHandler(logger, c.Periods, mw).MountRoutes)
		r.Route("/journals", journals.NewHandler(logger, c.Journals, mw).MountRoutes)
		r.Route("/reports", reports.NewHandler(logger, c.Reports, mw).MountRoutes)
		r.Route("/invoices", invoices.NewHandler(logger, c.Invoices, mw).MountRoutes)
		r.Route("/payments", payments.NewHandler(logger, c.Payments, mw).MountRoutes)
		r.Route("/settlements", settlement.NewHandler(logger, c.Settlements, mw).MountRoutes)
		r.Route("/audit", audit.NewHandler(logger, c.Audit, mw).MountRoutes)
		r.Route("/permissions", rbac.NewPermissionsHandler(c.RBAC).MountRoutes)
		if params.JobHandler != nil {
			r.With(mw.RequireAny(shared.PermJobsView)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondError(w, shared.ErrNotFound.WithMessage("no route for %s %s", r.Method, r.URL.Path))
	})
	return r
}
