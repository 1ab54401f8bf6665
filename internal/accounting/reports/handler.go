package reports

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Handler exposes statements and budgets over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermReportsView))
		r.Get("/trial-balance", h.trialBalance)
		r.Get("/profit-and-loss", h.profitAndLoss)
		r.Get("/balance-sheet", h.balanceSheet)
		r.Get("/aged-receivables", h.agedReceivables)
		r.Get("/cash-flow", h.cashFlow)
		r.Get("/budget-variance", h.budgetVariance)
		r.Get("/summary", h.summary)
		r.Get("/budgets", h.listBudgets)
	})
	r.With(h.rbac.RequireAny(shared.PermBudgetsEdit)).Put("/budgets", h.setBudget)
}

type budgetRequest struct {
	HotelID      uuid.UUID `json:"hotel_id"`
	AccountID    uuid.UUID `json:"account_id" validate:"required"`
	FiscalYear   int       `json:"fiscal_year" validate:"required,gt=0"`
	FiscalPeriod int       `json:"fiscal_period" validate:"required,min=1,max=12"`
	Amount       string    `json:"amount" validate:"required,decimal"`
}

func (h *Handler) hotel(w http.ResponseWriter, r *http.Request) (shared.UserContext, uuid.UUID, bool) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.UserContext{}, uuid.Nil, false
	}
	requested, err := httpx.UUIDQuery(r, "hotel_id")
	if err == nil {
		var hotelID uuid.UUID
		if hotelID, err = rbac.ResolveHotel(user, requested); err == nil {
			return user, hotelID, true
		}
	}
	httpx.RespondError(w, err)
	return shared.UserContext{}, uuid.Nil, false
}

func dateRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := httpx.DateQuery(r, "from", time.Time{})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := httpx.DateQuery(r, "to", time.Time{})
	return from, to, err
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.TrialBalance(r.Context(), hotelID, asOf)
	h.respond(w, "trial balance", out, err)
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ProfitAndLoss(r.Context(), hotelID, from, to)
	h.respond(w, "profit and loss", out, err)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.BalanceSheet(r.Context(), hotelID, asOf)
	h.respond(w, "balance sheet", out, err)
}

func (h *Handler) agedReceivables(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.AgedReceivables(r.Context(), hotelID, asOf)
	h.respond(w, "aged receivables", out, err)
}

func (h *Handler) cashFlow(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.CashFlow(r.Context(), hotelID, from, to)
	h.respond(w, "cash flow", out, err)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Summary(r.Context(), hotelID, from, to)
	h.respond(w, "financial summary", out, err)
}

func (h *Handler) budgetVariance(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	year, err := httpx.IntQuery(r, "year", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.IntQuery(r, "from_period", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.IntQuery(r, "to_period", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.BudgetVariance(r.Context(), hotelID, year, from, to)
	h.respond(w, "budget variance", out, err)
}

func (h *Handler) listBudgets(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.hotel(w, r)
	if !ok {
		return
	}
	year, err := httpx.IntQuery(r, "year", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListBudgets(r.Context(), hotelID, year)
	h.respond(w, "list budgets", out, err)
}

func (h *Handler) setBudget(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req budgetRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	hotelID, err := rbac.ResolveHotel(user, req.HotelID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, err := money.Parse(req.Amount, h.service.Base())
	if err != nil {
		httpx.RespondError(w, shared.Validation("request.invalid_amount", "amount must be a decimal"))
		return
	}
	out, err := h.service.SetBudget(r.Context(), user, BudgetInput{
		HotelID:      hotelID,
		AccountID:    req.AccountID,
		FiscalYear:   req.FiscalYear,
		FiscalPeriod: req.FiscalPeriod,
		Amount:       amount,
	})
	h.respond(w, "set budget", out, err)
}

func (h *Handler) respond(w http.ResponseWriter, op string, data any, err error) {
	if err != nil {
		if shared.KindOf(err) == shared.KindInternal {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, data)
}
