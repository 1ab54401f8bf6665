package periods

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Handler exposes fiscal period status over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermJournalView)).Get("/", h.list)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPeriodsManage))
		r.Post("/close", h.change(h.service.Close))
		r.Post("/lock", h.change(h.service.Lock))
		r.Post("/reopen", h.change(h.service.Reopen))
	})
}

type periodRequest struct {
	HotelID uuid.UUID `json:"hotel_id"`
	Year    int       `json:"fiscal_year" validate:"required,gte=1900"`
	Period  int       `json:"fiscal_period" validate:"required,min=1,max=12"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	hotelID, err := httpx.UUIDQuery(r, "hotel_id")
	if err == nil {
		hotelID, err = rbac.ResolveHotel(user, hotelID)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	current, _ := h.service.Locate(h.service.clock.Now())
	year, err := httpx.IntQuery(r, "year", current)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListYear(r.Context(), hotelID, year)
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

type transitionFunc func(ctx context.Context, user shared.UserContext, hotelID uuid.UUID, year, period int) (Period, error)

func (h *Handler) change(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := rbac.CurrentUser(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req periodRequest
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		hotelID, err := rbac.ResolveHotel(user, req.HotelID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		p, err := fn(r.Context(), user, hotelID, req.Year, req.Period)
		if err != nil {
			h.fail(w, "change period", err)
			return
		}
		httpx.OK(w, http.StatusOK, p)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
