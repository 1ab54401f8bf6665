package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Handler exposes the audit timeline over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermAuditView)).Get("/", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
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
	from, err := httpx.DateQuery(r, "from", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.DateQuery(r, "to", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !to.IsZero() {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	page, err := httpx.IntQuery(r, "page", 1)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	size, err := httpx.IntQuery(r, "page_size", defaultPageSize)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	out, err := h.service.Timeline(r.Context(), TimelineFilters{
		HotelID:  hotelID,
		From:     from,
		To:       to,
		Actor:    q.Get("actor"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		if shared.KindOf(err) == shared.KindInternal {
			h.logger.Error("audit timeline", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}
