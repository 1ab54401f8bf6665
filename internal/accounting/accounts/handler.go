package accounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Handler exposes the chart of accounts over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
	rbac    rbac.Middleware
}

// NewHandler builds the accounts handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAccountsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/by-code/{code}", h.getByCode)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermAccountsEdit))
		r.Post("/", h.create)
		r.Post("/seed", h.seed)
		r.Patch("/{id}", h.update)
		r.Post("/{id}/deactivate", h.deactivate)
	})
}

type createRequest struct {
	HotelID  uuid.UUID  `json:"hotel_id"`
	Code     string     `json:"code" validate:"required,len=5,numeric"`
	Name     string     `json:"name" validate:"required,max=120"`
	Kind     Kind       `json:"kind" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE COGS"`
	SubType  SubType    `json:"sub_type"`
	ParentID *uuid.UUID `json:"parent_id"`
	Currency string     `json:"currency" validate:"omitempty,currency"`
}

type updateRequest struct {
	Name        *string    `json:"name" validate:"omitempty,min=1,max=120"`
	SubType     *SubType   `json:"sub_type"`
	ParentID    *uuid.UUID `json:"parent_id"`
	ClearParent bool       `json:"clear_parent"`
	IsActive    *bool      `json:"is_active"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var (
		out []Account
		err error
	)
	if kind := Kind(r.URL.Query().Get("kind")); kind != "" {
		out, err = h.service.ListByKind(r.Context(), hotelID, kind)
	} else {
		out, err = h.service.List(r.Context(), hotelID, r.URL.Query().Get("active") == "true")
	}
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.Get(r.Context(), id)
	if err == nil {
		err = rbac.AuthorizeHotel(user, acc.HotelID)
	}
	if err != nil {
		h.fail(w, "get account", err)
		return
	}
	httpx.OK(w, http.StatusOK, acc)
}

func (h *Handler) getByCode(w http.ResponseWriter, r *http.Request) {
	_, hotelID, ok := h.scope(w, r)
	if !ok {
		return
	}
	acc, err := h.service.GetByCode(r.Context(), hotelID, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, "get account by code", err)
		return
	}
	httpx.OK(w, http.StatusOK, acc)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	hotelID, err := rbac.ResolveHotel(user, req.HotelID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.Create(r.Context(), user, CreateInput{
		HotelID:  hotelID,
		Code:     req.Code,
		Name:     req.Name,
		Kind:     req.Kind,
		SubType:  req.SubType,
		ParentID: req.ParentID,
		Currency: money.Currency(req.Currency),
	})
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.OK(w, http.StatusCreated, acc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	user, acc, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.Update(r.Context(), user, acc.ID, UpdateInput{
		Name:        req.Name,
		SubType:     req.SubType,
		ParentID:    req.ParentID,
		ClearParent: req.ClearParent,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.fail(w, "update account", err)
		return
	}
	httpx.OK(w, http.StatusOK, updated)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	user, acc, ok := h.owned(w, r)
	if !ok {
		return
	}
	updated, err := h.service.Deactivate(r.Context(), user, acc.ID)
	if err != nil {
		h.fail(w, "deactivate account", err)
		return
	}
	httpx.OK(w, http.StatusOK, updated)
}

func (h *Handler) seed(w http.ResponseWriter, r *http.Request) {
	user, hotelID, ok := h.scope(w, r)
	if !ok {
		return
	}
	created, err := h.service.Seed(r.Context(), user, hotelID)
	if err != nil {
		h.fail(w, "seed accounts", err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"created": len(created), "accounts": created})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (shared.UserContext, uuid.UUID, bool) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return user, uuid.Nil, false
	}
	requested, err := httpx.UUIDQuery(r, "hotel_id")
	if err == nil {
		requested, err = rbac.ResolveHotel(user, requested)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return user, uuid.Nil, false
	}
	return user, requested, true
}

func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (shared.UserContext, Account, bool) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return user, Account{}, false
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return user, Account{}, false
	}
	acc, err := h.service.Get(r.Context(), id)
	if err == nil {
		err = rbac.AuthorizeHotel(user, acc.HotelID)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return user, Account{}, false
	}
	return user, acc, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
