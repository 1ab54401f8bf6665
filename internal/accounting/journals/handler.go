package journals

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := listFilter(r, user)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.List(r.Context(), user, filter)
	if err != nil {
		h.fail(w, "list journals", err)
		return
	}
	httpx.OK(w, http.StatusOK, entries)
}

func listFilter(r *http.Request, user shared.UserContext) (ListFilter, error) {
	requested, err := httpx.UUIDQuery(r, "hotel_id")
	if err != nil {
		return ListFilter{}, err
	}
	hotelID, err := rbac.ResolveHotel(user, requested)
	if err != nil {
		return ListFilter{}, err
	}
	from, err := httpx.DateQuery(r, "from", time.Time{})
	if err != nil {
		return ListFilter{}, err
	}
	to, err := httpx.DateQuery(r, "to", time.Time{})
	if err != nil {
		return ListFilter{}, err
	}
	page, err := httpx.Page(r)
	if err != nil {
		return ListFilter{}, err
	}
	q := r.URL.Query()
	return ListFilter{
		HotelID: hotelID,
		Status:  JournalStatus(q.Get("status")),
		Kind:    Kind(q.Get("kind")),
		From:    from,
		To:      to,
		RefKind: q.Get("ref_kind"),
		RefID:   q.Get("ref_id"),
		Page:    page,
	}, nil
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
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
	entry, err := h.service.Get(r.Context(), user, id)
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.OK(w, http.StatusOK, entry)
}

func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
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
	records, err := h.service.Records(r.Context(), user, id)
	if err != nil {
		h.fail(w, "journal records", err)
		return
	}
	httpx.OK(w, http.StatusOK, records)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req draftRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	hotelID, err := rbac.ResolveHotel(user, req.HotelID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.toInput(hotelID, h.service.Base())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.CreateDraft(r.Context(), user, in)
	if err != nil {
		h.fail(w, "create journal", err)
		return
	}
	httpx.OK(w, http.StatusCreated, entry)
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.service.Post(r.Context(), user, id)
	if err != nil {
		h.fail(w, "post journal", err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
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
	var req voidRequest
	if r.ContentLength > 0 {
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entry, err := h.service.Void(r.Context(), user, id, req.Reason)
	if err != nil {
		h.fail(w, "void journal", err)
		return
	}
	httpx.OK(w, http.StatusOK, entry)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
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
	var req reverseRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Reverse(r.Context(), user, id, req.Reason)
	if err != nil {
		h.fail(w, "reverse journal", err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
