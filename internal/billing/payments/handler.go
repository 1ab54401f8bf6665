package payments

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
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

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPaymentView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPaymentProcess))
		r.Post("/", h.process)
		r.Post("/{id}/complete", h.complete)
		r.Post("/{id}/fail", h.fail)
	})
	r.With(h.rbac.RequireAny(shared.PermPaymentRefund)).Post("/{id}/refund", h.refund)
	r.With(h.rbac.RequireAny(shared.PermPaymentRecon)).Post("/{id}/reconcile", h.reconcile)
}

type feesRequest struct {
	Processing string `json:"processing" validate:"omitempty,decimal"`
	Gateway    string `json:"gateway" validate:"omitempty,decimal"`
	Bank       string `json:"bank" validate:"omitempty,decimal"`
}

type processRequest struct {
	HotelID        uuid.UUID   `json:"hotel_id"`
	Type           string      `json:"type" validate:"omitempty,oneof=RECEIPT PAYMENT ADJUSTMENT"`
	Method         string      `json:"method" validate:"required"`
	Amount         string      `json:"amount" validate:"required,decimal"`
	Currency       string      `json:"currency" validate:"required,currency"`
	Fees           feesRequest `json:"fees"`
	CustomerRef    string      `json:"customer_ref" validate:"max=128"`
	InvoiceID      *uuid.UUID  `json:"invoice_id"`
	BookingID      string      `json:"booking_id" validate:"max=64"`
	Reference      string      `json:"reference" validate:"max=128"`
	IdempotencyKey string      `json:"idempotency_key" validate:"max=128"`
	Defer          bool        `json:"defer"`
}

func parseAmount(field, v string, cur money.Currency) (money.Money, error) {
	if v == "" {
		return money.Zero(cur), nil
	}
	m, err := money.Parse(v, cur)
	if err != nil {
		return money.Money{}, shared.Validation("request.invalid_amount", "invalid %s %q", field, v)
	}
	return m, nil
}

func (req processRequest) toInput(hotelID uuid.UUID, headerKey string) (ProcessInput, error) {
	cur, err := money.ParseCurrency(req.Currency)
	if err != nil {
		return ProcessInput{}, shared.Validation("request.invalid_currency", "unsupported currency %s", req.Currency)
	}
	in := ProcessInput{
		HotelID:        hotelID,
		Type:           Type(req.Type),
		Method:         Method(req.Method),
		CustomerRef:    req.CustomerRef,
		InvoiceID:      req.InvoiceID,
		BookingID:      req.BookingID,
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
		Defer:          req.Defer,
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = headerKey
	}
	if in.Amount, err = parseAmount("amount", req.Amount, cur); err != nil {
		return ProcessInput{}, err
	}
	if in.Fees.Processing, err = parseAmount("processing fee", req.Fees.Processing, cur); err != nil {
		return ProcessInput{}, err
	}
	if in.Fees.Gateway, err = parseAmount("gateway fee", req.Fees.Gateway, cur); err != nil {
		return ProcessInput{}, err
	}
	if in.Fees.Bank, err = parseAmount("bank fee", req.Fees.Bank, cur); err != nil {
		return ProcessInput{}, err
	}
	return in, nil
}

type refundRequest struct {
	Amount string `json:"amount" validate:"omitempty,decimal"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type failRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req processRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	hotelID, err := rbac.ResolveHotel(user, req.HotelID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, err := req.toInput(hotelID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Process(r.Context(), user, in)
	if err != nil {
		h.failed(w, "process payment", err)
		return
	}
	httpx.OK(w, http.StatusCreated, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	user, err := rbac.CurrentUser(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	requested, err := httpx.UUIDQuery(r, "hotel_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	hotelID, err := rbac.ResolveHotel(user, requested)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := httpx.Page(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoiceID, err := httpx.UUIDQuery(r, "invoice_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	f := ListFilter{HotelID: hotelID, Status: Status(q.Get("status")), Type: Type(q.Get("type")), Page: page}
	if invoiceID != uuid.Nil {
		f.InvoiceID = &invoiceID
	}
	if v := q.Get("reconciled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httpx.RespondError(w, shared.Validation("request.invalid_query", "reconciled must be a boolean"))
			return
		}
		f.Reconciled = &b
	}
	out, err := h.service.List(r.Context(), user, f)
	if err != nil {
		h.failed(w, "list payments", err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

// byID runs fn for the payment named in the path.
func (h *Handler) byID(w http.ResponseWriter, r *http.Request, op string, fn func(user shared.UserContext, id uuid.UUID) (any, error)) {
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
	out, err := fn(user, id)
	if err != nil {
		h.failed(w, op, err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "get payment", func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Get(r.Context(), user, id)
	})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "complete payment", func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Complete(r.Context(), user, id)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if r.ContentLength > 0 {
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	h.byID(w, r, "fail payment", func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Fail(r.Context(), user, id, req.Reason)
	})
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.byID(w, r, "refund payment", func(user shared.UserContext, id uuid.UUID) (any, error) {
		in := RefundInput{Reason: req.Reason}
		if req.Amount != "" {
			p, err := h.service.Get(r.Context(), user, id)
			if err != nil {
				return nil, err
			}
			if in.Amount, err = parseAmount("amount", req.Amount, p.Currency); err != nil {
				return nil, err
			}
		}
		return h.service.Refund(r.Context(), user, id, in)
	})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "reconcile payment", func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Reconcile(r.Context(), user, id)
	})
}

func (h *Handler) failed(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
