package invoices

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/billing/payments"
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
		r.Use(h.rbac.RequireAny(shared.PermInvoiceView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInvoiceEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/{id}/send", h.send)
		r.Post("/{id}/cancel", h.cancel)
	})
	r.With(h.rbac.RequireAll(shared.PermInvoiceView, shared.PermPaymentProcess)).Post("/{id}/payments", h.recordPayment)
}

type customerRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=GUEST CORPORATE VENDOR"`
	ID    string `json:"id" validate:"max=64"`
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=32"`
}

type lineRequest struct {
	Description string     `json:"description" validate:"required,max=200"`
	AccountID   *uuid.UUID `json:"account_id"`
	Quantity    string     `json:"quantity" validate:"required,decimal"`
	UnitPrice   string     `json:"unit_price" validate:"required,decimal"`
	TaxRate     string     `json:"tax_rate" validate:"omitempty,decimal"`
}

type discountRequest struct {
	Description string `json:"description" validate:"max=200"`
	Flat        string `json:"flat" validate:"omitempty,decimal"`
	Pct         string `json:"pct" validate:"omitempty,decimal"`
}

type createRequest struct {
	HotelID   uuid.UUID         `json:"hotel_id"`
	Customer  customerRequest   `json:"customer"`
	BookingID string            `json:"booking_id" validate:"max=64"`
	Currency  string            `json:"currency" validate:"required,currency"`
	IssueDate string            `json:"issue_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate   string            `json:"due_date" validate:"required,datetime=2006-01-02"`
	Lines     []lineRequest     `json:"line_items" validate:"required,min=1,dive"`
	Discounts []discountRequest `json:"discounts" validate:"dive"`
	Notes     string            `json:"notes" validate:"max=1000"`
}

type updateRequest struct {
	DueDate   string            `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Lines     []lineRequest     `json:"line_items" validate:"omitempty,dive"`
	Discounts []discountRequest `json:"discounts" validate:"omitempty,dive"`
	Notes     *string           `json:"notes" validate:"omitempty,max=1000"`
}

type paymentRequest struct {
	Method         string `json:"method" validate:"required"`
	Amount         string `json:"amount" validate:"required,decimal"`
	Reference      string `json:"reference" validate:"max=128"`
	GatewayFee     string `json:"gateway_fee" validate:"omitempty,decimal"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, shared.Validation("request.invalid_number", "invalid %s %q", field, v)
	}
	return d, nil
}

func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(httpx.DateLayout, v)
	return t
}

func toLines(reqs []lineRequest, cur money.Currency) ([]LineItem, error) {
	out := make([]LineItem, 0, len(reqs))
	for _, l := range reqs {
		qty, err := parseDecimal("quantity", l.Quantity)
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal("unit_price", l.UnitPrice)
		if err != nil {
			return nil, err
		}
		rate, err := parseDecimal("tax_rate", l.TaxRate)
		if err != nil {
			return nil, err
		}
		out = append(out, LineItem{
			Description: l.Description,
			AccountID:   l.AccountID,
			Quantity:    qty,
			UnitPrice:   money.New(price, cur),
			TaxRate:     rate,
		})
	}
	return out, nil
}

func toDiscounts(reqs []discountRequest, cur money.Currency) ([]Discount, error) {
	out := make([]Discount, 0, len(reqs))
	for _, d := range reqs {
		flat, err := parseDecimal("flat", d.Flat)
		if err != nil {
			return nil, err
		}
		pct, err := parseDecimal("pct", d.Pct)
		if err != nil {
			return nil, err
		}
		out = append(out, Discount{Description: d.Description, Flat: money.New(flat, cur), Pct: pct})
	}
	return out, nil
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
	cur, err := money.ParseCurrency(req.Currency)
	if err != nil {
		httpx.RespondError(w, shared.Validation("request.invalid_currency", "unsupported currency %s", req.Currency))
		return
	}
	lines, err := toLines(req.Lines, cur)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	discounts, err := toDiscounts(req.Discounts, cur)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.Create(r.Context(), user, CreateInput{
		HotelID: hotelID,
		Customer: Customer{
			Kind:  CustomerKind(req.Customer.Kind),
			ID:    req.Customer.ID,
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		BookingID: req.BookingID,
		Currency:  cur,
		IssueDate: parseDate(req.IssueDate),
		DueDate:   parseDate(req.DueDate),
		Lines:     lines,
		Discounts: discounts,
		Notes:     req.Notes,
	})
	if err != nil {
		h.failed(w, "create invoice", err)
		return
	}
	httpx.OK(w, http.StatusCreated, inv)
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
	f := ListFilter{HotelID: hotelID, CustomerID: r.URL.Query().Get("customer_id"), Page: page}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, Status(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	out, err := h.service.List(r.Context(), user, f)
	if err != nil {
		h.failed(w, "list invoices", err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

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
	h.byID(w, r, "get invoice", func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Get(r.Context(), user, id)
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.byID(w, r, "update invoice", func(user shared.UserContext, id uuid.UUID) (any, error) {
		inv, err := h.service.Get(r.Context(), user, id)
		if err != nil {
			return nil, err
		}
		ch := DraftChanges{Notes: req.Notes}
		if req.DueDate != "" {
			due := parseDate(req.DueDate)
			ch.DueDate = &due
		}
		if req.Lines != nil {
			if ch.Lines, err = toLines(req.Lines, inv.Currency); err != nil {
				return nil, err
			}
		}
		if req.Discounts != nil {
			if ch.Discounts, err = toDiscounts(req.Discounts, inv.Currency); err != nil {
				return nil, err
			}
		}
		return h.service.UpdateDraft(r.Context(), user, id, ch)
	})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "send invoice", func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Send(r.Context(), user, id)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.byID(w, r, "cancel invoice", func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Cancel(r.Context(), user, id, req.Reason)
	})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.byID(w, r, "record invoice payment", func(user shared.UserContext, id uuid.UUID) (any, error) {
		inv, err := h.service.Get(r.Context(), user, id)
		if err != nil {
			return nil, err
		}
		amount, err := money.Parse(req.Amount, inv.Currency)
		if err != nil {
			return nil, shared.Validation("request.invalid_amount", "invalid amount %q", req.Amount)
		}
		fee, err := parseDecimal("gateway_fee", req.GatewayFee)
		if err != nil {
			return nil, err
		}
		key := req.IdempotencyKey
		if key == "" {
			key = r.Header.Get("Idempotency-Key")
		}
		return h.service.RecordPayment(r.Context(), user, id, PaymentInput{
			Method:         payments.Method(req.Method),
			Amount:         amount,
			Fees:           payments.Fees{Gateway: money.New(fee, inv.Currency)},
			Reference:      req.Reference,
			IdempotencyKey: key,
		})
	})
}

func (h *Handler) failed(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
