package settlement

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/httpx"
	"github.com/lodgeledger/lodgeledger/internal/rbac"
	"github.com/lodgeledger/lodgeledger/internal/rules"
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
		r.Use(h.rbac.RequireAny(shared.PermSettlementView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/late-fee", h.lateFeeQuote)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSettlementEdit))
		r.Post("/", h.create)
		r.Post("/{id}/adjustments", h.addAdjustment)
		r.Post("/{id}/payments", h.addPayment)
		r.Post("/{id}/escalate", h.escalate)
		r.Post("/{id}/disputes", h.raiseDispute)
		r.Put("/{id}/disputes/{disputeID}", h.updateDispute)
		r.Post("/{id}/communications", h.addCommunication)
		r.Post("/{id}/late-fee", h.applyLateFee)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSettlementAdmin))
		r.Post("/{id}/payments/{paymentID}/approve", h.approvePayment)
		r.Post("/{id}/payments/{paymentID}/reject", h.rejectPayment)
		r.Post("/{id}/refunds", h.refund)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/write-off", h.writeOff)
		r.Post("/{id}/revalidate", h.revalidate)
	})
}

type termsRequest struct {
	LateFeeRatePctAnnual string `json:"late_fee_rate_pct_annual" validate:"omitempty,decimal"`
	GracePeriodDays      int    `json:"grace_period_days" validate:"min=0"`
	MaxEscalationLevel   int    `json:"max_escalation_level" validate:"min=0,max=5"`
}

type createRequest struct {
	HotelID        uuid.UUID     `json:"hotel_id"`
	BookingID      string        `json:"booking_id" validate:"required,max=64"`
	GuestID        string        `json:"guest_id" validate:"max=64"`
	GuestName      string        `json:"guest_name" validate:"max=200"`
	Amount         string        `json:"amount" validate:"required,decimal"`
	Currency       string        `json:"currency" validate:"required,currency"`
	DueDate        string        `json:"due_date" validate:"required,datetime=2006-01-02"`
	Terms          *termsRequest `json:"terms"`
	Flags          Flags         `json:"flags"`
	Notes          string        `json:"notes" validate:"max=1000"`
	DiscountPct    string        `json:"discount_pct" validate:"omitempty,decimal"`
	BookingTotal   string        `json:"booking_total" validate:"omitempty,decimal"`
	BookingGuestID string        `json:"booking_guest_id" validate:"max=64"`
}

type adjustmentRequest struct {
	Type        string   `json:"type" validate:"required"`
	Amount      string   `json:"amount" validate:"required,decimal"`
	TaxAmount   string   `json:"tax_amount" validate:"omitempty,decimal"`
	Description string   `json:"description" validate:"max=500"`
	Category    string   `json:"category" validate:"max=64"`
	Attachments []string `json:"attachments" validate:"dive,max=500"`
}

type paymentRequest struct {
	Amount           string `json:"amount" validate:"required,decimal"`
	Method           string `json:"method" validate:"required"`
	Reference        string `json:"reference" validate:"max=128"`
	Notes            string `json:"notes" validate:"max=500"`
	AllowOverpayment bool   `json:"allow_overpayment"`
}

type refundRequest struct {
	Amount    string `json:"amount" validate:"required,decimal"`
	Method    string `json:"method" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
	Reference string `json:"reference" validate:"max=128"`
}

type disputeRequest struct {
	Type        string   `json:"type" validate:"max=64"`
	Amount      string   `json:"amount" validate:"omitempty,decimal"`
	Description string   `json:"description" validate:"required,max=1000"`
	RaisedBy    string   `json:"raised_by" validate:"omitempty,oneof=guest hotel"`
	Evidence    []string `json:"evidence" validate:"dive,max=500"`
}

type disputeUpdateRequest struct {
	Status     string             `json:"status" validate:"required,oneof=INVESTIGATING RESOLVED REJECTED ESCALATED"`
	Resolution string             `json:"resolution" validate:"max=1000"`
	Evidence   []string           `json:"evidence" validate:"dive,max=500"`
	Adjustment *adjustmentRequest `json:"adjustment"`
}

type communicationRequest struct {
	Channel   string `json:"channel" validate:"required,oneof=email sms phone letter in_person"`
	Direction string `json:"direction" validate:"omitempty,oneof=inbound outbound"`
	Subject   string `json:"subject" validate:"max=200"`
	Message   string `json:"message" validate:"required,max=4000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
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

func parseMoney(field, v string, cur money.Currency) (money.Money, error) {
	d, err := parseDecimal(field, v)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(d, cur), nil
}

func (req adjustmentRequest) input(cur money.Currency) (AdjustmentInput, error) {
	amount, err := parseMoney("amount", req.Amount, cur)
	if err != nil {
		return AdjustmentInput{}, err
	}
	tax, err := parseMoney("tax_amount", req.TaxAmount, cur)
	if err != nil {
		return AdjustmentInput{}, err
	}
	return AdjustmentInput{
		Type:        rules.AdjustmentType(strings.ToLower(req.Type)),
		Amount:      amount,
		TaxAmount:   tax,
		Description: req.Description,
		Category:    req.Category,
		Attachments: req.Attachments,
	}, nil
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
	in := CreateInput{
		HotelID:        hotelID,
		BookingID:      req.BookingID,
		GuestID:        req.GuestID,
		GuestName:      req.GuestName,
		Flags:          req.Flags,
		Notes:          req.Notes,
		BookingGuestID: req.BookingGuestID,
	}
	in.DueDate, _ = time.Parse(httpx.DateLayout, req.DueDate)
	if in.Amount, err = parseMoney("amount", req.Amount, cur); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.BookingTotal, err = parseMoney("booking_total", req.BookingTotal, cur); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.DiscountPct, err = parseDecimal("discount_pct", req.DiscountPct); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Terms != nil {
		terms := DefaultTerms()
		if req.Terms.LateFeeRatePctAnnual != "" {
			if terms.LateFeeRatePctAnnual, err = parseDecimal("late_fee_rate_pct_annual", req.Terms.LateFeeRatePctAnnual); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		terms.GracePeriodDays = req.Terms.GracePeriodDays
		if req.Terms.MaxEscalationLevel > 0 {
			terms.MaxEscalationLevel = req.Terms.MaxEscalationLevel
		}
		in.Terms = &terms
	}
	st, err := h.service.Create(r.Context(), user, in)
	if err != nil {
		h.failed(w, "create settlement", err)
		return
	}
	httpx.OK(w, http.StatusCreated, st)
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
	level, err := httpx.IntQuery(r, "min_escalation_level", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueBefore, err := httpx.DateQuery(r, "due_before", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	f := ListFilter{
		HotelID:            hotelID,
		BookingID:          r.URL.Query().Get("booking_id"),
		MinEscalationLevel: level,
		DueBefore:          dueBefore,
		Page:               page,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, Status(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	out, err := h.service.List(r.Context(), user, f)
	if err != nil {
		h.failed(w, "list settlements", err)
		return
	}
	httpx.OK(w, http.StatusOK, out)
}

func (h *Handler) byID(w http.ResponseWriter, r *http.Request, op string, status int, fn func(user shared.UserContext, id uuid.UUID) (any, error)) {
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
	httpx.OK(w, status, out)
}

// withBody binds the request body before dispatching to byID.
func withBody[T any](h *Handler, w http.ResponseWriter, r *http.Request, op string, status int, fn func(user shared.UserContext, id uuid.UUID, req T) (any, error)) {
	var req T
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.byID(w, r, op, status, func(user shared.UserContext, id uuid.UUID) (any, error) {
		return fn(user, id, req)
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "get settlement", http.StatusOK, func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Get(r.Context(), user, id)
	})
}

func (h *Handler) lateFeeQuote(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.DateQuery(r, "as_of", time.Time{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.byID(w, r, "quote late fee", http.StatusOK, func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.CalculateLateFee(r.Context(), user, id, asOf)
	})
}

func (h *Handler) addAdjustment(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "add adjustment", http.StatusCreated, func(user shared.UserContext, id uuid.UUID, req adjustmentRequest) (any, error) {
		st, err := h.service.Get(r.Context(), user, id)
		if err != nil {
			return nil, err
		}
		in, err := req.input(st.Currency)
		if err != nil {
			return nil, err
		}
		return h.service.AddAdjustment(r.Context(), user, id, in)
	})
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "add settlement payment", http.StatusCreated, func(user shared.UserContext, id uuid.UUID, req paymentRequest) (any, error) {
		st, err := h.service.Get(r.Context(), user, id)
		if err != nil {
			return nil, err
		}
		amount, err := parseMoney("amount", req.Amount, st.Currency)
		if err != nil {
			return nil, err
		}
		return h.service.AddPayment(r.Context(), user, id, PaymentInput{
			Amount:           amount,
			Method:           rules.Method(strings.ToUpper(req.Method)),
			Reference:        req.Reference,
			Notes:            req.Notes,
			AllowOverpayment: req.AllowOverpayment,
		})
	})
}

func (h *Handler) paymentAction(w http.ResponseWriter, r *http.Request, op string, fn func(user shared.UserContext, id, paymentID uuid.UUID, reason string) (Settlement, error)) {
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	paymentID, err := httpx.UUIDParam(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.byID(w, r, op, http.StatusOK, func(user shared.UserContext, id uuid.UUID) (any, error) {
		return fn(user, id, paymentID, req.Reason)
	})
}

func (h *Handler) approvePayment(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, "approve settlement payment", func(user shared.UserContext, id, paymentID uuid.UUID, _ string) (Settlement, error) {
		return h.service.ApprovePayment(r.Context(), user, id, paymentID)
	})
}

func (h *Handler) rejectPayment(w http.ResponseWriter, r *http.Request) {
	h.paymentAction(w, r, "reject settlement payment", func(user shared.UserContext, id, paymentID uuid.UUID, reason string) (Settlement, error) {
		return h.service.RejectPayment(r.Context(), user, id, paymentID, reason)
	})
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "refund settlement", http.StatusCreated, func(user shared.UserContext, id uuid.UUID, req refundRequest) (any, error) {
		st, err := h.service.Get(r.Context(), user, id)
		if err != nil {
			return nil, err
		}
		amount, err := parseMoney("amount", req.Amount, st.Currency)
		if err != nil {
			return nil, err
		}
		return h.service.ProcessRefund(r.Context(), user, id, RefundInput{
			Amount:    amount,
			Method:    rules.RefundMethod(strings.ToUpper(req.Method)),
			Reason:    req.Reason,
			Reference: req.Reference,
		})
	})
}

func (h *Handler) escalate(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "escalate settlement", http.StatusOK, func(user shared.UserContext, id uuid.UUID, req reasonRequest) (any, error) {
		return h.service.Escalate(r.Context(), user, id, req.Reason)
	})
}

func (h *Handler) raiseDispute(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "raise dispute", http.StatusCreated, func(user shared.UserContext, id uuid.UUID, req disputeRequest) (any, error) {
		in := DisputeInput{Type: req.Type, Description: req.Description, RaisedBy: req.RaisedBy, Evidence: req.Evidence}
		if req.Amount != "" {
			st, err := h.service.Get(r.Context(), user, id)
			if err != nil {
				return nil, err
			}
			amount, err := parseMoney("amount", req.Amount, st.Currency)
			if err != nil {
				return nil, err
			}
			in.Amount = &amount
		}
		st, d, err := h.service.RaiseDispute(r.Context(), user, id, in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"settlement": st, "dispute": d}, nil
	})
}

func (h *Handler) updateDispute(w http.ResponseWriter, r *http.Request) {
	disputeID, err := httpx.UUIDParam(r, "disputeID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	withBody(h, w, r, "update dispute", http.StatusOK, func(user shared.UserContext, id uuid.UUID, req disputeUpdateRequest) (any, error) {
		upd := DisputeUpdate{Status: DisputeStatus(req.Status), Resolution: req.Resolution, Evidence: req.Evidence}
		if req.Adjustment != nil {
			st, err := h.service.Get(r.Context(), user, id)
			if err != nil {
				return nil, err
			}
			in, err := req.Adjustment.input(st.Currency)
			if err != nil {
				return nil, err
			}
			upd.Adjustment = &in
		}
		return h.service.UpdateDispute(r.Context(), user, id, disputeID, upd)
	})
}

func (h *Handler) addCommunication(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "add communication", http.StatusCreated, func(user shared.UserContext, id uuid.UUID, req communicationRequest) (any, error) {
		return h.service.AddCommunication(r.Context(), user, id, CommunicationInput{
			Channel:   Channel(req.Channel),
			Direction: req.Direction,
			Subject:   req.Subject,
			Message:   req.Message,
		})
	})
}

func (h *Handler) applyLateFee(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "apply late fee", http.StatusOK, func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.ApplyLateFee(r.Context(), user, id)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "cancel settlement", http.StatusOK, func(user shared.UserContext, id uuid.UUID, req reasonRequest) (any, error) {
		return h.service.Cancel(r.Context(), user, id, req.Reason)
	})
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	withBody(h, w, r, "write off settlement", http.StatusOK, func(user shared.UserContext, id uuid.UUID, req reasonRequest) (any, error) {
		return h.service.WriteOff(r.Context(), user, id, req.Reason)
	})
}

func (h *Handler) revalidate(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, "revalidate settlement", http.StatusOK, func(user shared.UserContext, id uuid.UUID) (any, error) {
		return h.service.Revalidate(r.Context(), user, id)
	})
}

func (h *Handler) failed(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
