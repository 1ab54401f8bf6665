package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/mappings"
	"github.com/lodgeledger/lodgeledger/internal/accounting/reports"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/lock"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/rules"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Poster emits the guest-ledger entries behind every balance change.
type Poster interface {
	Emit(ctx context.Context, user shared.UserContext, in journals.DraftInput) (journals.PostResult, error)
	ReverseWithin(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (journals.PostResult, error)
}

type AccountResolver interface {
	Resolve(ctx context.Context, hotelID uuid.UUID, module, key string) (accounts.Account, error)
}

// Observer receives settlement outcomes for metrics.
type Observer interface {
	SettlementChanged(hotelID uuid.UUID, op string, from, to Status)
	SettlementRejected(op string, reason shared.Kind)
}

type Service struct {
	repo       Repository
	poster     Poster
	resolver   AccountResolver
	rules      *rules.Store
	locker     lock.Locker
	seq        sequence.Sequencer
	audit      AuditPort
	clock      clock.Clock
	logger     *slog.Logger
	observer   Observer
	maxRetries int
}

func NewService(repo Repository, poster Poster, resolver AccountResolver, rulesStore *rules.Store, locker lock.Locker, seq sequence.Sequencer, audit AuditPort, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Service{
		repo:       repo,
		poster:     poster,
		resolver:   resolver,
		rules:      rulesStore,
		locker:     locker,
		seq:        seq,
		audit:      audit,
		clock:      clk,
		logger:     slog.Default(),
		maxRetries: journals.DefaultMaxRetries,
	}
}

func (s *Service) WithLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Service) WithObserver(o Observer) { s.observer = o }

func (s *Service) WithMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

var hundred = decimal.NewFromInt(100)

func denied(user shared.UserContext, hotelID uuid.UUID) error {
	return shared.NotAuthorized("user %s may not access settlements of hotel %s", user.Actor(), hotelID)
}

// Create opens a settlement for a booking and posts the charge to the guest
// ledger. A discount percentage becomes the first adjustment.
func (s *Service) Create(ctx context.Context, user shared.UserContext, in CreateInput) (Settlement, error) {
	if in.HotelID == uuid.Nil || !user.CanAccessHotel(in.HotelID) {
		return Settlement{}, denied(user, in.HotelID)
	}
	in.BookingID = strings.TrimSpace(in.BookingID)
	if in.BookingID == "" {
		return Settlement{}, shared.Validation("settlement.booking_required", "booking id is required")
	}
	cur := in.Amount.Currency()
	if cur == "" {
		return Settlement{}, shared.Validation("settlement.invalid_currency", "amount must carry a currency")
	}
	terms := DefaultTerms()
	if in.Terms != nil {
		terms = *in.Terms
	}

	now := s.clock.Now()
	engine := s.rules.Engine()
	candidate := rules.SettlementCandidate{
		Amount:      in.Amount,
		DueDate:     in.DueDate,
		Now:         now,
		GuestID:     in.GuestID,
		DiscountPct: in.DiscountPct,
		Notes:       in.Notes,
		Terms:       terms.rules(),
		Flags:       in.Flags.rules(),
	}
	if in.BookingTotal.IsPositive() || in.BookingGuestID != "" {
		candidate.Booking = &rules.Booking{GuestID: in.BookingGuestID, Amount: in.BookingTotal}
	}
	res := engine.ValidateSettlementCreation(candidate)
	if !res.IsValid {
		s.rejected("create", shared.KindRuleViolation)
		return Settlement{}, res.Err("settlement.rule_violation")
	}

	flags := in.Flags
	flags.RequiresApproval = flags.RequiresApproval || res.RequiresApproval
	flags.HighValue = flags.HighValue || in.Amount.Ge(money.New(engine.Thresholds().HighValueGuest, cur))
	draft := Settlement{
		ID:             uuid.New(),
		HotelID:        in.HotelID,
		BookingID:      in.BookingID,
		GuestID:        strings.TrimSpace(in.GuestID),
		GuestName:      strings.TrimSpace(in.GuestName),
		Currency:       cur,
		Status:         StatusPending,
		OriginalAmount: in.Amount,
		DueDate:        clock.Date(in.DueDate),
		Terms:          terms,
		Flags:          flags,
		Notes:          strings.TrimSpace(in.Notes),
		Warnings:       res.Warnings,
		CreatedBy:      user.Actor(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.DiscountPct.IsPositive() {
		draft.Adjustments = append(draft.Adjustments, Adjustment{
			ID:          uuid.New(),
			Type:        rules.AdjustmentDiscount,
			Amount:      in.Amount.Mul(in.DiscountPct.Div(hundred)).Round(2).Neg(),
			TaxAmount:   money.Zero(cur),
			Description: fmt.Sprintf("%s%% booking discount", in.DiscountPct),
			Category:    "booking",
			CreatedBy:   user.Actor(),
			CreatedAt:   now,
		})
	}
	recalculate(&draft)
	draft, _, err := Validate(draft, now)
	if err != nil {
		return Settlement{}, err
	}

	var out Settlement
	err = shared.RetryOnRace(ctx, s.maxRetries, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			st := draft.clone()
			active, err := tx.ActiveForBooking(ctx, st.HotelID, st.BookingID)
			if err != nil {
				return err
			}
			if active {
				return ErrBookingSettled.WithMessage("booking %s already has an active settlement", st.BookingID)
			}
			year := now.Year()
			n, err := s.seq.Next(ctx, st.HotelID, sequence.DocSettlement, year)
			if err != nil {
				return fmt.Errorf("settlement: number: %w", err)
			}
			st.Number = sequence.Format(sequence.DocSettlement, year, n)
			if _, err := s.post(ctx, user, &st, now, "booking charge",
				debit(mappings.KeyGuestLedger, st.OriginalAmount),
				credit(mappings.KeyRoomRevenue, st.OriginalAmount)); err != nil {
				return err
			}
			for i, a := range st.Adjustments {
				entry, err := s.post(ctx, user, &st, now, a.Description, adjustmentLegs(a)...)
				if err != nil {
					return err
				}
				st.Adjustments[i].JournalEntryID = entry
			}
			out = st
			if err := tx.Insert(ctx, st); err != nil {
				return err
			}
			return s.record(ctx, user, "settlement.create", st, map[string]any{
				"amount":     st.OriginalAmount.Canonical(),
				"booking_id": st.BookingID,
			})
		})
	})
	if err != nil {
		s.rejected("create", shared.KindOf(err))
		return Settlement{}, err
	}
	if len(out.Warnings) > 0 {
		s.logger.WarnContext(ctx, "settlement created with warnings",
			slog.String("number", out.Number), slog.Any("warnings", out.Warnings))
	}
	s.changed(out.HotelID, "create", "", out.Status)
	return out, nil
}

type change func(ctx context.Context, st *Settlement, now time.Time) error

// storedChange also sees the status persisted before this call's revalidation.
type storedChange func(ctx context.Context, st *Settlement, stored Status, now time.Time) error

// auditMeta describes the stored result of a change for its audit row.
type auditMeta func(st Settlement) map[string]any

// mutate serialises changes to one settlement: it holds the settlement lock,
// applies fn inside a unit of work, runs the pipeline and stores the result
// under an optimistic version check. A non-empty action is audited in the
// same unit of work.
func (s *Service) mutate(ctx context.Context, user shared.UserContext, id uuid.UUID, op, action string, fn change, meta auditMeta) (Settlement, error) {
	return s.mutateStored(ctx, user, id, op, action, func(ctx context.Context, st *Settlement, _ Status, now time.Time) error {
		return fn(ctx, st, now)
	}, meta)
}

func (s *Service) mutateStored(ctx context.Context, user shared.UserContext, id uuid.UUID, op, action string, fn storedChange, meta auditMeta) (Settlement, error) {
	release, err := s.locker.Lock(ctx, shared.SettlementLockKey(id))
	if err != nil {
		return Settlement{}, fmt.Errorf("settlement: lock %s: %w", id, err)
	}
	defer release()

	var (
		out  Settlement
		from Status
	)
	err = shared.RetryOnRace(ctx, s.maxRetries, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			st, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !user.CanAccessHotel(st.HotelID) {
				return denied(user, st.HotelID)
			}
			from = st.Status
			prev := st.Version
			now := s.clock.Now()
			// Drift in the stored document is logged before the change applies.
			if st, _, err = Validate(st, now); err != nil {
				return err
			}
			if err := fn(ctx, &st, from, now); err != nil {
				return err
			}
			recalculate(&st)
			next, rep, err := Validate(st, now)
			if err != nil {
				return err
			}
			if len(rep.Warnings) > 0 {
				s.logger.DebugContext(ctx, "settlement validated with warnings",
					slog.String("number", next.Number), slog.Any("warnings", rep.Warnings))
			}
			next.Version = prev + 1
			next.UpdatedAt = now
			out = next
			if err := tx.Update(ctx, next, prev); err != nil {
				return err
			}
			if action == "" {
				return nil
			}
			var m map[string]any
			if meta != nil {
				m = meta(next)
			}
			return s.record(ctx, user, action, next, m)
		})
	})
	if err != nil {
		s.rejected(op, shared.KindOf(err))
		return Settlement{}, err
	}
	s.changed(out.HotelID, op, from, out.Status)
	return out, nil
}

type leg struct {
	key    string
	debit  bool
	amount money.Money
}

func debit(key string, m money.Money) leg  { return leg{key: key, debit: true, amount: m} }
func credit(key string, m money.Money) leg { return leg{key: key, amount: m} }

// post emits one balanced entry for the legs and links it to st.
func (s *Service) post(ctx context.Context, user shared.UserContext, st *Settlement, now time.Time, memo string, legs ...leg) (*uuid.UUID, error) {
	lines := make([]journals.LineInput, 0, len(legs))
	for _, l := range legs {
		if l.amount.IsZero() {
			continue
		}
		acc, err := s.resolver.Resolve(ctx, st.HotelID, mappings.ModuleSettlement, l.key)
		if err != nil {
			return nil, err
		}
		line := journals.LineInput{AccountID: acc.ID, Description: memo}
		if l.debit {
			line.Debit = l.amount
		} else {
			line.Credit = l.amount
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, nil
	}
	res, err := s.poster.Emit(ctx, user, journals.DraftInput{
		HotelID:     st.HotelID,
		Date:        clock.Date(now),
		Description: fmt.Sprintf("settlement %s %s", st.Number, memo),
		RefKind:     "settlement",
		RefID:       st.ID.String(),
		Lines:       lines,
	})
	if err != nil {
		return nil, err
	}
	id := res.Entry.ID
	st.JournalEntryIDs = append(st.JournalEntryIDs, id)
	return &id, nil
}

func counterKey(a Adjustment) string {
	if a.Category == CategoryWriteOff {
		return mappings.KeyBadDebt
	}
	switch a.Type {
	case rules.AdjustmentDiscount, rules.AdjustmentCompensation:
		return mappings.KeyDiscount
	case rules.AdjustmentRefund:
		return mappings.KeyRoomRevenue
	case rules.AdjustmentDamageCharge:
		return mappings.KeyDamage
	case rules.AdjustmentServiceCharge:
		return mappings.KeyServiceCharge
	case rules.AdjustmentLateFee:
		return mappings.KeyLateFee
	case rules.AdjustmentTaxCorrection:
		return mappings.KeyTaxPayable
	}
	return mappings.KeyOtherRevenue
}

// adjustmentLegs charges positive components to the guest ledger and credits
// negative ones back to it.
func adjustmentLegs(a Adjustment) []leg {
	var out []leg
	add := func(key string, m money.Money) {
		switch {
		case m.IsPositive():
			out = append(out, debit(mappings.KeyGuestLedger, m), credit(key, m))
		case m.IsNegative():
			out = append(out, debit(key, m.Neg()), credit(mappings.KeyGuestLedger, m.Neg()))
		}
	}
	add(counterKey(a), a.Amount)
	add(mappings.KeyTaxPayable, a.TaxAmount)
	return out
}

func refundKey(m rules.RefundMethod) string {
	switch m {
	case rules.RefundCash:
		return mappings.KeyCash
	case rules.RefundToSource:
		return mappings.KeyCardClearing
	case rules.RefundCreditNote:
		return mappings.KeyDeposits
	}
	return mappings.KeyBank
}

// AddAdjustment changes the final amount after the rules engine accepts it.
func (s *Service) AddAdjustment(ctx context.Context, user shared.UserContext, id uuid.UUID, in AdjustmentInput) (Settlement, error) {
	return s.mutate(ctx, user, id, "adjust", "settlement.adjust", func(ctx context.Context, st *Settlement, now time.Time) error {
		_, err := s.applyAdjustment(ctx, user, st, now, in, nil)
		return err
	}, func(Settlement) map[string]any {
		return map[string]any{
			"type":   string(in.Type),
			"amount": in.Amount.Canonical(),
		}
	})
}

func (s *Service) applyAdjustment(ctx context.Context, user shared.UserContext, st *Settlement, now time.Time, in AdjustmentInput, disputeID *uuid.UUID) (uuid.UUID, error) {
	if !st.Status.acceptsAdjustments() {
		return uuid.Nil, ErrInvalidStatus.WithMessage("settlement %s is %s; adjustments are not allowed", st.Number, st.Status)
	}
	cur := in.Amount.Currency()
	if cur == "" {
		return uuid.Nil, shared.Validation("settlement.invalid_currency", "adjustment amount must carry a currency")
	}
	tax := in.TaxAmount.WithCurrency(cur)
	if tax.Currency() != cur {
		return uuid.Nil, shared.Validation("settlement.invalid_currency", "adjustment tax is in %s, amount is in %s", tax.Currency(), cur)
	}
	in.Description = strings.TrimSpace(in.Description)
	res := s.rules.Engine().ValidateAdjustment(rules.AdjustmentCandidate{
		Type:        in.Type,
		Amount:      in.Amount,
		TaxAmount:   tax,
		Description: in.Description,
		Attachments: len(in.Attachments),
		Approver:    user.IsApprover(),
		Settlement:  st.state(false),
	})
	if !res.IsValid {
		return uuid.Nil, res.Err("settlement.adjustment_rejected")
	}
	if res.RequiresApproval && !user.IsApprover() {
		return uuid.Nil, shared.NotAuthorized("adjustment of %s on settlement %s requires a manager or admin", in.Amount, st.Number)
	}
	if in.Description == "" {
		in.Description = strings.ReplaceAll(string(in.Type), "_", " ")
	}
	a := Adjustment{
		ID:          uuid.New(),
		Type:        in.Type,
		Amount:      money.New(in.Amount.Amount(), cur),
		TaxAmount:   money.New(tax.Amount(), cur),
		Description: in.Description,
		Category:    in.Category,
		Attachments: append([]string(nil), in.Attachments...),
		Warnings:    res.Warnings,
		DisputeID:   disputeID,
		CreatedBy:   user.Actor(),
		CreatedAt:   now,
	}
	if len(res.Warnings) > 0 {
		s.logger.WarnContext(context.WithoutCancel(ctx), "settlement adjustment warnings",
			slog.String("number", st.Number), slog.String("type", string(a.Type)), slog.Any("warnings", res.Warnings))
	}
	entry, err := s.post(ctx, user, st, now, a.Description, adjustmentLegs(a)...)
	if err != nil {
		return uuid.Nil, err
	}
	a.JournalEntryID = entry
	st.Adjustments = append(st.Adjustments, a)
	recalculate(st)
	return a.ID, nil
}

// PaymentResult is the settlement after a payment and the payment itself.
type PaymentResult struct {
	Settlement Settlement `json:"settlement"`
	Payment    Payment    `json:"payment"`
}

// AddPayment records a payment. Payments the rules flag for approval are held
// PENDING, unposted and uncounted, unless the acting user can approve them.
func (s *Service) AddPayment(ctx context.Context, user shared.UserContext, id uuid.UUID, in PaymentInput) (PaymentResult, error) {
	var pay Payment
	st, err := s.mutate(ctx, user, id, "payment", "settlement.payment", func(ctx context.Context, st *Settlement, now time.Time) error {
		if !st.Status.acceptsPayments() {
			return ErrInvalidStatus.WithMessage("settlement %s is %s; no further payments accepted", st.Number, st.Status)
		}
		method, err := rules.ParseMethod(string(in.Method))
		if err != nil {
			return shared.Validation("settlement.invalid_method", "%v", err)
		}
		res := s.rules.Engine().ValidatePayment(rules.PaymentCandidate{
			Amount:           in.Amount,
			Method:           method,
			Reference:        strings.TrimSpace(in.Reference),
			AllowOverpayment: in.AllowOverpayment,
			Settlement:       st.state(false),
		})
		if !res.IsValid {
			return res.Err("settlement.payment_rejected")
		}
		pay = Payment{
			ID:               uuid.New(),
			Amount:           money.New(in.Amount.Amount(), st.Currency),
			Method:           method,
			Reference:        strings.TrimSpace(in.Reference),
			Notes:            strings.TrimSpace(in.Notes),
			Status:           PaymentPending,
			RequiresApproval: res.RequiresApproval,
			Warnings:         res.Warnings,
			ReceivedBy:       user.Actor(),
			ReceivedAt:       now,
		}
		if !res.RequiresApproval || user.IsApprover() {
			if err := s.completePayment(ctx, user, st, &pay, now); err != nil {
				return err
			}
			if res.RequiresApproval {
				pay.DecidedBy = user.Actor()
				pay.DecidedAt = &now
			}
		}
		st.Payments = append(st.Payments, pay)
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{
			"payment_id": pay.ID.String(),
			"amount":     pay.Amount.Canonical(),
			"method":     string(pay.Method),
			"state":      string(pay.Status),
		}
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if pay.Status == PaymentPending {
		s.logger.InfoContext(ctx, "settlement payment held for approval",
			slog.String("number", st.Number), slog.String("payment_id", pay.ID.String()), slog.Any("warnings", pay.Warnings))
	}
	return PaymentResult{Settlement: st, Payment: pay}, nil
}

func (s *Service) completePayment(ctx context.Context, user shared.UserContext, st *Settlement, p *Payment, now time.Time) error {
	entry, err := s.post(ctx, user, st, now, fmt.Sprintf("%s payment", strings.ToLower(string(p.Method))),
		debit(mappings.KeyForMethod(string(p.Method)), p.Amount),
		credit(mappings.KeyGuestLedger, p.Amount))
	if err != nil {
		return err
	}
	p.Status = PaymentCompleted
	p.JournalEntryID = entry
	return nil
}

func (s *Service) pendingPayment(st *Settlement, paymentID uuid.UUID) (int, error) {
	i, ok := st.payment(paymentID)
	if !ok {
		return -1, ErrPaymentNotFound.WithMessage("payment %s not found on settlement %s", paymentID, st.Number)
	}
	if st.Payments[i].Status != PaymentPending {
		return -1, ErrInvalidStatus.WithMessage("payment %s is already %s", paymentID, st.Payments[i].Status)
	}
	return i, nil
}

// ApprovePayment completes a held payment. The payment rules run again
// against the current balance; an overpayment becomes a refund due.
func (s *Service) ApprovePayment(ctx context.Context, user shared.UserContext, id, paymentID uuid.UUID) (Settlement, error) {
	if !user.IsApprover() {
		return Settlement{}, shared.NotAuthorized("only managers or admins approve payments")
	}
	return s.mutate(ctx, user, id, "approve_payment", "settlement.payment_approve", func(ctx context.Context, st *Settlement, now time.Time) error {
		i, err := s.pendingPayment(st, paymentID)
		if err != nil {
			return err
		}
		if !st.Status.acceptsPayments() {
			return ErrInvalidStatus.WithMessage("settlement %s is %s; no further payments accepted", st.Number, st.Status)
		}
		p := st.Payments[i]
		res := s.rules.Engine().ValidatePayment(rules.PaymentCandidate{
			Amount:           p.Amount,
			Method:           p.Method,
			Reference:        p.Reference,
			AllowOverpayment: true,
			Settlement:       st.state(false),
		})
		if !res.IsValid {
			return res.Err("settlement.payment_rejected")
		}
		if err := s.completePayment(ctx, user, st, &p, now); err != nil {
			return err
		}
		p.DecidedBy = user.Actor()
		p.DecidedAt = &now
		st.Payments[i] = p
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{"payment_id": paymentID.String()}
	})
}

// RejectPayment discards a held payment.
func (s *Service) RejectPayment(ctx context.Context, user shared.UserContext, id, paymentID uuid.UUID, reason string) (Settlement, error) {
	if !user.IsApprover() {
		return Settlement{}, shared.NotAuthorized("only managers or admins reject payments")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Settlement{}, shared.Validation("settlement.reason_required", "rejection reason is required")
	}
	return s.mutate(ctx, user, id, "reject_payment", "settlement.payment_reject", func(ctx context.Context, st *Settlement, now time.Time) error {
		i, err := s.pendingPayment(st, paymentID)
		if err != nil {
			return err
		}
		p := &st.Payments[i]
		p.Status = PaymentRejected
		p.DecidedBy = user.Actor()
		p.DecidedAt = &now
		p.RejectionReason = reason
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{
			"payment_id": paymentID.String(),
			"reason":     reason,
		}
	})
}

// RefundResult is the settlement after a refund and the refund itself.
type RefundResult struct {
	Settlement Settlement `json:"settlement"`
	Refund     Refund     `json:"refund"`
}

// ProcessRefund pays back part or all of an overpayment.
func (s *Service) ProcessRefund(ctx context.Context, user shared.UserContext, id uuid.UUID, in RefundInput) (RefundResult, error) {
	var ref Refund
	st, err := s.mutate(ctx, user, id, "refund", "settlement.refund", func(ctx context.Context, st *Settlement, now time.Time) error {
		in.Reason = strings.TrimSpace(in.Reason)
		res := s.rules.Engine().ValidateRefund(rules.RefundCandidate{
			Amount:     in.Amount,
			Method:     in.Method,
			Reason:     in.Reason,
			Settlement: st.state(!st.Status.acceptsPayments()),
		})
		if !res.IsValid {
			return res.Err("settlement.refund_rejected")
		}
		if res.RequiresApproval && !user.IsApprover() {
			return shared.NotAuthorized("refund of %s on settlement %s requires a manager or admin", in.Amount, st.Number)
		}
		ref = Refund{
			ID:          uuid.New(),
			Amount:      money.New(in.Amount.Amount(), st.Currency),
			Method:      in.Method,
			Reason:      in.Reason,
			Reference:   strings.TrimSpace(in.Reference),
			Warnings:    res.Warnings,
			ProcessedBy: user.Actor(),
			ProcessedAt: now,
		}
		entry, err := s.post(ctx, user, st, now, "refund "+strings.ToLower(string(in.Method)),
			debit(mappings.KeyGuestLedger, ref.Amount),
			credit(refundKey(in.Method), ref.Amount))
		if err != nil {
			return err
		}
		ref.JournalEntryID = entry
		st.Refunds = append(st.Refunds, ref)
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{
			"refund_id": ref.ID.String(),
			"amount":    ref.Amount.Canonical(),
			"method":    string(ref.Method),
		}
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{Settlement: st, Refund: ref}, nil
}

// Escalate raises the collection level by one, up to the lower of the
// settlement's terms and the deployment limit.
func (s *Service) Escalate(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (Settlement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "balance overdue"
	}
	return s.mutate(ctx, user, id, "escalate", "settlement.escalate", func(ctx context.Context, st *Settlement, now time.Time) error {
		return s.escalate(st, user, now, reason)
	}, func(st Settlement) map[string]any {
		return map[string]any{
			"level":  st.EscalationLevel,
			"reason": reason,
		}
	})
}

func (s *Service) escalate(st *Settlement, user shared.UserContext, now time.Time, reason string) error {
	switch st.Status {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return ErrInvalidStatus.WithMessage("settlement %s is %s and cannot be escalated", st.Number, st.Status)
	}
	if st.EscalationLevel >= s.escalationCap(*st) {
		return ErrMaxEscalation.WithMessage("settlement %s is already at escalation level %d", st.Number, st.EscalationLevel)
	}
	st.EscalationLevel++
	st.EscalationHistory = append(st.EscalationHistory, Escalation{
		Level:       st.EscalationLevel,
		EscalatedAt: now,
		EscalatedBy: user.Actor(),
		Reason:      reason,
		Action:      EscalationAction(st.EscalationLevel),
	})
	next := nextReminder(now, st.EscalationLevel)
	st.NextReminderDue = &next
	return nil
}

func (s *Service) escalationCap(st Settlement) int {
	limit := min(maxEscalation, s.rules.Engine().Thresholds().MaxEscalationLevel)
	if st.Terms.MaxEscalationLevel > 0 {
		limit = min(limit, st.Terms.MaxEscalationLevel)
	}
	return limit
}

// RaiseDispute opens a dispute. Balances do not change until it is resolved
// with an adjustment.
func (s *Service) RaiseDispute(ctx context.Context, user shared.UserContext, id uuid.UUID, in DisputeInput) (Settlement, Dispute, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return Settlement{}, Dispute{}, shared.Validation("settlement.dispute_description", "dispute description is required")
	}
	if in.Type = strings.TrimSpace(in.Type); in.Type == "" {
		in.Type = "billing"
	}
	switch in.RaisedBy {
	case "":
		in.RaisedBy = "guest"
	case "guest", "hotel":
	default:
		return Settlement{}, Dispute{}, shared.Validation("settlement.dispute_party", "disputes are raised by the guest or the hotel, not %q", in.RaisedBy)
	}
	var d Dispute
	st, err := s.mutate(ctx, user, id, "dispute", "settlement.dispute_raise", func(ctx context.Context, st *Settlement, now time.Time) error {
		if st.Status == StatusCancelled {
			return ErrInvalidStatus.WithMessage("settlement %s is cancelled", st.Number)
		}
		if in.Amount != nil {
			amt := in.Amount.WithCurrency(st.Currency)
			if amt.Currency() != st.Currency || !amt.IsPositive() {
				return shared.Validation("settlement.dispute_amount", "disputed amount must be a positive %s amount", st.Currency)
			}
			in.Amount = &amt
		}
		d = Dispute{
			ID:          uuid.New(),
			Type:        in.Type,
			Amount:      in.Amount,
			Description: in.Description,
			RaisedBy:    in.RaisedBy,
			Status:      DisputeOpen,
			Evidence:    append([]string(nil), in.Evidence...),
			CreatedBy:   user.Actor(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		st.Disputes = append(st.Disputes, d)
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{"dispute_id": d.ID.String()}
	})
	if err != nil {
		return Settlement{}, Dispute{}, err
	}
	return st, d, nil
}

// UpdateDispute moves a dispute along its lifecycle. Closing it requires a
// resolution; a resolution may carry an adjustment, applied in the same
// unit of work.
func (s *Service) UpdateDispute(ctx context.Context, user shared.UserContext, id, disputeID uuid.UUID, upd DisputeUpdate) (Settlement, error) {
	upd.Resolution = strings.TrimSpace(upd.Resolution)
	if upd.Status.closed() && upd.Resolution == "" {
		return Settlement{}, shared.Validation("settlement.resolution_required", "closing a dispute requires a resolution")
	}
	if upd.Adjustment != nil && upd.Status != DisputeResolved {
		return Settlement{}, shared.Validation("settlement.dispute_adjustment", "only a resolution can apply an adjustment")
	}
	return s.mutate(ctx, user, id, "dispute_update", "settlement.dispute_update", func(ctx context.Context, st *Settlement, now time.Time) error {
		i, ok := st.dispute(disputeID)
		if !ok {
			return ErrDisputeNotFound.WithMessage("dispute %s not found on settlement %s", disputeID, st.Number)
		}
		d := st.Disputes[i]
		if !d.Status.canMove(upd.Status) {
			return ErrDisputeTransition.WithMessage("dispute %s cannot move from %s to %s", disputeID, d.Status, upd.Status)
		}
		if upd.Adjustment != nil {
			adjID, err := s.applyAdjustment(ctx, user, st, now, *upd.Adjustment, &d.ID)
			if err != nil {
				return err
			}
			d.AdjustmentID = &adjID
		}
		d.Status = upd.Status
		d.Evidence = append(d.Evidence, upd.Evidence...)
		if upd.Resolution != "" {
			d.Resolution = upd.Resolution
		}
		if d.Status.closed() {
			d.ResolvedAt = &now
			d.ResolvedBy = user.Actor()
		}
		d.UpdatedAt = now
		st.Disputes[i] = d
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{
			"dispute_id": disputeID.String(),
			"state":      string(upd.Status),
		}
	})
}

// ResolveDispute closes a dispute as resolved, optionally adjusting the settlement.
func (s *Service) ResolveDispute(ctx context.Context, user shared.UserContext, id, disputeID uuid.UUID, resolution string, adj *AdjustmentInput) (Settlement, error) {
	return s.UpdateDispute(ctx, user, id, disputeID, DisputeUpdate{Status: DisputeResolved, Resolution: resolution, Adjustment: adj})
}

// AddCommunication logs a message exchanged about the settlement.
func (s *Service) AddCommunication(ctx context.Context, user shared.UserContext, id uuid.UUID, in CommunicationInput) (Settlement, error) {
	if !in.Channel.valid() {
		return Settlement{}, shared.Validation("settlement.invalid_channel", "unknown channel %q", in.Channel)
	}
	switch in.Direction {
	case "":
		in.Direction = "outbound"
	case "inbound", "outbound":
	default:
		return Settlement{}, shared.Validation("settlement.invalid_direction", "direction must be inbound or outbound")
	}
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return Settlement{}, shared.Validation("settlement.message_required", "message is required")
	}
	return s.mutate(ctx, user, id, "communication", "settlement.communication", func(ctx context.Context, st *Settlement, now time.Time) error {
		st.Communications = append(st.Communications, Communication{
			ID:        uuid.New(),
			Channel:   in.Channel,
			Direction: in.Direction,
			Subject:   strings.TrimSpace(in.Subject),
			Message:   in.Message,
			SentBy:    user.Actor(),
			At:        now,
		})
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{"channel": string(in.Channel)}
	})
}

// LateFeeQuote is the fee a settlement would be charged at AsOf.
type LateFeeQuote struct {
	SettlementID  uuid.UUID       `json:"settlement_id"`
	AsOf          time.Time       `json:"as_of"`
	Days          int             `json:"days"`
	RatePctAnnual decimal.Decimal `json:"rate_pct_annual"`
	Outstanding   money.Money     `json:"outstanding"`
	Fee           money.Money     `json:"fee"`
}

// CalculateLateFee quotes the late fee without changing the settlement. A
// zero asOf means now.
func (s *Service) CalculateLateFee(ctx context.Context, user shared.UserContext, id uuid.UUID, asOf time.Time) (LateFeeQuote, error) {
	st, err := s.Get(ctx, user, id)
	if err != nil {
		return LateFeeQuote{}, err
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	return quote(st, asOf), nil
}

func quote(st Settlement, asOf time.Time) LateFeeQuote {
	fee := LateFee(st, asOf)
	days := 0
	if fee.IsPositive() {
		days = AccrualDays(st, asOf)
	}
	return LateFeeQuote{
		SettlementID:  st.ID,
		AsOf:          clock.Date(asOf),
		Days:          days,
		RatePctAnnual: st.Terms.LateFeeRatePctAnnual,
		Outstanding:   st.OutstandingBalance,
		Fee:           fee,
	}
}

// ApplyLateFee charges the fee accrued up to today as a late_fee adjustment.
func (s *Service) ApplyLateFee(ctx context.Context, user shared.UserContext, id uuid.UUID) (Settlement, error) {
	var q LateFeeQuote
	return s.mutate(ctx, user, id, "late_fee", "settlement.late_fee", func(ctx context.Context, st *Settlement, now time.Time) error {
		q = quote(*st, now)
		if !q.Fee.IsPositive() {
			return ErrNoLateFee.WithMessage("no late fee has accrued on settlement %s", st.Number)
		}
		if _, err := s.applyAdjustment(ctx, user, st, now, AdjustmentInput{
			Type:        rules.AdjustmentLateFee,
			Amount:      q.Fee,
			Description: fmt.Sprintf("late fee: %d days at %s%% p.a.", q.Days, q.RatePctAnnual),
			Category:    "late_fee",
		}, nil); err != nil {
			return err
		}
		through := clock.Date(now)
		st.LateFeeThrough = &through
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{
			"fee":  q.Fee.Canonical(),
			"days": q.Days,
		}
	})
}

// WriteOff moves the outstanding balance of an overdue settlement to bad debt.
func (s *Service) WriteOff(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (Settlement, error) {
	if !user.IsApprover() {
		return Settlement{}, shared.NotAuthorized("only managers or admins write off balances")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Settlement{}, shared.Validation("settlement.reason_required", "write-off reason is required")
	}
	return s.mutate(ctx, user, id, "write_off", "settlement.write_off", func(ctx context.Context, st *Settlement, now time.Time) error {
		if st.Status != StatusOverdue {
			return ErrInvalidStatus.WithMessage("settlement %s is %s; only overdue balances are written off", st.Number, st.Status)
		}
		_, err := s.applyAdjustment(ctx, user, st, now, AdjustmentInput{
			Type:        rules.AdjustmentCompensation,
			Amount:      st.OutstandingBalance.Neg(),
			Description: "write-off: " + reason,
			Category:    CategoryWriteOff,
		}, nil)
		return err
	}, func(Settlement) map[string]any {
		return map[string]any{"reason": reason}
	})
}

// Cancel withdraws a settlement that has taken no money, reversing every
// entry it posted. Held payments are rejected.
func (s *Service) Cancel(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (Settlement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Settlement{}, shared.Validation("settlement.reason_required", "cancellation reason is required")
	}
	return s.mutate(ctx, user, id, "cancel", "settlement.cancel", func(ctx context.Context, st *Settlement, now time.Time) error {
		switch {
		case st.Status == StatusCancelled || st.Status == StatusRefunded || st.Status == StatusCompleted:
			return ErrInvalidStatus.WithMessage("settlement %s is %s and cannot be cancelled", st.Number, st.Status)
		case st.TotalPaid.IsPositive():
			return ErrInvalidStatus.WithMessage("settlement %s has payments of %s; refund them first", st.Number, st.TotalPaid)
		}
		for i := range st.Payments {
			if st.Payments[i].Status == PaymentPending {
				st.Payments[i].Status = PaymentRejected
				st.Payments[i].DecidedBy = user.Actor()
				st.Payments[i].DecidedAt = &now
				st.Payments[i].RejectionReason = "settlement cancelled"
			}
		}
		posted := append([]uuid.UUID(nil), st.JournalEntryIDs...)
		for _, entryID := range posted {
			res, err := s.poster.ReverseWithin(ctx, user, entryID, fmt.Sprintf("settlement %s cancelled: %s", st.Number, reason))
			if err != nil {
				return err
			}
			st.JournalEntryIDs = append(st.JournalEntryIDs, res.Entry.ID)
		}
		st.Status = StatusCancelled
		st.CancelReason = reason
		st.CancelledAt = &now
		return nil
	}, func(Settlement) map[string]any {
		return map[string]any{"reason": reason}
	})
}

// SweepResult counts what one overdue sweep changed.
type SweepResult struct {
	Overdue   int `json:"overdue"`
	Escalated int `json:"escalated"`
}

// SweepOverdue moves open settlements past their due date to OVERDUE and
// escalates overdue ones whose reminder has come due.
func (s *Service) SweepOverdue(ctx context.Context, hotelID uuid.UUID) (SweepResult, error) {
	user := shared.SystemUser(hotelID)
	var out SweepResult
	now := s.clock.Now()
	open, err := s.repo.List(ctx, ListFilter{
		HotelID:   hotelID,
		Statuses:  []Status{StatusPending, StatusPartial, StatusOverdue},
		DueBefore: clock.Date(now),
	})
	if err != nil {
		return out, err
	}
	for _, candidate := range open {
		if candidate.Status == StatusOverdue && !s.reminderDue(candidate, now) {
			continue
		}
		// A settlement promoted to OVERDUE by this sweep waits for the next one
		// before its first escalation.
		st, err := s.mutateStored(ctx, user, candidate.ID, "sweep", "", func(ctx context.Context, st *Settlement, stored Status, now time.Time) error {
			if stored != StatusOverdue || st.Status != StatusOverdue || !s.reminderDue(*st, now) {
				return nil
			}
			return s.escalate(st, user, now, "automatic: payment overdue")
		}, nil)
		if err != nil {
			return out, fmt.Errorf("settlement: sweep %s: %w", candidate.Number, err)
		}
		if st.Status == StatusOverdue && candidate.Status != StatusOverdue {
			out.Overdue++
		}
		if st.EscalationLevel > candidate.EscalationLevel {
			out.Escalated++
		}
	}
	if out.Overdue > 0 || out.Escalated > 0 {
		s.logger.InfoContext(ctx, "settlement sweep",
			slog.String("hotel_id", hotelID.String()), slog.Int("overdue", out.Overdue), slog.Int("escalated", out.Escalated))
	}
	return out, nil
}

func (s *Service) reminderDue(st Settlement, now time.Time) bool {
	if st.EscalationLevel >= s.escalationCap(st) {
		return false
	}
	return st.NextReminderDue == nil || !now.Before(*st.NextReminderDue)
}

// OpenReceivables lists settlements with an outstanding balance created on or before asOf.
func (s *Service) OpenReceivables(ctx context.Context, hotelID uuid.UUID, asOf time.Time) ([]reports.OpenItem, error) {
	open, err := s.repo.List(ctx, ListFilter{
		HotelID:  hotelID,
		Statuses: []Status{StatusPending, StatusPartial, StatusOverdue},
	})
	if err != nil {
		return nil, err
	}
	asOf = clock.Date(asOf)
	out := make([]reports.OpenItem, 0, len(open))
	for _, st := range open {
		if clock.Date(st.CreatedAt).After(asOf) || !st.OutstandingBalance.IsPositive() {
			continue
		}
		name := st.GuestName
		if name == "" {
			name = st.GuestID
		}
		out = append(out, reports.OpenItem{
			DocumentID: st.ID,
			Number:     st.Number,
			Customer:   name,
			DueDate:    st.DueDate,
			Balance:    st.OutstandingBalance,
		})
	}
	return out, nil
}

// Revalidate runs the pipeline over a stored settlement, repairing totals
// that drifted from the line history.
func (s *Service) Revalidate(ctx context.Context, user shared.UserContext, id uuid.UUID) (Settlement, error) {
	return s.mutate(ctx, user, id, "revalidate", "", func(context.Context, *Settlement, time.Time) error { return nil }, nil)
}

func (s *Service) Get(ctx context.Context, user shared.UserContext, id uuid.UUID) (Settlement, error) {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return Settlement{}, err
	}
	if !user.CanAccessHotel(st.HotelID) {
		return Settlement{}, denied(user, st.HotelID)
	}
	return st, nil
}

func (s *Service) List(ctx context.Context, user shared.UserContext, f ListFilter) ([]Settlement, error) {
	if !user.CanAccessHotel(f.HotelID) {
		return nil, denied(user, f.HotelID)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) changed(hotelID uuid.UUID, op string, from, to Status) {
	if s.observer != nil {
		s.observer.SettlementChanged(hotelID, op, from, to)
	}
}

func (s *Service) rejected(op string, kind shared.Kind) {
	if s.observer != nil {
		s.observer.SettlementRejected(op, kind)
	}
}

func (s *Service) record(ctx context.Context, user shared.UserContext, action string, st Settlement, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = st.Number
	meta["status"] = string(st.Status)
	meta["version"] = st.Version
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  user.Actor(),
		HotelID:  st.HotelID.String(),
		Action:   action,
		Entity:   "settlement",
		EntityID: st.ID.String(),
		Meta:     meta,
		At:       s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("settlement: audit %s: %w", action, err)
	}
	return nil
}
