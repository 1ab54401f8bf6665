package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/mappings"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/lock"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/rules"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

const idempotencyModule = "payments"

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Poster emits automatic journal entries.
type Poster interface {
	Emit(ctx context.Context, user shared.UserContext, in journals.DraftInput) (journals.PostResult, error)
}

// AccountResolver maps business keys to ledger accounts.
type AccountResolver interface {
	Resolve(ctx context.Context, hotelID uuid.UUID, module, key string) (accounts.Account, error)
}

// IdempotencyPort remembers processed request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// InvoiceLinker applies completed payments to the invoice they settle.
// amount is negative for refunds.
type InvoiceLinker interface {
	ApplyPayment(ctx context.Context, user shared.UserContext, invoiceID uuid.UUID, amount money.Money, paymentID uuid.UUID) error
}

type Service struct {
	repo       Repository
	poster     Poster
	resolver   AccountResolver
	rules      *rules.Store
	idem       IdempotencyPort
	locker     lock.Locker
	seq        sequence.Sequencer
	audit      AuditPort
	clock      clock.Clock
	logger     *slog.Logger
	invoices   InvoiceLinker
	maxRetries int
}

func NewService(repo Repository, poster Poster, resolver AccountResolver, rulesStore *rules.Store, idem IdempotencyPort,
	locker lock.Locker, seq sequence.Sequencer, audit AuditPort, clk clock.Clock) *Service {
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
		idem:       idem,
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

// WithInvoices links completed payments to invoices.
func (s *Service) WithInvoices(linker InvoiceLinker) { s.invoices = linker }

func (s *Service) WithMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

// Process records a payment and, unless deferred or awaiting approval, completes it.
// A repeated idempotency key returns the payment recorded under it.
func (s *Service) Process(ctx context.Context, user shared.UserContext, in ProcessInput) (Payment, error) {
	if in.HotelID == uuid.Nil || !user.CanAccessHotel(in.HotelID) {
		return Payment{}, shared.NotAuthorized("user %s may not record payments for hotel %s", user.Actor(), in.HotelID)
	}
	if in.Type == "" {
		in.Type = TypeReceipt
	}
	if err := validateInput(&in); err != nil {
		return Payment{}, err
	}
	res := s.rules.Engine().ValidatePayment(rules.PaymentCandidate{
		Amount:           in.Amount,
		Method:           in.Method,
		Reference:        in.Reference,
		AllowOverpayment: true,
		Settlement:       rules.SettlementState{Currency: in.Amount.Currency(), Outstanding: in.Amount},
	})
	if !res.IsValid {
		return Payment{}, res.Err("payment.rule_violation")
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	in.IdempotencyKey = key
	if key != "" {
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule+":"+in.HotelID.String()); err != nil {
			if !errors.Is(err, shared.ErrIdempotencyConflict) {
				return Payment{}, fmt.Errorf("payments: idempotency: %w", err)
			}
			existing, gerr := s.repo.GetByIdempotencyKey(ctx, in.HotelID, key)
			if gerr != nil {
				return Payment{}, err
			}
			return existing, nil
		}
	}

	var out Payment
	err := shared.RetryOnRace(ctx, s.maxRetries, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := s.insert(ctx, tx, user, in, res)
			if err != nil {
				return err
			}
			if !in.Defer && (!p.RequiresApproval || user.IsApprover()) {
				if p, err = s.complete(ctx, tx, user, p); err != nil {
					return err
				}
			}
			out = p
			return s.record(ctx, user, "payment.process", p, map[string]any{"amount": p.Amount.Canonical()})
		})
	})
	if err != nil {
		s.forget(ctx, in.HotelID, key)
		return Payment{}, err
	}
	return out, nil
}

func (s *Service) forget(ctx context.Context, hotelID uuid.UUID, key string) {
	if key == "" {
		return
	}
	if err := s.idem.Delete(ctx, key, idempotencyModule+":"+hotelID.String()); err != nil {
		s.logger.WarnContext(ctx, "release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func validateInput(in *ProcessInput) error {
	if !in.Type.processable() {
		return shared.Validation("payment.invalid_type", "payment type %q cannot be processed directly", in.Type)
	}
	method, err := rules.ParseMethod(string(in.Method))
	if err != nil {
		return shared.Validation("payment.invalid_method", "%v", err)
	}
	in.Method = method
	if !in.Amount.IsPositive() {
		return shared.Validation("payment.invalid_amount", "payment amount must be positive")
	}
	cur := in.Amount.Currency()
	if _, err := money.ParseCurrency(string(cur)); err != nil {
		return shared.Validation("payment.invalid_currency", "%v", err)
	}
	fees := []money.Money{in.Fees.Processing, in.Fees.Gateway, in.Fees.Bank}
	for _, f := range fees {
		if f.IsNegative() {
			return shared.Validation("payment.invalid_fee", "fees must not be negative")
		}
		if f.Currency() != "" && f.Currency() != cur {
			return shared.Validation("payment.invalid_fee", "fees must be in %s", cur)
		}
	}
	total := in.Fees.Total(cur)
	if total.Gt(in.Amount) {
		return shared.Validation("payment.invalid_fee", "fees %s exceed the amount %s", total, in.Amount)
	}
	if in.Type == TypeAdjustment && !total.IsZero() {
		return shared.Validation("payment.invalid_fee", "adjustments carry no fees")
	}
	if in.Type == TypePayment && in.InvoiceID != nil {
		return shared.Validation("payment.invalid_invoice", "outgoing payments are not applied to invoices")
	}
	return nil
}

func (s *Service) insert(ctx context.Context, tx TxRepository, user shared.UserContext, in ProcessInput, res rules.Result) (Payment, error) {
	now := s.clock.Now()
	n, err := s.seq.Next(ctx, in.HotelID, sequence.DocPayment, now.Year())
	if err != nil {
		return Payment{}, fmt.Errorf("payments: number: %w", err)
	}
	cur := in.Amount.Currency()
	p := Payment{
		ID:               uuid.New(),
		HotelID:          in.HotelID,
		Number:           sequence.Format(sequence.DocPayment, now.Year(), n),
		Type:             in.Type,
		Method:           in.Method,
		Amount:           in.Amount,
		Currency:         cur,
		Fees:             Fees{Processing: in.Fees.Processing.WithCurrency(cur), Gateway: in.Fees.Gateway.WithCurrency(cur), Bank: in.Fees.Bank.WithCurrency(cur)},
		NetAmount:        in.Amount.Sub(in.Fees.Total(cur)),
		CustomerRef:      strings.TrimSpace(in.CustomerRef),
		InvoiceID:        in.InvoiceID,
		BookingID:        in.BookingID,
		Reference:        strings.TrimSpace(in.Reference),
		Status:           StatusPending,
		RequiresApproval: res.RequiresApproval,
		Warnings:         res.Warnings,
		IdempotencyKey:   in.IdempotencyKey,
		RefundedAmount:   money.Zero(cur),
		CreatedBy:        user.Actor(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.Insert(ctx, p); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// complete posts the payment: the principal moves between the cash account of
// its method and the counterpart of its type; fees are expensed against cash.
func (s *Service) complete(ctx context.Context, tx TxRepository, user shared.UserContext, p Payment) (Payment, error) {
	resolve := func(key string) (uuid.UUID, error) {
		acc, err := s.resolver.Resolve(ctx, p.HotelID, mappings.ModuleBilling, key)
		return acc.ID, err
	}
	cash, err := resolve(mappings.KeyForMethod(string(p.Method)))
	if err != nil {
		return Payment{}, err
	}
	var debit, credit uuid.UUID
	switch p.Type {
	case TypeReceipt:
		debit = cash
		credit, err = resolve(mappings.KeyReceivable)
	case TypeRefund:
		debit, err = resolve(mappings.KeyReceivable)
		credit = cash
	case TypePayment:
		debit, err = resolve(mappings.KeyPayable)
		credit = cash
	case TypeAdjustment:
		debit, err = resolve(mappings.KeyDiscount)
		if err == nil {
			credit, err = resolve(mappings.KeyReceivable)
		}
	}
	if err != nil {
		return Payment{}, err
	}
	lines := []journals.LineInput{
		{AccountID: debit, Description: p.Number, Debit: p.Amount},
		{AccountID: credit, Description: p.Number, Credit: p.Amount},
	}
	if fees := p.Fees.Total(p.Currency); fees.IsPositive() {
		feeAcc, err := resolve(mappings.KeyFees)
		if err != nil {
			return Payment{}, err
		}
		lines = append(lines,
			journals.LineInput{AccountID: feeAcc, Description: p.Number + " fees", Debit: fees},
			journals.LineInput{AccountID: cash, Description: p.Number + " fees", Credit: fees})
	}
	now := s.clock.Now()
	posted, err := s.poster.Emit(ctx, user, journals.DraftInput{
		HotelID:     p.HotelID,
		Date:        now,
		Description: fmt.Sprintf("%s %s %s", strings.ToLower(string(p.Type)), p.Number, p.Method),
		RefKind:     "payment",
		RefID:       p.ID.String(),
		Lines:       lines,
	})
	if err != nil {
		return Payment{}, err
	}
	entryID := posted.Entry.ID
	p.JournalEntryID = &entryID
	p.Status = StatusCompleted
	p.ProcessedAt = &now
	p.UpdatedAt = now
	if err := tx.Update(ctx, p); err != nil {
		return Payment{}, err
	}
	if p.InvoiceID != nil && s.invoices != nil && p.Type != TypePayment {
		amount := p.Amount
		if p.Type == TypeRefund {
			amount = amount.Neg()
		}
		if err := s.invoices.ApplyPayment(ctx, user, *p.InvoiceID, amount, p.ID); err != nil {
			return Payment{}, err
		}
	}
	return p, nil
}

// mutate runs fn on a locked payment inside a unit of work and audits the
// result as action in the same unit of work.
func (s *Service) mutate(ctx context.Context, user shared.UserContext, id uuid.UUID, action string, fn func(context.Context, TxRepository, Payment) (Payment, error), meta func(Payment) map[string]any) (Payment, error) {
	release, err := s.locker.Lock(ctx, shared.PaymentLockKey(id))
	if err != nil {
		return Payment{}, err
	}
	defer release()
	var out Payment
	err = shared.RetryOnRace(ctx, s.maxRetries, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !user.CanAccessHotel(p.HotelID) {
				return shared.NotAuthorized("user %s may not change payments of hotel %s", user.Actor(), p.HotelID)
			}
			if out, err = fn(ctx, tx, p); err != nil {
				return err
			}
			var m map[string]any
			if meta != nil {
				m = meta(out)
			}
			return s.record(ctx, user, action, out, m)
		})
	})
	if err != nil {
		return Payment{}, err
	}
	return out, nil
}

// Complete posts a PENDING or PROCESSING payment.
func (s *Service) Complete(ctx context.Context, user shared.UserContext, id uuid.UUID) (Payment, error) {
	return s.mutate(ctx, user, id, "payment.complete", func(ctx context.Context, tx TxRepository, p Payment) (Payment, error) {
		if !p.Status.open() {
			return Payment{}, ErrInvalidStatus.WithMessage("payment %s is %s", p.Number, p.Status)
		}
		if p.RequiresApproval && !user.IsApprover() {
			return Payment{}, shared.NotAuthorized("payment %s requires manager approval", p.Number)
		}
		return s.complete(ctx, tx, user, p)
	}, nil)
}

// Fail marks an open payment FAILED and releases its idempotency key.
func (s *Service) Fail(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (Payment, error) {
	var key string
	p, err := s.mutate(ctx, user, id, "payment.fail", func(ctx context.Context, tx TxRepository, p Payment) (Payment, error) {
		if !p.Status.open() {
			return Payment{}, ErrInvalidStatus.WithMessage("payment %s is %s", p.Number, p.Status)
		}
		p.Status = StatusFailed
		p.FailureReason = strings.TrimSpace(reason)
		key = p.IdempotencyKey
		p.IdempotencyKey = ""
		p.UpdatedAt = s.clock.Now()
		return p, tx.Update(ctx, p)
	}, func(p Payment) map[string]any {
		return map[string]any{"reason": p.FailureReason}
	})
	if err != nil {
		return Payment{}, err
	}
	s.forget(ctx, p.HotelID, key)
	return p, nil
}

// RefundInput describes a refund of a completed receipt. A zero amount refunds the remainder.
type RefundInput struct {
	Amount money.Money
	Reason string
}

// RefundResult holds the refunded receipt and the refund payment posted for it.
type RefundResult struct {
	Original Payment `json:"original"`
	Refund   Payment `json:"refund"`
}

func refundMethod(m Method) rules.RefundMethod {
	switch m {
	case rules.MethodCard:
		return rules.RefundToSource
	case rules.MethodCash:
		return rules.RefundCash
	case rules.MethodUPI:
		return rules.RefundUPI
	}
	return rules.RefundBankTransfer
}

// Refund returns money from a completed receipt through a REFUND payment.
// The receipt becomes REFUNDED once nothing refundable remains.
func (s *Service) Refund(ctx context.Context, user shared.UserContext, id uuid.UUID, in RefundInput) (RefundResult, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return RefundResult{}, shared.Validation("payment.reason_required", "refund reason is required")
	}
	var refund Payment
	original, err := s.mutate(ctx, user, id, "payment.refund", func(ctx context.Context, tx TxRepository, p Payment) (Payment, error) {
		if p.Type != TypeReceipt || p.Status != StatusCompleted {
			return Payment{}, ErrInvalidStatus.WithMessage("only completed receipts can be refunded; payment %s is %s %s", p.Number, p.Type, p.Status)
		}
		amount := in.Amount
		if amount.IsZero() {
			amount = p.Refundable()
		}
		if amount.Currency() != p.Currency {
			return Payment{}, shared.Validation("payment.invalid_currency", "refund must be in %s", p.Currency)
		}
		res := s.rules.Engine().ValidateRefund(rules.RefundCandidate{
			Amount: amount,
			Method: refundMethod(p.Method),
			Reason: reason,
			Settlement: rules.SettlementState{
				Currency:       p.Currency,
				TotalPaid:      p.Amount,
				FinalAmount:    money.Zero(p.Currency),
				RefundedAmount: p.RefundedAmount,
				Payments:       []rules.PaymentFact{{Method: p.Method, Amount: p.Amount, Completed: true}},
			},
		})
		if !res.IsValid {
			return Payment{}, res.Err("payment.refund_rejected")
		}
		if res.RequiresApproval && !user.IsApprover() {
			return Payment{}, shared.NotAuthorized("refund of %s requires manager approval", amount)
		}
		now := s.clock.Now()
		n, err := s.seq.Next(ctx, p.HotelID, sequence.DocPayment, now.Year())
		if err != nil {
			return Payment{}, fmt.Errorf("payments: number: %w", err)
		}
		originalID := p.ID
		refund = Payment{
			ID:             uuid.New(),
			HotelID:        p.HotelID,
			Number:         sequence.Format(sequence.DocPayment, now.Year(), n),
			Type:           TypeRefund,
			Method:         p.Method,
			Amount:         amount,
			Currency:       p.Currency,
			NetAmount:      amount,
			CustomerRef:    p.CustomerRef,
			InvoiceID:      p.InvoiceID,
			BookingID:      p.BookingID,
			Status:         StatusPending,
			Warnings:       res.Warnings,
			RefundOfID:     &originalID,
			RefundedAmount: money.Zero(p.Currency),
			Reason:         reason,
			CreatedBy:      user.Actor(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Insert(ctx, refund); err != nil {
			return Payment{}, err
		}
		if refund, err = s.complete(ctx, tx, user, refund); err != nil {
			return Payment{}, err
		}
		p.RefundedAmount = p.RefundedAmount.WithCurrency(p.Currency).Add(amount)
		if p.Refundable().IsNegligible() {
			p.Status = StatusRefunded
		}
		p.UpdatedAt = now
		return p, tx.Update(ctx, p)
	}, func(Payment) map[string]any {
		return map[string]any{
			"refund_id": refund.ID.String(),
			"amount":    refund.Amount.Canonical(),
			"reason":    reason,
		}
	})
	if err != nil {
		return RefundResult{}, err
	}
	return RefundResult{Original: original, Refund: refund}, nil
}

// Reconcile flags a posted payment as matched against the bank statement.
// It posts nothing.
func (s *Service) Reconcile(ctx context.Context, user shared.UserContext, id uuid.UUID) (Payment, error) {
	return s.mutate(ctx, user, id, "payment.reconcile", func(ctx context.Context, tx TxRepository, p Payment) (Payment, error) {
		if p.Status != StatusCompleted && p.Status != StatusRefunded {
			return Payment{}, ErrInvalidStatus.WithMessage("payment %s is %s and cannot be reconciled", p.Number, p.Status)
		}
		if p.Reconciled {
			return Payment{}, ErrAlreadyReconciled.WithMessage("payment %s is already reconciled", p.Number)
		}
		now := s.clock.Now()
		p.Reconciled = true
		p.ReconciledAt = &now
		p.ReconciledBy = user.Actor()
		p.UpdatedAt = now
		return p, tx.Update(ctx, p)
	}, nil)
}

func (s *Service) Get(ctx context.Context, user shared.UserContext, id uuid.UUID) (Payment, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if !user.CanAccessHotel(p.HotelID) {
		return Payment{}, shared.NotAuthorized("user %s may not read hotel %s", user.Actor(), p.HotelID)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, user shared.UserContext, f ListFilter) ([]Payment, error) {
	if !user.CanAccessHotel(f.HotelID) {
		return nil, shared.NotAuthorized("user %s may not read hotel %s", user.Actor(), f.HotelID)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) record(ctx context.Context, user shared.UserContext, action string, p Payment, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = p.Number
	meta["status"] = string(p.Status)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  user.Actor(),
		HotelID:  p.HotelID.String(),
		Action:   action,
		Entity:   "payment",
		EntityID: p.ID.String(),
		Meta:     meta,
		At:       s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("payments: audit %s: %w", action, err)
	}
	return nil
}
