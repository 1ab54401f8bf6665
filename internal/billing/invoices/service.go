package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/journals"
	"github.com/lodgeledger/lodgeledger/internal/accounting/mappings"
	"github.com/lodgeledger/lodgeledger/internal/accounting/reports"
	"github.com/lodgeledger/lodgeledger/internal/billing/payments"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Poster emits and reverses the receivable entry of an invoice.
type Poster interface {
	Emit(ctx context.Context, user shared.UserContext, in journals.DraftInput) (journals.PostResult, error)
	ReverseWithin(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (journals.PostResult, error)
}

type AccountResolver interface {
	Resolve(ctx context.Context, hotelID uuid.UUID, module, key string) (accounts.Account, error)
}

// PaymentProcessor records the payments applied to invoices.
type PaymentProcessor interface {
	Process(ctx context.Context, user shared.UserContext, in payments.ProcessInput) (payments.Payment, error)
}

type Service struct {
	repo       Repository
	poster     Poster
	resolver   AccountResolver
	payments   PaymentProcessor
	seq        sequence.Sequencer
	audit      AuditPort
	clock      clock.Clock
	logger     *slog.Logger
	maxRetries int
}

func NewService(repo Repository, poster Poster, resolver AccountResolver, pay PaymentProcessor, seq sequence.Sequencer, audit AuditPort, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		repo:       repo,
		poster:     poster,
		resolver:   resolver,
		payments:   pay,
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

func (s *Service) WithMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

func denied(user shared.UserContext, hotelID uuid.UUID) error {
	return shared.NotAuthorized("user %s may not access invoices of hotel %s", user.Actor(), hotelID)
}

// Create stores a DRAFT invoice numbered within its issue year.
func (s *Service) Create(ctx context.Context, user shared.UserContext, in CreateInput) (Invoice, error) {
	if in.HotelID == uuid.Nil || !user.CanAccessHotel(in.HotelID) {
		return Invoice{}, denied(user, in.HotelID)
	}
	now := s.clock.Now()
	if in.IssueDate.IsZero() {
		in.IssueDate = now
	}
	inv := Invoice{
		ID:        uuid.New(),
		HotelID:   in.HotelID,
		Customer:  in.Customer,
		BookingID: strings.TrimSpace(in.BookingID),
		Currency:  in.Currency,
		IssueDate: clock.Date(in.IssueDate),
		DueDate:   clock.Date(in.DueDate),
		Lines:     append([]LineItem(nil), in.Lines...),
		Discounts: append([]Discount(nil), in.Discounts...),
		Status:    StatusDraft,
		Notes:     strings.TrimSpace(in.Notes),
		CreatedBy: user.Actor(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	inv.Customer.Name = strings.TrimSpace(inv.Customer.Name)
	if err := validateDraft(inv); err != nil {
		return Invoice{}, err
	}
	inv.Recalculate()
	if inv.TotalAmount.IsNegative() {
		return Invoice{}, shared.Validation("invoice.invalid_discount", "discounts %s exceed the invoice value", inv.TotalDiscount)
	}

	err := shared.RetryOnRace(ctx, s.maxRetries, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			year := inv.IssueDate.Year()
			n, err := s.seq.Next(ctx, inv.HotelID, sequence.DocInvoice, year)
			if err != nil {
				return fmt.Errorf("invoices: number: %w", err)
			}
			inv.Number = sequence.Format(sequence.DocInvoice, year, n)
			if err := tx.Insert(ctx, inv); err != nil {
				return err
			}
			return s.record(ctx, user, "invoice.create", inv, map[string]any{"total": inv.TotalAmount.Canonical()})
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func validateDraft(inv Invoice) error {
	if _, err := money.ParseCurrency(string(inv.Currency)); err != nil {
		return shared.Validation("invoice.invalid_currency", "%v", err)
	}
	if !inv.Customer.Kind.valid() {
		return shared.Validation("invoice.invalid_customer", "customer kind %q is not supported", inv.Customer.Kind)
	}
	if inv.Customer.Name == "" {
		return shared.Validation("invoice.invalid_customer", "customer name is required")
	}
	if inv.DueDate.IsZero() || inv.DueDate.Before(inv.IssueDate) {
		return shared.Validation("invoice.invalid_due_date", "due date must not precede the issue date")
	}
	if len(inv.Lines) == 0 {
		return shared.Validation("invoice.no_lines", "invoice requires at least one line item")
	}
	for i, l := range inv.Lines {
		if strings.TrimSpace(l.Description) == "" {
			return shared.Validation("invoice.invalid_line", "line %d requires a description", i+1)
		}
		if !l.Quantity.IsPositive() {
			return shared.Validation("invoice.invalid_line", "line %d quantity must be positive", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return shared.Validation("invoice.invalid_line", "line %d unit price must not be negative", i+1)
		}
		if c := l.UnitPrice.Currency(); c != "" && c != inv.Currency {
			return shared.Validation("invoice.invalid_line", "line %d is in %s, invoice is in %s", i+1, c, inv.Currency)
		}
		if l.TaxRate.IsNegative() || l.TaxRate.GreaterThan(hundred) {
			return shared.Validation("invoice.invalid_line", "line %d tax rate must be between 0 and 100", i+1)
		}
	}
	for i, d := range inv.Discounts {
		if d.Flat.IsNegative() || d.Pct.IsNegative() || d.Pct.GreaterThan(hundred) {
			return shared.Validation("invoice.invalid_discount", "discount %d is out of range", i+1)
		}
		if c := d.Flat.Currency(); c != "" && c != inv.Currency {
			return shared.Validation("invoice.invalid_discount", "discount %d is in %s, invoice is in %s", i+1, c, inv.Currency)
		}
	}
	return nil
}

// mutate runs fn on the invoice inside a unit of work, retrying races. A
// non-empty action is audited in the same unit of work.
func (s *Service) mutate(ctx context.Context, user shared.UserContext, id uuid.UUID, action string, fn func(context.Context, TxRepository, Invoice) (Invoice, error), meta func(Invoice) map[string]any) (Invoice, error) {
	var out Invoice
	err := shared.RetryOnRace(ctx, s.maxRetries, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			inv, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !user.CanAccessHotel(inv.HotelID) {
				return denied(user, inv.HotelID)
			}
			if out, err = fn(ctx, tx, inv); err != nil || action == "" {
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
		return Invoice{}, err
	}
	return out, nil
}

// UpdateDraft replaces lines, discounts, due date or notes of a DRAFT invoice.
func (s *Service) UpdateDraft(ctx context.Context, user shared.UserContext, id uuid.UUID, ch DraftChanges) (Invoice, error) {
	return s.mutate(ctx, user, id, "invoice.update", func(ctx context.Context, tx TxRepository, inv Invoice) (Invoice, error) {
		if inv.Status != StatusDraft {
			return Invoice{}, ErrInvalidStatus.WithMessage("invoice %s is %s; only drafts can be edited", inv.Number, inv.Status)
		}
		if ch.DueDate != nil {
			inv.DueDate = clock.Date(*ch.DueDate)
		}
		if ch.Lines != nil {
			inv.Lines = append([]LineItem(nil), ch.Lines...)
		}
		if ch.Discounts != nil {
			inv.Discounts = append([]Discount(nil), ch.Discounts...)
		}
		if ch.Notes != nil {
			inv.Notes = strings.TrimSpace(*ch.Notes)
		}
		if err := validateDraft(inv); err != nil {
			return Invoice{}, err
		}
		inv.Recalculate()
		if inv.TotalAmount.IsNegative() {
			return Invoice{}, shared.Validation("invoice.invalid_discount", "discounts %s exceed the invoice value", inv.TotalDiscount)
		}
		inv.UpdatedAt = s.clock.Now()
		return inv, tx.Update(ctx, inv)
	}, nil)
}

// Send issues a DRAFT invoice and posts it: receivables are debited with the
// total, discounts expensed, revenue credited per line account and tax
// credited to tax payable.
func (s *Service) Send(ctx context.Context, user shared.UserContext, id uuid.UUID) (Invoice, error) {
	return s.mutate(ctx, user, id, "invoice.send", func(ctx context.Context, tx TxRepository, inv Invoice) (Invoice, error) {
		if inv.Status != StatusDraft {
			return Invoice{}, ErrInvalidStatus.WithMessage("invoice %s is already %s", inv.Number, inv.Status)
		}
		inv.Recalculate()
		if !inv.TotalAmount.IsPositive() {
			return Invoice{}, shared.Validation("invoice.empty", "invoice %s has nothing to bill", inv.Number)
		}
		lines, err := s.postingLines(ctx, inv)
		if err != nil {
			return Invoice{}, err
		}
		now := s.clock.Now()
		date := inv.IssueDate
		if date.After(now) {
			date = clock.Date(now)
		}
		posted, err := s.poster.Emit(ctx, user, journals.DraftInput{
			HotelID:     inv.HotelID,
			Date:        date,
			Description: fmt.Sprintf("invoice %s %s", inv.Number, inv.Customer.Name),
			RefKind:     "invoice",
			RefID:       inv.ID.String(),
			Lines:       lines,
		})
		if err != nil {
			return Invoice{}, err
		}
		entryID := posted.Entry.ID
		inv.JournalEntryID = &entryID
		inv.Status = StatusSent
		inv.Status = inv.DeriveStatus(now)
		inv.SentAt = &now
		inv.UpdatedAt = now
		return inv, tx.Update(ctx, inv)
	}, func(inv Invoice) map[string]any {
		return map[string]any{"journal_entry_id": inv.JournalEntryID.String()}
	})
}

func (s *Service) postingLines(ctx context.Context, inv Invoice) ([]journals.LineInput, error) {
	resolve := func(key string) (uuid.UUID, error) {
		acc, err := s.resolver.Resolve(ctx, inv.HotelID, mappings.ModuleBilling, key)
		return acc.ID, err
	}
	receivable, err := resolve(mappings.KeyReceivable)
	if err != nil {
		return nil, err
	}
	lines := []journals.LineInput{{AccountID: receivable, Description: inv.Number, Debit: inv.TotalAmount}}
	if inv.TotalDiscount.IsPositive() {
		discount, err := resolve(mappings.KeyDiscount)
		if err != nil {
			return nil, err
		}
		lines = append(lines, journals.LineInput{AccountID: discount, Description: inv.Number + " discount", Debit: inv.TotalDiscount})
	}

	var (
		order   []uuid.UUID
		revenue = map[uuid.UUID]money.Money{}
	)
	for _, l := range inv.Lines {
		var acc uuid.UUID
		if l.AccountID != nil {
			acc = *l.AccountID
		} else if acc, err = resolve(mappings.KeyRoomRevenue); err != nil {
			return nil, err
		}
		if _, ok := revenue[acc]; !ok {
			order = append(order, acc)
			revenue[acc] = money.Zero(inv.Currency)
		}
		revenue[acc] = revenue[acc].Add(l.Amount)
	}
	for _, acc := range order {
		if revenue[acc].IsZero() {
			continue
		}
		lines = append(lines, journals.LineInput{AccountID: acc, Description: inv.Number, Credit: revenue[acc]})
	}
	if inv.TotalTax.IsPositive() {
		tax, err := resolve(mappings.KeyTaxPayable)
		if err != nil {
			return nil, err
		}
		lines = append(lines, journals.LineInput{AccountID: tax, Description: inv.Number + " tax", Credit: inv.TotalTax})
	}
	return lines, nil
}

// PaymentInput describes a payment recorded against an invoice.
type PaymentInput struct {
	Method         payments.Method
	Amount         money.Money
	Fees           payments.Fees
	Reference      string
	IdempotencyKey string
	Defer          bool
}

// PaymentResult is the invoice after the payment and the payment itself.
type PaymentResult struct {
	Invoice Invoice          `json:"invoice"`
	Payment payments.Payment `json:"payment"`
}

// RecordPayment processes a receipt against the invoice. The invoice totals
// change when the payment completes, in the same unit of work.
func (s *Service) RecordPayment(ctx context.Context, user shared.UserContext, id uuid.UUID, in PaymentInput) (PaymentResult, error) {
	inv, err := s.Get(ctx, user, id)
	if err != nil {
		return PaymentResult{}, err
	}
	if !inv.Status.Payable() {
		return PaymentResult{}, ErrInvalidStatus.WithMessage("invoice %s is %s and cannot take payments", inv.Number, inv.Status)
	}
	if in.Amount.Currency() != inv.Currency {
		return PaymentResult{}, shared.Validation("invoice.invalid_currency", "payment must be in %s", inv.Currency)
	}
	if in.Amount.Gt(inv.BalanceAmount) {
		return PaymentResult{}, ErrOverpayment.WithMessage("payment %s exceeds balance %s of invoice %s", in.Amount, inv.BalanceAmount, inv.Number)
	}
	invoiceID := inv.ID
	p, err := s.payments.Process(ctx, user, payments.ProcessInput{
		HotelID:        inv.HotelID,
		Type:           payments.TypeReceipt,
		Method:         in.Method,
		Amount:         in.Amount,
		Fees:           in.Fees,
		CustomerRef:    inv.Customer.ID,
		InvoiceID:      &invoiceID,
		BookingID:      inv.BookingID,
		Reference:      in.Reference,
		IdempotencyKey: in.IdempotencyKey,
		Defer:          in.Defer,
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if inv, err = s.repo.Get(ctx, id); err != nil {
		return PaymentResult{}, err
	}
	return PaymentResult{Invoice: inv, Payment: p}, nil
}

// ApplyPayment adds a completed payment, or subtracts a refund when amount is
// negative, and re-derives the status. It joins the caller's transaction.
// An invoice whose payments are refunded in full becomes REFUNDED.
func (s *Service) ApplyPayment(ctx context.Context, user shared.UserContext, invoiceID uuid.UUID, amount money.Money, paymentID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !user.CanAccessHotel(inv.HotelID) {
			return denied(user, inv.HotelID)
		}
		if amount.Currency() != inv.Currency {
			return shared.Validation("invoice.invalid_currency", "payment must be in %s", inv.Currency)
		}
		refund := amount.IsNegative()
		if !inv.Status.Payable() && !(refund && inv.Status == StatusPaid) {
			return ErrInvalidStatus.WithMessage("invoice %s is %s", inv.Number, inv.Status)
		}
		paid := inv.PaidAmount.Add(amount)
		switch {
		case paid.IsNegative() && !paid.IsNegligible():
			return shared.Validation("invoice.invalid_refund", "refund %s exceeds %s paid on invoice %s", amount.Neg(), inv.PaidAmount, inv.Number)
		case paid.Gt(inv.TotalAmount):
			return ErrOverpayment.WithMessage("payment %s exceeds balance %s of invoice %s", amount, inv.BalanceAmount, inv.Number)
		}
		inv.PaidAmount = paid
		inv.BalanceAmount = inv.TotalAmount.Sub(paid)
		inv.PaymentIDs = append(inv.PaymentIDs, paymentID)
		now := s.clock.Now()
		if refund && paid.IsNegligible() {
			inv.Status = StatusRefunded
		} else {
			inv.Status = inv.DeriveStatus(now)
		}
		inv.UpdatedAt = now
		if err := tx.Update(ctx, inv); err != nil {
			return err
		}
		return s.record(ctx, user, "invoice.apply_payment", inv, map[string]any{
			"payment_id": paymentID.String(),
			"amount":     amount.Canonical(),
		})
	})
}

// Cancel withdraws an invoice. Drafts are simply cancelled; sent invoices
// without payments have their receivable entry reversed.
func (s *Service) Cancel(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Invoice{}, shared.Validation("invoice.reason_required", "cancellation reason is required")
	}
	return s.mutate(ctx, user, id, "invoice.cancel", func(ctx context.Context, tx TxRepository, inv Invoice) (Invoice, error) {
		switch {
		case inv.Status == StatusCancelled || inv.Status == StatusRefunded:
			return Invoice{}, ErrInvalidStatus.WithMessage("invoice %s is already %s", inv.Number, inv.Status)
		case !inv.PaidAmount.IsZero() || len(inv.PaymentIDs) > 0:
			return Invoice{}, ErrHasPayments.WithMessage("invoice %s has payments; refund them first", inv.Number)
		}
		if inv.JournalEntryID != nil {
			res, err := s.poster.ReverseWithin(ctx, user, *inv.JournalEntryID, "invoice "+inv.Number+" cancelled: "+reason)
			if err != nil {
				return Invoice{}, err
			}
			reversal := res.Entry.ID
			inv.ReversalEntryID = &reversal
		}
		now := s.clock.Now()
		inv.Status = StatusCancelled
		inv.CancelledAt = &now
		inv.CancelReason = reason
		inv.UpdatedAt = now
		return inv, tx.Update(ctx, inv)
	}, func(Invoice) map[string]any {
		return map[string]any{"reason": reason}
	})
}

// RefreshOverdue moves open invoices past their due date to OVERDUE and
// returns how many changed.
func (s *Service) RefreshOverdue(ctx context.Context, hotelID uuid.UUID) (int, error) {
	user := shared.SystemUser(hotelID)
	now := s.clock.Now()
	open, err := s.repo.List(ctx, ListFilter{
		HotelID:   hotelID,
		Statuses:  []Status{StatusSent, StatusPartiallyPaid},
		DueBefore: clock.Date(now),
	})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, candidate := range open {
		inv, err := s.mutate(ctx, user, candidate.ID, "", func(ctx context.Context, tx TxRepository, inv Invoice) (Invoice, error) {
			next := inv.DeriveStatus(now)
			if next == inv.Status {
				return inv, nil
			}
			inv.Status = next
			inv.UpdatedAt = now
			return inv, tx.Update(ctx, inv)
		}, nil)
		if err != nil {
			return changed, fmt.Errorf("invoices: refresh %s: %w", candidate.Number, err)
		}
		if inv.Status == StatusOverdue && candidate.Status != StatusOverdue {
			changed++
		}
	}
	if changed > 0 {
		s.logger.InfoContext(ctx, "invoices marked overdue", slog.String("hotel_id", hotelID.String()), slog.Int("count", changed))
	}
	return changed, nil
}

// OpenReceivables lists invoices with an outstanding balance issued on or before asOf.
func (s *Service) OpenReceivables(ctx context.Context, hotelID uuid.UUID, asOf time.Time) ([]reports.OpenItem, error) {
	open, err := s.repo.List(ctx, ListFilter{
		HotelID:  hotelID,
		Statuses: []Status{StatusSent, StatusPartiallyPaid, StatusOverdue},
	})
	if err != nil {
		return nil, err
	}
	asOf = clock.Date(asOf)
	out := make([]reports.OpenItem, 0, len(open))
	for _, inv := range open {
		if inv.IssueDate.After(asOf) || !inv.BalanceAmount.IsPositive() {
			continue
		}
		out = append(out, reports.OpenItem{
			DocumentID: inv.ID,
			Number:     inv.Number,
			Customer:   inv.Customer.Name,
			DueDate:    inv.DueDate,
			Balance:    inv.BalanceAmount,
		})
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, user shared.UserContext, id uuid.UUID) (Invoice, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !user.CanAccessHotel(inv.HotelID) {
		return Invoice{}, denied(user, inv.HotelID)
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, user shared.UserContext, f ListFilter) ([]Invoice, error) {
	if !user.CanAccessHotel(f.HotelID) {
		return nil, denied(user, f.HotelID)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) record(ctx context.Context, user shared.UserContext, action string, inv Invoice, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = inv.Number
	meta["status"] = string(inv.Status)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  user.Actor(),
		HotelID:  inv.HotelID.String(),
		Action:   action,
		Entity:   "invoice",
		EntityID: inv.ID.String(),
		Meta:     meta,
		At:       s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("invoices: audit %s: %w", action, err)
	}
	return nil
}
