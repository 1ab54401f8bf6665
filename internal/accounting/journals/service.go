package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/platform/sequence"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// DefaultMaxRetries bounds optimistic-concurrency retries of a posting.
const DefaultMaxRetries = 3

// baseResidualLimit is the largest base-currency rounding residual absorbed silently.
var baseResidualLimit = decimal.New(1, -2)

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AccountStore is the slice of the chart of accounts the posting path needs.
type AccountStore interface {
	Get(ctx context.Context, id uuid.UUID) (accounts.Account, error)
	LockForPosting(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]accounts.Account, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance money.Money, expectedVersion int64, at time.Time) error
}

type PeriodGuard interface {
	Guard(ctx context.Context, hotelID uuid.UUID, date time.Time, allowClosed bool) (int, int, error)
}

// RateConverter expresses an amount in the ledger base currency.
type RateConverter interface {
	Convert(ctx context.Context, m money.Money, base money.Currency, date time.Time) (money.Money, decimal.Decimal, error)
}

// Observer receives posting outcomes for metrics.
type Observer interface {
	JournalPosted(hotelID uuid.UUID, kind string, records int)
	JournalRejected(op string, reason shared.Kind)
}

type Service struct {
	repo       Repository
	accounts   AccountStore
	ledger     *ledger.Ledger
	guard      PeriodGuard
	seq        sequence.Sequencer
	fx         RateConverter
	audit      AuditPort
	clock      clock.Clock
	logger     *slog.Logger
	observer   Observer
	maxRetries int
}

func NewService(repo Repository, accts AccountStore, ldg *ledger.Ledger, guard PeriodGuard, seq sequence.Sequencer, audit AuditPort, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		repo:       repo,
		accounts:   accts,
		ledger:     ldg,
		guard:      guard,
		seq:        seq,
		fx:         fx.NewConverter(nil),
		audit:      audit,
		clock:      clk,
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
	}
}

func (s *Service) WithConverter(c RateConverter) {
	if c != nil {
		s.fx = c
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

// Base returns the ledger base currency.
func (s *Service) Base() money.Currency { return s.ledger.Base() }

// CreateDraft validates and stores a DRAFT entry. Nothing reaches the ledger.
func (s *Service) CreateDraft(ctx context.Context, user shared.UserContext, in DraftInput) (JournalEntry, error) {
	if in.Kind == "" {
		in.Kind = KindManual
	}
	if !in.Kind.userCreatable() {
		return JournalEntry{}, shared.Validation("journal.invalid_kind", "journal kind %q cannot be drafted manually", in.Kind)
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.insertDraft(ctx, tx, user, in)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if err := s.record(ctx, user, "journal.draft", entry, nil); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) insertDraft(ctx context.Context, tx TxRepository, user shared.UserContext, in DraftInput) (JournalEntry, error) {
	if !user.CanAccessHotel(in.HotelID) || in.HotelID == uuid.Nil {
		return JournalEntry{}, shared.NotAuthorized("user %s may not journal for hotel %s", user.Actor(), in.HotelID)
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return JournalEntry{}, shared.Validation("journal.description_required", "journal description is required")
	}
	lines := toLines(in.Lines)
	cur, err := validateLines(lines)
	if err != nil {
		return JournalEntry{}, err
	}
	if err := s.checkAccounts(ctx, in.HotelID, lines); err != nil {
		return JournalEntry{}, err
	}
	now := s.clock.Now()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	entry := JournalEntry{
		ID:          uuid.New(),
		HotelID:     in.HotelID,
		Date:        clock.Date(date),
		Kind:        in.Kind,
		Description: description,
		RefKind:     in.RefKind,
		RefID:       in.RefID,
		Currency:    cur,
		Status:      JournalStatusDraft,
		CreatedBy:   user.Actor(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Lines:       normalizeLines(lines, cur),
	}
	if err := tx.InsertJournalEntry(ctx, entry); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) checkAccounts(ctx context.Context, hotelID uuid.UUID, lines []JournalLine) error {
	for idx, line := range lines {
		acc, err := s.accounts.Get(ctx, line.AccountID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return acct.ErrInvalidLine.WithMessage("line %d references unknown account %s", idx+1, line.AccountID)
			}
			return err
		}
		if err := usable(acc, hotelID); err != nil {
			return err
		}
	}
	return nil
}

func usable(acc accounts.Account, hotelID uuid.UUID) error {
	if acc.HotelID != hotelID {
		return acct.ErrInvalidLine.WithMessage("account %s belongs to another hotel", acc.Code)
	}
	if !acc.IsActive {
		return accounts.ErrAccountInactive.WithMessage("account %s is inactive", acc.Code)
	}
	return nil
}

// Post promotes a DRAFT entry to POSTED, retrying on concurrent balance updates.
// It must not be called inside a caller's transaction; use PostWithin there.
func (s *Service) Post(ctx context.Context, user shared.UserContext, id uuid.UUID) (PostResult, error) {
	var result PostResult
	err := shared.RetryOnRace(ctx, s.maxRetries, func() error {
		var err error
		result, err = s.PostWithin(ctx, user, id)
		return err
	})
	return result, err
}

// PostWithin posts inside the caller's unit of work without retrying.
func (s *Service) PostWithin(ctx context.Context, user shared.UserContext, id uuid.UUID) (PostResult, error) {
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetJournalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !user.CanAccessHotel(entry.HotelID) {
			return shared.NotAuthorized("user %s may not post for hotel %s", user.Actor(), entry.HotelID)
		}
		switch entry.Status {
		case JournalStatusDraft:
		case JournalStatusPosted, JournalStatusReversed:
			return acct.ErrAlreadyPosted.WithMessage("journal %s is already posted", entry.Number)
		default:
			return acct.ErrInvalidStatus.WithMessage("journal in status %s cannot be posted", entry.Status)
		}
		result, err = s.post(ctx, tx, user, entry)
		return err
	})
	if err != nil {
		s.rejected(ctx, id, err)
		return PostResult{}, err
	}
	s.posted(result)
	return result, nil
}

// Emit drafts and posts an automatic entry in one step, joining the caller's transaction.
func (s *Service) Emit(ctx context.Context, user shared.UserContext, in DraftInput) (PostResult, error) {
	if in.Kind == "" {
		in.Kind = KindAutomatic
	}
	if in.Kind == KindReversing {
		return PostResult{}, shared.Validation("journal.invalid_kind", "reversing entries are created by reverse")
	}
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := s.insertDraft(ctx, tx, user, in)
		if err != nil {
			return err
		}
		result, err = s.post(ctx, tx, user, entry)
		return err
	})
	if err != nil {
		s.rejected(ctx, uuid.Nil, err)
		return PostResult{}, err
	}
	s.posted(result)
	return result, nil
}

// post appends ledger records, updates cached balances and marks entry POSTED.
func (s *Service) post(ctx context.Context, tx TxRepository, user shared.UserContext, entry JournalEntry) (PostResult, error) {
	cur, err := validateLines(entry.Lines)
	if err != nil {
		return PostResult{}, err
	}
	entry.Lines = normalizeLines(entry.Lines, cur)
	year, period, err := s.guard.Guard(ctx, entry.HotelID, entry.Date, entry.Kind.allowedInClosedPeriod())
	if err != nil {
		return PostResult{}, err
	}
	locked, err := s.accounts.LockForPosting(ctx, entry.accountIDs())
	if err != nil {
		return PostResult{}, err
	}
	for _, acc := range locked {
		if err := usable(acc, entry.HotelID); err != nil {
			return PostResult{}, err
		}
	}
	converted, err := s.toBase(ctx, entry)
	if err != nil {
		return PostResult{}, err
	}
	n, err := s.seq.Next(ctx, entry.HotelID, sequence.DocJournal, year)
	if err != nil {
		return PostResult{}, fmt.Errorf("journals: number: %w", err)
	}
	entry.Number = sequence.Format(sequence.DocJournal, year, n)

	now := s.clock.Now()
	base := s.ledger.Base()
	deltas := make(map[uuid.UUID]money.Money, len(locked))
	for idx, line := range entry.Lines {
		acc := locked[line.AccountID]
		sign := acc.NormalSide.Sign()
		rec, err := s.ledger.Project(ctx, ledger.Record{
			HotelID:        entry.HotelID,
			JournalEntryID: entry.ID,
			LineIndex:      idx,
			AccountID:      line.AccountID,
			Date:           entry.Date,
			Debit:          line.Debit,
			Credit:         line.Credit,
			ExchangeRate:   converted[idx].rate,
			BaseDebit:      converted[idx].debit,
			BaseCredit:     converted[idx].credit,
			FiscalYear:     year,
			FiscalPeriod:   period,
			CreatedAt:      now,
		}, sign)
		if err != nil {
			return PostResult{}, err
		}
		deltas[acc.ID] = deltas[acc.ID].Add(rec.Signed(sign))
	}

	ids := make([]uuid.UUID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		acc := locked[id]
		balance := money.New(acc.CurrentBalance.Amount(), base).Add(deltas[id])
		if err := s.accounts.UpdateBalance(ctx, id, balance, acc.BalanceVersion, now); err != nil {
			return PostResult{}, err
		}
	}

	entry.Status = JournalStatusPosted
	entry.PostedAt = &now
	entry.PostedBy = user.Actor()
	entry.FiscalYear, entry.FiscalPeriod = year, period
	entry.UpdatedAt = now
	if err := tx.UpdateJournalEntry(ctx, entry); err != nil {
		return PostResult{}, err
	}
	if err := s.record(ctx, user, "journal.post", entry, map[string]any{"number": entry.Number, "records": len(entry.Lines)}); err != nil {
		return PostResult{}, err
	}
	return PostResult{Entry: entry, Records: len(entry.Lines)}, nil
}

type baseAmounts struct {
	rate   decimal.Decimal
	debit  money.Money
	credit money.Money
}

// toBase converts every line at the entry-date rate. Rounding residue up to
// baseResidualLimit lands on the largest line of the lighter side.
func (s *Service) toBase(ctx context.Context, entry JournalEntry) ([]baseAmounts, error) {
	base := s.ledger.Base()
	out := make([]baseAmounts, len(entry.Lines))
	debit, credit := money.Zero(base), money.Zero(base)
	for i, line := range entry.Lines {
		d, rate, err := s.fx.Convert(ctx, line.Debit, base, entry.Date)
		if err != nil {
			return nil, err
		}
		c, _, err := s.fx.Convert(ctx, line.Credit, base, entry.Date)
		if err != nil {
			return nil, err
		}
		out[i] = baseAmounts{rate: rate, debit: d, credit: c}
		debit, credit = debit.Add(d), credit.Add(c)
	}
	diff := debit.Sub(credit)
	if diff.IsZero() {
		return out, nil
	}
	if diff.Abs().Amount().GreaterThan(baseResidualLimit) {
		s.logger.Error("journal does not balance in base currency",
			slog.String("hotel_id", entry.HotelID.String()),
			slog.String("entry_id", entry.ID.String()),
			slog.String("difference", diff.Canonical()))
		return nil, acct.ErrBaseImbalance.WithMessage("base currency difference %s exceeds rounding limit", diff.Canonical())
	}
	target := -1
	for i, b := range out {
		side := b.debit
		if diff.IsPositive() {
			side = b.credit
		}
		if side.IsPositive() && (target < 0 || side.Gt(pick(out[target], diff))) {
			target = i
		}
	}
	if target < 0 {
		return nil, acct.ErrBaseImbalance.WithMessage("base currency difference %s has no line to absorb it", diff.Canonical())
	}
	if diff.IsPositive() {
		out[target].credit = out[target].credit.Add(diff)
	} else {
		out[target].debit = out[target].debit.Sub(diff)
	}
	return out, nil
}

func pick(b baseAmounts, diff money.Money) money.Money {
	if diff.IsPositive() {
		return b.credit
	}
	return b.debit
}

// Reverse posts a REVERSING entry with swapped sides and flags the original REVERSED.
// When the original period no longer accepts postings the reversal is dated today.
func (s *Service) Reverse(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (PostResult, error) {
	var result PostResult
	err := shared.RetryOnRace(ctx, s.maxRetries, func() error {
		var err error
		result, err = s.ReverseWithin(ctx, user, id, reason)
		return err
	})
	return result, err
}

// ReverseWithin reverses inside the caller's unit of work without retrying.
func (s *Service) ReverseWithin(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (PostResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return PostResult{}, shared.Validation("journal.reason_required", "reversal reason is required")
	}
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetJournalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !user.CanAccessHotel(original.HotelID) {
			return shared.NotAuthorized("user %s may not reverse for hotel %s", user.Actor(), original.HotelID)
		}
		switch original.Status {
		case JournalStatusPosted:
		case JournalStatusReversed:
			return acct.ErrAlreadyReversed.WithMessage("journal %s is already reversed", original.Number)
		default:
			return acct.ErrNotPosted.WithMessage("journal in status %s cannot be reversed", original.Status)
		}
		date := original.Date
		if _, _, err := s.guard.Guard(ctx, original.HotelID, date, false); err != nil {
			if !errors.Is(err, acct.ErrPeriodClosed) && !errors.Is(err, acct.ErrPeriodLocked) {
				return err
			}
			date = clock.Date(s.clock.Now())
		}
		now := s.clock.Now()
		originalID := original.ID
		reversal := JournalEntry{
			ID:           uuid.New(),
			HotelID:      original.HotelID,
			Date:         date,
			Kind:         KindReversing,
			Description:  defaultReversalMemo("", original.Number) + ": " + reason,
			RefKind:      "journal",
			RefID:        original.ID.String(),
			Currency:     original.Currency,
			Status:       JournalStatusDraft,
			ReversalOfID: &originalID,
			CreatedBy:    user.Actor(),
			CreatedAt:    now,
			UpdatedAt:    now,
			Lines:        reverseLines(original.Lines),
		}
		if err := tx.InsertJournalEntry(ctx, reversal); err != nil {
			return err
		}
		result, err = s.post(ctx, tx, user, reversal)
		if err != nil {
			return err
		}
		reversedBy := result.Entry.ID
		original.Status = JournalStatusReversed
		original.ReversedByID = &reversedBy
		original.UpdatedAt = now
		if err := tx.UpdateJournalEntry(ctx, original); err != nil {
			return err
		}
		return s.record(ctx, user, "journal.reverse", original, map[string]any{
			"reason":          reason,
			"reversal_id":     reversedBy.String(),
			"reversal_number": result.Entry.Number,
		})
	})
	if err != nil {
		s.rejected(ctx, id, err)
		return PostResult{}, err
	}
	s.posted(result)
	return result, nil
}

// Void discards a DRAFT entry. Posted entries can only be reversed.
func (s *Service) Void(ctx context.Context, user shared.UserContext, id uuid.UUID, reason string) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !user.CanAccessHotel(current.HotelID) {
			return shared.NotAuthorized("user %s may not void for hotel %s", user.Actor(), current.HotelID)
		}
		if current.Status != JournalStatusDraft {
			return acct.ErrInvalidStatus.WithMessage("only drafts can be voided; journal is %s", current.Status)
		}
		current.Status = JournalStatusVoided
		current.UpdatedAt = s.clock.Now()
		if err := tx.UpdateJournalEntry(ctx, current); err != nil {
			return err
		}
		entry = current
		return s.record(ctx, user, "journal.void", entry, map[string]any{"reason": strings.TrimSpace(reason)})
	})
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (s *Service) Get(ctx context.Context, user shared.UserContext, id uuid.UUID) (JournalEntry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return JournalEntry{}, err
	}
	if !user.CanAccessHotel(entry.HotelID) {
		return JournalEntry{}, shared.NotAuthorized("user %s may not read hotel %s", user.Actor(), entry.HotelID)
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, user shared.UserContext, f ListFilter) ([]JournalEntry, error) {
	if !user.CanAccessHotel(f.HotelID) {
		return nil, shared.NotAuthorized("user %s may not read hotel %s", user.Actor(), f.HotelID)
	}
	return s.repo.List(ctx, f)
}

// Records returns the ledger records an entry produced.
func (s *Service) Records(ctx context.Context, user shared.UserContext, id uuid.UUID) ([]ledger.Record, error) {
	entry, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return s.ledger.Records(ctx, ledger.Filter{HotelID: entry.HotelID, JournalEntryID: entry.ID})
}

func (s *Service) record(ctx context.Context, user shared.UserContext, action string, entry JournalEntry, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["kind"] = string(entry.Kind)
	meta["status"] = string(entry.Status)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  user.Actor(),
		HotelID:  entry.HotelID.String(),
		Action:   action,
		Entity:   "journal_entry",
		EntityID: entry.ID.String(),
		Meta:     meta,
		At:       s.clock.Now(),
	}); err != nil {
		return fmt.Errorf("journals: audit %s: %w", action, err)
	}
	return nil
}

func (s *Service) posted(r PostResult) {
	if s.observer != nil {
		s.observer.JournalPosted(r.Entry.HotelID, string(r.Entry.Kind), r.Records)
	}
}

func (s *Service) rejected(ctx context.Context, id uuid.UUID, err error) {
	kind := shared.KindOf(err)
	if kind == shared.KindInternal {
		s.logger.ErrorContext(ctx, "journal posting failed", slog.String("entry_id", id.String()), slog.Any("error", err))
	}
	if s.observer != nil {
		s.observer.JournalRejected("post", kind)
	}
}
