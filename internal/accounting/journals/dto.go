package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	acct "github.com/lodgeledger/lodgeledger/internal/accounting/shared"
	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// LineInput describes a journal line of a new entry.
type LineInput struct {
	AccountID   uuid.UUID
	Description string
	Debit       money.Money
	Credit      money.Money
}

// DraftInput groups fields required to create a journal entry.
type DraftInput struct {
	HotelID     uuid.UUID
	Date        time.Time
	Kind        Kind
	Description string
	RefKind     string
	RefID       string
	Lines       []LineInput
}

// validateLines enforces the double-entry shape of an entry and returns its currency.
func validateLines(lines []JournalLine) (money.Currency, error) {
	if len(lines) < 2 {
		return "", acct.ErrTooFewLines.WithMessage("journal requires at least two lines, got %d", len(lines))
	}
	var cur money.Currency
	for idx, line := range lines {
		if line.AccountID == uuid.Nil {
			return "", acct.ErrInvalidLine.WithMessage("line %d missing account", idx+1)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return "", acct.ErrInvalidLine.WithMessage("line %d has a negative amount", idx+1)
		}
		if line.Debit.IsZero() == line.Credit.IsZero() {
			return "", acct.ErrInvalidLine.WithMessage("line %d must carry exactly one of debit or credit", idx+1)
		}
		amount := line.Debit
		if amount.IsZero() {
			amount = line.Credit
		}
		switch {
		case amount.Currency() == "":
			return "", acct.ErrInvalidLine.WithMessage("line %d has no currency", idx+1)
		case cur == "":
			cur = amount.Currency()
		case amount.Currency() != cur:
			return "", acct.ErrMixedCurrency.WithMessage("line %d is in %s, entry is in %s", idx+1, amount.Currency(), cur)
		}
	}
	debit, credit := money.Zero(cur), money.Zero(cur)
	for _, line := range lines {
		debit = debit.Add(line.Debit.WithCurrency(cur))
		credit = credit.Add(line.Credit.WithCurrency(cur))
	}
	if !debit.Eq(credit) {
		return "", acct.ErrUnbalanced.WithMessage("journal does not balance: debits %s, credits %s, difference %s",
			debit.Canonical(), credit.Canonical(), debit.Sub(credit).Canonical())
	}
	return cur, nil
}

func toLines(in []LineInput) []JournalLine {
	out := make([]JournalLine, 0, len(in))
	for _, l := range in {
		out = append(out, JournalLine{
			AccountID:   l.AccountID,
			Description: strings.TrimSpace(l.Description),
			Debit:       l.Debit,
			Credit:      l.Credit,
		})
	}
	return out
}

func normalizeLines(lines []JournalLine, cur money.Currency) []JournalLine {
	out := make([]JournalLine, len(lines))
	for i, l := range lines {
		l.Debit = l.Debit.WithCurrency(cur)
		l.Credit = l.Credit.WithCurrency(cur)
		out[i] = l
	}
	return out
}

func reverseLines(lines []JournalLine) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, JournalLine{
			AccountID:   line.AccountID,
			Description: line.Description,
			Debit:       line.Credit,
			Credit:      line.Debit,
		})
	}
	return out
}

func defaultReversalMemo(memo, number string) string {
	if memo != "" {
		return memo
	}
	return fmt.Sprintf("Reversal of %s", number)
}

// HTTP request bodies.

type lineRequest struct {
	AccountID   uuid.UUID `json:"account_id" validate:"required"`
	Description string    `json:"description" validate:"max=255"`
	Debit       string    `json:"debit" validate:"omitempty,decimal"`
	Credit      string    `json:"credit" validate:"omitempty,decimal"`
}

type draftRequest struct {
	HotelID     uuid.UUID     `json:"hotel_id"`
	Date        string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Kind        Kind          `json:"kind" validate:"omitempty,oneof=MANUAL ADJUSTING CLOSING OPENING"`
	Description string        `json:"description" validate:"required,max=500"`
	RefKind     string        `json:"ref_kind" validate:"max=64"`
	RefID       string        `json:"ref_id" validate:"max=128"`
	Currency    string        `json:"currency" validate:"omitempty,currency"`
	Lines       []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (r draftRequest) toInput(hotelID uuid.UUID, base money.Currency) (DraftInput, error) {
	cur := base
	if r.Currency != "" {
		parsed, err := money.ParseCurrency(r.Currency)
		if err != nil {
			return DraftInput{}, shared.Validation("request.invalid_currency", "unsupported currency %s", r.Currency)
		}
		cur = parsed
	}
	in := DraftInput{
		HotelID:     hotelID,
		Kind:        r.Kind,
		Description: r.Description,
		RefKind:     r.RefKind,
		RefID:       r.RefID,
	}
	if r.Date != "" {
		d, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			return DraftInput{}, shared.Validation("request.invalid_date", "date must be YYYY-MM-DD")
		}
		in.Date = d
	}
	for _, l := range r.Lines {
		li := LineInput{AccountID: l.AccountID, Description: l.Description, Debit: money.Zero(cur), Credit: money.Zero(cur)}
		if l.Debit != "" {
			d, err := money.Parse(l.Debit, cur)
			if err != nil {
				return DraftInput{}, shared.Validation("request.invalid_amount", "invalid debit %q", l.Debit)
			}
			li.Debit = d
		}
		if l.Credit != "" {
			c, err := money.Parse(l.Credit, cur)
			if err != nil {
				return DraftInput{}, shared.Validation("request.invalid_amount", "invalid credit %q", l.Credit)
			}
			li.Credit = c
		}
		in.Lines = append(in.Lines, li)
	}
	return in, nil
}
