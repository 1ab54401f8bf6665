package journals

import (
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft    JournalStatus = "DRAFT"
	JournalStatusPosted   JournalStatus = "POSTED"
	JournalStatusReversed JournalStatus = "REVERSED"
	JournalStatusVoided   JournalStatus = "VOIDED"
)

// Kind classifies why an entry exists.
type Kind string

const (
	KindManual    Kind = "MANUAL"
	KindAutomatic Kind = "AUTOMATIC"
	KindAdjusting Kind = "ADJUSTING"
	KindClosing   Kind = "CLOSING"
	KindReversing Kind = "REVERSING"
	KindOpening   Kind = "OPENING"
)

// allowedInClosedPeriod reports kinds that may still post into a CLOSED period.
func (k Kind) allowedInClosedPeriod() bool {
	return k == KindAdjusting || k == KindClosing
}

func (k Kind) userCreatable() bool {
	switch k {
	case KindManual, KindAdjusting, KindClosing, KindOpening:
		return true
	}
	return false
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           uuid.UUID      `json:"id"`
	HotelID      uuid.UUID      `json:"hotel_id"`
	Number       string         `json:"number,omitempty"`
	Date         time.Time      `json:"date"`
	Kind         Kind           `json:"kind"`
	Description  string         `json:"description"`
	RefKind      string         `json:"ref_kind,omitempty"`
	RefID        string         `json:"ref_id,omitempty"`
	Currency     money.Currency `json:"currency"`
	Status       JournalStatus  `json:"status"`
	PostedAt     *time.Time     `json:"posted_at,omitempty"`
	PostedBy     string         `json:"posted_by,omitempty"`
	ReversalOfID *uuid.UUID     `json:"reversal_of_id,omitempty"`
	ReversedByID *uuid.UUID     `json:"reversed_by_id,omitempty"`
	FiscalYear   int            `json:"fiscal_year,omitempty"`
	FiscalPeriod int            `json:"fiscal_period,omitempty"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Lines        []JournalLine  `json:"lines"`
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	AccountID   uuid.UUID   `json:"account_id"`
	Description string      `json:"description,omitempty"`
	Debit       money.Money `json:"debit"`
	Credit      money.Money `json:"credit"`
}

// Totals returns the debit and credit sums.
func (e JournalEntry) Totals() (money.Money, money.Money) {
	debit, credit := money.Zero(e.Currency), money.Zero(e.Currency)
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

func (e JournalEntry) clone() JournalEntry {
	e.Lines = append([]JournalLine(nil), e.Lines...)
	if e.PostedAt != nil {
		t := *e.PostedAt
		e.PostedAt = &t
	}
	if e.ReversalOfID != nil {
		id := *e.ReversalOfID
		e.ReversalOfID = &id
	}
	if e.ReversedByID != nil {
		id := *e.ReversedByID
		e.ReversedByID = &id
	}
	return e
}

func (e JournalEntry) accountIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(e.Lines))
	out := make([]uuid.UUID, 0, len(e.Lines))
	for _, l := range e.Lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		out = append(out, l.AccountID)
	}
	return out
}

// ListFilter narrows List.
type ListFilter struct {
	HotelID uuid.UUID
	Status  JournalStatus
	Kind    Kind
	From    time.Time
	To      time.Time
	RefKind string
	RefID   string
	Page    shared.PageRequest
}

func (f ListFilter) match(e JournalEntry) bool {
	switch {
	case e.HotelID != f.HotelID:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.Kind != "" && e.Kind != f.Kind:
		return false
	case !f.From.IsZero() && e.Date.Before(f.From):
		return false
	case !f.To.IsZero() && e.Date.After(f.To):
		return false
	case f.RefKind != "" && e.RefKind != f.RefKind:
		return false
	case f.RefID != "" && e.RefID != f.RefID:
		return false
	}
	return true
}

// PostResult reports a posted entry and the ledger records it produced.
type PostResult struct {
	Entry   JournalEntry `json:"entry"`
	Records int          `json:"records"`
}
