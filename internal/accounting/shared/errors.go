// Package shared holds error codes common to the accounting packages.
package shared

import core "github.com/lodgeledger/lodgeledger/internal/shared"

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = core.NewError(core.KindValidation, "journal.unbalanced", "journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = core.NewError(core.KindValidation, "journal.too_few_lines", "journal requires at least two lines")
	// ErrInvalidLine indicates a line with both or neither side set.
	ErrInvalidLine = core.NewError(core.KindValidation, "journal.invalid_line", "journal line must carry exactly one of debit or credit")
	// ErrMixedCurrency indicates lines in more than one currency.
	ErrMixedCurrency = core.NewError(core.KindValidation, "journal.mixed_currency", "journal lines must share one currency")
	// ErrBaseImbalance indicates conversion to the base currency broke the balance.
	ErrBaseImbalance = core.NewError(core.KindPrecision, "journal.base_imbalance", "journal does not balance in base currency")
	// ErrPeriodLocked indicates locked period.
	ErrPeriodLocked = core.NewError(core.KindState, "period.locked", "period locked")
	// ErrPeriodClosed indicates a closed period rejecting ordinary entries.
	ErrPeriodClosed = core.NewError(core.KindState, "period.closed", "period closed")
	// ErrInvalidPeriod indicates a fiscal year/period outside the calendar.
	ErrInvalidPeriod = core.NewError(core.KindValidation, "period.invalid", "fiscal period is invalid")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = core.NewError(core.KindNotFound, "journal.not_found", "journal entry not found")
	// ErrAlreadyPosted indicates a second post of the same entry.
	ErrAlreadyPosted = core.NewError(core.KindState, "journal.already_posted", "journal entry is already posted")
	// ErrNotPosted indicates an operation that needs a posted entry.
	ErrNotPosted = core.NewError(core.KindState, "journal.not_posted", "journal entry is not posted")
	// ErrAlreadyReversed indicates a second reversal.
	ErrAlreadyReversed = core.NewError(core.KindState, "journal.already_reversed", "journal entry is already reversed")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = core.NewError(core.KindState, "journal.invalid_status", "invalid status transition")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = core.NewError(core.KindNotFound, "mapping.not_found", "account mapping not found")
	// ErrSourceConflict indicates the source document already produced an entry.
	ErrSourceConflict = core.NewError(core.KindConflict, "journal.source_conflict", "source document already linked to a journal entry")
)
