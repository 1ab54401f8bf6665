package reports

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

// Activity classifies a cash movement.
type Activity string

const (
	ActivityOperating Activity = "OPERATING"
	ActivityInvesting Activity = "INVESTING"
	ActivityFinancing Activity = "FINANCING"
)

var activityOrder = []Activity{ActivityOperating, ActivityInvesting, ActivityFinancing}

// ActivityOf classifies a counterpart account.
func ActivityOf(acc accounts.Account) Activity {
	switch {
	case acc.SubType == accounts.SubFixedAsset:
		return ActivityInvesting
	case acc.SubType == accounts.SubLongTermLiability, acc.Kind == accounts.KindEquity:
		return ActivityFinancing
	}
	return ActivityOperating
}

// CashFlowLine is the cash effect attributed to one counterpart account.
type CashFlowLine struct {
	AccountID uuid.UUID   `json:"account_id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Amount    money.Money `json:"amount"`
}

// CashFlowSection totals one activity.
type CashFlowSection struct {
	Activity Activity       `json:"activity"`
	Lines    []CashFlowLine `json:"lines"`
	Total    money.Money    `json:"total"`
}

// CashFlow is a direct-method cash flow statement.
type CashFlow struct {
	HotelID     uuid.UUID         `json:"hotel_id"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Currency    money.Currency    `json:"currency"`
	OpeningCash money.Money       `json:"opening_cash"`
	Sections    []CashFlowSection `json:"sections"`
	NetChange   money.Money       `json:"net_change"`
	ClosingCash money.Money       `json:"closing_cash"`
}

// BuildCashFlow attributes each journal entry's cash movement to its non-cash
// lines: a counterpart's contribution is the negation of its own net, so the
// contributions of a balanced entry sum to the movement on its cash lines.
// Entries touching only cash accounts are transfers and contribute nothing.
func BuildCashFlow(records []ledger.Record, chart map[uuid.UUID]accounts.Account, openingCash money.Money, base money.Currency) CashFlow {
	byEntry := make(map[uuid.UUID][]ledger.Record)
	var entries []uuid.UUID
	for _, rec := range records {
		if _, ok := byEntry[rec.JournalEntryID]; !ok {
			entries = append(entries, rec.JournalEntryID)
		}
		byEntry[rec.JournalEntryID] = append(byEntry[rec.JournalEntryID], rec)
	}

	contrib := make(map[uuid.UUID]money.Money)
	for _, id := range entries {
		recs := byEntry[id]
		touchesCash := false
		for _, rec := range recs {
			if chart[rec.AccountID].IsCash() {
				touchesCash = true
				break
			}
		}
		if !touchesCash {
			continue
		}
		for _, rec := range recs {
			if chart[rec.AccountID].IsCash() {
				continue
			}
			contrib[rec.AccountID] = contrib[rec.AccountID].Add(rec.BaseCurrencyAmount().Neg())
		}
	}

	sections := make(map[Activity]*CashFlowSection, len(activityOrder))
	for _, a := range activityOrder {
		sections[a] = &CashFlowSection{Activity: a, Total: money.Zero(base)}
	}
	for accountID, amount := range contrib {
		if amount.IsZero() {
			continue
		}
		acc := chart[accountID]
		sec := sections[ActivityOf(acc)]
		sec.Lines = append(sec.Lines, CashFlowLine{AccountID: accountID, Code: acc.Code, Name: acc.Name, Amount: amount})
		sec.Total = sec.Total.Add(amount)
	}

	out := CashFlow{Currency: base, OpeningCash: money.Zero(base).Add(openingCash), NetChange: money.Zero(base)}
	for _, a := range activityOrder {
		sec := sections[a]
		sort.Slice(sec.Lines, func(i, j int) bool { return sec.Lines[i].Code < sec.Lines[j].Code })
		out.Sections = append(out.Sections, *sec)
		out.NetChange = out.NetChange.Add(sec.Total)
	}
	out.ClosingCash = out.OpeningCash.Add(out.NetChange)
	return out
}
