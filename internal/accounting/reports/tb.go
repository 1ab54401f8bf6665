// Package reports derives financial statements from the ledger and the chart
// of accounts. Builders are pure; Service loads their inputs and caches results.
package reports

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/accounting/ledger"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

// AccountBalance is one account with base-currency movements. Opening is
// the debit-positive net before the window; Debit and Credit cover the window.
type AccountBalance struct {
	AccountID uuid.UUID
	Code      string
	Name      string
	Kind      accounts.Kind
	SubType   accounts.SubType
	Opening   money.Money
	Debit     money.Money
	Credit    money.Money
}

// Closing is the debit-positive net at the end of the window.
func (a AccountBalance) Closing() money.Money {
	return a.Opening.Add(a.Debit).Sub(a.Credit)
}

// Natural is Closing expressed on the account's normal side.
func (a AccountBalance) Natural() money.Money {
	return a.Closing().MulInt(a.Kind.NormalSide().Sign())
}

// Movement is the window activity expressed on the account's normal side.
func (a AccountBalance) Movement() money.Money {
	return a.Debit.Sub(a.Credit).MulInt(a.Kind.NormalSide().Sign())
}

// Balances joins the chart of accounts with opening and window totals.
// Accounts are returned in code order; accounts without activity are kept.
func Balances(list []accounts.Account, opening, window map[uuid.UUID]ledger.Totals, base money.Currency) []AccountBalance {
	out := make([]AccountBalance, 0, len(list))
	for _, acc := range list {
		row := AccountBalance{
			AccountID: acc.ID,
			Code:      acc.Code,
			Name:      acc.Name,
			Kind:      acc.Kind,
			SubType:   acc.SubType,
			Opening:   money.Zero(base),
			Debit:     money.Zero(base),
			Credit:    money.Zero(base),
		}
		if t, ok := opening[acc.ID]; ok {
			row.Opening = row.Opening.Add(t.Net())
		}
		if t, ok := window[acc.ID]; ok {
			row.Debit = row.Debit.Add(t.Debit)
			row.Credit = row.Credit.Add(t.Credit)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// TrialBalanceAccount is one non-zero account; only one side carries a value.
type TrialBalanceAccount struct {
	AccountID     uuid.UUID     `json:"account_id"`
	Code          string        `json:"code"`
	Name          string        `json:"name"`
	Kind          accounts.Kind `json:"kind"`
	DebitBalance  money.Money   `json:"debit_balance"`
	CreditBalance money.Money   `json:"credit_balance"`
}

// TrialBalanceGroup subtotals accounts of one kind.
type TrialBalanceGroup struct {
	Kind     accounts.Kind         `json:"kind"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Debit    money.Money           `json:"debit"`
	Credit   money.Money           `json:"credit"`
}

// TrialBalance lists every account with a balance at AsOf.
type TrialBalance struct {
	HotelID     uuid.UUID           `json:"hotel_id"`
	AsOf        time.Time           `json:"as_of"`
	Currency    money.Currency      `json:"currency"`
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  money.Money         `json:"total_debit"`
	TotalCredit money.Money         `json:"total_credit"`
	Balanced    bool                `json:"balanced"`
}

// Difference is TotalDebit - TotalCredit.
func (tb TrialBalance) Difference() money.Money {
	return tb.TotalDebit.Sub(tb.TotalCredit)
}

// BuildTrialBalance nets each account's closing balance onto one side and
// groups the rows by kind in statement order.
func BuildTrialBalance(balances []AccountBalance, base money.Currency) TrialBalance {
	groups := make(map[accounts.Kind]*TrialBalanceGroup)
	result := TrialBalance{Currency: base, TotalDebit: money.Zero(base), TotalCredit: money.Zero(base)}
	for _, acc := range balances {
		closing := acc.Closing()
		if closing.IsNegligible() {
			continue
		}
		row := TrialBalanceAccount{
			AccountID:     acc.AccountID,
			Code:          acc.Code,
			Name:          acc.Name,
			Kind:          acc.Kind,
			DebitBalance:  money.Zero(base),
			CreditBalance: money.Zero(base),
		}
		if closing.IsPositive() {
			row.DebitBalance = row.DebitBalance.Add(closing)
		} else {
			row.CreditBalance = row.CreditBalance.Add(closing.Neg())
		}
		grp, ok := groups[acc.Kind]
		if !ok {
			grp = &TrialBalanceGroup{Kind: acc.Kind, Debit: money.Zero(base), Credit: money.Zero(base)}
			groups[acc.Kind] = grp
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Debit = grp.Debit.Add(row.DebitBalance)
		grp.Credit = grp.Credit.Add(row.CreditBalance)
	}

	for _, kind := range accounts.Kinds {
		grp, ok := groups[kind]
		if !ok {
			continue
		}
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
	}
	result.Balanced = result.TotalDebit.Eq(result.TotalCredit)
	return result
}
