package reports

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

// CurrentEarningsLabel names the synthetic equity row carrying unclosed profit.
const CurrentEarningsLabel = "Current earnings"

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	AccountID uuid.UUID        `json:"account_id,omitempty"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	SubType   accounts.SubType `json:"sub_type,omitempty"`
	Balance   money.Money      `json:"balance"`
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    money.Money           `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report.
type BalanceSheet struct {
	HotelID                   uuid.UUID           `json:"hotel_id"`
	AsOf                      time.Time           `json:"as_of"`
	Currency                  money.Currency      `json:"currency"`
	Assets                    BalanceSheetSection `json:"assets"`
	Liabilities               BalanceSheetSection `json:"liabilities"`
	Equity                    BalanceSheetSection `json:"equity"`
	TotalLiabilitiesAndEquity money.Money         `json:"total_liabilities_and_equity"`
	Balanced                  bool                `json:"balanced"`
}

// BuildBalanceSheet aggregates closing balances into assets, liabilities and
// equity. Revenue and expense accounts that have not been closed into
// retained earnings are folded into a current earnings equity row.
func BuildBalanceSheet(balances []AccountBalance, base money.Currency) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets", Total: money.Zero(base)}
	liabilities := BalanceSheetSection{Label: "Liabilities", Total: money.Zero(base)}
	equity := BalanceSheetSection{Label: "Equity", Total: money.Zero(base)}
	earnings := money.Zero(base)

	for _, acc := range balances {
		balance := acc.Natural()
		row := BalanceSheetAccount{AccountID: acc.AccountID, Code: acc.Code, Name: acc.Name, SubType: acc.SubType, Balance: balance}
		switch acc.Kind {
		case accounts.KindAsset:
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(balance)
		case accounts.KindLiability:
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(balance)
		case accounts.KindEquity:
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(balance)
		case accounts.KindRevenue:
			earnings = earnings.Add(balance)
		case accounts.KindExpense, accounts.KindCOGS:
			earnings = earnings.Sub(balance)
		}
	}

	sort.Slice(assets.Accounts, func(i, j int) bool { return assets.Accounts[i].Code < assets.Accounts[j].Code })
	sort.Slice(liabilities.Accounts, func(i, j int) bool { return liabilities.Accounts[i].Code < liabilities.Accounts[j].Code })
	sort.Slice(equity.Accounts, func(i, j int) bool { return equity.Accounts[i].Code < equity.Accounts[j].Code })
	if !earnings.IsZero() {
		equity.Accounts = append(equity.Accounts, BalanceSheetAccount{Name: CurrentEarningsLabel, Balance: earnings})
		equity.Total = equity.Total.Add(earnings)
	}

	total := liabilities.Total.Add(equity.Total)
	return BalanceSheet{
		Currency:                  base,
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		TotalLiabilitiesAndEquity: total,
		Balanced:                  assets.Total.Eq(total),
	}
}
