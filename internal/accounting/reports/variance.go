package reports

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
)

// VarianceRow compares budget and actual for one account.
type VarianceRow struct {
	AccountID   uuid.UUID        `json:"account_id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Budget      money.Money      `json:"budget"`
	Actual      money.Money      `json:"actual"`
	Variance    money.Money      `json:"variance"`
	VariancePct *decimal.Decimal `json:"variance_pct,omitempty"`
}

// BudgetVariance is the variance report over a range of fiscal periods.
type BudgetVariance struct {
	HotelID     uuid.UUID      `json:"hotel_id"`
	FiscalYear  int            `json:"fiscal_year"`
	FromPeriod  int            `json:"from_period"`
	ToPeriod    int            `json:"to_period"`
	Currency    money.Currency `json:"currency"`
	Rows        []VarianceRow  `json:"rows"`
	TotalBudget money.Money    `json:"total_budget"`
	TotalActual money.Money    `json:"total_actual"`
}

// BuildBudgetVariance joins budget lines with actual window movements by
// account. Actual is on the account's normal side. VariancePct is a
// fraction rounded to four places and is absent when the budget is zero.
func BuildBudgetVariance(budgets []Budget, balances []AccountBalance, base money.Currency) BudgetVariance {
	planned := make(map[uuid.UUID]money.Money)
	for _, b := range budgets {
		planned[b.AccountID] = planned[b.AccountID].Add(b.Amount)
	}
	out := BudgetVariance{Currency: base, TotalBudget: money.Zero(base), TotalActual: money.Zero(base)}
	for _, acc := range balances {
		budget, ok := planned[acc.AccountID]
		if !ok {
			continue
		}
		budget = money.Zero(base).Add(budget)
		actual := acc.Movement()
		row := VarianceRow{
			AccountID: acc.AccountID,
			Code:      acc.Code,
			Name:      acc.Name,
			Budget:    budget,
			Actual:    actual,
			Variance:  actual.Sub(budget),
		}
		if !budget.IsZero() {
			pct := row.Variance.Amount().DivRound(budget.Amount(), 4)
			row.VariancePct = &pct
		}
		out.Rows = append(out.Rows, row)
		out.TotalBudget = out.TotalBudget.Add(budget)
		out.TotalActual = out.TotalActual.Add(actual)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].Code < out.Rows[j].Code })
	return out
}
