package reports

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

// ProfitAndLossAccount represents a revenue or expense account summary.
type ProfitAndLossAccount struct {
	AccountID uuid.UUID   `json:"account_id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Amount    money.Money `json:"amount"`
}

// SubTotal rolls up accounts of one sub-type.
type SubTotal struct {
	SubType  accounts.SubType       `json:"sub_type"`
	Accounts []ProfitAndLossAccount `json:"accounts"`
	Total    money.Money            `json:"total"`
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Label    string      `json:"label"`
	SubTypes []SubTotal  `json:"sub_types"`
	Total    money.Money `json:"total"`
}

// ProfitAndLoss contains the structured output for the report.
type ProfitAndLoss struct {
	HotelID       uuid.UUID            `json:"hotel_id"`
	From          time.Time            `json:"from"`
	To            time.Time            `json:"to"`
	Currency      money.Currency       `json:"currency"`
	Revenue       ProfitAndLossSection `json:"revenue"`
	CostOfSales   ProfitAndLossSection `json:"cost_of_sales"`
	Expense       ProfitAndLossSection `json:"expense"`
	GrossProfit   money.Money          `json:"gross_profit"`
	TotalExpenses money.Money          `json:"total_expenses"`
	NetIncome     money.Money          `json:"net_income"`
}

// BuildProfitAndLoss aggregates window movements into revenue, cost of sales
// and expense sections. Revenue is credits minus debits; the others are
// debits minus credits. TotalExpenses includes cost of sales.
func BuildProfitAndLoss(balances []AccountBalance, base money.Currency) ProfitAndLoss {
	revenue := newSection("Revenue", accounts.KindRevenue, base)
	cogs := newSection("Cost of sales", accounts.KindCOGS, base)
	expense := newSection("Expense", accounts.KindExpense, base)

	for _, acc := range balances {
		var sec *sectionBuilder
		switch acc.Kind {
		case accounts.KindRevenue:
			sec = revenue
		case accounts.KindCOGS:
			sec = cogs
		case accounts.KindExpense:
			sec = expense
		default:
			continue
		}
		if acc.Debit.IsZero() && acc.Credit.IsZero() {
			continue
		}
		sec.add(acc, acc.Movement())
	}

	out := ProfitAndLoss{
		Currency:    base,
		Revenue:     revenue.build(),
		CostOfSales: cogs.build(),
		Expense:     expense.build(),
	}
	out.GrossProfit = out.Revenue.Total.Sub(out.CostOfSales.Total)
	out.TotalExpenses = out.CostOfSales.Total.Add(out.Expense.Total)
	out.NetIncome = out.Revenue.Total.Sub(out.TotalExpenses)
	return out
}

type sectionBuilder struct {
	label  string
	order  []accounts.SubType
	groups map[accounts.SubType]*SubTotal
	total  money.Money
	base   money.Currency
}

func newSection(label string, kind accounts.Kind, base money.Currency) *sectionBuilder {
	return &sectionBuilder{
		label:  label,
		order:  append([]accounts.SubType(nil), subTypeOrder[kind]...),
		groups: make(map[accounts.SubType]*SubTotal),
		total:  money.Zero(base),
		base:   base,
	}
}

var subTypeOrder = map[accounts.Kind][]accounts.SubType{
	accounts.KindRevenue: {accounts.SubRoom, accounts.SubFoodBeverage, accounts.SubOtherRevenue},
	accounts.KindCOGS:    {accounts.SubCostOfSales},
	accounts.KindExpense: {accounts.SubOperating, accounts.SubStaff, accounts.SubMarketing, accounts.SubAdministrative},
}

func (b *sectionBuilder) add(acc AccountBalance, amount money.Money) {
	grp, ok := b.groups[acc.SubType]
	if !ok {
		grp = &SubTotal{SubType: acc.SubType, Total: money.Zero(b.base)}
		b.groups[acc.SubType] = grp
		known := false
		for _, st := range b.order {
			if st == acc.SubType {
				known = true
				break
			}
		}
		if !known {
			b.order = append(b.order, acc.SubType)
		}
	}
	grp.Accounts = append(grp.Accounts, ProfitAndLossAccount{
		AccountID: acc.AccountID,
		Code:      acc.Code,
		Name:      acc.Name,
		Amount:    amount,
	})
	grp.Total = grp.Total.Add(amount)
	b.total = b.total.Add(amount)
}

func (b *sectionBuilder) build() ProfitAndLossSection {
	sec := ProfitAndLossSection{Label: b.label, Total: b.total}
	for _, st := range b.order {
		grp, ok := b.groups[st]
		if !ok {
			continue
		}
		sort.Slice(grp.Accounts, func(i, j int) bool { return grp.Accounts[i].Code < grp.Accounts[j].Code })
		sec.SubTypes = append(sec.SubTypes, *grp)
	}
	return sec
}
