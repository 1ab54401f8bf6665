package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
	"github.com/lodgeledger/lodgeledger/internal/money"

	_ "github.com/lodgeledger/lodgeledger/testing"
)

func inr(v int64) money.Money { return money.FromInt(v, money.INR) }

func row(code string, kind accounts.Kind, sub accounts.SubType, opening, debit, credit int64) AccountBalance {
	return AccountBalance{
		AccountID: uuid.New(),
		Code:      code,
		Name:      code,
		Kind:      kind,
		SubType:   sub,
		Opening:   inr(opening),
		Debit:     inr(debit),
		Credit:    inr(credit),
	}
}

func TestBuildTrialBalance(t *testing.T) {
	balances := []AccountBalance{
		row("10100", accounts.KindAsset, accounts.SubCash, 1000, 200, 150),
		row("10200", accounts.KindAsset, accounts.SubCash, 500, 100, 50),
		row("20100", accounts.KindLiability, accounts.SubCurrentLiability, -1500, 10, 110),
		row("40100", accounts.KindRevenue, accounts.SubRoom, 0, 0, 0),
	}

	tb := BuildTrialBalance(balances, money.INR)
	require.Len(t, tb.Groups, 2)
	require.Equal(t, accounts.KindAsset, tb.Groups[0].Kind)
	require.Len(t, tb.Groups[0].Accounts, 2)
	require.True(t, tb.TotalDebit.Eq(inr(1600)))
	require.True(t, tb.TotalCredit.Eq(inr(1600)))
	require.True(t, tb.Balanced)
	require.True(t, tb.Groups[1].Accounts[0].DebitBalance.IsZero())
	require.True(t, tb.Groups[1].Accounts[0].CreditBalance.Eq(inr(1600)))
}

func TestBuildTrialBalanceFlagsImbalance(t *testing.T) {
	tb := BuildTrialBalance([]AccountBalance{
		row("10100", accounts.KindAsset, accounts.SubCash, 0, 100, 0),
		row("40100", accounts.KindRevenue, accounts.SubRoom, 0, 0, 90),
	}, money.INR)
	require.False(t, tb.Balanced)
	require.True(t, tb.Difference().Eq(inr(10)))
}

func TestBuildProfitAndLoss(t *testing.T) {
	balances := []AccountBalance{
		row("40100", accounts.KindRevenue, accounts.SubRoom, 0, 0, 1200),
		row("40200", accounts.KindRevenue, accounts.SubFoodBeverage, 0, 50, 350),
		row("50100", accounts.KindCOGS, accounts.SubCostOfSales, 0, 120, 0),
		row("60100", accounts.KindExpense, accounts.SubStaff, 0, 300, 0),
		row("62000", accounts.KindExpense, accounts.SubMarketing, 0, 200, 0),
		row("10100", accounts.KindAsset, accounts.SubCash, 0, 1500, 620),
	}

	pl := BuildProfitAndLoss(balances, money.INR)
	require.True(t, pl.Revenue.Total.Eq(inr(1500)))
	require.Len(t, pl.Revenue.SubTypes, 2)
	require.Equal(t, accounts.SubRoom, pl.Revenue.SubTypes[0].SubType)
	require.True(t, pl.Revenue.SubTypes[1].Total.Eq(inr(300)))
	require.True(t, pl.CostOfSales.Total.Eq(inr(120)))
	require.True(t, pl.GrossProfit.Eq(inr(1380)))
	require.Equal(t, accounts.SubStaff, pl.Expense.SubTypes[0].SubType)
	require.Equal(t, accounts.SubMarketing, pl.Expense.SubTypes[1].SubType)
	require.True(t, pl.TotalExpenses.Eq(inr(620)))
	require.True(t, pl.NetIncome.Eq(inr(880)))
}

func TestBuildBalanceSheetFoldsCurrentEarnings(t *testing.T) {
	balances := []AccountBalance{
		row("10100", accounts.KindAsset, accounts.SubCash, 0, 1500, 200),
		row("20100", accounts.KindLiability, accounts.SubCurrentLiability, 0, 0, 300),
		row("30100", accounts.KindEquity, accounts.SubEquity, 0, 0, 500),
		row("40100", accounts.KindRevenue, accounts.SubRoom, 0, 0, 700),
		row("61000", accounts.KindExpense, accounts.SubOperating, 0, 200, 0),
	}

	bs := BuildBalanceSheet(balances, money.INR)
	require.True(t, bs.Assets.Total.Eq(inr(1300)))
	require.True(t, bs.Liabilities.Total.Eq(inr(300)))
	require.True(t, bs.Equity.Total.Eq(inr(1000)))
	last := bs.Equity.Accounts[len(bs.Equity.Accounts)-1]
	require.Equal(t, CurrentEarningsLabel, last.Name)
	require.True(t, last.Balance.Eq(inr(500)))
	require.True(t, bs.TotalLiabilitiesAndEquity.Eq(inr(1300)))
	require.True(t, bs.Balanced)
}

func TestBucketFor(t *testing.T) {
	cases := map[int]string{
		-5: BucketCurrent, 0: BucketCurrent, 30: BucketCurrent,
		31: Bucket31To60, 60: Bucket31To60,
		61: Bucket61To90, 90: Bucket61To90,
		91: Bucket91To120, 120: Bucket91To120,
		121: BucketOver120, 400: BucketOver120,
	}
	for days, want := range cases {
		require.Equal(t, want, BucketFor(days), "days %d", days)
	}
}

func TestBuildAgedReceivables(t *testing.T) {
	asOf := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	items := []OpenItem{
		{Number: "INV-1", DueDate: asOf.AddDate(0, 0, 10), Balance: inr(100)},
		{Number: "INV-2", DueDate: asOf.AddDate(0, 0, -45), Balance: inr(200)},
		{Number: "INV-3", DueDate: asOf.AddDate(0, 0, -200), Balance: inr(300)},
		{Number: "INV-4", DueDate: asOf.AddDate(0, 0, -45), Balance: inr(0)},
	}

	aged := BuildAgedReceivables(items, asOf, money.INR)
	require.Len(t, aged.Buckets, 5)
	require.True(t, aged.Buckets[0].Amount.Eq(inr(100)))
	require.True(t, aged.Buckets[1].Amount.Eq(inr(200)))
	require.Len(t, aged.Buckets[1].Items, 1)
	require.Equal(t, 45, aged.Buckets[1].Items[0].DaysPastDue)
	require.True(t, aged.Buckets[2].Amount.IsZero())
	require.True(t, aged.Buckets[4].Amount.Eq(inr(300)))
	require.True(t, aged.Total.Eq(inr(600)))

	items = append(items, OpenItem{Number: "STL-1", DueDate: asOf, Balance: money.FromInt(50, money.USD)})
	require.NotPanics(t, func() { aged = BuildAgedReceivables(items, asOf, money.INR) })
	require.True(t, aged.Total.Eq(inr(600)))
}

func TestBuildBudgetVariance(t *testing.T) {
	revenue := row("40100", accounts.KindRevenue, accounts.SubRoom, 0, 0, 50000)
	utilities := row("61000", accounts.KindExpense, accounts.SubOperating, 0, 3000, 0)
	marketing := row("62000", accounts.KindExpense, accounts.SubMarketing, 0, 500, 0)
	budgets := []Budget{
		{AccountID: revenue.AccountID, FiscalPeriod: 3, Amount: inr(40000)},
		{AccountID: utilities.AccountID, FiscalPeriod: 3, Amount: inr(4000)},
		{AccountID: marketing.AccountID, FiscalPeriod: 3, Amount: inr(0)},
	}

	bv := BuildBudgetVariance(budgets, []AccountBalance{revenue, utilities, marketing}, money.INR)
	require.Len(t, bv.Rows, 3)
	require.True(t, bv.Rows[0].Variance.Eq(inr(10000)))
	require.Equal(t, "0.25", bv.Rows[0].VariancePct.String())
	require.True(t, bv.Rows[1].Variance.Eq(inr(-1000)))
	require.Equal(t, "-0.25", bv.Rows[1].VariancePct.String())
	require.Nil(t, bv.Rows[2].VariancePct)
	require.True(t, bv.TotalBudget.Eq(inr(44000)))
}

type receivables []OpenItem

func (r receivables) OpenReceivables(context.Context, uuid.UUID, time.Time) ([]OpenItem, error) {
	return r, nil
}

type failingReceivables struct{}

func (failingReceivables) OpenReceivables(context.Context, uuid.UUID, time.Time) ([]OpenItem, error) {
	return nil, errors.New("source down")
}

func TestReceivablesMergesSources(t *testing.T) {
	invoices := receivables{{Number: "INV-2026-000001", Balance: inr(100)}}
	settlements := receivables{{Number: "STL-2026-000001", Balance: inr(50)}, {Number: "STL-2026-000002", Balance: inr(25)}}

	items, err := Receivables{invoices, nil, settlements}.OpenReceivables(context.Background(), uuid.New(), time.Now())
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "STL-2026-000002", items[2].Number)

	_, err = Receivables{invoices, failingReceivables{}}.OpenReceivables(context.Background(), uuid.New(), time.Now())
	require.Error(t, err)
}
