package accounts

// SeedAccount is one row of the canonical chart.
type SeedAccount struct {
	Code    string
	Name    string
	Kind    Kind
	SubType SubType
	Parent  string
}

// Well-known codes used by default mappings.
const (
	CodeCashOnHand          = "10100"
	CodeBank                = "10200"
	CodeCardClearing        = "10300"
	CodeAccountsReceivable  = "11000"
	CodeGuestLedger         = "11100"
	CodeAccountsPayable     = "20100"
	CodeTaxPayable          = "21000"
	CodeAdvanceDeposits     = "22000"
	CodeRetainedEarnings    = "31000"
	CodeOpeningBalance      = "32000"
	CodeRoomRevenue         = "40100"
	CodeFoodBeverageRevenue = "40200"
	CodeOtherRevenue        = "40400"
	CodeLateFeeIncome       = "40500"
	CodeServiceCharge       = "40600"
	CodeDamageRecovery      = "40700"
	CodePaymentFees         = "63100"
	CodeDiscounts           = "63200"
	CodeBadDebt             = "63300"
)

// SeedChart is installed by Service.Seed, parents first.
var SeedChart = []SeedAccount{
	{Code: "10000", Name: "Current Assets", Kind: KindAsset, SubType: SubCurrentAsset},
	{Code: CodeCashOnHand, Name: "Cash on Hand", Kind: KindAsset, SubType: SubCash, Parent: "10000"},
	{Code: CodeBank, Name: "Bank Accounts", Kind: KindAsset, SubType: SubCash, Parent: "10000"},
	{Code: CodeCardClearing, Name: "Card and UPI Clearing", Kind: KindAsset, SubType: SubCash, Parent: "10000"},
	{Code: CodeAccountsReceivable, Name: "Accounts Receivable", Kind: KindAsset, SubType: SubCurrentAsset, Parent: "10000"},
	{Code: CodeGuestLedger, Name: "Guest Ledger", Kind: KindAsset, SubType: SubCurrentAsset, Parent: "10000"},
	{Code: "12000", Name: "Inventory", Kind: KindAsset, SubType: SubCurrentAsset, Parent: "10000"},
	{Code: "13000", Name: "Prepaid Expenses", Kind: KindAsset, SubType: SubCurrentAsset, Parent: "10000"},
	{Code: "15000", Name: "Property and Equipment", Kind: KindAsset, SubType: SubFixedAsset},
	{Code: "15100", Name: "Furniture and Fixtures", Kind: KindAsset, SubType: SubFixedAsset, Parent: "15000"},
	{Code: "15200", Name: "Kitchen Equipment", Kind: KindAsset, SubType: SubFixedAsset, Parent: "15000"},
	{Code: "15900", Name: "Accumulated Depreciation", Kind: KindAsset, SubType: SubFixedAsset, Parent: "15000"},

	{Code: "20000", Name: "Current Liabilities", Kind: KindLiability, SubType: SubCurrentLiability},
	{Code: CodeAccountsPayable, Name: "Accounts Payable", Kind: KindLiability, SubType: SubCurrentLiability, Parent: "20000"},
	{Code: CodeTaxPayable, Name: "GST Payable", Kind: KindLiability, SubType: SubCurrentLiability, Parent: "20000"},
	{Code: CodeAdvanceDeposits, Name: "Advance Deposits", Kind: KindLiability, SubType: SubCurrentLiability, Parent: "20000"},
	{Code: "23000", Name: "Accrued Expenses", Kind: KindLiability, SubType: SubCurrentLiability, Parent: "20000"},
	{Code: "25000", Name: "Long-term Loans", Kind: KindLiability, SubType: SubLongTermLiability},

	{Code: "30100", Name: "Owner's Capital", Kind: KindEquity, SubType: SubEquity},
	{Code: CodeRetainedEarnings, Name: "Retained Earnings", Kind: KindEquity, SubType: SubEquity},
	{Code: CodeOpeningBalance, Name: "Opening Balance Equity", Kind: KindEquity, SubType: SubEquity},

	{Code: CodeRoomRevenue, Name: "Room Revenue", Kind: KindRevenue, SubType: SubRoom},
	{Code: CodeFoodBeverageRevenue, Name: "Food and Beverage Revenue", Kind: KindRevenue, SubType: SubFoodBeverage},
	{Code: "40300", Name: "Banquet Revenue", Kind: KindRevenue, SubType: SubFoodBeverage},
	{Code: CodeOtherRevenue, Name: "Other Operating Revenue", Kind: KindRevenue, SubType: SubOtherRevenue},
	{Code: CodeLateFeeIncome, Name: "Late Fee Income", Kind: KindRevenue, SubType: SubOtherRevenue},
	{Code: CodeServiceCharge, Name: "Service Charge Income", Kind: KindRevenue, SubType: SubOtherRevenue},
	{Code: CodeDamageRecovery, Name: "Damage Recovery", Kind: KindRevenue, SubType: SubOtherRevenue},

	{Code: "50100", Name: "Cost of Food Sold", Kind: KindCOGS, SubType: SubCostOfSales},
	{Code: "50200", Name: "Cost of Beverage Sold", Kind: KindCOGS, SubType: SubCostOfSales},
	{Code: "50300", Name: "Guest Amenities", Kind: KindCOGS, SubType: SubCostOfSales},

	{Code: "60100", Name: "Salaries and Wages", Kind: KindExpense, SubType: SubStaff},
	{Code: "60200", Name: "Employee Benefits", Kind: KindExpense, SubType: SubStaff},
	{Code: "61000", Name: "Utilities", Kind: KindExpense, SubType: SubOperating},
	{Code: "61100", Name: "Repairs and Maintenance", Kind: KindExpense, SubType: SubOperating},
	{Code: "61200", Name: "Housekeeping Supplies", Kind: KindExpense, SubType: SubOperating},
	{Code: "62000", Name: "Marketing and Advertising", Kind: KindExpense, SubType: SubMarketing},
	{Code: "62100", Name: "OTA Commissions", Kind: KindExpense, SubType: SubMarketing},
	{Code: "63000", Name: "Administrative Expenses", Kind: KindExpense, SubType: SubAdministrative},
	{Code: CodePaymentFees, Name: "Payment Processing Fees", Kind: KindExpense, SubType: SubAdministrative},
	{Code: CodeDiscounts, Name: "Discounts and Allowances", Kind: KindExpense, SubType: SubOperating},
	{Code: CodeBadDebt, Name: "Bad Debt Expense", Kind: KindExpense, SubType: SubAdministrative},
	{Code: "64000", Name: "Depreciation", Kind: KindExpense, SubType: SubAdministrative},
}
