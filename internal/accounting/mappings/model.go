// Package mappings resolves the accounts automatic postings use, per hotel,
// from (module, key) pairs with canonical defaults.
package mappings

import (
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/accounting/accounts"
)

// Modules that emit automatic entries.
const (
	ModuleBilling    = "BILLING"
	ModuleSettlement = "SETTLEMENT"
)

// Keys resolved by automatic postings.
const (
	KeyReceivable    = "RECEIVABLE"
	KeyGuestLedger   = "GUEST_LEDGER"
	KeyPayable       = "PAYABLE"
	KeyCash          = "CASH"
	KeyBank          = "BANK"
	KeyCardClearing  = "CARD_CLEARING"
	KeyRoomRevenue   = "ROOM_REVENUE"
	KeyOtherRevenue  = "OTHER_REVENUE"
	KeyTaxPayable    = "TAX_PAYABLE"
	KeyFees          = "PAYMENT_FEES"
	KeyDiscount      = "DISCOUNT"
	KeyLateFee       = "LATE_FEE"
	KeyServiceCharge = "SERVICE_CHARGE"
	KeyDamage        = "DAMAGE"
	KeyBadDebt       = "BAD_DEBT"
	KeyDeposits      = "ADVANCE_DEPOSITS"
)

// DefaultCodes maps keys to seed chart codes when no override exists.
var DefaultCodes = map[string]string{
	KeyReceivable:    accounts.CodeAccountsReceivable,
	KeyGuestLedger:   accounts.CodeGuestLedger,
	KeyPayable:       accounts.CodeAccountsPayable,
	KeyCash:          accounts.CodeCashOnHand,
	KeyBank:          accounts.CodeBank,
	KeyCardClearing:  accounts.CodeCardClearing,
	KeyRoomRevenue:   accounts.CodeRoomRevenue,
	KeyOtherRevenue:  accounts.CodeOtherRevenue,
	KeyTaxPayable:    accounts.CodeTaxPayable,
	KeyFees:          accounts.CodePaymentFees,
	KeyDiscount:      accounts.CodeDiscounts,
	KeyLateFee:       accounts.CodeLateFeeIncome,
	KeyServiceCharge: accounts.CodeServiceCharge,
	KeyDamage:        accounts.CodeDamageRecovery,
	KeyBadDebt:       accounts.CodeBadDebt,
	KeyDeposits:      accounts.CodeAdvanceDeposits,
}

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	HotelID     uuid.UUID `json:"hotel_id"`
	Module      string    `json:"module"`
	Key         string    `json:"key"`
	AccountCode string    `json:"account_code"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KeyForMethod returns the cash-side key a payment method settles through.
func KeyForMethod(method string) string {
	switch method {
	case "CASH":
		return KeyCash
	case "CARD", "ONLINE", "MOBILE":
		return KeyCardClearing
	}
	return KeyBank
}
