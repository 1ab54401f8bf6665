package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/money"
	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Kind enumerates CoA categories.
type Kind string

const (
	KindAsset     Kind = "ASSET"
	KindLiability Kind = "LIABILITY"
	KindEquity    Kind = "EQUITY"
	KindRevenue   Kind = "REVENUE"
	KindExpense   Kind = "EXPENSE"
	KindCOGS      Kind = "COGS"
)

// Kinds lists every kind in statement order.
var Kinds = []Kind{KindAsset, KindLiability, KindEquity, KindRevenue, KindCOGS, KindExpense}

// Valid reports whether k is known.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// NormalSide is fixed by kind.
func (k Kind) NormalSide() Side {
	switch k {
	case KindAsset, KindExpense, KindCOGS:
		return SideDebit
	}
	return SideCredit
}

// CodePrefix is the leading digit every code of this kind starts with.
func (k Kind) CodePrefix() []byte {
	switch k {
	case KindAsset:
		return []byte{'1'}
	case KindLiability:
		return []byte{'2'}
	case KindEquity:
		return []byte{'3'}
	case KindRevenue:
		return []byte{'4'}
	case KindCOGS:
		return []byte{'5'}
	case KindExpense:
		return []byte{'6', '7', '8', '9'}
	}
	return nil
}

// Side is the debit/credit side.
type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Sign is +1 for debit-normal and -1 for credit-normal accounts.
func (s Side) Sign() int64 {
	if s == SideDebit {
		return 1
	}
	return -1
}

// SubType refines kinds for statement roll-ups and cash-flow classification.
type SubType string

const (
	SubCash               SubType = "CASH"
	SubCurrentAsset       SubType = "CURRENT_ASSET"
	SubFixedAsset         SubType = "FIXED_ASSET"
	SubCurrentLiability   SubType = "CURRENT_LIABILITY"
	SubLongTermLiability  SubType = "LONG_TERM_LIABILITY"
	SubEquity             SubType = "EQUITY"
	SubRoom               SubType = "ROOM"
	SubFoodBeverage       SubType = "FNB"
	SubOtherRevenue       SubType = "OTHER"
	SubCostOfSales        SubType = "COST_OF_SALES"
	SubOperating          SubType = "OPERATING"
	SubStaff              SubType = "STAFF"
	SubMarketing          SubType = "MARKETING"
	SubAdministrative     SubType = "ADMIN"
)

var subTypesByKind = map[Kind][]SubType{
	KindAsset:     {SubCash, SubCurrentAsset, SubFixedAsset},
	KindLiability: {SubCurrentLiability, SubLongTermLiability},
	KindEquity:    {SubEquity},
	KindRevenue:   {SubRoom, SubFoodBeverage, SubOtherRevenue},
	KindCOGS:      {SubCostOfSales},
	KindExpense:   {SubOperating, SubStaff, SubMarketing, SubAdministrative},
}

// DefaultSubType is used when a caller does not pick one.
func (k Kind) DefaultSubType() SubType {
	if subs := subTypesByKind[k]; len(subs) > 0 {
		if k == KindAsset {
			return SubCurrentAsset
		}
		if k == KindRevenue {
			return SubOtherRevenue
		}
		return subs[0]
	}
	return ""
}

// Allows reports whether st is valid for k.
func (k Kind) Allows(st SubType) bool {
	for _, s := range subTypesByKind[k] {
		if s == st {
			return true
		}
	}
	return false
}

// Account models a chart of accounts node.
type Account struct {
	ID             uuid.UUID      `json:"id"`
	HotelID        uuid.UUID      `json:"hotel_id"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Kind           Kind           `json:"kind"`
	SubType        SubType        `json:"sub_type"`
	NormalSide     Side           `json:"normal_side"`
	ParentID       *uuid.UUID     `json:"parent_id,omitempty"`
	IsActive       bool           `json:"is_active"`
	Currency       money.Currency `json:"currency"`
	CurrentBalance money.Money    `json:"current_balance"`
	BalanceVersion int64          `json:"balance_version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Signed converts a debit/credit pair into this account's balance direction.
func (a Account) Signed(debit, credit money.Money) money.Money {
	net := debit.Sub(credit)
	if a.NormalSide == SideCredit {
		return net.Neg()
	}
	return net
}

// IsCash reports whether movements on this account are cash movements.
func (a Account) IsCash() bool { return a.SubType == SubCash }

func (a Account) clone() Account {
	if a.ParentID != nil {
		parent := *a.ParentID
		a.ParentID = &parent
	}
	return a
}

// ListFilter narrows List.
type ListFilter struct {
	HotelID    uuid.UUID
	Kind       Kind
	ActiveOnly bool
}

var (
	ErrAccountNotFound = shared.NewError(shared.KindNotFound, "account.not_found", "account not found")
	ErrDuplicateCode   = shared.NewError(shared.KindConflict, "account.duplicate_code", "account code already exists")
	ErrInvalidAccount  = shared.NewError(shared.KindValidation, "account.invalid", "account is invalid")
	ErrAccountInactive = shared.NewError(shared.KindValidation, "account.inactive", "account is inactive")
	ErrBalanceVersion  = shared.NewError(shared.KindRace, "account.balance_version", "account balance changed concurrently")
)
