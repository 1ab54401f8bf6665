package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/accounting/fx"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

func TestReferenceRatesTakeLatestIntoBase(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 6, d, 0, 0, 0, 0, time.UTC) }
	got := referenceRates([]fx.Rate{
		{From: money.USD, To: money.INR, EffectiveDate: day(1), Rate: decimal.NewFromInt(82)},
		{From: money.USD, To: money.INR, EffectiveDate: day(9), Rate: decimal.RequireFromString("83.40")},
		{From: money.USD, To: money.INR, EffectiveDate: day(5), Rate: decimal.NewFromInt(84)},
		{From: money.EUR, To: money.USD, EffectiveDate: day(9), Rate: decimal.RequireFromString("1.08")},
	}, money.INR)

	require.Len(t, got, 1)
	require.True(t, got[money.USD].Equal(decimal.RequireFromString("83.40")))
}
