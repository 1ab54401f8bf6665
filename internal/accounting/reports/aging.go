package reports

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lodgeledger/lodgeledger/internal/clock"
	"github.com/lodgeledger/lodgeledger/internal/money"
)

// OpenItem is an unpaid receivable document.
type OpenItem struct {
	DocumentID uuid.UUID    `json:"document_id"`
	Number     string       `json:"number"`
	Customer   string       `json:"customer"`
	DueDate    time.Time    `json:"due_date"`
	Balance    money.Money  `json:"balance"`
	// Original holds the document-currency balance when Balance was converted.
	Original   *money.Money `json:"original,omitempty"`
}

// ReceivablesSource lists open receivables for a hotel.
type ReceivablesSource interface {
	OpenReceivables(ctx context.Context, hotelID uuid.UUID, asOf time.Time) ([]OpenItem, error)
}

// Receivables merges several sources, e.g. invoices and guest settlements.
type Receivables []ReceivablesSource

// OpenReceivables concatenates every source; the first failure wins.
func (r Receivables) OpenReceivables(ctx context.Context, hotelID uuid.UUID, asOf time.Time) ([]OpenItem, error) {
	var out []OpenItem
	for _, src := range r {
		if src == nil {
			continue
		}
		items, err := src.OpenReceivables(ctx, hotelID, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// Bucket labels, in increasing age.
const (
	BucketCurrent = "current"
	Bucket31To60  = "31-60"
	Bucket61To90  = "61-90"
	Bucket91To120 = "91-120"
	BucketOver120 = "120+"
)

var bucketOrder = []string{BucketCurrent, Bucket31To60, Bucket61To90, Bucket91To120, BucketOver120}

// BucketFor maps days past due to an aging bucket. Items not yet due are current.
func BucketFor(daysPastDue int) string {
	switch {
	case daysPastDue <= 30:
		return BucketCurrent
	case daysPastDue <= 60:
		return Bucket31To60
	case daysPastDue <= 90:
		return Bucket61To90
	case daysPastDue <= 120:
		return Bucket91To120
	}
	return BucketOver120
}

// AgedItem is an open item placed in a bucket.
type AgedItem struct {
	OpenItem
	DaysPastDue int `json:"days_past_due"`
}

// AgingBucket summarises an amount inside a time bucket.
type AgingBucket struct {
	Bucket string      `json:"bucket"`
	Items  []AgedItem  `json:"items"`
	Amount money.Money `json:"amount"`
}

// AgedReceivables is the bucketed receivables report.
type AgedReceivables struct {
	HotelID  uuid.UUID      `json:"hotel_id"`
	AsOf     time.Time      `json:"as_of"`
	Currency money.Currency `json:"currency"`
	Buckets  []AgingBucket  `json:"buckets"`
	Total    money.Money    `json:"total"`
}

// BuildAgedReceivables buckets items with a positive balance by days past due.
// All five buckets are always present. Balances must already be in base; items
// in another currency are left out of the buckets.
func BuildAgedReceivables(items []OpenItem, asOf time.Time, base money.Currency) AgedReceivables {
	asOf = clock.Date(asOf)
	buckets := make(map[string]*AgingBucket, len(bucketOrder))
	for _, label := range bucketOrder {
		buckets[label] = &AgingBucket{Bucket: label, Amount: money.Zero(base)}
	}
	out := AgedReceivables{AsOf: asOf, Currency: base, Total: money.Zero(base)}
	for _, item := range items {
		if !item.Balance.IsPositive() || item.Balance.Currency() != base {
			continue
		}
		days := clock.DaysBetween(clock.Date(item.DueDate), asOf)
		b := buckets[BucketFor(days)]
		b.Items = append(b.Items, AgedItem{OpenItem: item, DaysPastDue: days})
		b.Amount = b.Amount.Add(item.Balance)
		out.Total = out.Total.Add(item.Balance)
	}
	for _, label := range bucketOrder {
		b := buckets[label]
		sort.Slice(b.Items, func(i, j int) bool {
			if b.Items[i].DaysPastDue != b.Items[j].DaysPastDue {
				return b.Items[i].DaysPastDue > b.Items[j].DaysPastDue
			}
			return b.Items[i].Number < b.Items[j].Number
		})
		out.Buckets = append(out.Buckets, *b)
	}
	return out
}
