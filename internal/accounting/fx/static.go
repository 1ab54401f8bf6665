package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lodgeledger/lodgeledger/internal/money"
)

// Static holds rates in memory, typically loaded from configuration.
type Static struct {
	mu    sync.RWMutex
	rates map[string][]Rate
}

// NewStatic returns an empty table.
func NewStatic() *Static {
	return &Static{rates: make(map[string][]Rate)}
}

// Add registers a rate, keeping each pair sorted by effective date.
func (s *Static) Add(r Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Pair(r.From, r.To)
	list := append(s.rates[key], r)
	sort.SliceStable(list, func(i, j int) bool { return list[i].EffectiveDate.Before(list[j].EffectiveDate) })
	s.rates[key] = list
}

func (s *Static) RateAt(_ context.Context, from, to money.Currency, date time.Time) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.rates[Pair(from, to)]
	idx := sort.Search(len(list), func(i int) bool { return list[i].EffectiveDate.After(date) })
	if idx == 0 {
		return decimal.Zero, false, nil
	}
	return list[idx-1].Rate, true, nil
}

// Rates returns every stored rate.
func (s *Static) Rates() []Rate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Rate
	for _, list := range s.rates {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if Pair(out[i].From, out[i].To) != Pair(out[j].From, out[j].To) {
			return Pair(out[i].From, out[i].To) < Pair(out[j].From, out[j].To)
		}
		return out[i].EffectiveDate.Before(out[j].EffectiveDate)
	})
	return out
}

type datedRate struct {
	Date string `json:"date"`
	Rate string `json:"rate"`
}

// ParseRates reads FX_RATES style JSON. Each pair maps either to a single
// rate string effective forever or to a list of dated rates:
//
//	{"USDINR": "83.10", "EURINR": [{"date": "2026-04-01", "rate": "90.25"}]}
func ParseRates(raw string) ([]Rate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("fx: decode rates: %w", err)
	}
	var out []Rate
	for pair, body := range doc {
		pair = strings.ToUpper(strings.TrimSpace(pair))
		if len(pair) != 6 {
			return nil, fmt.Errorf("fx: pair %q must be two ISO codes", pair)
		}
		from, err := money.ParseCurrency(pair[:3])
		if err != nil {
			return nil, err
		}
		to, err := money.ParseCurrency(pair[3:])
		if err != nil {
			return nil, err
		}
		var entries []datedRate
		var single string
		if err := json.Unmarshal(body, &single); err == nil {
			entries = []datedRate{{Rate: single}}
		} else if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("fx: decode %s: %w", pair, err)
		}
		for _, e := range entries {
			rate, err := decimal.NewFromString(e.Rate)
			if err != nil || !rate.IsPositive() {
				return nil, fmt.Errorf("fx: %s rate %q must be a positive decimal", pair, e.Rate)
			}
			var eff time.Time
			if e.Date != "" {
				eff, err = time.Parse("2006-01-02", e.Date)
				if err != nil {
					return nil, fmt.Errorf("fx: %s date %q: %w", pair, e.Date, err)
				}
			}
			out = append(out, Rate{From: from, To: to, EffectiveDate: eff, Rate: rate})
		}
	}
	return out, nil
}

// Chain asks each provider in turn and returns the first hit.
type Chain []Provider

func (c Chain) RateAt(ctx context.Context, from, to money.Currency, date time.Time) (decimal.Decimal, bool, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		r, ok, err := p.RateAt(ctx, from, to, date)
		if err != nil || ok {
			return r, ok, err
		}
	}
	return decimal.Zero, false, nil
}
