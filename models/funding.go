package models

import (
	"sort"
	"time"
)

// FundingRateObservation is a single funding-rate print for one symbol.
// FundingRate is fractional (0.0001 == 0.01%).
type FundingRateObservation struct {
	Symbol      string    `json:"symbol"`
	ObservedAt  time.Time `json:"observed_at"`
	FundingRate float64   `json:"funding_rate"`
}

// SymbolDataset is the persisted observation history of one symbol. The order
// of Observations is whatever the source returned; consumers sort before use.
type SymbolDataset struct {
	Symbol       string
	Observations []FundingRateObservation
}

// Latest returns the most recent ObservedAt in the dataset. ok is false when
// the dataset has no rows.
func (d SymbolDataset) Latest() (latest time.Time, ok bool) {
	for _, o := range d.Observations {
		if !ok || o.ObservedAt.After(latest) {
			latest = o.ObservedAt
			ok = true
		}
	}
	return latest, ok
}

// Len returns the number of observations.
func (d SymbolDataset) Len() int { return len(d.Observations) }

// CombinedDataset is the concatenation of every persisted SymbolDataset.
type CombinedDataset []FundingRateObservation

// MaxObservedAt returns the latest timestamp across all symbols.
func (c CombinedDataset) MaxObservedAt() (max time.Time, ok bool) {
	for _, o := range c {
		if !ok || o.ObservedAt.After(max) {
			max = o.ObservedAt
			ok = true
		}
	}
	return max, ok
}

// Symbols returns the distinct symbols of the dataset in ascending order.
func (c CombinedDataset) Symbols() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, o := range c {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		out = append(out, o.Symbol)
	}
	sort.Strings(out)
	return out
}

// Combine concatenates datasets without reordering rows.
func Combine(datasets ...SymbolDataset) CombinedDataset {
	total := 0
	for _, d := range datasets {
		total += len(d.Observations)
	}
	out := make(CombinedDataset, 0, total)
	for _, d := range datasets {
		out = append(out, d.Observations...)
	}
	return out
}
