package models

import (
	"reflect"
	"testing"
	"time"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func obs(symbol string, hour int, rate float64) FundingRateObservation {
	return FundingRateObservation{Symbol: symbol, ObservedAt: base.Add(time.Duration(hour) * time.Hour), FundingRate: rate}
}

func TestSymbolDatasetLatest(t *testing.T) {
	if _, ok := (SymbolDataset{Symbol: "BTCUSDT"}).Latest(); ok {
		t.Fatal("empty dataset should have no latest time")
	}

	ds := SymbolDataset{Symbol: "BTCUSDT", Observations: []FundingRateObservation{
		obs("BTCUSDT", 16, 0.0001),
		obs("BTCUSDT", 0, 0.0002),
		obs("BTCUSDT", 8, 0.0003),
	}}
	latest, ok := ds.Latest()
	if !ok || !latest.Equal(base.Add(16*time.Hour)) {
		t.Fatalf("Latest() = %v, %v", latest, ok)
	}
	if ds.Len() != 3 {
		t.Fatalf("Len() = %d", ds.Len())
	}
}

func TestCombinePreservesOrder(t *testing.T) {
	a := SymbolDataset{Symbol: "ETHUSDT", Observations: []FundingRateObservation{obs("ETHUSDT", 8, 1), obs("ETHUSDT", 0, 2)}}
	b := SymbolDataset{Symbol: "BTCUSDT", Observations: []FundingRateObservation{obs("BTCUSDT", 24, 3)}}

	combined := Combine(a, b)
	if len(combined) != 3 || combined[0].FundingRate != 1 || combined[2].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected combined order: %+v", combined)
	}
	if got := combined.Symbols(); !reflect.DeepEqual(got, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("Symbols() = %v", got)
	}
	max, ok := combined.MaxObservedAt()
	if !ok || !max.Equal(base.Add(24*time.Hour)) {
		t.Fatalf("MaxObservedAt() = %v, %v", max, ok)
	}
	if _, ok := Combine().MaxObservedAt(); ok {
		t.Fatal("empty combination should have no max time")
	}
}

func TestSnapshotTopClamps(t *testing.T) {
	snap := &RankedSymbolSnapshot{Version: SnapshotVersion, FetchedAt: base, Symbols: []string{"A", "B", "C"}}

	cases := []struct {
		n    int
		want []string
	}{
		{2, []string{"A", "B"}},
		{3, []string{"A", "B", "C"}},
		{10, []string{"A", "B", "C"}},
		{-1, []string{"A", "B", "C"}},
		{0, []string{}},
	}
	for _, tc := range cases {
		if got := snap.Top(tc.n); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Top(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}

	top := snap.Top(1)
	top[0] = "Z"
	if snap.Symbols[0] != "A" {
		t.Fatal("Top must return a copy")
	}
	if age := snap.Age(base.Add(90 * time.Minute)); age != 90*time.Minute {
		t.Fatalf("Age() = %v", age)
	}
}

func TestHeatmapMatrixLookup(t *testing.T) {
	m := &HeatmapMatrix{
		Symbols: []string{"A", "B"},
		Times:   []time.Time{base, base.Add(8 * time.Hour)},
		Values:  [][]float64{{1, 2}, {3, 4}},
		Min:     1,
		Max:     4,
	}
	if m.Rows() != 2 || m.Cols() != 2 {
		t.Fatalf("shape = %dx%d", m.Rows(), m.Cols())
	}
	if v, ok := m.Value("B", base.Add(8*time.Hour)); !ok || v != 4 {
		t.Fatalf("Value(B, +8h) = %v, %v", v, ok)
	}
	if _, ok := m.Value("B", base.Add(time.Hour)); ok {
		t.Fatal("unknown timestamp should not resolve")
	}
	if _, ok := m.Row("C"); ok {
		t.Fatal("unknown symbol should not resolve")
	}
	if lo, hi := m.Bounds(); lo != 1 || hi != 4 {
		t.Fatalf("Bounds() = %v, %v", lo, hi)
	}
}
