package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fundingheat/models"
)

var errBoom = errors.New("boom")

type fakeRanking struct {
	calls   int
	err     error
	ranking []models.RankedSymbol
}

func (f *fakeRanking) Ranking(ctx context.Context) ([]models.RankedSymbol, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ranking, nil
}

type memSnapshots struct {
	snap    *models.RankedSymbolSnapshot
	loadErr error
	saves   int
}

func (m *memSnapshots) Load(ctx context.Context) (*models.RankedSymbolSnapshot, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snap, nil
}

func (m *memSnapshots) Save(ctx context.Context, snap *models.RankedSymbolSnapshot) error {
	m.saves++
	m.snap = snap
	return nil
}

type fakeRates struct {
	mu     sync.Mutex
	calls  map[string]int
	limits map[string]int
	rows   map[string][]models.FundingRateObservation
	errs   map[string]error
}

func newFakeRates() *fakeRates {
	return &fakeRates{
		calls:  map[string]int{},
		limits: map[string]int{},
		rows:   map[string][]models.FundingRateObservation{},
		errs:   map[string]error{},
	}
}

func (f *fakeRates) FundingHistory(ctx context.Context, symbol string, limit int) ([]models.FundingRateObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	f.limits[symbol] = limit
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	rows := f.rows[symbol]
	out := make([]models.FundingRateObservation, len(rows))
	copy(out, rows)
	return out, nil
}

type memRepo struct {
	mu       sync.Mutex
	data     map[string]models.SymbolDataset
	readErr  map[string]error
	replaced map[string]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		data:     map[string]models.SymbolDataset{},
		readErr:  map[string]error{},
		replaced: map[string]int{},
	}
}

func (m *memRepo) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for sym := range m.data {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memRepo) Read(ctx context.Context, symbol string) (models.SymbolDataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr[symbol]; err != nil {
		return models.SymbolDataset{}, err
	}
	ds, ok := m.data[symbol]
	if !ok {
		return models.SymbolDataset{}, fmt.Errorf("dataset %s not found", symbol)
	}
	return ds, nil
}

func (m *memRepo) Replace(ctx context.Context, ds models.SymbolDataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaced[ds.Symbol]++
	m.data[ds.Symbol] = ds
	return nil
}

type fixedSymbols struct {
	symbols []string
	err     error
}

func (f fixedSymbols) GetTopSymbols(ctx context.Context, n int, maxAge time.Duration) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.symbols) {
		return f.symbols[:n], nil
	}
	return f.symbols, nil
}

func obs(symbol string, at time.Time, rate float64) models.FundingRateObservation {
	return models.FundingRateObservation{Symbol: symbol, ObservedAt: at, FundingRate: rate}
}

func history(symbol string, latest time.Time, n int) []models.FundingRateObservation {
	out := make([]models.FundingRateObservation, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, obs(symbol, latest.Add(-time.Duration(i)*8*time.Hour), 0.0001))
	}
	return out
}

// sharedRates hands out the same backing slice on every call.
type sharedRates struct {
	rows []models.FundingRateObservation
}

func (s *sharedRates) FundingHistory(ctx context.Context, symbol string, limit int) ([]models.FundingRateObservation, error) {
	return s.rows, nil
}
