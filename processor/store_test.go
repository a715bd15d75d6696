package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"fundingheat/logger"
	"fundingheat/models"
	"fundingheat/storage"
)

func TestClassifyFreshness(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		latest time.Time
		want   Freshness
	}{
		{"missing", time.Time{}, FreshnessMissing},
		{"eleven hours", now.Add(-11 * time.Hour), FreshnessFresh},
		{"exactly twelve hours", now.Add(-12 * time.Hour), FreshnessFresh},
		{"thirteen hours", now.Add(-13 * time.Hour), FreshnessStale},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFreshness(tc.latest, now, 12*time.Hour); got != tc.want {
				t.Fatalf("ClassifyFreshness = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestLoadRefreshesOnlyStaleDatasets(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	repo.data["AAAUSDT"] = models.SymbolDataset{Symbol: "AAAUSDT", Observations: history("AAAUSDT", now.Add(-13*time.Hour), 3)}
	repo.data["BBBUSDT"] = models.SymbolDataset{Symbol: "BBBUSDT", Observations: history("BBBUSDT", now.Add(-11*time.Hour), 3)}

	rates := newFakeRates()
	rates.rows["AAAUSDT"] = history("AAAUSDT", now.Add(-time.Hour), 5)

	s := NewFundingRateStore(repo, rates, fixedSymbols{}, StoreOptions{})
	s.now = func() time.Time { return now }

	res, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rates.calls["AAAUSDT"] != 1 || rates.calls["BBBUSDT"] != 0 {
		t.Fatalf("unexpected fetches: %v", rates.calls)
	}
	if rates.limits["AAAUSDT"] != DefaultRowCap {
		t.Fatalf("fetch limit = %d, want %d", rates.limits["AAAUSDT"], DefaultRowCap)
	}
	if !reflect.DeepEqual(res.Refreshed, []string{"AAAUSDT"}) || !reflect.DeepEqual(res.Retained, []string{"BBBUSDT"}) {
		t.Fatalf("refreshed=%v retained=%v", res.Refreshed, res.Retained)
	}
	if got := repo.data["AAAUSDT"].Len(); got != 5 {
		t.Fatalf("AAAUSDT should be fully replaced, has %d rows", got)
	}
	if len(res.Dataset) != 8 {
		t.Fatalf("combined rows = %d, want 8", len(res.Dataset))
	}
	if res.Dataset[0].Symbol != "AAAUSDT" || res.Dataset[5].Symbol != "BBBUSDT" {
		t.Fatalf("combined dataset not in listing order")
	}
	if res.RunID == "" {
		t.Fatalf("missing run id")
	}
}

func TestLoadEmptyRefreshKeepsFileBytes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	repo := storage.NewCSVRepository(t.TempDir())
	stale := models.SymbolDataset{Symbol: "AAAUSDT", Observations: history("AAAUSDT", now.Add(-48*time.Hour), 4)}
	if err := repo.Replace(ctx, stale); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, err := os.ReadFile(repo.Path("AAAUSDT"))
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}

	rates := newFakeRates()
	s := NewFundingRateStore(repo, rates, fixedSymbols{}, StoreOptions{})
	s.now = func() time.Time { return now }

	res, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	after, err := os.ReadFile(repo.Path("AAAUSDT"))
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("dataset bytes changed on empty refresh")
	}
	if rates.calls["AAAUSDT"] != 1 {
		t.Fatalf("expected one refresh attempt, got %d", rates.calls["AAAUSDT"])
	}
	if len(res.Dataset) != 4 || len(res.Warnings) != 0 {
		t.Fatalf("rows=%d warnings=%v", len(res.Dataset), res.Warnings)
	}
}

func TestLoadRefreshErrorKeepsData(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	repo.data["AAAUSDT"] = models.SymbolDataset{Symbol: "AAAUSDT", Observations: history("AAAUSDT", now.Add(-24*time.Hour), 2)}

	rates := newFakeRates()
	rates.errs["AAAUSDT"] = errBoom
	s := NewFundingRateStore(repo, rates, fixedSymbols{}, StoreOptions{})
	s.now = func() time.Time { return now }

	res, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("refresh errors must not fail the load: %v", err)
	}
	if len(res.Dataset) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Dataset))
	}
	if len(res.Warnings) != 1 || !errors.Is(res.Warnings[0], models.ErrStaleCacheUnrefreshable) {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if !errors.Is(res.Warnings[0], models.ErrRemoteUnavailable) {
		t.Fatalf("warning should carry the remote failure: %v", res.Warnings[0])
	}
	if repo.replaced["AAAUSDT"] != 0 {
		t.Fatalf("dataset must not be rewritten on error")
	}
}

func TestLoadIsolatesUnreadableDataset(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	repo.data["AAAUSDT"] = models.SymbolDataset{Symbol: "AAAUSDT", Observations: history("AAAUSDT", now, 2)}
	repo.data["BADUSDT"] = models.SymbolDataset{Symbol: "BADUSDT"}
	repo.readErr["BADUSDT"] = errors.New("malformed row")

	s := NewFundingRateStore(repo, newFakeRates(), fixedSymbols{}, StoreOptions{Workers: 4})
	s.now = func() time.Time { return now }

	res, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(res.Failed, []string{"BADUSDT"}) {
		t.Fatalf("failed = %v", res.Failed)
	}
	if len(res.Dataset) != 2 {
		t.Fatalf("rows = %d, want 2", len(res.Dataset))
	}
}

func TestLoadBootstrapPersistsNonEmpty(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	rates := newFakeRates()
	rates.rows["BTCUSDT"] = history("BTCUSDT", now, 3)
	rates.rows["ETHUSDT"] = history("ETHUSDT", now, 2)
	rates.errs["XRPUSDT"] = errBoom

	lister := fixedSymbols{symbols: []string{"BTCUSDT", "ETHUSDT", "NEWUSDT", "XRPUSDT"}}
	s := NewFundingRateStore(repo, rates, lister, StoreOptions{Workers: 2})
	s.now = func() time.Time { return now }

	res, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !res.Bootstrapped {
		t.Fatalf("expected bootstrap")
	}
	if !reflect.DeepEqual(res.Refreshed, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("refreshed = %v", res.Refreshed)
	}
	if !reflect.DeepEqual(res.Failed, []string{"XRPUSDT"}) {
		t.Fatalf("failed = %v", res.Failed)
	}
	if _, ok := repo.data["NEWUSDT"]; ok {
		t.Fatalf("empty result must not be persisted")
	}
	if len(res.Dataset) != 5 {
		t.Fatalf("rows = %d, want 5", len(res.Dataset))
	}
}

func TestLoadBootstrapFailsWhenNothingPersisted(t *testing.T) {
	rates := newFakeRates()
	rates.errs["BTCUSDT"] = errBoom
	rates.errs["ETHUSDT"] = errBoom
	s := NewFundingRateStore(newMemRepo(), rates, fixedSymbols{symbols: []string{"BTCUSDT", "ETHUSDT"}}, StoreOptions{})

	_, err := s.Load(context.Background())
	if !errors.Is(err, models.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
}

func TestLoadBootstrapRankingFailureIsFatal(t *testing.T) {
	s := NewFundingRateStore(newMemRepo(), newFakeRates(), fixedSymbols{err: models.ErrRemoteUnavailable}, StoreOptions{})
	if _, err := s.Load(context.Background()); !errors.Is(err, models.ErrRemoteUnavailable) {
		t.Fatalf("expected ranking failure, got %v", err)
	}
}

func TestLoadLogsBootstrapFailure(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rates := newFakeRates()
	rates.rows["BTCUSDT"] = history("BTCUSDT", now, 2)
	rates.errs["XRPUSDT"] = errBoom

	var buf bytes.Buffer
	log := logger.Logger()
	log.SetOutput(&buf)

	s := NewFundingRateStore(newMemRepo(), rates, fixedSymbols{symbols: []string{"BTCUSDT", "XRPUSDT"}}, StoreOptions{})
	s.now = func() time.Time { return now }
	s.log = log

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "bootstrap fetch failed, symbol skipped") {
		t.Fatalf("bootstrap failure not logged: %s", out)
	}
	if strings.Contains(out, "keeping existing dataset") {
		t.Fatalf("bootstrap failure logged as a retained dataset: %s", out)
	}
}

func TestLoadLogsRefreshFailure(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	repo.data["AAAUSDT"] = models.SymbolDataset{Symbol: "AAAUSDT", Observations: history("AAAUSDT", now.Add(-24*time.Hour), 2)}
	rates := newFakeRates()
	rates.errs["AAAUSDT"] = errBoom

	var buf bytes.Buffer
	log := logger.Logger()
	log.SetOutput(&buf)

	s := NewFundingRateStore(repo, rates, fixedSymbols{}, StoreOptions{})
	s.now = func() time.Time { return now }
	s.log = log

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "refresh failed, keeping existing dataset") {
		t.Fatalf("refresh failure not logged: %s", out)
	}
	if strings.Contains(out, "symbol skipped") {
		t.Fatalf("refresh failure logged as a skipped symbol: %s", out)
	}
}

func TestLoadLeavesSourceRowsUntouched(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &sharedRates{rows: []models.FundingRateObservation{
		{ObservedAt: now.Add(-8 * time.Hour), FundingRate: 0.0001},
		{ObservedAt: now, FundingRate: 0.0002},
	}}
	repo := newMemRepo()
	s := NewFundingRateStore(repo, src, fixedSymbols{symbols: []string{"BTCUSDT"}}, StoreOptions{})
	s.now = func() time.Time { return now }

	res, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, o := range src.rows {
		if o.Symbol != "" {
			t.Fatalf("source row mutated: %+v", o)
		}
	}
	for _, o := range res.Dataset {
		if o.Symbol != "BTCUSDT" {
			t.Fatalf("loaded row symbol = %q, want BTCUSDT", o.Symbol)
		}
	}
	if repo.data["BTCUSDT"].Len() != 2 {
		t.Fatalf("persisted rows = %d, want 2", repo.data["BTCUSDT"].Len())
	}
}

func TestLoadEnforcesRowCap(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	rates := newFakeRates()
	rates.rows["BTCUSDT"] = history("BTCUSDT", now, 10)

	s := NewFundingRateStore(repo, rates, fixedSymbols{symbols: []string{"BTCUSDT"}}, StoreOptions{RowCap: 4})
	s.now = func() time.Time { return now }

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ds := repo.data["BTCUSDT"]
	if ds.Len() != 4 {
		t.Fatalf("rows = %d, want 4", ds.Len())
	}
	if latest, _ := ds.Latest(); !latest.Equal(now) {
		t.Fatalf("latest row dropped: %v", latest)
	}
}
