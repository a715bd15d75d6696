package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/models"
)

const (
	DefaultTopN       = 30
	DefaultRowCap     = 10000
	DefaultStaleAfter = 12 * time.Hour
)

// Freshness classifies a persisted dataset against the staleness threshold.
type Freshness int

const (
	FreshnessMissing Freshness = iota
	FreshnessFresh
	FreshnessStale
)

func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessStale:
		return "stale"
	default:
		return "missing"
	}
}

// ClassifyFreshness reports Missing for a zero latest timestamp and Stale when
// more than staleAfter has passed since latest.
func ClassifyFreshness(latest, now time.Time, staleAfter time.Duration) Freshness {
	if latest.IsZero() {
		return FreshnessMissing
	}
	if now.Sub(latest) > staleAfter {
		return FreshnessStale
	}
	return FreshnessFresh
}

// StoreOptions tunes FundingRateStore. Zero values fall back to defaults.
type StoreOptions struct {
	TopN          int
	RankingMaxAge time.Duration
	RowCap        int
	StaleAfter    time.Duration
	Workers       int
}

// LoadResult describes one store load.
type LoadResult struct {
	RunID        string
	Dataset      models.CombinedDataset
	Bootstrapped bool
	Refreshed    []string
	Retained     []string
	Failed       []string
	Warnings     []error
}

// FundingRateStore keeps per-symbol datasets current and combines them.
type FundingRateStore struct {
	repo    DatasetRepository
	source  RateSource
	symbols SymbolLister
	opts    StoreOptions
	now     func() time.Time
	log     *logger.Log
}

func NewFundingRateStore(repo DatasetRepository, source RateSource, symbols SymbolLister, opts StoreOptions) *FundingRateStore {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	if opts.RankingMaxAge <= 0 {
		opts.RankingMaxAge = DefaultRankingMaxAge
	}
	if opts.RowCap <= 0 {
		opts.RowCap = DefaultRowCap
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &FundingRateStore{
		repo:    repo,
		source:  source,
		symbols: symbols,
		opts:    opts,
		now:     time.Now,
		log:     logger.GetLogger(),
	}
}

type symbolOutcome struct {
	symbol    string
	dataset   models.SymbolDataset
	keep      bool
	refreshed bool
	failed    bool
	fetchErr  bool
	warning   error
}

// Load bootstraps an empty repository from the ranking, or refreshes every
// stale dataset of a populated one, and returns the combined rows.
func (s *FundingRateStore) Load(ctx context.Context) (*LoadResult, error) {
	res := &LoadResult{RunID: uuid.NewString()}
	log := s.log.WithComponent("funding_store").WithRun(res.RunID)
	start := time.Now()

	listed, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	var outcomes []symbolOutcome
	if len(listed) == 0 {
		res.Bootstrapped = true
		log.WithFields(logger.Fields{"top_n": s.opts.TopN}).Info("no persisted datasets, bootstrapping")

		symbols, err := s.symbols.GetTopSymbols(ctx, s.opts.TopN, s.opts.RankingMaxAge)
		if err != nil {
			return nil, fmt.Errorf("bootstrap symbols: %w", err)
		}
		outcomes = s.forEachSymbol(ctx, symbols, s.bootstrapSymbol)

		persisted, fetchFailures := 0, 0
		for _, o := range outcomes {
			if o.refreshed {
				persisted++
			}
			if o.fetchErr {
				fetchFailures++
			}
		}
		if persisted == 0 && fetchFailures > 0 {
			return nil, fmt.Errorf("bootstrap: %d of %d symbols failed and nothing was persisted: %w",
				fetchFailures, len(symbols), models.ErrRemoteUnavailable)
		}
	} else {
		outcomes = s.forEachSymbol(ctx, listed, s.refreshSymbol)
	}

	datasets := make([]models.SymbolDataset, 0, len(outcomes))
	for _, o := range outcomes {
		if o.warning != nil {
			res.Warnings = append(res.Warnings, o.warning)
		}
		switch {
		case o.failed:
			res.Failed = append(res.Failed, o.symbol)
			metrics.RecordRefresh("failed")
		case o.refreshed:
			res.Refreshed = append(res.Refreshed, o.symbol)
			metrics.RecordRefresh("refreshed")
		case o.keep:
			res.Retained = append(res.Retained, o.symbol)
			metrics.RecordRefresh("retained")
		}
		if o.keep {
			datasets = append(datasets, o.dataset)
		}
	}
	res.Dataset = models.Combine(datasets...)

	logger.LogDataFlowEntry(log, "remote_source", "dataset_repository", len(res.Dataset), "funding_rate")
	logger.LogPerformanceEntry(log, "funding_store", "load", time.Since(start), logger.Fields{
		"bootstrapped": res.Bootstrapped,
		"refreshed":    len(res.Refreshed),
		"retained":     len(res.Retained),
		"failed":       len(res.Failed),
	})
	log.LogMetric("funding_store", "datasets_refreshed", len(res.Refreshed), "counter", nil)
	log.LogMetric("funding_store", "datasets_retained", len(res.Retained), "counter", nil)

	return res, nil
}

func (s *FundingRateStore) bootstrapSymbol(ctx context.Context, symbol string) symbolOutcome {
	out := symbolOutcome{symbol: symbol}
	log := s.log.WithComponent("funding_store").WithSymbol(symbol)

	obs, err := s.fetch(ctx, symbol)
	if err != nil {
		out.failed = true
		out.fetchErr = true
		out.warning = fmt.Errorf("bootstrap %s: %w", symbol, err)
		log.WithError(err).Warn("bootstrap fetch failed, symbol skipped")
		return out
	}
	if len(obs) == 0 {
		log.Info("no funding history, skipping")
		return out
	}
	ds := models.SymbolDataset{Symbol: symbol, Observations: obs}
	if err := s.repo.Replace(ctx, ds); err != nil {
		out.failed = true
		out.warning = fmt.Errorf("persist %s: %w", symbol, err)
		log.WithError(err).Warn("bootstrap persist failed, symbol skipped")
		return out
	}
	out.dataset = ds
	out.keep = true
	out.refreshed = true
	return out
}

func (s *FundingRateStore) refreshSymbol(ctx context.Context, symbol string) symbolOutcome {
	out := symbolOutcome{symbol: symbol}
	log := s.log.WithComponent("funding_store").WithSymbol(symbol)

	current, err := s.repo.Read(ctx, symbol)
	if err != nil {
		log.WithError(err).Error("failed to read dataset, skipping")
		out.failed = true
		return out
	}
	out.dataset = current
	out.keep = true

	latest, _ := current.Latest()
	freshness := ClassifyFreshness(latest, s.now(), s.opts.StaleAfter)
	if freshness == FreshnessFresh {
		return out
	}
	log.WithFields(logger.Fields{"freshness": freshness.String(), "latest": latest}).Info("refreshing dataset")

	obs, err := s.fetch(ctx, symbol)
	if err != nil {
		out.fetchErr = true
		out.warning = fmt.Errorf("refresh %s: %w: %w", symbol, models.ErrStaleCacheUnrefreshable, err)
		log.WithError(err).Warn("refresh failed, keeping existing dataset")
		return out
	}
	if len(obs) == 0 {
		log.Info("remote returned no rows, keeping existing dataset")
		return out
	}

	fresh := models.SymbolDataset{Symbol: symbol, Observations: obs}
	if err := s.repo.Replace(ctx, fresh); err != nil {
		out.warning = fmt.Errorf("refresh %s: %w: %w", symbol, models.ErrStaleCacheUnrefreshable, err)
		log.WithError(err).Warn("replace failed, keeping existing dataset")
		return out
	}
	out.dataset = fresh
	out.refreshed = true
	return out
}

// fetch pulls at most RowCap rows. When a source overshoots, the most recent
// rows are kept. The source's slice is never written to.
func (s *FundingRateStore) fetch(ctx context.Context, symbol string) ([]models.FundingRateObservation, error) {
	got, err := s.source.FundingHistory(ctx, symbol, s.opts.RowCap)
	if err != nil {
		return nil, remoteError(err)
	}
	obs := make([]models.FundingRateObservation, len(got))
	copy(obs, got)
	if len(obs) > s.opts.RowCap {
		sort.SliceStable(obs, func(i, j int) bool {
			return obs[i].ObservedAt.Before(obs[j].ObservedAt)
		})
		obs = obs[len(obs)-s.opts.RowCap:]
	}
	for i := range obs {
		if strings.TrimSpace(obs[i].Symbol) == "" {
			obs[i].Symbol = symbol
		}
	}
	return obs, nil
}

// forEachSymbol runs fn for every symbol on up to Workers goroutines and
// returns the outcomes in input order.
func (s *FundingRateStore) forEachSymbol(ctx context.Context, symbols []string, fn func(context.Context, string) symbolOutcome) []symbolOutcome {
	outcomes := make([]symbolOutcome, len(symbols))
	if s.opts.Workers <= 1 {
		for i, sym := range symbols {
			outcomes[i] = fn(ctx, sym)
		}
		return outcomes
	}

	sem := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = fn(ctx, sym)
		}(i, sym)
	}
	wg.Wait()
	return outcomes
}
