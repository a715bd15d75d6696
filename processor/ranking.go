package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/models"
)

// DefaultRankingMaxAge is the snapshot lifetime used when callers pass a
// non-positive maxAge.
const DefaultRankingMaxAge = 24 * time.Hour

// excludedSymbols are stablecoin and wrapped-asset pairs whose funding is not
// meaningful next to the rest of the market.
var excludedSymbols = []string{
	"OKBUSDT", "DAIUSDT", "USDTUSDT", "USDCUSDT", "BUSDUSDT", "TUSDUSDT",
	"PAXUSDT", "EURUSDT", "GBPUSDT", "CETHUSDT", "WBTCUSDT",
}

// ExcludedSymbols returns a copy of the built-in exclusion list.
func ExcludedSymbols() []string {
	out := make([]string, len(excludedSymbols))
	copy(out, excludedSymbols)
	return out
}

// SymbolRankCache serves the top-volume symbol list from a persisted
// snapshot, refreshing it from the ranking source once it expires.
type SymbolRankCache struct {
	source     RankingSource
	store      SnapshotStore
	exclude    map[string]struct{}
	quoteAsset string
	now        func() time.Time
	log        *logger.Log
}

// NewSymbolRankCache builds a cache over source and store. extraExclude adds to
// the built-in exclusion list. A non-empty quoteAsset keeps only symbols
// quoted in that asset.
func NewSymbolRankCache(source RankingSource, store SnapshotStore, quoteAsset string, extraExclude []string) *SymbolRankCache {
	exclude := make(map[string]struct{}, len(excludedSymbols)+len(extraExclude))
	for _, s := range excludedSymbols {
		exclude[s] = struct{}{}
	}
	for _, s := range extraExclude {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			exclude[s] = struct{}{}
		}
	}
	return &SymbolRankCache{
		source:     source,
		store:      store,
		exclude:    exclude,
		quoteAsset: strings.ToUpper(strings.TrimSpace(quoteAsset)),
		now:        time.Now,
		log:        logger.GetLogger(),
	}
}

// GetTopSymbols returns at most n symbols in descending volume order.
func (c *SymbolRankCache) GetTopSymbols(ctx context.Context, n int, maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		maxAge = DefaultRankingMaxAge
	}
	log := c.log.WithComponent("ranking_cache").WithFields(logger.Fields{
		"top_n":   n,
		"max_age": maxAge.String(),
	})

	snap, err := c.store.Load(ctx)
	if err != nil {
		log.WithError(err).Warn("ranking snapshot unreadable, treating as missing")
		snap = nil
	}

	now := c.now()
	if snap != nil && snap.Age(now) < maxAge {
		metrics.RecordRankingCache("hit")
		log.WithFields(logger.Fields{"fetched_at": snap.FetchedAt}).Debug("serving cached ranking snapshot")
		return snap.Top(n), nil
	}

	ranking, err := c.source.Ranking(ctx)
	if err != nil {
		if snap != nil {
			metrics.RecordRankingCache("stale")
			warn := fmt.Errorf("%w: %w", models.ErrStaleCacheUnrefreshable, err)
			log.WithError(warn).WithFields(logger.Fields{
				"fetched_at": snap.FetchedAt,
				"age":        snap.Age(now).String(),
			}).Warn("ranking refresh failed, serving stale snapshot")
			return snap.Top(n), nil
		}
		return nil, fmt.Errorf("fetch symbol ranking: %w", remoteError(err))
	}
	metrics.RecordRankingCache("miss")

	fresh := &models.RankedSymbolSnapshot{
		Version:   models.SnapshotVersion,
		FetchedAt: now.UTC(),
		Symbols:   c.rank(ranking),
	}
	if err := c.store.Save(ctx, fresh); err != nil {
		log.WithError(err).Warn("failed to persist ranking snapshot")
	}

	log.WithFields(logger.Fields{"symbols": len(fresh.Symbols)}).Info("ranking snapshot refreshed")
	return fresh.Top(n), nil
}

func (c *SymbolRankCache) rank(ranking []models.RankedSymbol) []string {
	sorted := make([]models.RankedSymbol, len(ranking))
	copy(sorted, ranking)
	sort.SliceStable(sorted, func(i, j int) bool {
		return volume(sorted[i].QuoteVolume) > volume(sorted[j].QuoteVolume)
	})

	seen := make(map[string]struct{}, len(sorted))
	out := make([]string, 0, len(sorted))
	for _, r := range sorted {
		sym := strings.ToUpper(strings.TrimSpace(r.Symbol))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if _, excluded := c.exclude[sym]; excluded {
			continue
		}
		if c.quoteAsset != "" && !strings.HasSuffix(sym, c.quoteAsset) {
			continue
		}
		out = append(out, sym)
	}
	return out
}

// volume sorts unparseable volumes last.
func volume(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

func remoteError(err error) error {
	if errors.Is(err, models.ErrRemoteUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrRemoteUnavailable, err)
}
