package binance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	appconfig "fundingheat/config"
	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/models"
	"fundingheat/reader/transport"
)

const (
	exchangeName = "binance"
	// maxFundingPage is the largest page /fapi/v1/fundingRate accepts.
	maxFundingPage = 1000
	// codeInvalidSymbol is returned for unknown or delisted symbols.
	codeInvalidSymbol   = -1121
	codeDisconnected    = -1001
	codeTooManyRequests = -1003
)

// Reader serves 24h volume rankings and funding history from Binance USD-M
// futures.
type Reader struct {
	client  *futures.Client
	limiter *rate.Limiter
	retry   appconfig.RetryConfig
	log     *logger.Log
}

func NewReader(cfg *appconfig.Config) *Reader {
	log := logger.GetLogger()
	src := cfg.Source

	client := futures.NewClient("", "")
	client.HTTPClient = transport.NewHTTPClient("binance", src.Binance.ConnectionPool, src.Timeout)
	if base := strings.TrimRight(src.Binance.URL, "/"); base != "" {
		client.SetApiEndpoint(base)
	}

	rps := src.RateLimit.RequestsPerSecond
	burst := src.RateLimit.BurstSize
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Inf, burst)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	log.WithComponent("binance_reader").WithFields(logger.Fields{
		"endpoint":            src.Binance.URL,
		"timeout":             src.Timeout,
		"requests_per_second": rps,
	}).Info("binance reader initialized")

	return &Reader{client: client, limiter: limiter, retry: src.Retry, log: log}
}

// Ranking returns every futures symbol with its 24h quote volume.
func (r *Reader) Ranking(ctx context.Context) ([]models.RankedSymbol, error) {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{"operation": "ranking"})

	var stats []*futures.PriceChangeStats
	start := time.Now()
	err := r.call(ctx, "ranking", func() error {
		var err error
		stats, err = r.client.NewListPriceChangeStatsService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "binance_reader", "api_request", time.Since(start), nil)

	out := make([]models.RankedSymbol, 0, len(stats))
	for _, s := range stats {
		if s == nil {
			continue
		}
		vol, err := strconv.ParseFloat(s.QuoteVolume, 64)
		if err != nil {
			log.WithFields(logger.Fields{"symbol": s.Symbol, "quote_volume": s.QuoteVolume}).Debug("skipping ticker with unparseable volume")
			continue
		}
		out = append(out, models.RankedSymbol{Symbol: s.Symbol, QuoteVolume: vol})
	}
	logger.LogDataFlowEntry(log, "binance_api", "ranking_cache", len(out), "ticker_24h")
	return out, nil
}

// FundingHistory pages backwards from the newest settlement until limit rows
// are collected or the history is exhausted. Rows are returned oldest first.
func (r *Reader) FundingHistory(ctx context.Context, symbol string, limit int) ([]models.FundingRateObservation, error) {
	if limit <= 0 {
		return nil, nil
	}
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"operation": "funding_history",
		"symbol":    symbol,
	})

	var pages [][]models.FundingRateObservation
	total := 0
	var endTime int64
	for total < limit {
		size := limit - total
		if size > maxFundingPage {
			size = maxFundingPage
		}

		var page []*futures.FundingRate
		err := r.call(ctx, "funding_history", func() error {
			svc := r.client.NewFundingRateService().Symbol(symbol).Limit(size)
			if endTime > 0 {
				svc = svc.EndTime(endTime)
			}
			var err error
			page, err = svc.Do(ctx)
			return err
		})
		if err != nil {
			if isInvalidSymbol(err) {
				log.WithError(err).Warn("symbol rejected by binance, treating as empty")
				return nil, nil
			}
			return nil, err
		}

		parsed, oldest := parseFundingPage(symbol, page)
		if len(parsed) == 0 {
			break
		}
		pages = append(pages, parsed)
		total += len(parsed)
		if len(page) < size || (endTime > 0 && oldest >= endTime) {
			break
		}
		endTime = oldest - 1
	}

	out := make([]models.FundingRateObservation, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	logger.LogDataFlowEntry(log, "binance_api", "funding_store", len(out), "funding_rate")
	return out, nil
}

// parseFundingPage returns the page sorted oldest first and the oldest
// funding time in milliseconds.
func parseFundingPage(symbol string, page []*futures.FundingRate) ([]models.FundingRateObservation, int64) {
	out := make([]models.FundingRateObservation, 0, len(page))
	var oldest int64
	for _, fr := range page {
		if fr == nil {
			continue
		}
		v, err := strconv.ParseFloat(fr.FundingRate, 64)
		if err != nil {
			continue
		}
		if oldest == 0 || fr.FundingTime < oldest {
			oldest = fr.FundingTime
		}
		sym := fr.Symbol
		if sym == "" {
			sym = symbol
		}
		out = append(out, models.FundingRateObservation{
			Symbol:      sym,
			ObservedAt:  time.UnixMilli(fr.FundingTime).UTC(),
			FundingRate: v,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, oldest
}

func (r *Reader) call(ctx context.Context, operation string, fn func() error) error {
	err := transport.Retry(ctx, r.retry, retryable, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	})
	if err == nil {
		return nil
	}
	metrics.RecordRemoteError(exchangeName, operation)
	return fmt.Errorf("binance %s: %w: %w", operation, models.ErrRemoteUnavailable, err)
}

// retryable accepts transport failures, unstructured server errors and the
// rate-limit codes. Other API errors are repeated verbatim by the exchange.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.Code {
	case 0, codeDisconnected, codeTooManyRequests:
		return true
	}
	return false
}

func isInvalidSymbol(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol
}
