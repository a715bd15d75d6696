package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"

	appconfig "fundingheat/config"
	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/models"
	"fundingheat/reader/transport"
)

const (
	exchangeName = "bybit"
	category     = "linear"
	// maxFundingPage is the largest page /v5/market/funding/history accepts.
	maxFundingPage = 200
	// codeInvalidParam covers unknown symbols among other bad parameters.
	codeInvalidParam = 10001
)

// apiError is a non-zero retCode reply.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bybit retCode=%d: %s", e.Code, e.Message)
}

type tickerList struct {
	List []struct {
		Symbol      string `json:"symbol"`
		Turnover24h string `json:"turnover24h"`
	} `json:"list"`
}

type fundingList struct {
	List []struct {
		Symbol               string `json:"symbol"`
		FundingRate          string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	} `json:"list"`
}

// Reader serves 24h turnover rankings and funding history from Bybit linear
// perpetuals.
type Reader struct {
	client  *bybit.Client
	limiter *rate.Limiter
	retry   appconfig.RetryConfig
	log     *logger.Log
}

func NewReader(cfg *appconfig.Config) *Reader {
	log := logger.GetLogger()
	src := cfg.Source

	base := strings.TrimRight(src.Bybit.URL, "/")
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base))
	client.HTTPClient = transport.NewHTTPClient("bybit", src.Bybit.ConnectionPool, src.Timeout)

	burst := src.RateLimit.BurstSize
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Inf, burst)
	if src.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(src.RateLimit.RequestsPerSecond), burst)
	}

	log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"endpoint": base,
		"timeout":  src.Timeout,
	}).Info("bybit reader initialized")

	return &Reader{client: client, limiter: limiter, retry: src.Retry, log: log}
}

// Ranking returns every linear symbol with its 24h turnover.
func (r *Reader) Ranking(ctx context.Context) ([]models.RankedSymbol, error) {
	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{"operation": "ranking"})

	var tickers tickerList
	start := time.Now()
	err := r.call(ctx, "ranking", &tickers, func() (*bybit.ServerResponse, error) {
		return r.client.NewUtaBybitServiceWithParams(map[string]interface{}{
			"category": category,
		}).GetMarketTickers(ctx)
	})
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "bybit_reader", "api_request", time.Since(start), nil)

	out := make([]models.RankedSymbol, 0, len(tickers.List))
	for _, t := range tickers.List {
		vol, err := strconv.ParseFloat(t.Turnover24h, 64)
		if err != nil {
			log.WithFields(logger.Fields{"symbol": t.Symbol}).Debug("skipping ticker with unparseable turnover")
			continue
		}
		out = append(out, models.RankedSymbol{Symbol: t.Symbol, QuoteVolume: vol})
	}
	logger.LogDataFlowEntry(log, "bybit_api", "ranking_cache", len(out), "ticker_24h")
	return out, nil
}

// FundingHistory pages backwards with endTime until limit rows are collected
// or the history is exhausted. Rows are returned oldest first.
func (r *Reader) FundingHistory(ctx context.Context, symbol string, limit int) ([]models.FundingRateObservation, error) {
	if limit <= 0 {
		return nil, nil
	}
	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{
		"operation": "funding_history",
		"symbol":    symbol,
	})

	var out []models.FundingRateObservation
	var endTime int64
	for len(out) < limit {
		size := limit - len(out)
		if size > maxFundingPage {
			size = maxFundingPage
		}
		params := map[string]interface{}{
			"category": category,
			"symbol":   symbol,
			"limit":    size,
		}
		if endTime > 0 {
			params["endTime"] = endTime
		}

		var page fundingList
		err := r.call(ctx, "funding_history", &page, func() (*bybit.ServerResponse, error) {
			return r.client.NewUtaBybitServiceWithParams(params).GetFundingRateHistory(ctx)
		})
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Code == codeInvalidParam && strings.Contains(strings.ToLower(apiErr.Message), "symbol") {
				log.WithError(err).Warn("symbol rejected by bybit, treating as empty")
				return nil, nil
			}
			return nil, err
		}

		parsed := make([]models.FundingRateObservation, 0, len(page.List))
		var oldest int64
		for _, row := range page.List {
			ms, err := strconv.ParseInt(row.FundingRateTimestamp, 10, 64)
			if err != nil {
				continue
			}
			v, err := strconv.ParseFloat(row.FundingRate, 64)
			if err != nil {
				continue
			}
			if oldest == 0 || ms < oldest {
				oldest = ms
			}
			parsed = append(parsed, models.FundingRateObservation{
				Symbol:      symbol,
				ObservedAt:  time.UnixMilli(ms).UTC(),
				FundingRate: v,
			})
		}
		if len(parsed) == 0 {
			break
		}
		sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].ObservedAt.Before(parsed[j].ObservedAt) })
		out = append(parsed, out...)
		if len(page.List) < size || (endTime > 0 && oldest >= endTime) {
			break
		}
		endTime = oldest - 1
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	logger.LogDataFlowEntry(log, "bybit_api", "funding_store", len(out), "funding_rate")
	return out, nil
}

// call performs one rate-limited request with retries and decodes its result
// into dst.
func (r *Reader) call(ctx context.Context, operation string, dst interface{}, fn func() (*bybit.ServerResponse, error)) error {
	err := transport.Retry(ctx, r.retry, retryable, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := fn()
		if err != nil {
			return err
		}
		if resp == nil {
			return fmt.Errorf("empty response")
		}
		if resp.RetCode != 0 {
			return &apiError{Code: resp.RetCode, Message: resp.RetMsg}
		}
		payload, err := json.Marshal(resp.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		if err := json.Unmarshal(payload, dst); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	metrics.RecordRemoteError(exchangeName, operation)
	return fmt.Errorf("bybit %s: %w: %w", operation, models.ErrRemoteUnavailable, err)
}

// retryable rejects parameter errors; 10006 and 10016 are rate limit and
// server busy replies.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Code == 10006 || apiErr.Code == 10016
}
