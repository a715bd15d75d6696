package kucoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	"github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/fundingfees"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
	"golang.org/x/time/rate"

	appconfig "fundingheat/config"
	"fundingheat/internal/metrics"
	"fundingheat/logger"
	"fundingheat/models"
	"fundingheat/reader/transport"
)

const (
	exchangeName = "kucoin"
	// maxFundingPage is the most rows /api/v1/contract/funding-rates returns
	// for one from/to range.
	maxFundingPage = 100
	// fundingPageSpan keeps a full page of 8h settlements inside one range.
	fundingPageSpan = 30 * 24 * time.Hour
)

// apiError is a reply whose code is not 200000.
type apiError struct {
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("kucoin code=%s: %s", e.Code, e.Message)
}

// Reader serves 24h turnover rankings and funding history from KuCoin
// perpetual futures. Symbols are exposed in the common BTCUSDT form; the
// XBTUSDTM contract names only appear on the wire.
type Reader struct {
	market  futuresmarket.MarketAPI
	funding fundingfees.FundingFeesAPI
	limiter *rate.Limiter
	retry   appconfig.RetryConfig
	log     *logger.Log
	now     func() time.Time
}

func NewReader(cfg *appconfig.Config) *Reader {
	log := logger.GetLogger()
	src := cfg.Source

	base := strings.TrimRight(src.Kucoin.URL, "/")
	if base == "" {
		base = "https://api-futures.kucoin.com"
	}

	// Retries are driven by transport.Retry so the SDK's own loop is disabled.
	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(src.Kucoin.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(src.Kucoin.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(src.Kucoin.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(src.Kucoin.ConnectionPool.IdleConnTimeout).
		SetTimeout(src.Timeout).
		SetMaxRetries(0).
		AddInterceptors(usageInterceptor{}).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(base).
		WithTransportOption(transportOpt).
		Build()

	futures := sdkapi.NewClient(option).RestService().GetFuturesService()

	burst := src.RateLimit.BurstSize
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Inf, burst)
	if src.RateLimit.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(src.RateLimit.RequestsPerSecond), burst)
	}

	log.WithComponent("kucoin_reader").WithFields(logger.Fields{
		"endpoint": base,
		"timeout":  src.Timeout,
	}).Info("kucoin reader initialized")

	return &Reader{
		market:  futures.GetMarketAPI(),
		funding: futures.GetFundingFeesAPI(),
		limiter: limiter,
		retry:   src.Retry,
		log:     log,
		now:     time.Now,
	}
}

// Ranking returns every open contract with its 24h turnover.
func (r *Reader) Ranking(ctx context.Context) ([]models.RankedSymbol, error) {
	log := r.log.WithComponent("kucoin_reader").WithFields(logger.Fields{"operation": "ranking"})

	var contracts *futuresmarket.GetAllSymbolsResp
	start := time.Now()
	err := r.call(ctx, "ranking", func() (*sdktype.RestResponse, error) {
		resp, err := r.market.GetAllSymbols(ctx)
		contracts = resp
		if resp == nil {
			return nil, err
		}
		return resp.CommonResponse, err
	})
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "kucoin_reader", "api_request", time.Since(start), nil)

	out := make([]models.RankedSymbol, 0, len(contracts.Data))
	for _, c := range contracts.Data {
		if c.Status != "" && c.Status != "Open" {
			continue
		}
		out = append(out, models.RankedSymbol{Symbol: NormalizeSymbol(c.Symbol), QuoteVolume: c.TurnoverOf24h})
	}
	logger.LogDataFlowEntry(log, "kucoin_api", "ranking_cache", len(out), "contract_24h")
	return out, nil
}

// FundingHistory walks from now backwards in fixed ranges until limit rows
// are collected or a range comes back empty. Rows are returned oldest first.
func (r *Reader) FundingHistory(ctx context.Context, symbol string, limit int) ([]models.FundingRateObservation, error) {
	if limit <= 0 {
		return nil, nil
	}
	contract := ContractSymbol(symbol)
	log := r.log.WithComponent("kucoin_reader").WithSymbol(symbol).WithFields(logger.Fields{
		"operation": "funding_history",
		"contract":  contract,
	})

	var out []models.FundingRateObservation
	to := r.now().UnixMilli()
	for len(out) < limit {
		from := to - fundingPageSpan.Milliseconds()
		req := fundingfees.NewGetPublicFundingHistoryReqBuilder().
			SetSymbol(contract).
			SetFrom(from).
			SetTo(to).
			Build()

		var page *fundingfees.GetPublicFundingHistoryResp
		err := r.call(ctx, "funding_history", func() (*sdktype.RestResponse, error) {
			resp, err := r.funding.GetPublicFundingHistory(req, ctx)
			page = resp
			if resp == nil {
				return nil, err
			}
			return resp.CommonResponse, err
		})
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && invalidSymbol(apiErr) {
				log.WithError(err).Warn("contract rejected by kucoin, treating as empty")
				return nil, nil
			}
			return nil, err
		}

		parsed := make([]models.FundingRateObservation, 0, len(page.Data))
		oldest := to
		for _, row := range page.Data {
			if row.Timepoint < from || row.Timepoint > to {
				continue
			}
			if row.Timepoint < oldest {
				oldest = row.Timepoint
			}
			parsed = append(parsed, models.FundingRateObservation{
				Symbol:      symbol,
				ObservedAt:  time.UnixMilli(row.Timepoint).UTC(),
				FundingRate: row.FundingRate,
			})
		}
		if len(parsed) == 0 {
			break
		}
		sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].ObservedAt.Before(parsed[j].ObservedAt) })
		out = append(parsed, out...)

		// A full page may have been truncated inside the range, so continue
		// from its oldest row rather than from the range start.
		if len(page.Data) >= maxFundingPage {
			to = oldest - 1
		} else {
			to = from - 1
		}
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	logger.LogDataFlowEntry(log, "kucoin_api", "funding_store", len(out), "funding_rate")
	return out, nil
}

// call performs one rate-limited request with retries. fn returns the SDK's
// common response so API codes can be told apart from transport failures.
func (r *Reader) call(ctx context.Context, operation string, fn func() (*sdktype.RestResponse, error)) error {
	err := transport.Retry(ctx, r.retry, retryable, func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		common, err := fn()
		if err == nil {
			return nil
		}
		if common != nil && common.Code != "" && common.Code != sdktype.CodeSuccess {
			return &apiError{Code: common.Code, Message: common.Message}
		}
		return err
	})
	if err == nil {
		return nil
	}
	metrics.RecordRemoteError(exchangeName, operation)
	return fmt.Errorf("kucoin %s: %w: %w", operation, models.ErrRemoteUnavailable, err)
}

// retryable rejects API errors except 429000 (rate limit) and 500000
// (internal error).
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Code == "429000" || apiErr.Code == "500000"
}

func invalidSymbol(e *apiError) bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not exist") || strings.Contains(msg, "symbol")
}

// usageInterceptor feeds every SDK response through transport.ReportUsage.
type usageInterceptor struct{}

func (usageInterceptor) Before(req *http.Request) (*http.Request, error) { return req, nil }

func (usageInterceptor) After(req *http.Request, resp *http.Response, err error) (*http.Response, error) {
	if resp != nil {
		transport.ReportUsage(exchangeName, resp)
	}
	return resp, err
}

// NormalizeSymbol turns a KuCoin contract name into the common form:
// XBTUSDTM -> BTCUSDT, ETHUSDTM -> ETHUSDT.
func NormalizeSymbol(contract string) string {
	sym := strings.ReplaceAll(strings.ToUpper(contract), "-", "")
	sym = strings.TrimSuffix(sym, "M")
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}

// ContractSymbol is the inverse of NormalizeSymbol.
func ContractSymbol(symbol string) string {
	sym := strings.ToUpper(symbol)
	if strings.HasPrefix(sym, "BTC") {
		sym = "XBT" + sym[3:]
	}
	return sym + "M"
}
