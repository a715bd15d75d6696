package kucoin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	appconfig "fundingheat/config"
	"fundingheat/models"
)

func testConfig(url string) *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Source.Exchange = "kucoin"
	cfg.Source.Kucoin.URL = url
	cfg.Source.Timeout = 2 * time.Second
	cfg.Source.RateLimit = appconfig.RateLimitConfig{}
	cfg.Source.Retry = appconfig.RetryConfig{MaxAttempts: 2, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return &cfg
}

func writeReply(w http.ResponseWriter, code, msg string, data interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code": code,
		"msg":  msg,
		"data": data,
	})
}

// fundingServer serves total settlements spaced step apart ending at latest,
// newest first and capped at maxFundingPage per range.
func fundingServer(t *testing.T, latest time.Time, step time.Duration, total int, requests *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/v1/contract/funding-rates" {
			http.NotFound(w, req)
			return
		}
		atomic.AddInt32(requests, 1)
		q := req.URL.Query()
		if q.Get("symbol") != "XBTUSDTM" {
			writeReply(w, "40010", "contract does not exist", nil)
			return
		}
		from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
		to, _ := strconv.ParseInt(q.Get("to"), 10, 64)
		rows := []map[string]interface{}{}
		for i := 0; i < total && len(rows) < maxFundingPage; i++ {
			at := latest.Add(-time.Duration(i) * step).UnixMilli()
			if at < from || at > to {
				continue
			}
			rows = append(rows, map[string]interface{}{
				"symbol":      "XBTUSDTM",
				"fundingRate": 0.0001,
				"timepoint":   at,
			})
		}
		writeReply(w, "200000", "", rows)
	}))
}

func assertHistory(t *testing.T, got []models.FundingRateObservation, total int, latest time.Time) {
	t.Helper()
	if len(got) != total {
		t.Fatalf("rows = %d, want %d", len(got), total)
	}
	if !got[len(got)-1].ObservedAt.Equal(latest) {
		t.Fatalf("newest = %v, want %v", got[len(got)-1].ObservedAt, latest)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].ObservedAt.After(got[i-1].ObservedAt) {
			t.Fatalf("rows not strictly ascending at %d", i)
		}
	}
	if got[0].Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q, want common form", got[0].Symbol)
	}
}

func TestFundingHistoryWalksRangesBackwards(t *testing.T) {
	latest := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	const total = 250
	var requests int32
	srv := fundingServer(t, latest, 8*time.Hour, total, &requests)
	defer srv.Close()

	r := NewReader(testConfig(srv.URL))
	r.now = func() time.Time { return latest.Add(time.Hour) }

	got, err := r.FundingHistory(context.Background(), "BTCUSDT", 10000)
	if err != nil {
		t.Fatalf("funding history: %v", err)
	}
	assertHistory(t, got, total, latest)
	// Three ranges with data plus the empty one that ends the walk.
	if n := atomic.LoadInt32(&requests); n != 4 {
		t.Fatalf("requests = %d, want 4", n)
	}
}

func TestFundingHistoryContinuesTruncatedPage(t *testing.T) {
	latest := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	const total = 200
	var requests int32
	srv := fundingServer(t, latest, time.Hour, total, &requests)
	defer srv.Close()

	r := NewReader(testConfig(srv.URL))
	r.now = func() time.Time { return latest }

	got, err := r.FundingHistory(context.Background(), "BTCUSDT", 10000)
	if err != nil {
		t.Fatalf("funding history: %v", err)
	}
	assertHistory(t, got, total, latest)
	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Fatalf("requests = %d, want 3", n)
	}
}

func TestFundingHistoryRespectsLimit(t *testing.T) {
	latest := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var requests int32
	srv := fundingServer(t, latest, 8*time.Hour, 250, &requests)
	defer srv.Close()

	r := NewReader(testConfig(srv.URL))
	r.now = func() time.Time { return latest }

	got, err := r.FundingHistory(context.Background(), "BTCUSDT", 50)
	if err != nil {
		t.Fatalf("funding history: %v", err)
	}
	if len(got) != 50 || !got[49].ObservedAt.Equal(latest) {
		t.Fatalf("expected the 50 most recent rows, got %d ending %v", len(got), got[len(got)-1].ObservedAt)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("requests = %d, want 1", n)
	}
}

func TestFundingHistoryUnknownContractIsEmpty(t *testing.T) {
	var requests int32
	srv := fundingServer(t, time.Now(), 8*time.Hour, 10, &requests)
	defer srv.Close()

	got, err := NewReader(testConfig(srv.URL)).FundingHistory(context.Background(), "NOPEUSDT", 100)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v, %v", got, err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("requests = %d, want 1 (no retry for unknown contracts)", n)
	}
}

func TestRanking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/v1/contracts/active" {
			http.NotFound(w, req)
			return
		}
		writeReply(w, "200000", "", []map[string]interface{}{
			{"symbol": "XBTUSDTM", "status": "Open", "turnoverOf24h": 2500000000.25},
			{"symbol": "ETHUSDTM", "status": "Open", "turnoverOf24h": 1200000000.0},
			{"symbol": "OLDUSDTM", "status": "Paused", "turnoverOf24h": 10.0},
		})
	}))
	defer srv.Close()

	got, err := NewReader(testConfig(srv.URL)).Ranking(context.Background())
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	want := []models.RankedSymbol{{Symbol: "BTCUSDT", QuoteVolume: 2500000000.25}, {Symbol: "ETHUSDT", QuoteVolume: 1200000000}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ranking = %+v, want %+v", got, want)
	}
}

func TestRankingRateLimitIsRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&requests, 1)
		writeReply(w, "429000", "Too Many Requests", nil)
	}))
	defer srv.Close()

	_, err := NewReader(testConfig(srv.URL)).Ranking(context.Background())
	if !errors.Is(err, models.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
}

func TestSymbolMapping(t *testing.T) {
	cases := map[string]string{
		"XBTUSDTM":  "BTCUSDT",
		"ETHUSDTM":  "ETHUSDT",
		"SOL-USDTM": "SOLUSDT",
	}
	for contract, want := range cases {
		if got := NormalizeSymbol(contract); got != want {
			t.Fatalf("NormalizeSymbol(%q) = %q, want %q", contract, got, want)
		}
	}
	if got := ContractSymbol("BTCUSDT"); got != "XBTUSDTM" {
		t.Fatalf("ContractSymbol(BTCUSDT) = %q", got)
	}
	if got := ContractSymbol("ethusdt"); got != "ETHUSDTM" {
		t.Fatalf("ContractSymbol(ethusdt) = %q", got)
	}
}
