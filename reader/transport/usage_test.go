package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "fundingheat/config"
	"fundingheat/internal/metrics"
)

func TestReportUsage(t *testing.T) {
	metrics.Init()

	cases := []struct {
		name     string
		exchange string
		headers  map[string]string
		want     float64
		ok       bool
	}{
		{"binance minute window", "binance", map[string]string{"X-MBX-USED-WEIGHT-1M": "42"}, 42, true},
		{"binance legacy header", "binance", map[string]string{"X-MBX-USED-WEIGHT": "7"}, 7, true},
		{"binance garbage", "binance", map[string]string{"X-MBX-USED-WEIGHT-1M": "n/a"}, 0, false},
		{"bybit limit status", "bybit", map[string]string{"X-Bapi-Limit": "120", "X-Bapi-Limit-Status": "100"}, 20, true},
		{"bybit missing limit", "bybit", map[string]string{"X-Bapi-Limit-Status": "100"}, 0, false},
		{"kucoin pool", "kucoin", map[string]string{"gw-ratelimit-limit": "2000", "gw-ratelimit-remaining": "1995"}, 5, true},
		{"unknown exchange", "okx", map[string]string{"X-MBX-USED-WEIGHT-1M": "1"}, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			for k, v := range tc.headers {
				resp.Header.Set(k, v)
			}
			got, ok := ReportUsage(tc.exchange, resp)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("ReportUsage() = %v, %v, want %v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}

	if _, ok := ReportUsage("binance", nil); ok {
		t.Fatal("nil response should not report usage")
	}
}

func TestHTTPClientPassesResponsesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "5")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := NewHTTPClient("binance", appconfig.ConnectionPoolConfig{MaxIdleConns: 1}, time.Second)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
