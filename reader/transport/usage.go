package transport

import (
	"net/http"
	"strconv"

	"fundingheat/internal/metrics"
	"fundingheat/logger"
)

type usageTransport struct {
	base     http.RoundTripper
	exchange string
}

func (t *usageTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		ReportUsage(t.exchange, resp)
	}
	return resp, err
}

var binanceWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-MBX-USED-WEIGHT-1M", "1m"},
	{"X-MBX-USED-WEIGHT", "1m"},
	{"X-MBX-USED-WEIGHT-1S", "1s"},
}

// ReportUsage inspects exchange rate-limit headers and publishes the used
// weight. It returns the parsed value and whether a metric was recorded.
//
// Binance reports X-MBX-USED-WEIGHT-*. Bybit and KuCoin report a limit and
// the remaining quota, so used is limit minus remaining.
func ReportUsage(exchange string, resp *http.Response) (float64, bool) {
	if resp == nil {
		return 0, false
	}
	log := logger.GetLogger().WithComponent("transport")

	switch exchange {
	case "binance":
		for _, h := range binanceWeightHeaders {
			value := resp.Header.Get(h.key)
			if value == "" {
				continue
			}
			used, err := strconv.ParseFloat(value, 64)
			if err != nil {
				log.WithFields(logger.Fields{"header": h.key, "value": value}).WithError(err).Debug("failed to parse used weight header")
				continue
			}
			metrics.SetUsedWeight(exchange, h.window, used)
			return used, true
		}
	case "bybit":
		return usedFromRemaining(exchange, "endpoint", resp.Header.Get("X-Bapi-Limit"), resp.Header.Get("X-Bapi-Limit-Status"))
	case "kucoin":
		return usedFromRemaining(exchange, "pool", resp.Header.Get("gw-ratelimit-limit"), resp.Header.Get("gw-ratelimit-remaining"))
	}
	return 0, false
}

func usedFromRemaining(exchange, window, rawLimit, rawRemaining string) (float64, bool) {
	limit, err := strconv.ParseFloat(rawLimit, 64)
	if err != nil || limit <= 0 {
		return 0, false
	}
	remaining, err := strconv.ParseFloat(rawRemaining, 64)
	if err != nil {
		return 0, false
	}
	used := limit - remaining
	if used < 0 {
		used = 0
	}
	metrics.SetUsedWeight(exchange, window, used)
	return used, true
}
