// Package transport holds the HTTP and retry plumbing shared by the exchange
// readers.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/jpillora/backoff"

	appconfig "fundingheat/config"
)

// NewHTTPClient builds a pooled client for one exchange endpoint. Responses
// pass through ReportUsage so rate-limit headers end up in metrics.
func NewHTTPClient(exchange string, pool appconfig.ConnectionPoolConfig, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConns,
		MaxConnsPerHost:     pool.MaxConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
		DisableCompression:  false,
	}
	return &http.Client{Transport: &usageTransport{base: transport, exchange: exchange}, Timeout: timeout}
}

// Retry calls fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is exhausted. Waits between attempts grow exponentially with
// jitter.
func Retry(ctx context.Context, cfg appconfig.RetryConfig, retryable func(error) bool, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{
		Min:    cfg.MinBackoff,
		Max:    cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil || i == attempts-1 || (retryable != nil && !retryable(err)) {
			return err
		}
		timer := time.NewTimer(b.Duration())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
	return err
}
