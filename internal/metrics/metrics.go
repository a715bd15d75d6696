// Registers:
//
//	#fundingheat_ranking_cache_total{result}
//	#fundingheat_dataset_refresh_total{outcome}
//	#fundingheat_remote_errors_total{exchange,operation}
//	#fundingheat_heatmap_rows / #fundingheat_heatmap_columns
//	#fundingheat_exchange_used_weight{exchange,window}
//	#go_* and process_* system metrics
//
// The dashboard exposes them through Handler on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once         sync.Once
	registry     *prometheus.Registry
	rankingCache *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	remoteErrors *prometheus.CounterVec
	heatmapRows  prometheus.Gauge
	heatmapCols  prometheus.Gauge
	usedWeight   *prometheus.GaugeVec
)

func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		rankingCache = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingheat_ranking_cache_total",
				Help: "Ranking cache lookups by result (hit, miss, stale)",
			},
			[]string{"result"},
		)

		refreshes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingheat_dataset_refresh_total",
				Help: "Per-symbol dataset outcomes of store loads",
			},
			[]string{"outcome"},
		)

		remoteErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundingheat_remote_errors_total",
				Help: "Failed requests against the exchange REST API",
			},
			[]string{"exchange", "operation"},
		)

		heatmapRows = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundingheat_heatmap_rows",
			Help: "Symbols in the last built matrix",
		})
		heatmapCols = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fundingheat_heatmap_columns",
			Help: "Timestamps in the last built matrix",
		})

		usedWeight = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fundingheat_exchange_used_weight",
				Help: "Request weight consumed as reported by exchange response headers",
			},
			[]string{"exchange", "window"},
		)

		registry.MustRegister(rankingCache, refreshes, remoteErrors, heatmapRows, heatmapCols, usedWeight)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordRankingCache counts one ranking cache lookup.
func RecordRankingCache(result string) {
	if rankingCache != nil {
		rankingCache.WithLabelValues(result).Inc()
	}
}

// RecordRefresh counts one per-symbol store outcome.
func RecordRefresh(outcome string) {
	if refreshes != nil {
		refreshes.WithLabelValues(outcome).Inc()
	}
}

// RecordRemoteError counts one failed exchange request.
func RecordRemoteError(exchange, operation string) {
	if remoteErrors != nil {
		remoteErrors.WithLabelValues(exchange, operation).Inc()
	}
}

func SetMatrixSize(rows, cols int) {
	if heatmapRows != nil {
		heatmapRows.Set(float64(rows))
		heatmapCols.Set(float64(cols))
	}
}

// SetUsedWeight records the latest used request weight for an exchange window.
func SetUsedWeight(exchange, window string, used float64) {
	if usedWeight != nil {
		usedWeight.WithLabelValues(exchange, window).Set(used)
	}
}
