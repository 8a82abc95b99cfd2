package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics exposed on the sidecar /metrics port, alongside
// the OTLP pipeline. The process-level collectors come for free with
// the default registry.

var (
	scoringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "risk",
			Subsystem: "scoring",
			Name:      "total",
			Help:      "Total number of transactions scored",
		},
		[]string{"level"},
	)

	scoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "risk",
			Subsystem: "scoring",
			Name:      "duration_seconds",
			Help:      "Transaction scoring latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"level"},
	)

	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "risk",
			Subsystem: "alerts",
			Name:      "total",
			Help:      "Total number of alerts emitted",
		},
		[]string{"severity"},
	)

	batchRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "risk",
			Subsystem: "batch",
			Name:      "rows_total",
			Help:      "CSV rows analyzed in batch uploads",
		},
	)
)

// promObserver feeds the handler's scoring outcomes into the
// Prometheus collectors above.
type promObserver struct{}

func (promObserver) ObserveScoring(level string, duration time.Duration) {
	scoringsTotal.WithLabelValues(level).Inc()
	scoringDuration.WithLabelValues(level).Observe(duration.Seconds())
}

func (promObserver) ObserveAlert(severity string) {
	alertsTotal.WithLabelValues(severity).Inc()
}

func (promObserver) ObserveBatch(rows int) {
	batchRowsTotal.Add(float64(rows))
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
