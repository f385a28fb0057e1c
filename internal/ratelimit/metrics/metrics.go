package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal     *prometheus.CounterVec
	LedgerFailures  prometheus.Counter
	FailOpenTotal   prometheus.Counter
	CircuitOpen     prometheus.Gauge
	FallbackChecks  prometheus.Counter
	CheckDurationMs prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taxtrail_ratelimit_checks_total",
			Help: "Total rate limit checks by action and outcome",
		}, []string{"action", "outcome"}),
		LedgerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxtrail_ratelimit_ledger_failures_total",
			Help: "Total ledger calls that failed or timed out",
		}),
		FailOpenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxtrail_ratelimit_fail_open_total",
			Help: "Total checks allowed because the ledger was unreachable",
		}),
		CircuitOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "taxtrail_ratelimit_circuit_open",
			Help: "1 while the ledger circuit breaker is open",
		}),
		FallbackChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxtrail_ratelimit_fallback_checks_total",
			Help: "Total checks served by the in-memory fallback ledger",
		}),
		CheckDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "taxtrail_ratelimit_check_duration_ms",
			Help:    "Latency of ledger checks in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 3000},
		}),
	}
}

func (m *Metrics) ObserveCheck(action, outcome string) {
	m.ChecksTotal.WithLabelValues(action, outcome).Inc()
}
