package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsClassified *prometheus.CounterVec
	SummaryQueries   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		EventsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taxtrail_security_events_classified_total",
			Help: "Total security events classified, by severity",
		}, []string{"severity"}),
		SummaryQueries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taxtrail_security_summary_queries_total",
			Help: "Total security summary computations",
		}),
	}
}

func (m *Metrics) IncrementClassified(severity string) {
	m.EventsClassified.WithLabelValues(severity).Inc()
}
