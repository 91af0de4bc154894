package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of an Executor.
type Metrics struct {
	QueriesTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResultHits      prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search operations by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_request_duration_seconds",
				Help:    "Search backend round trip latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		ResultHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_result_hits",
				Help:    "Number of matching documents reported per query.",
				Buckets: prometheus.ExponentialBuckets(1, 10, 7),
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.QueriesTotal, m.RequestDuration, m.ResultHits)
	}
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(op, outcome(err)).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) hits(total int64) {
	if m == nil {
		return
	}
	m.ResultHits.Observe(float64(total))
}
