package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the process counters. Each instance owns a private registry so
// tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	rowsIngested    *prometheus.CounterVec
	batches         *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		rowsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debtdesk_csv_rows_total",
				Help: "CSV rows processed by outcome.",
			},
			[]string{"outcome"},
		),
		batches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debtdesk_reconcile_batches_total",
				Help: "Status reconciliation batches by outcome.",
			},
			[]string{"outcome"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "debtdesk_remote_request_duration_seconds",
				Help:    "Duration of remote status API calls by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// AddRows counts n rows with outcome "valid" or "invalid". Nil receivers are
// ignored so callers can run without metrics.
func (m *Metrics) AddRows(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsIngested.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncrBatch(outcome string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Rows returns the cumulative row count for outcome.
func (m *Metrics) Rows(outcome string) float64 {
	return counterValue(m.rowsIngested, outcome)
}

// Batches returns the cumulative batch count for outcome.
func (m *Metrics) Batches(outcome string) float64 {
	return counterValue(m.batches, outcome)
}

func counterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
