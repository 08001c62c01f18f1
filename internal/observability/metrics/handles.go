package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HandleMetrics contains Prometheus metrics for the handle registry
type HandleMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	attemptsHist      *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewHandleMetrics creates and registers new handle registry metrics
func NewHandleMetrics(registry *prometheus.Registry) (*HandleMetrics, error) {
	m := &HandleMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HandleMetrics) initMetrics() error {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handles_operations_total",
			Help: "Total number of handle registry operations",
		},
		[]string{"operation", "result"}, // result: success, taken, not_found, invalid, contention, error
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handles_operation_duration_seconds",
			Help:    "Time taken for handle registry operations including retries",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15), // 0.1ms to ~1.6s
		},
		[]string{"operation"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handles_transaction_retries_total",
			Help: "Total number of retried handle transactions",
		},
		[]string{"operation", "reason"}, // reason: contention, timeout
	)

	m.attemptsHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handles_transaction_attempts",
			Help:    "Attempts needed per handle transaction",
			Buckets: []float64{1, 2, 3, 5, 8},
		},
		[]string{"operation"},
	)

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.retriesTotal,
		m.attemptsHist,
	}
	return nil
}

// Describe implements the Collector interface
func (m *HandleMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HandleMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation records a completed operation and its duration in seconds
func (m *HandleMetrics) RecordOperation(operation, result string, duration float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRetry counts a retried transaction attempt
func (m *HandleMetrics) RecordRetry(operation, reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation, reason).Inc()
}

// RecordAttempts records how many attempts a transaction took
func (m *HandleMetrics) RecordAttempts(operation string, attempts int) {
	if m == nil {
		return
	}
	m.attemptsHist.WithLabelValues(operation).Observe(float64(attempts))
}
