package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/verdant-app/verdant/internal/health"
)

// GardenMetrics contains Prometheus metrics for plant snapshots and care
// transitions. Every Record method is a no-op on a nil receiver so stores
// and detectors can run without a registry.
type GardenMetrics struct {
	registry *prometheus.Registry

	// Snapshot metrics
	snapshotsTotal     *prometheus.CounterVec
	snapshotPlants     prometheus.Histogram
	plantStatusGauge   *prometheus.GaugeVec
	storeReadFailures  prometheus.Counter
	plantsNeedingCare  prometheus.Gauge
	gardensLoadedGauge prometheus.Gauge

	// Care transition metrics
	transitionsTotal   *prometheus.CounterVec
	eventsDroppedTotal prometheus.Counter
	sinkErrorsTotal    *prometheus.CounterVec

	collectors []prometheus.Collector
}

// NewGardenMetrics creates and registers new garden metrics
func NewGardenMetrics(registry *prometheus.Registry) (*GardenMetrics, error) {
	m := &GardenMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *GardenMetrics) initMetrics() error {
	m.snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garden_snapshots_published_total",
			Help: "Total number of garden snapshots published",
		},
		[]string{"source"}, // source: live, cache
	)

	m.snapshotPlants = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "garden_snapshot_plants",
		Help:    "Number of plants in published snapshots",
		Buckets: prometheus.ExponentialBuckets(BucketStart1, BucketFactor2, BucketCount10), // 1 to 512
	})

	m.plantStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garden_plants_by_status",
			Help: "Plants per health status in the most recent snapshot",
		},
		[]string{"status"},
	)

	m.storeReadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "garden_store_read_failures_total",
		Help: "Total number of failed plant collection reads",
	})

	m.plantsNeedingCare = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "garden_plants_needing_water",
		Help: "Plants needing water in the most recent snapshot",
	})

	m.gardensLoadedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "garden_stores_loaded",
		Help: "Number of owner stores currently loaded",
	})

	m.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_transitions_total",
			Help: "Total number of plants entering a needs-attention status",
		},
		[]string{"status"},
	)

	m.eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "care_events_dropped_total",
		Help: "Care events discarded because a subscriber fell behind",
	})

	m.sinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "care_sink_errors_total",
			Help: "Care event sink failures",
		},
		[]string{"sink"},
	)

	m.collectors = []prometheus.Collector{
		m.snapshotsTotal,
		m.snapshotPlants,
		m.plantStatusGauge,
		m.storeReadFailures,
		m.plantsNeedingCare,
		m.gardensLoadedGauge,
		m.transitionsTotal,
		m.eventsDroppedTotal,
		m.sinkErrorsTotal,
	}
	return nil
}

// Describe implements the Collector interface
func (m *GardenMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *GardenMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordSnapshot records a published snapshot given its plant count per status name
func (m *GardenMetrics) RecordSnapshot(statusCounts map[string]int, fromCache bool) {
	if m == nil {
		return
	}
	source := LabelLive
	if fromCache {
		source = LabelCache
	}
	m.snapshotsTotal.WithLabelValues(source).Inc()

	total := 0
	for _, status := range health.AllStatuses() {
		n := statusCounts[status.String()]
		total += n
		m.plantStatusGauge.WithLabelValues(status.String()).Set(float64(n))
		if status.NeedsAttention() {
			m.plantsNeedingCare.Set(float64(n))
		}
	}
	m.snapshotPlants.Observe(float64(total))
}

// RecordStoreReadFailure counts a failed plant collection read
func (m *GardenMetrics) RecordStoreReadFailure() {
	if m == nil {
		return
	}
	m.storeReadFailures.Inc()
}

// SetStoresLoaded records how many owner stores are loaded
func (m *GardenMetrics) SetStoresLoaded(n int) {
	if m == nil {
		return
	}
	m.gardensLoadedGauge.Set(float64(n))
}

// RecordTransition counts a plant entering status
func (m *GardenMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(status).Inc()
}

// RecordEventsDropped counts care events lost to slow subscribers
func (m *GardenMetrics) RecordEventsDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.eventsDroppedTotal.Add(float64(n))
}

// RecordSinkError counts a failed sink delivery
func (m *GardenMetrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrorsTotal.WithLabelValues(sink).Inc()
}
