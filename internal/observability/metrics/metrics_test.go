package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSnapshot(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewGardenMetrics(registry)
	require.NoError(t, err)

	m.RecordSnapshot(map[string]int{"HEALTHY": 3, "NEEDS_WATER": 2}, false)
	m.RecordSnapshot(map[string]int{"HEALTHY": 1}, true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.snapshotsTotal.WithLabelValues(LabelLive)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.snapshotsTotal.WithLabelValues(LabelCache)))

	// gauges reflect the most recent snapshot only
	assert.Equal(t, float64(1), testutil.ToFloat64(m.plantStatusGauge.WithLabelValues("HEALTHY")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.plantStatusGauge.WithLabelValues("NEEDS_WATER")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.plantsNeedingCare))
}

func TestGardenCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewGardenMetrics(registry)
	require.NoError(t, err)

	m.RecordStoreReadFailure()
	m.RecordStoreReadFailure()
	m.RecordTransition("NEEDS_WATER")
	m.RecordEventsDropped(0)
	m.RecordEventsDropped(4)
	m.RecordSinkError("alert_history")
	m.SetStoresLoaded(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.storeReadFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitionsTotal.WithLabelValues("NEEDS_WATER")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.eventsDroppedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sinkErrorsTotal.WithLabelValues("alert_history")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.gardensLoadedGauge))
}

func TestHandleMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewHandleMetrics(registry)
	require.NoError(t, err)

	testCases := []struct {
		name      string
		operation string
		result    string
	}{
		{"claim success", OpHandleClaim, LabelSuccess},
		{"claim taken", OpHandleClaim, "taken"},
		{"rename contention", OpHandleRename, "contention"},
		{"release not found", OpHandleRelease, "not_found"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m.RecordOperation(tc.operation, tc.result, 0.001)
			count := testutil.ToFloat64(m.operationsTotal.WithLabelValues(tc.operation, tc.result))
			assert.Equal(t, float64(1), count)
		})
	}

	m.RecordRetry(OpHandleClaim, "contention")
	m.RecordAttempts(OpHandleClaim, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.retriesTotal.WithLabelValues(OpHandleClaim, "contention")))
}

func TestDatastoreMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDatastoreMetrics(registry)
	require.NoError(t, err)

	m.RecordDbOperation(OpPlantWrite, LabelSuccess, 0.004)
	m.RecordDbOperationError(OpPlantRead, "unavailable")
	m.RecordTransaction("committed")
	m.RecordCacheOperation(LabelPlants, "get", LabelHit)
	m.UpdateCacheSize(7)
	m.UpdateConnectionMetrics(2, 1)
	m.SetListeners(5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues(OpPlantWrite, LabelSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dbOperationErrorsTotal.WithLabelValues(OpPlantRead, "unavailable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheOperationsTotal.WithLabelValues(LabelPlants, "get", LabelHit)))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.cacheSizeGauge))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.dbConnectionsOpenGauge))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.listenersGauge))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewGardenMetrics(registry)
	require.NoError(t, err)
	_, err = NewGardenMetrics(registry)
	assert.Error(t, err)
}

func TestNilReceiversAreSafe(t *testing.T) {
	var g *GardenMetrics
	var h *HandleMetrics
	var d *DatastoreMetrics

	assert.NotPanics(t, func() {
		g.RecordSnapshot(map[string]int{"HEALTHY": 1}, false)
		g.RecordStoreReadFailure()
		g.RecordTransition("NEEDS_WATER")
		g.RecordEventsDropped(1)
		g.RecordSinkError("log")
		g.SetStoresLoaded(1)
		h.RecordOperation(OpHandleClaim, LabelSuccess, 0)
		h.RecordRetry(OpHandleClaim, "timeout")
		h.RecordAttempts(OpHandleClaim, 1)
		d.RecordDbOperation(OpPlantRead, LabelSuccess, 0)
		d.RecordDbOperationError(OpPlantRead, "x")
		d.RecordTransaction("committed")
		d.RecordCacheOperation(LabelPlants, "get", LabelMiss)
		d.UpdateCacheSize(1)
		d.UpdateConnectionMetrics(1, 1)
		d.SetListeners(1)
	})
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestStatusGaugeExport(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewGardenMetrics(registry)
	require.NoError(t, err)

	m.RecordSnapshot(map[string]int{"HEALTHY": 2, "NEEDS_WATER": 1, "SEVERELY_DRY": 1}, false)

	families, err := registry.Gather()
	require.NoError(t, err)

	byStatus := findFamily(families, "garden_plants_by_status")
	require.NotNil(t, byStatus)
	assert.Equal(t, dto.MetricType_GAUGE, byStatus.GetType())
	got := map[string]float64{}
	for _, metric := range byStatus.GetMetric() {
		for _, label := range metric.GetLabel() {
			got[label.GetValue()] = metric.GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(2), got["HEALTHY"])
	assert.Equal(t, float64(1), got["NEEDS_WATER"])

	needing := findFamily(families, "garden_plants_needing_water")
	require.NotNil(t, needing)
	require.Len(t, needing.GetMetric(), 1)
	assert.Equal(t, float64(1), needing.GetMetric()[0].GetGauge().GetValue())
}
