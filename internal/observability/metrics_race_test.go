package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// without causing race conditions
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 50

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.registry)
			assert.NotNil(t, m.Garden)
			assert.NotNil(t, m.Handles)
			assert.NotNil(t, m.Datastore)
		})
	}
	wg.Wait()
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Garden.RecordSnapshot(map[string]int{"NEEDS_WATER": 2, "HEALTHY": 1}, false)
	m.Handles.RecordOperation("claim", "success", 0.002)

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `garden_plants_by_status{status="NEEDS_WATER"} 2`)
	assert.Contains(t, text, "garden_plants_needing_water 2")
	assert.Contains(t, text, `handles_operations_total{operation="claim",result="success"} 1`)
	assert.Contains(t, text, "go_goroutines")
}
