package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/verdant-app/verdant/internal/api/middleware"
	"github.com/verdant-app/verdant/internal/care"
	"github.com/verdant-app/verdant/internal/garden"
	"github.com/verdant-app/verdant/internal/handles"
	"github.com/verdant-app/verdant/internal/health"
	"github.com/verdant-app/verdant/internal/kv"
	"github.com/verdant-app/verdant/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = logger.NewSlogLogger(io.Discard, logger.LogLevelInfo, nil)

type fakeAlerts struct {
	mu     sync.Mutex
	events []care.Event
	limit  int
}

func (f *fakeAlerts) List(_ context.Context, ownerID string, limit int) ([]care.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	var out []care.Event
	for _, ev := range f.events {
		if ev.OwnerID == ownerID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type testEnv struct {
	echo    *echo.Echo
	backend *garden.MemoryBackend
	kv      *kv.MemoryStore
	alerts  *fakeAlerts
	manager *garden.Manager
}

func setupTestEnvironment(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		echo:    echo.New(),
		backend: garden.NewMemoryBackend(),
		kv:      kv.NewMemoryStore(),
		alerts:  &fakeAlerts{},
	}
	env.manager = garden.NewManager(env.backend, quiet, garden.WithOpTimeout(time.Second))
	t.Cleanup(env.manager.Stop)

	registry := handles.NewRegistry(env.kv, handles.Config{MaxAttempts: 2, RetryBackoff: time.Millisecond},
		handles.WithLogger(quiet))
	env.echo.Use(middleware.NewRequestID())
	opts = append([]Option{WithAlerts(env.alerts), WithVersion("test")}, opts...)
	New(env.echo, env.manager, registry, quiet, opts...)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnvironment(t, WithDetectorStats(func() care.Stats { return care.Stats{Events: 3} }))

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotNil(t, body["care"])
}

func TestPlantLifecycle(t *testing.T) {
	env := setupTestEnvironment(t)

	start := time.Now().Add(-8 * 24 * time.Hour).UTC().Format(time.RFC3339)
	rec := env.do(t, http.MethodPost, "/api/v1/gardens/user-1/plants",
		`{"name":"Pothos","watering_frequency_days":7,"watering_start":"`+start+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[garden.OwnedPlant](t, rec)
	assert.Equal(t, "user-1", created.OwnerID)
	assert.Equal(t, health.StatusSlightlyDry, created.Plant.Health)

	rec = env.do(t, http.MethodGet, "/api/v1/gardens/user-1/plants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[garden.Snapshot](t, rec)
	require.Len(t, snap.Plants, 1)
	assert.False(t, snap.FromCache)

	rec = env.do(t, http.MethodPost, "/api/v1/gardens/user-1/plants/"+created.ID+"/water", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	watered := decode[garden.OwnedPlant](t, rec)
	require.NotNil(t, watered.PreviousLastWatered)
	assert.Equal(t, health.StatusHealthy, watered.Plant.Health)

	// earlier than the last watering
	rec = env.do(t, http.MethodPost, "/api/v1/gardens/user-1/plants/"+created.ID+"/water", `{"at":"`+start+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/gardens/user-1/plants/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/gardens/user-1/plants/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/gardens/user-1/plants/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, errResp.Code)
	assert.NotEmpty(t, errResp.CorrelationID)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), errResp.CorrelationID)
}

func TestCreatePlantValidation(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/v1/gardens/user-1/plants", `{"name":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/gardens/user-1/plants", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPlantsServesCacheWhenOffline(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/v1/gardens/user-1/plants", `{"name":"Fern","watering_frequency_days":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	env.backend.SetOffline(true)
	rec = env.do(t, http.MethodGet, "/api/v1/gardens/user-1/plants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[garden.Snapshot](t, rec)
	assert.True(t, snap.FromCache)
	assert.Len(t, snap.Plants, 1)

	// never read while online: nothing to fall back on
	rec = env.do(t, http.MethodGet, "/api/v1/gardens/user-2/plants", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/gardens/user-1/plants", `{"name":"Ivy","watering_frequency_days":3}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListAlerts(t *testing.T) {
	env := setupTestEnvironment(t)
	env.alerts.events = []care.Event{
		{PlantID: "a", OwnerID: "user-1", Status: health.StatusNeedsWater},
		{PlantID: "b", OwnerID: "user-2", Status: health.StatusNeedsWater},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/gardens/user-1/alerts?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AlertsResponse](t, rec)
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "a", resp.Alerts[0].PlantID)
	assert.Equal(t, 5, env.alerts.limit)

	rec = env.do(t, http.MethodGet, "/api/v1/gardens/user-3/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alerts":[]`)

	rec = env.do(t, http.MethodGet, "/api/v1/gardens/user-1/alerts?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRoutes(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/v1/handles", `{"handle":"@Ada","user_id":"user-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "ada", decode[HandleResponse](t, rec).Handle)

	rec = env.do(t, http.MethodPost, "/api/v1/handles", `{"handle":"ADA","user_id":"user-2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/handles", `{"handle":"a","user_id":"user-2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/handles", `{"handle":"ada_2","user_id":"user-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "a user holds one handle")

	rec = env.do(t, http.MethodGet, "/api/v1/handles/Ada", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", decode[HandleResponse](t, rec).UserID)

	rec = env.do(t, http.MethodGet, "/api/v1/handles/nobody", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/handles/ada/available", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[AvailabilityResponse](t, rec).Available)

	// rename without naming the old handle moves the current one
	rec = env.do(t, http.MethodPut, "/api/v1/users/user-1/handle", `{"handle":"ada_l"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/api/v1/handles/ada/available", "")
	assert.True(t, decode[AvailabilityResponse](t, rec).Available)

	rec = env.do(t, http.MethodGet, "/api/v1/users/user-1/handle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada_l", decode[HandleResponse](t, rec).Handle)

	rec = env.do(t, http.MethodPost, "/api/v1/handles", `{"handle":"ada","user_id":"user-2"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/v1/users/user-1/handle", `{"handle":"ada"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/users/user-1/handle", `{"handle":"ada_x","previous":"ada"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "cannot move off someone else's handle")

	rec = env.do(t, http.MethodGet, "/api/v1/handles?prefix=ADA", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ada", "ada_l"}, decode[SearchResponse](t, rec).Handles)

	rec = env.do(t, http.MethodDelete, "/api/v1/handles/ada", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/v1/handles/ada", "")
	assert.Equal(t, http.StatusNoContent, rec.Code, "release is idempotent")
}

func TestHandleStoreContentionIsUnavailable(t *testing.T) {
	env := setupTestEnvironment(t)
	env.kv.SetFault(func(context.Context) error { return kv.ErrContention })

	rec := env.do(t, http.MethodPost, "/api/v1/handles", `{"handle":"ada","user_id":"user-1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleLookupsAreRateLimited(t *testing.T) {
	env := setupTestEnvironment(t, WithRateLimit(RateLimit{PerSecond: 1, Burst: 2}))

	codes := make([]int, 0, 4)
	for range 4 {
		codes = append(codes, env.do(t, http.MethodGet, "/api/v1/handles/ada/available", "").Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])

	// claims are not limited
	rec := env.do(t, http.MethodPost, "/api/v1/handles", `{"handle":"ada","user_id":"user-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
