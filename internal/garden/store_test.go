package garden

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/verdant-app/verdant/internal/broadcast"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/health"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) DaysAgo(days float64) time.Time {
	return c.Now().Add(-time.Duration(days * 24 * float64(time.Hour)))
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("p%d", n.Add(1)) }
}

func newTestStore(t *testing.T, backend Backend, clock *testClock) *Store {
	t.Helper()
	s, err := NewStore("user-1", backend,
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
		WithOpTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func fern(freq int) Plant {
	return Plant{Name: "Boston Fern", ScientificName: "Nephrolepis exaltata", WateringFrequencyDays: freq, Recognized: true}
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStore(" ", NewMemoryBackend())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = NewStore("user-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestCreateDerivesHealth(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	p, err := s.Create(t.Context(), fern(7), clock.DaysAgo(8))
	require.NoError(t, err)

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "user-1", p.OwnerID)
	assert.Equal(t, health.StatusSlightlyDry, p.Plant.Health)
	assert.Equal(t, health.StatusSlightlyDry.Description(), p.Plant.HealthDescription)
	assert.Nil(t, p.PreviousLastWatered)

	snap, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Version)
	require.Len(t, snap.Plants, 1)
	assert.Equal(t, health.StatusSlightlyDry, snap.Plants[0].Plant.Health)
}

func TestCreateDefaultsWateringStartToNow(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	p, err := s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), p.LastWatered)
	assert.Equal(t, health.StatusHealthy, p.Plant.Health)
}

func TestCreateRejectsInvalidPlant(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	_, err := s.Create(t.Context(), Plant{WateringFrequencyDays: 7}, time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPlant)

	_, ok := s.Current()
	assert.False(t, ok, "nothing should be published for a rejected plant")
}

func TestCreateAllowsUnknownSchedule(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	p, err := s.Create(t.Context(), Plant{Name: "Mystery succulent"}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, health.StatusUnknown, p.Plant.Health)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	_, err := s.Get(t.Context(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestStoredHealthIsNeverTrusted(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	backend := NewMemoryBackend()
	stale := fern(7)
	stale.Health = health.StatusHealthy
	stale.HealthDescription = "looking great"
	backend.Seed(OwnedPlant{
		ID:          "seeded",
		OwnerID:     "user-1",
		Plant:       stale,
		LastWatered: clock.DaysAgo(30),
		CreatedAt:   clock.DaysAgo(60),
	})
	s := newTestStore(t, backend, clock)

	p, err := s.Get(t.Context(), "seeded")
	require.NoError(t, err)
	assert.Equal(t, health.StatusSeverelyDry, p.Plant.Health)
	assert.Equal(t, health.StatusSeverelyDry.Description(), p.Plant.HealthDescription)
}

func TestWaterShiftsHistory(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	created, err := s.Create(t.Context(), fern(10), clock.DaysAgo(9))
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, created.Plant.Health)

	watered, err := s.Water(t.Context(), created.ID, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, watered.PreviousLastWatered)
	assert.Equal(t, created.LastWatered, *watered.PreviousLastWatered)
	assert.Equal(t, clock.Now(), watered.LastWatered)
	assert.Equal(t, health.StatusHealthy, watered.Plant.Health)

	// a second watering an hour later is far too soon
	again, err := s.Water(t.Context(), created.ID, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, health.StatusSeverelyOverwatered, again.Plant.Health)
	assert.Equal(t, created.CreatedAt, again.CreatedAt)
}

func TestWaterRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	p, err := s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)

	_, err = s.Water(t.Context(), p.ID, clock.DaysAgo(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWateringOutOfOrder)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	got, err := s.Get(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.LastWatered, got.LastWatered)
}

func TestUpdateKeepsIdentity(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	p, err := s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	updated, err := s.Update(t.Context(), p.ID, func(op *OwnedPlant) error {
		op.ID = "hijacked"
		op.OwnerID = "someone-else"
		op.Plant.Location = "bathroom"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, updated.ID)
	assert.Equal(t, "user-1", updated.OwnerID)
	assert.Equal(t, "bathroom", updated.Plant.Location)
	assert.Equal(t, clock.Now(), updated.UpdatedAt)

	mutatorErr := errors.NewStd("nope")
	_, err = s.Update(t.Context(), p.ID, func(*OwnedPlant) error { return mutatorErr })
	assert.ErrorIs(t, err, mutatorErr)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	p, err := s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)
	require.NoError(t, s.Delete(t.Context(), p.ID))

	snap, ok := s.Current()
	require.True(t, ok)
	assert.Empty(t, snap.Plants)

	err = s.Delete(t.Context(), p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshServesCacheWhenUnavailable(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, clock)

	backend.SetOffline(true)
	_, err := s.Refresh(t.Context())
	require.ErrorIs(t, err, ErrUnavailable, "no snapshot to fall back on yet")

	backend.SetOffline(false)
	_, err = s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)

	backend.SetOffline(true)
	clock.Advance(8 * 24 * time.Hour)
	snap, err := s.Refresh(t.Context())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, snap.FromCache)
	require.Len(t, snap.Plants, 1)
	assert.Equal(t, health.StatusSlightlyDry, snap.Plants[0].Plant.Health, "cached plants are re-derived too")

	backend.SetOffline(false)
	snap, err = s.Refresh(t.Context())
	require.NoError(t, err)
	assert.False(t, snap.FromCache)
}

func TestWriteFailsWhenUnavailable(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, clock)
	backend.SetOffline(true)

	_, err := s.Create(t.Context(), fern(7), time.Time{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

type slowBackend struct {
	*MemoryBackend
}

func (b slowBackend) Read(ctx context.Context, _ string) (Collection, error) {
	<-ctx.Done()
	return Collection{}, ctx.Err()
}

func TestTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s, err := NewStore("user-1", slowBackend{NewMemoryBackend()},
		WithClock(clock.Now),
		WithOpTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Refresh(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
}

func TestSubscribersSeeIncreasingVersions(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)
	q := s.Subscribe(broadcast.Options{Mode: broadcast.ModeAll})

	for range 3 {
		_, err := s.Create(t.Context(), fern(7), time.Time{})
		require.NoError(t, err)
	}

	for i := 1; i <= 3; i++ {
		snap, ok := q.TryNext()
		require.True(t, ok)
		assert.Equal(t, uint64(i), snap.Version)
		assert.Len(t, snap.Plants, i)
		assert.Equal(t, "user-1", snap.OwnerID)
	}
	_, ok := q.TryNext()
	assert.False(t, ok)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)
	q := s.Subscribe(broadcast.Options{Mode: broadcast.ModeAll})

	p, err := s.Create(t.Context(), fern(7), clock.DaysAgo(1))
	require.NoError(t, err)
	_, err = s.Water(t.Context(), p.ID, time.Time{})
	require.NoError(t, err)

	first, ok := q.TryNext()
	require.True(t, ok)
	first.Plants[0].Plant.Name = "mutated"

	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "Boston Fern", current.Plants[0].Plant.Name)
	require.NotNil(t, current.Plants[0].PreviousLastWatered)
	*current.Plants[0].PreviousLastWatered = time.Time{}

	again, ok := s.Current()
	require.True(t, ok)
	assert.False(t, again.Plants[0].PreviousLastWatered.IsZero())
}

func TestPlantsOrderedByCreation(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	backend := NewMemoryBackend()
	backend.Seed(
		OwnedPlant{ID: "b", OwnerID: "user-1", Plant: fern(7), LastWatered: clock.Now(), CreatedAt: clock.DaysAgo(1)},
		OwnedPlant{ID: "a", OwnerID: "user-1", Plant: fern(7), LastWatered: clock.Now(), CreatedAt: clock.DaysAgo(1)},
		OwnedPlant{ID: "c", OwnerID: "user-1", Plant: fern(7), LastWatered: clock.Now(), CreatedAt: clock.DaysAgo(3)},
	)
	s := newTestStore(t, backend, clock)

	snap, err := s.Refresh(t.Context())
	require.NoError(t, err)
	ids := make([]string, 0, len(snap.Plants))
	for _, p := range snap.Plants {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestRecomputeIfChanged(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)
	q := s.Subscribe(broadcast.Options{Mode: broadcast.ModeAll})

	_, err := s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)
	_, _ = q.TryNext()

	clock.Advance(time.Hour)
	s.recomputeIfChanged()
	assert.Zero(t, q.Len(), "status unchanged, nothing to publish")

	clock.Advance(8 * 24 * time.Hour)
	s.recomputeIfChanged()
	snap, ok := q.TryNext()
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, health.StatusSlightlyDry, snap.Plants[0].Plant.Health)
}

func TestRunAppliesBackendPushes(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, clock)
	q := s.Subscribe(broadcast.Options{Mode: broadcast.ModeAll})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// initial reconcile publishes the empty garden
	first, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, first.Plants)

	// a write from another device arrives through the listener
	_, err = backend.Write(ctx, OwnedPlant{
		ID:          "remote",
		OwnerID:     "user-1",
		Plant:       fern(7),
		LastWatered: clock.DaysAgo(20),
		CreatedAt:   clock.DaysAgo(20),
	})
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	pushed, err := q.Next(waitCtx)
	require.NoError(t, err)
	require.Len(t, pushed.Plants, 1)
	assert.Equal(t, health.StatusSeverelyDry, pushed.Plants[0].Plant.Health)
	assert.Greater(t, pushed.Version, first.Version)

	cancel()
	require.NoError(t, <-done)
}

func TestCloseFinishesSubscribers(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	s := newTestStore(t, NewMemoryBackend(), clock)
	q := s.Subscribe(broadcast.Options{Mode: broadcast.ModeAll})

	_, err := s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)
	s.Close()

	_, err = q.Next(t.Context())
	require.NoError(t, err, "queued snapshot still delivered")
	_, err = q.Next(t.Context())
	assert.ErrorIs(t, err, broadcast.ErrClosed)

	_, err = s.publishCollection(Collection{})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestStaleCollectionIsSkipped(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, clock)
	q := s.Subscribe(broadcast.Options{Mode: broadcast.ModeAll})

	// one day late on a one day schedule: NEEDS_WATER
	p, err := s.Create(t.Context(), fern(1), clock.DaysAgo(2))
	require.NoError(t, err)
	require.Equal(t, health.StatusNeedsWater, p.Plant.Health)
	beforeWater, err := backend.Read(t.Context(), "user-1")
	require.NoError(t, err)

	_, err = s.Water(t.Context(), p.ID, time.Time{})
	require.NoError(t, err)
	latest, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, latest.Plants[0].Plant.Health)
	for q.Len() > 0 {
		_, _ = q.TryNext()
	}

	// a push carrying the state before the watering arrives late
	snap, err := s.publishCollection(beforeWater)
	require.NoError(t, err)
	assert.Equal(t, latest.Version, snap.Version)
	assert.Equal(t, health.StatusHealthy, snap.Plants[0].Plant.Health)
	assert.Zero(t, q.Len(), "older collection must not be published")

	// the push for the watering itself is current and is published
	current, err := backend.Read(t.Context(), "user-1")
	require.NoError(t, err)
	snap, err = s.publishCollection(current)
	require.NoError(t, err)
	assert.Greater(t, snap.Version, latest.Version)
	assert.Equal(t, health.StatusHealthy, snap.Plants[0].Plant.Health)

	// and is not applied twice
	_, err = s.publishCollection(current)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestStaleOfflineReadStillFlagsCache(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, clock)

	_, err := s.Create(t.Context(), fern(7), time.Time{})
	require.NoError(t, err)
	coll, err := backend.Read(t.Context(), "user-1")
	require.NoError(t, err)
	_, err = s.Refresh(t.Context())
	require.NoError(t, err)

	coll.FromCache = true
	snap, err := s.publishCollection(coll)
	require.NoError(t, err)
	assert.True(t, snap.FromCache)
	require.Len(t, snap.Plants, 1)

	// reconnecting at the same revision clears the flag
	snap, err = s.Refresh(t.Context())
	require.NoError(t, err)
	assert.False(t, snap.FromCache)
}
