package garden

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

// StartHook runs synchronously when a store is created, before the store
// starts publishing, so it can subscribe without missing a snapshot. The
// returned function, if any, runs in its own goroutine until ctx is done.
type StartHook func(store *Store) func(ctx context.Context)

// Manager owns one Store per owner, created on first use
type Manager struct {
	backend Backend
	opts    []Option
	log     logger.Logger
	metrics *metrics.GardenMetrics

	mu      sync.Mutex
	hooks   []StartHook
	stores  map[string]*managedStore
	baseCtx context.Context
	wg      sync.WaitGroup
}

type managedStore struct {
	store  *Store
	cancel context.CancelFunc
}

// NewManager creates a manager; opts apply to every store it creates
func NewManager(backend Backend, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Manager{
		backend: backend,
		opts:    opts,
		log:     log,
		stores:  make(map[string]*managedStore),
	}
}

// SetMetrics records snapshot metrics for stores created after the call
func (m *Manager) SetMetrics(gm *metrics.GardenMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = gm
	m.opts = append(m.opts, WithMetrics(gm))
}

// OnStart registers a hook for stores created after the call
func (m *Manager) OnStart(hook StartHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Start makes the manager run every store, existing and future, under ctx.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseCtx = ctx
	for _, ms := range m.stores {
		if ms.cancel == nil {
			m.startLocked(ms)
		}
	}
}

// Store returns the store for ownerID, creating it if needed
func (m *Manager) Store(ownerID string) (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.stores[ownerID]; ok {
		return ms.store, nil
	}

	opts := append(slices.Clone(m.opts), WithLogger(m.log))
	store, err := NewStore(ownerID, m.backend, opts...)
	if err != nil {
		return nil, err
	}
	ms := &managedStore{store: store}
	m.stores[ownerID] = ms
	m.metrics.SetStoresLoaded(len(m.stores))
	if m.baseCtx != nil {
		m.startLocked(ms)
	}
	return store, nil
}

func (m *Manager) startLocked(ms *managedStore) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	ms.cancel = cancel

	for _, hook := range m.hooks {
		if run := hook(ms.store); run != nil {
			m.wg.Go(func() { run(ctx) })
		}
	}
	m.wg.Go(func() {
		if err := ms.store.Run(ctx); err != nil {
			m.log.Error("plant store stopped", logger.String("owner_id", ms.store.Owner()), logger.Error(err))
		}
	})
	m.log.Debug("plant store started", logger.String("owner_id", ms.store.Owner()))
}

// Owners returns the owners with a loaded store
func (m *Manager) Owners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.stores))
}

// Stop cancels every store, closes their subscriptions and waits for the
// goroutines started by Start and the hooks.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.baseCtx = nil
	for _, ms := range m.stores {
		if ms.cancel != nil {
			ms.cancel()
		}
		ms.store.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()
}
