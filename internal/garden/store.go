package garden

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdant-app/verdant/internal/broadcast"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/health"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

const (
	DefaultRecomputeInterval = 15 * time.Minute
	DefaultOpTimeout         = 10 * time.Second
	relistenDelay            = 5 * time.Second
)

// Store is the owned plant collection of one user. Every snapshot it
// publishes, from an explicit read or a backend push, carries health freshly
// derived by the calculator.
type Store struct {
	owner     string
	backend   Backend
	calc      health.Calculator
	clock     func() time.Time
	newID     func() string
	log       logger.Logger
	metrics   *metrics.GardenMetrics
	opTimeout time.Duration
	recompute time.Duration

	hub *broadcast.Hub[Snapshot]

	// mu serializes publication so subscribers see strictly increasing versions
	mu      sync.Mutex
	raw     []OwnedPlant
	current *Snapshot
	version uint64
	closed  bool

	// applied is the revision of the last backend collection published,
	// written the newest revision produced by this store's own writes
	applied uint64
	written uint64
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides time.Now
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithCalculator overrides the health thresholds
func WithCalculator(c health.Calculator) Option {
	return func(s *Store) { s.calc = c }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

func WithMetrics(m *metrics.GardenMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithIDGenerator overrides uuid generation for new plants
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithOpTimeout bounds every backend call
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithRecomputeInterval sets how often Run re-derives health without a backend change
func WithRecomputeInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.recompute = d
		}
	}
}

// NewStore creates the store for one owner
func NewStore(ownerID string, backend Backend, opts ...Option) (*Store, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errors.Newf("owner id is required").
			Component("garden").
			Category(errors.CategoryValidation).
			Build()
	}
	if backend == nil {
		return nil, errors.Newf("backend is required").
			Component("garden").
			Category(errors.CategoryConfiguration).
			Build()
	}
	s := &Store{
		owner:     ownerID,
		backend:   backend,
		calc:      health.Default,
		clock:     time.Now,
		newID:     uuid.NewString,
		opTimeout: DefaultOpTimeout,
		recompute: DefaultRecomputeInterval,
		hub:       broadcast.NewHub[Snapshot](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	s.log = s.log.With(logger.String("owner_id", ownerID))
	return s, nil
}

// Owner returns the owner id
func (s *Store) Owner() string {
	return s.owner
}

// Subscribe attaches a snapshot queue. Transition detection needs
// broadcast.ModeAll; display code can use broadcast.ModeLatest.
func (s *Store) Subscribe(opts broadcast.Options) *broadcast.Queue[Snapshot] {
	return s.hub.Subscribe(opts)
}

// Current returns the last published snapshot
func (s *Store) Current() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Snapshot{}, false
	}
	return cloneSnapshot(s.current), true
}

// Refresh reads the collection from the backend and publishes it.
// When the backend is unavailable the last known collection is republished,
// flagged FromCache, and returned together with the error.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	coll, err := s.backend.Read(ctx, s.owner)
	if err != nil {
		err = s.classify(err, "read")
		s.metrics.RecordStoreReadFailure()
		if !errors.Is(err, ErrUnavailable) {
			return Snapshot{}, err
		}
		snap, ok := s.republishCached()
		if !ok {
			return Snapshot{}, err
		}
		s.log.Warn("plant store unavailable, serving cached snapshot",
			logger.Uint64("version", snap.Version),
			logger.Error(err))
		return snap, err
	}
	return s.publishCollection(coll)
}

// Create saves a new plant to the garden. A zero wateringStart means now.
func (s *Store) Create(ctx context.Context, plant Plant, wateringStart time.Time) (OwnedPlant, error) {
	now := s.clock()
	if wateringStart.IsZero() {
		wateringStart = now
	}
	owned := OwnedPlant{
		ID:          s.newID(),
		OwnerID:     s.owner,
		Plant:       plant,
		LastWatered: wateringStart,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := owned.Validate(); err != nil {
		return OwnedPlant{}, err
	}
	owned = s.derive(owned, now)

	rev, err := s.write(ctx, owned)
	if err != nil {
		return OwnedPlant{}, err
	}
	s.applyLocal(rev, func(raw []OwnedPlant) []OwnedPlant {
		return append(raw, owned)
	})
	s.log.Info("plant added",
		logger.String("plant_id", owned.ID),
		logger.String("name", owned.Plant.Name))
	return owned, nil
}

// Get returns a plant with freshly derived health
func (s *Store) Get(ctx context.Context, id string) (OwnedPlant, error) {
	snap, err := s.Refresh(ctx)
	if err != nil {
		return OwnedPlant{}, err
	}
	p, ok := snap.Lookup(id)
	if !ok {
		return OwnedPlant{}, notFound(s.owner, id)
	}
	return p, nil
}

// Update applies mutator to a copy of the plant and persists the result.
// The id and owner cannot be changed.
func (s *Store) Update(ctx context.Context, id string, mutator func(*OwnedPlant) error) (OwnedPlant, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return OwnedPlant{}, err
	}

	next := current.Clone()
	if err := mutator(&next); err != nil {
		return OwnedPlant{}, err
	}
	next.ID, next.OwnerID, next.CreatedAt = current.ID, current.OwnerID, current.CreatedAt
	next.UpdatedAt = s.clock()
	if err := next.Validate(); err != nil {
		return OwnedPlant{}, err
	}
	next = s.derive(next, next.UpdatedAt)

	rev, err := s.write(ctx, next)
	if err != nil {
		return OwnedPlant{}, err
	}
	s.applyLocal(rev, func(raw []OwnedPlant) []OwnedPlant {
		i := slices.IndexFunc(raw, func(p OwnedPlant) bool { return p.ID == id })
		if i < 0 {
			return append(raw, next)
		}
		raw[i] = next
		return raw
	})
	return next, nil
}

// Water records a watering at the given time
func (s *Store) Water(ctx context.Context, id string, at time.Time) (OwnedPlant, error) {
	if at.IsZero() {
		at = s.clock()
	}
	p, err := s.Update(ctx, id, func(p *OwnedPlant) error { return p.Water(at) })
	if err != nil {
		return OwnedPlant{}, err
	}
	s.log.Debug("plant watered",
		logger.String("plant_id", id),
		logger.Time("at", at),
		logger.String("health", p.Plant.Health.String()))
	return p, nil
}

// Delete removes a plant from the garden
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	rev, err := s.backend.Delete(ctx, s.owner, id)
	if err != nil {
		return s.classify(err, "delete")
	}
	s.applyLocal(rev, func(raw []OwnedPlant) []OwnedPlant {
		return slices.DeleteFunc(raw, func(p OwnedPlant) bool { return p.ID == id })
	})
	s.log.Info("plant removed", logger.String("plant_id", id))
	return nil
}

// Run consumes backend pushes and periodically re-derives health until ctx is
// done. A closed listen channel is re-opened after a short delay.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.recompute)
	defer ticker.Stop()

	pushes := s.listen(ctx)
	if pushes != nil {
		s.reconcile(ctx)
	}
	var retry <-chan time.Time

	for {
		if pushes == nil && retry == nil {
			retry = time.After(relistenDelay)
		}
		select {
		case <-ctx.Done():
			return nil
		case coll, ok := <-pushes:
			if !ok {
				pushes = nil
				if ctx.Err() == nil {
					s.log.Warn("plant store listener closed, reconnecting")
				}
				continue
			}
			if _, err := s.publishCollection(coll); err != nil {
				s.log.Warn("failed to publish pushed collection", logger.Error(err))
			}
		case <-retry:
			retry = nil
			pushes = s.listen(ctx)
			if pushes != nil {
				s.reconcile(ctx)
			}
		case <-ticker.C:
			s.recomputeIfChanged()
		}
	}
}

// Close ends every subscription after queued snapshots are drained
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
}

// reconcile reads once after (re)listening; pushes only arrive on change.
func (s *Store) reconcile(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Debug("reconcile read failed", logger.Error(err))
	}
}

func (s *Store) listen(ctx context.Context) <-chan Collection {
	ch, err := s.backend.Listen(ctx, s.owner)
	if err != nil {
		s.log.Warn("failed to listen for plant changes", logger.Error(s.classify(err, "listen")))
		return nil
	}
	return ch
}

func (s *Store) write(ctx context.Context, p OwnedPlant) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	rev, err := s.backend.Write(ctx, p)
	if err != nil {
		return 0, s.classify(err, "write")
	}
	return rev, nil
}

// classify passes not-found and validation errors through and reports
// timeouts as unavailability.
func (s *Store) classify(err error, op string) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable), errors.Is(err, ErrInvalidPlant):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.New(fmt.Errorf("%w: %s timed out: %w", ErrUnavailable, op, err)).
			Component("garden").
			Category(errors.CategoryTimeout).
			Context("operation", "plant_"+op).
			Build()
	case errors.Is(err, context.Canceled):
		return err
	default:
		return errors.New(fmt.Errorf("plant store %s: %w", op, err)).
			Component("garden").
			Category(errors.CategoryDatabase).
			Context("operation", "plant_"+op).
			Build()
	}
}

// applyLocal updates the last known collection after a successful write of
// revision rev and publishes it without waiting for the backend push. A
// collection already published at rev or later includes the write.
func (s *Store) applyLocal(rev uint64, fn func([]OwnedPlant) []OwnedPlant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev != 0 && rev <= s.applied {
		return
	}
	s.written = max(s.written, rev)
	if _, err := s.publishLocked(fn(cloneAll(s.raw)), false); err != nil {
		s.log.Debug("local publish skipped", logger.Error(err))
	}
}

func (s *Store) republishCached() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Snapshot{}, false
	}
	snap, err := s.publishLocked(s.raw, true)
	return snap, err == nil
}

// recomputeIfChanged republishes when the passage of time alone moved any
// plant to a different status.
func (s *Store) recomputeIfChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	now := s.clock()
	changed := slices.ContainsFunc(s.current.Plants, func(p OwnedPlant) bool {
		return s.calc.Compute(p.LastWatered, p.Plant.WateringFrequencyDays, p.PreviousLastWatered, now) != p.Plant.Health
	})
	if !changed {
		return
	}
	if _, err := s.publishLocked(s.raw, s.current.FromCache); err != nil {
		s.log.Debug("recompute publish skipped", logger.Error(err))
	}
}

// publishCollection publishes a backend collection unless the store already
// shows newer state. A stale offline read republishes the current plants
// flagged FromCache instead.
func (s *Store) publishCollection(coll Collection) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.supersedesLocked(coll) {
		if s.closed {
			return Snapshot{}, ErrStoreClosed
		}
		if coll.FromCache {
			return s.publishLocked(s.raw, true)
		}
		s.log.Trace("stale collection skipped",
			logger.Uint64("revision", coll.Revision),
			logger.Uint64("applied", s.applied))
		return cloneSnapshot(s.current), nil
	}
	if coll.Revision > 0 {
		s.applied = coll.Revision
	}
	return s.publishLocked(coll.Plants, coll.FromCache)
}

// supersedesLocked reports whether coll may replace the published state.
// Unversioned collections always do. s.mu must be held.
func (s *Store) supersedesLocked(coll Collection) bool {
	if coll.Revision == 0 || s.current == nil {
		return true
	}
	if coll.Revision < s.written {
		return false
	}
	if coll.Revision > s.applied {
		return true
	}
	// same state as published, but live where the published one came from cache
	return coll.Revision == s.applied && s.current.FromCache && !coll.FromCache
}

// publishLocked derives health for every plant and hands the snapshot to
// subscribers. s.mu must be held.
func (s *Store) publishLocked(plants []OwnedPlant, fromCache bool) (Snapshot, error) {
	if s.closed {
		return Snapshot{}, ErrStoreClosed
	}

	now := s.clock()
	raw := cloneAll(plants)
	sortPlants(raw)
	derived := make([]OwnedPlant, len(raw))
	for i := range raw {
		derived[i] = s.derive(raw[i], now)
	}

	s.version++
	snap := &Snapshot{
		OwnerID:   s.owner,
		Version:   s.version,
		Plants:    derived,
		TakenAt:   now,
		FromCache: fromCache,
	}
	s.raw = raw
	s.current = snap

	delivered := s.hub.Publish(cloneSnapshot(snap))
	s.metrics.RecordSnapshot(statusCounts(snap), fromCache)
	s.log.Trace("snapshot published",
		logger.Uint64("version", snap.Version),
		logger.Int("plants", len(derived)),
		logger.Int("subscribers", delivered),
		logger.Bool("from_cache", fromCache))
	return cloneSnapshot(snap), nil
}

func statusCounts(snap *Snapshot) map[string]int {
	counts := make(map[string]int)
	for status, n := range snap.CountByStatus() {
		counts[status.String()] = n
	}
	return counts
}

// derive overwrites the stored health fields, which are never trusted
func (s *Store) derive(p OwnedPlant, now time.Time) OwnedPlant {
	p = p.Clone()
	status, reason := s.calc.Evaluate(p.LastWatered, p.Plant.WateringFrequencyDays, p.PreviousLastWatered, now)
	if reason != nil {
		s.log.Trace("health unknown",
			logger.String("plant_id", p.ID),
			logger.Error(reason))
	}
	p.Plant.Health = status
	p.Plant.HealthDescription = status.Description()
	return p
}

func cloneAll(plants []OwnedPlant) []OwnedPlant {
	out := make([]OwnedPlant, len(plants))
	for i := range plants {
		out[i] = plants[i].Clone()
	}
	return out
}

func cloneSnapshot(s *Snapshot) Snapshot {
	c := *s
	c.Plants = cloneAll(s.Plants)
	return c
}
