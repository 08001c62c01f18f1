// Package care watches garden snapshots and emits one event each time a
// plant newly enters the needs-water state.
package care

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verdant-app/verdant/internal/broadcast"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/garden"
	"github.com/verdant-app/verdant/internal/health"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

// DefaultEventBuffer bounds each event subscription
const DefaultEventBuffer = 64

// Event is emitted once per transition into the needs-water state
type Event struct {
	PlantID   string        `json:"plant_id"`
	PlantName string        `json:"plant_name"`
	OwnerID   string        `json:"owner_id"`
	Status    health.Status `json:"status"`
	Previous  health.Status `json:"previous"`
	At        time.Time     `json:"at"`
	Version   uint64        `json:"snapshot_version"`
}

// Stats are the detector counters
type Stats struct {
	Snapshots   uint64 `json:"snapshots"`
	Events      uint64 `json:"events"`
	Tracked     int    `json:"tracked"`
	Subscribers int    `json:"subscribers"`
}

// Detector diffs each snapshot against the one before it. Its only state is
// the previous status of every plant, keyed by plant id.
type Detector struct {
	log     logger.Logger
	metrics *metrics.GardenMetrics
	hub     *broadcast.Hub[Event]
	ownsHub bool

	// mu serializes Apply so every snapshot is compared with its predecessor
	mu       sync.Mutex
	previous map[string]health.Status

	snapshots atomic.Uint64
	events    atomic.Uint64
}

// Option configures a Detector
type Option func(*Detector)

func WithLogger(log logger.Logger) Option {
	return func(d *Detector) { d.log = log }
}

func WithMetrics(m *metrics.GardenMetrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithHub publishes events into a hub shared with other detectors
func WithHub(hub *broadcast.Hub[Event]) Option {
	return func(d *Detector) { d.hub = hub }
}

// NewDetector creates a detector with no previous snapshot
func NewDetector(opts ...Option) *Detector {
	d := &Detector{previous: make(map[string]health.Status)}
	for _, opt := range opts {
		opt(d)
	}
	if d.hub == nil {
		d.hub = broadcast.NewHub[Event]()
		d.ownsHub = true
	}
	if d.log == nil {
		d.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return d
}

// Apply compares snap with the previous snapshot, publishes an event for every
// plant that became NEEDS_WATER and makes snap the new previous snapshot.
// Plants missing from the previous snapshot count as not thirsty. Plants
// missing from snap are forgotten without an event.
func (d *Detector) Apply(snap garden.Snapshot) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []Event
	next := make(map[string]health.Status, len(snap.Plants))
	for i := range snap.Plants {
		p := &snap.Plants[i]
		status := p.Plant.Health
		next[p.ID] = status

		prev, seen := d.previous[p.ID]
		if !seen {
			prev = health.StatusUnknown
		}
		if !status.NeedsAttention() || prev.NeedsAttention() {
			continue
		}
		events = append(events, Event{
			PlantID:   p.ID,
			PlantName: p.Plant.Name,
			OwnerID:   p.OwnerID,
			Status:    status,
			Previous:  prev,
			At:        snap.TakenAt,
			Version:   snap.Version,
		})
	}
	d.previous = next
	d.snapshots.Add(1)

	for _, ev := range events {
		delivered := d.hub.Publish(ev)
		d.events.Add(1)
		d.metrics.RecordTransition(ev.Status.String())
		d.log.Info("plant needs water",
			logger.String("owner_id", ev.OwnerID),
			logger.String("plant_id", ev.PlantID),
			logger.String("previous", ev.Previous.String()),
			logger.Int("subscribers", delivered))
	}
	return events
}

// Run applies every snapshot from q in order until ctx is done or q closes,
// then cancels q.
func (d *Detector) Run(ctx context.Context, q *broadcast.Queue[garden.Snapshot]) error {
	defer q.Cancel()
	for {
		snap, err := q.Next(ctx)
		switch {
		case err == nil:
			d.Apply(snap)
		case errors.Is(err, broadcast.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// Subscribe attaches a bounded event queue. When the consumer falls behind the
// oldest pending event is dropped. capacity <= 0 selects DefaultEventBuffer.
func (d *Detector) Subscribe(capacity int) *broadcast.Queue[Event] {
	if capacity <= 0 {
		capacity = DefaultEventBuffer
	}
	return d.hub.Subscribe(broadcast.Options{Mode: broadcast.ModeDropOldest, Capacity: capacity})
}

// Reset forgets the previous snapshot
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.previous)
}

// Stats returns current counters
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	tracked := len(d.previous)
	d.mu.Unlock()
	return Stats{
		Snapshots:   d.snapshots.Load(),
		Events:      d.events.Load(),
		Tracked:     tracked,
		Subscribers: d.hub.Subscribers(),
	}
}

// Close ends event subscriptions when the detector owns its hub
func (d *Detector) Close() {
	if d.ownsHub {
		d.hub.Close()
	}
}

// StartHook gives every garden store its own detector publishing into hub.
// The detector subscribes before the store publishes so no snapshot is missed.
func StartHook(hub *broadcast.Hub[Event], opts ...Option) garden.StartHook {
	return func(store *garden.Store) func(context.Context) {
		q := store.Subscribe(broadcast.Options{Mode: broadcast.ModeAll})
		d := NewDetector(append(slices.Clone(opts), WithHub(hub))...)
		return func(ctx context.Context) {
			if err := d.Run(ctx, q); err != nil {
				d.log.Error("care detector stopped",
					logger.String("owner_id", store.Owner()),
					logger.Error(err))
			}
		}
	}
}
