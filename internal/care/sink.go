package care

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/verdant-app/verdant/internal/broadcast"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

// Sink receives care events, e.g. to record them or notify the owner
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string
	HandleEvent(ctx context.Context, ev Event) error
}

// LogSink writes every event to the log
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) HandleEvent(_ context.Context, ev Event) error {
	s.log.Info("care alert",
		logger.String("owner_id", ev.OwnerID),
		logger.String("plant_id", ev.PlantID),
		logger.String("plant_name", ev.PlantName),
		logger.String("status", ev.Status.String()),
		logger.Time("at", ev.At))
	return nil
}

// DispatcherStats are the dispatcher counters
type DispatcherStats struct {
	Received   uint64 `json:"received"`
	Delivered  uint64 `json:"delivered"`
	SinkErrors uint64 `json:"sink_errors"`
	Dropped    uint64 `json:"dropped"`
}

// Dispatcher drains an event subscription and hands every event to each sink.
// A failing or panicking sink does not affect the others.
type Dispatcher struct {
	log     logger.Logger
	metrics *metrics.GardenMetrics

	mu    sync.RWMutex
	sinks []Sink

	received  atomic.Uint64
	delivered atomic.Uint64
	errs      atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher for the given sinks
func NewDispatcher(log logger.Logger, m *metrics.GardenMetrics, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &Dispatcher{log: log, metrics: m, sinks: sinks}
}

// Register adds a sink
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Run dispatches events from q until ctx is done or q closes, then cancels q.
func (d *Dispatcher) Run(ctx context.Context, q *broadcast.Queue[Event]) error {
	defer q.Cancel()

	var seenDropped uint64
	for {
		ev, err := q.Next(ctx)
		if dropped := q.Dropped(); dropped > seenDropped {
			d.dropped.Add(dropped - seenDropped)
			d.metrics.RecordEventsDropped(dropped - seenDropped)
			d.log.Warn("care events dropped, dispatcher fell behind",
				logger.Uint64("dropped", dropped-seenDropped))
			seenDropped = dropped
		}
		switch {
		case err == nil:
			d.Dispatch(ctx, ev)
		case errors.Is(err, broadcast.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// Dispatch hands ev to every sink
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.received.Add(1)

	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, sink := range sinks {
		if err := d.deliver(ctx, sink, ev); err != nil {
			d.errs.Add(1)
			d.metrics.RecordSinkError(sink.Name())
			d.log.Error("care sink failed",
				logger.String("sink", sink.Name()),
				logger.String("plant_id", ev.PlantID),
				logger.Error(err))
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Errorf("sink panicked: %v", r)).
				Component("care").
				Category(errors.CategoryBroadcast).
				Context("sink", sink.Name()).
				Build()
		}
	}()
	return sink.HandleEvent(ctx, ev)
}

// Stats returns current counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Received:   d.received.Load(),
		Delivered:  d.delivered.Load(),
		SinkErrors: d.errs.Load(),
		Dropped:    d.dropped.Load(),
	}
}
