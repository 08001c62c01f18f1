package broadcast

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time view of hub counters
type Stats struct {
	Published   uint64 // values passed to Publish
	Delivered   uint64 // queue insertions
	Undelivered uint64 // values published while no subscriber was attached
	Dropped     uint64 // values discarded by bounded queues, including cancelled ones
	Subscribers int
}

// Hub delivers every published value to all current subscribers
type Hub[T any] struct {
	mu     sync.Mutex
	queues []*Queue[T]
	closed bool

	published   atomic.Uint64
	delivered   atomic.Uint64
	undelivered atomic.Uint64
	dropped     atomic.Uint64
}

// NewHub creates an empty hub
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscribe attaches a new queue. Values published before the call are not
// replayed. Subscribing to a closed hub returns an already finished queue.
func (h *Hub[T]) Subscribe(opts Options) *Queue[T] {
	q := newQueue[T](opts)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		q.finish()
		return q
	}
	q.onClose = func() { h.remove(q) }
	h.queues = append(h.queues, q)
	return q
}

// Publish hands v to every subscriber and returns how many accepted it.
// It never blocks on a slow subscriber. Publishing is serialized so all
// subscribers observe the same order.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.published.Add(1)
	if h.closed {
		h.undelivered.Add(1)
		return 0
	}

	delivered := 0
	active := h.queues[:0]
	for _, q := range h.queues {
		if !q.push(v) {
			continue
		}
		active = append(active, q)
		delivered++
	}
	clear(h.queues[len(active):])
	h.queues = active

	if delivered == 0 {
		h.undelivered.Add(1)
	}
	h.delivered.Add(uint64(delivered))
	return delivered
}

// remove detaches a cancelled queue and folds its drop count into the hub stats
func (h *Hub[T]) remove(q *Queue[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := slices.Index(h.queues, q); i >= 0 {
		h.queues = slices.Delete(h.queues, i, i+1)
	}
	h.dropped.Add(q.Dropped())
}

// Subscribers returns the number of attached queues
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues)
}

// Close finishes every queue. Subscribers drain what is already queued and then
// see ErrClosed. Later publishes are counted as undelivered.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, q := range h.queues {
		q.finish()
	}
	h.queues = nil
}

// Stats returns current counters
func (h *Hub[T]) Stats() Stats {
	h.mu.Lock()
	dropped := h.dropped.Load()
	for _, q := range h.queues {
		dropped += q.Dropped()
	}
	subscribers := len(h.queues)
	h.mu.Unlock()

	return Stats{
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Undelivered: h.undelivered.Load(),
		Dropped:     dropped,
		Subscribers: subscribers,
	}
}
