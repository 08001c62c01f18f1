// Package broadcast fans values out to independent, ordered subscriber queues.
//
// Publishing never blocks. Each subscriber drains its own queue with Next, one
// value at a time and in publish order. Cancelling a queue stops delivery at
// once: values still queued are discarded and Next returns ErrClosed.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/verdant-app/verdant/internal/errors"
)

// ErrClosed is returned by Next after the queue was cancelled or its hub closed
var ErrClosed = errors.NewStd("broadcast: queue closed")

// Mode selects how a queue treats values it has not yet handed out
type Mode int

const (
	// ModeAll keeps every value until it is consumed
	ModeAll Mode = iota
	// ModeDropOldest keeps at most Capacity values and discards the oldest on overflow
	ModeDropOldest
	// ModeLatest keeps only the newest value
	ModeLatest
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeDropOldest:
		return "drop-oldest"
	case ModeLatest:
		return "latest"
	default:
		return "unknown"
	}
}

// Options configure a subscription
type Options struct {
	Mode     Mode
	Capacity int // only used by ModeDropOldest
}

// Queue is one subscriber's ordered view of a hub
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	mode     Mode
	capacity int

	// cancelled stops delivery immediately; finished lets queued items drain first.
	cancelled bool
	finished  bool

	wake    chan struct{}
	dropped atomic.Uint64
	onClose func()
}

func newQueue[T any](opts Options) *Queue[T] {
	q := &Queue[T]{
		mode:     opts.Mode,
		capacity: opts.Capacity,
		wake:     make(chan struct{}, 1),
	}
	if q.mode == ModeLatest {
		q.capacity = 1
	}
	if q.mode == ModeDropOldest && q.capacity <= 0 {
		q.capacity = 1
	}
	return q
}

// push appends v according to the queue mode. It reports false when the queue
// no longer accepts values.
func (q *Queue[T]) push(v T) bool {
	q.mu.Lock()
	if q.cancelled || q.finished {
		q.mu.Unlock()
		return false
	}
	if q.mode != ModeAll && len(q.items) >= q.capacity {
		overflow := len(q.items) - q.capacity + 1
		clear(q.items[:overflow])
		q.items = q.items[overflow:]
		q.dropped.Add(uint64(overflow))
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return true
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available, the queue is closed or ctx is done.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	for {
		v, ok, err := q.pop()
		if ok || err != nil {
			return v, err
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.wake:
		}
	}
}

// TryNext returns the next value without blocking
func (q *Queue[T]) TryNext() (T, bool) {
	v, ok, _ := q.pop()
	return v, ok
}

func (q *Queue[T]) pop() (T, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.cancelled {
		return zero, false, ErrClosed
	}
	if len(q.items) == 0 {
		if q.finished {
			return zero, false, ErrClosed
		}
		return zero, false, nil
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v, true, nil
}

// Cancel unsubscribes the queue. Queued values are discarded and any blocked
// Next returns ErrClosed. Safe to call more than once.
func (q *Queue[T]) Cancel() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.cancelled = true
	q.items = nil
	onClose := q.onClose
	q.mu.Unlock()

	q.signal()
	if onClose != nil {
		onClose()
	}
}

// finish stops accepting values; queued values are still handed out.
func (q *Queue[T]) finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.signal()
}

// Done reports whether the queue was cancelled or finished
func (q *Queue[T]) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled || q.finished
}

// Len returns the number of values waiting
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many values were discarded on overflow
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
