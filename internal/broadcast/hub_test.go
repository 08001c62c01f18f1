package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain[T any](t *testing.T, q *Queue[T]) []T {
	t.Helper()
	var out []T
	for {
		v, ok := q.TryNext()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestPublishOrderAll(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	a := hub.Subscribe(Options{Mode: ModeAll})
	b := hub.Subscribe(Options{Mode: ModeAll})

	for i := range 1000 {
		assert.Equal(t, 2, hub.Publish(i))
	}

	want := make([]int, 1000)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, drain(t, a))
	assert.Equal(t, want, drain(t, b))
}

func TestDropOldestKeepsNewest(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	q := hub.Subscribe(Options{Mode: ModeDropOldest, Capacity: 3})
	for i := 1; i <= 5; i++ {
		hub.Publish(i)
	}

	assert.Equal(t, []int{3, 4, 5}, drain(t, q))
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, uint64(2), hub.Stats().Dropped)
}

func TestLatestCoalesces(t *testing.T) {
	t.Parallel()

	hub := NewHub[string]()
	q := hub.Subscribe(Options{Mode: ModeLatest})
	hub.Publish("a")
	hub.Publish("b")
	hub.Publish("c")

	assert.Equal(t, []string{"c"}, drain(t, q))
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	assert.Equal(t, 0, hub.Publish(1))

	q := hub.Subscribe(Options{Mode: ModeAll})
	hub.Publish(2)
	assert.Equal(t, []int{2}, drain(t, q), "earlier values are not replayed")

	stats := hub.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Undelivered)
	assert.Equal(t, uint64(1), stats.Delivered)
}

func TestCancelStopsDeliveryImmediately(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	q := hub.Subscribe(Options{Mode: ModeAll})
	hub.Publish(1)
	hub.Publish(2)

	q.Cancel()
	q.Cancel()

	_, err := q.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, hub.Publish(3))
	assert.Equal(t, 0, hub.Subscribers())
	assert.Equal(t, 0, q.Len())
}

func TestCancelUnblocksNext(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	q := hub.Subscribe(Options{Mode: ModeAll})

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Cancel")
	}
}

func TestNextHonoursContext(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	q := hub.Subscribe(Options{Mode: ModeAll})
	defer q.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenEnds(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	q := hub.Subscribe(Options{Mode: ModeAll})
	hub.Publish(1)
	hub.Publish(2)
	hub.Close()
	hub.Close()

	ctx := context.Background()
	v, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	_, err = q.Next(ctx)
	require.ErrorIs(t, err, ErrClosed)

	late := hub.Subscribe(Options{})
	assert.True(t, late.Done())
	assert.Equal(t, 0, hub.Publish(3))
}

func TestConcurrentPublishersKeepCommonOrder(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	a := hub.Subscribe(Options{Mode: ModeAll})
	b := hub.Subscribe(Options{Mode: ModeAll})

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				hub.Publish(w*1000 + i)
			}
		}()
	}

	consumed := make(chan []int, 1)
	go func() {
		var got []int
		for len(got) < 1600 {
			v, err := a.Next(context.Background())
			if err != nil {
				break
			}
			got = append(got, v)
		}
		consumed <- got
	}()

	wg.Wait()
	gotA := <-consumed
	gotB := drain(t, b)

	require.Len(t, gotA, 1600)
	assert.Equal(t, gotA, gotB, "subscribers must observe the same order")

	last := map[int]int{}
	for _, v := range gotA {
		w, i := v/1000, v%1000
		if prev, ok := last[w]; ok {
			require.Greater(t, i, prev, "per-publisher order must be preserved")
		}
		last[w] = i
	}
}
