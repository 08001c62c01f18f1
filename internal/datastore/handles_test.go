package datastore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-app/verdant/internal/handles"
	"github.com/verdant-app/verdant/internal/kv"
)

func putKey(t *testing.T, s kv.Store, key, value string) {
	t.Helper()
	require.NoError(t, s.RunAtomic(t.Context(), func(tx kv.Txn) error {
		return tx.Put(key, value)
	}))
}

func TestHandleStorePutGetDelete(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))

	putKey(t, s, "handles/ada", "user-1")
	rec, ok, err := s.Get(t.Context(), "handles/ada")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-1", rec.Value)
	assert.Positive(t, rec.Version)

	putKey(t, s, "handles/ada", "user-2")
	rec2, _, err := s.Get(t.Context(), "handles/ada")
	require.NoError(t, err)
	assert.Equal(t, "user-2", rec2.Value)
	assert.Greater(t, rec2.Version, rec.Version)

	require.NoError(t, s.RunAtomic(t.Context(), func(tx kv.Txn) error { return tx.Delete("handles/ada") }))
	_, ok, err = s.Get(t.Context(), "handles/ada")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleStoreReadYourWrites(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))
	putKey(t, s, "k", "old")

	require.NoError(t, s.RunAtomic(t.Context(), func(tx kv.Txn) error {
		require.NoError(t, tx.Put("k", "new"))
		rec, ok, err := tx.Get("k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "new", rec.Value)
		require.NoError(t, tx.Delete("k"))
		_, ok, err = tx.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	_, ok, err := s.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleStoreAbortWritesNothing(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))

	err := s.RunAtomic(t.Context(), func(tx kv.Txn) error {
		_ = tx.Put("k", "v")
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	_, ok, _ := s.Get(t.Context(), "k")
	assert.False(t, ok)
}

func TestHandleStoreChangedReadCausesContention(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))
	putKey(t, s, "a", "1")

	err := s.RunAtomic(t.Context(), func(tx kv.Txn) error {
		if _, _, err := tx.Get("a"); err != nil {
			return err
		}
		putKey(t, s, "a", "concurrent")
		return tx.Put("b", "derived")
	})
	assert.ErrorIs(t, err, kv.ErrContention)
	_, ok, _ := s.Get(t.Context(), "b")
	assert.False(t, ok, "aborted transaction must not write")
}

func TestHandleStoreAbsentReadCausesContention(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))

	err := s.RunAtomic(t.Context(), func(tx kv.Txn) error {
		_, ok, err := tx.Get("claim")
		if err != nil || ok {
			return err
		}
		putKey(t, s, "claim", "someone-else")
		return tx.Put("claim", "me")
	})
	assert.ErrorIs(t, err, kv.ErrContention)

	rec, _, err := s.Get(t.Context(), "claim")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", rec.Value)
}

func TestHandleStoreRecreatedKeyIsNotTheSameVersion(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))
	putKey(t, s, "k", "user-1")

	err := s.RunAtomic(t.Context(), func(tx kv.Txn) error {
		if _, _, err := tx.Get("k"); err != nil {
			return err
		}
		require.NoError(t, s.RunAtomic(t.Context(), func(tx kv.Txn) error { return tx.Delete("k") }))
		putKey(t, s, "k", "user-2")
		return tx.Delete("k")
	})
	assert.ErrorIs(t, err, kv.ErrContention)

	rec, ok, err := s.Get(t.Context(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-2", rec.Value)
}

func TestHandleStoreScan(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))
	for _, k := range []string{"h/bob", "h/ada", "h/adam", "x/ada", "h/carl", "h/a_b", "h/axb"} {
		putKey(t, s, k, "v")
	}

	recs, err := s.Scan(t.Context(), "h/ad", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "h/ada", recs[0].Key)
	assert.Equal(t, "h/adam", recs[1].Key)

	// underscore is literal, not a LIKE wildcard
	recs, err = s.Scan(t.Context(), "h/a_", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "h/a_b", recs[0].Key)

	recs, err = s.Scan(t.Context(), "h/", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "h/a_b", recs[0].Key)
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a!_b!%c!!", escapeLike("a_b%c!"))
}

func TestHandleStoreConcurrentCreateExactlyOneWins(t *testing.T) {
	t.Parallel()
	s := NewHandleStore(openTestDB(t))

	const writers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range writers {
		wg.Go(func() {
			<-start
			err := s.RunAtomic(context.Background(), func(tx kv.Txn) error {
				_, ok, err := tx.Get("k")
				if err != nil {
					return err
				}
				if ok {
					return assert.AnError
				}
				return tx.Put("k", string(rune('a'+i)))
			})
			if err == nil {
				wins.Add(1)
			}
		})
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRegistryOverDatabase(t *testing.T) {
	t.Parallel()
	reg := handles.NewRegistry(NewHandleStore(openTestDB(t)), handles.Config{RetryBackoff: time.Millisecond},
		handles.WithLogger(quiet))
	ctx := t.Context()

	require.NoError(t, reg.Claim(ctx, "Ada", "user-1"))
	assert.ErrorIs(t, reg.Claim(ctx, "ADA", "user-2"), handles.ErrAlreadyTaken)

	require.NoError(t, reg.Rename(ctx, "ada", "ada_lovelace", "user-1"))
	owner, found, err := reg.Resolve(ctx, "Ada_Lovelace")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "user-1", owner)

	available, err := reg.IsAvailable(ctx, "ada")
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, reg.Claim(ctx, "ada", "user-2"))
	assert.ErrorIs(t, reg.Claim(ctx, "ada_2", "user-2"), handles.ErrHandleHeld)
	handle, found, err := reg.HandleOf(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ada", handle)

	err = reg.Rename(ctx, "ada_lovelace", "ada", "user-1")
	assert.ErrorIs(t, err, handles.ErrAlreadyTaken)
	owner, _, err = reg.Resolve(ctx, "ada_lovelace")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner, "failed rename keeps the old handle")

	matches, err := reg.Search(ctx, "ada", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ada", "ada_lovelace"}, matches)
}
