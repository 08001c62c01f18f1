package kv

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// FaultHook runs at the start of every commit, outside the store lock.
// Returning an error aborts the commit with that error; blocking until ctx is
// done simulates a slow store.
type FaultHook func(ctx context.Context) error

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]Record
	version uint64
	fault   FaultHook
	commits uint64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

// SetFault installs hook; nil removes it
func (s *MemoryStore) SetFault(hook FaultHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = hook
}

// Commits returns how many transactions committed
func (s *MemoryStore) Commits() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	return rec, ok, nil
}

func (s *MemoryStore) Scan(ctx context.Context, prefix string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, key := range slices.Sorted(maps.Keys(s.data)) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, s.data[key])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) RunAtomic(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTxn{store: s, reads: make(map[string]uint64), writes: make(map[string]*string)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	fault := s.fault
	s.mu.Unlock()
	if fault != nil {
		if err := fault(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTxn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.data[key].Version != seen {
			return ErrContention
		}
	}
	for _, key := range tx.order {
		value := tx.writes[key]
		if value == nil {
			delete(s.data, key)
			continue
		}
		s.version++
		s.data[key] = Record{Key: key, Value: *value, Version: s.version}
	}
	s.commits++
	return nil
}

type memTxn struct {
	store  *MemoryStore
	reads  map[string]uint64  // version seen, 0 when absent
	writes map[string]*string // nil value deletes
	order  []string
}

func (t *memTxn) Get(key string) (Record, bool, error) {
	if value, ok := t.writes[key]; ok {
		if value == nil {
			return Record{}, false, nil
		}
		return Record{Key: key, Value: *value}, true, nil
	}

	t.store.mu.Lock()
	rec, ok := t.store.data[key]
	t.store.mu.Unlock()

	if _, seen := t.reads[key]; !seen {
		t.reads[key] = rec.Version
	}
	return rec, ok, nil
}

func (t *memTxn) Put(key, value string) error {
	t.record(key, &value)
	return nil
}

func (t *memTxn) Delete(key string) error {
	t.record(key, nil)
	return nil
}

func (t *memTxn) record(key string, value *string) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}
