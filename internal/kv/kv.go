// Package kv defines the transactional key-value store used for globally
// unique records, with optimistic concurrency control.
package kv

import (
	"context"

	"github.com/verdant-app/verdant/internal/errors"
)

// ErrContention means a key read inside a transaction changed before commit.
// The transaction had no effect and may be retried.
var ErrContention = errors.NewStd("transaction contention")

// Record is a stored value and the version of its last write.
// Versions are positive; zero stands for an absent key.
type Record struct {
	Key     string
	Value   string
	Version uint64
}

// Txn is the view of the store inside RunAtomic. Reads see the transaction's
// own writes. Writes become visible only when the transaction commits.
type Txn interface {
	Get(key string) (Record, bool, error)
	Put(key, value string) error
	Delete(key string) error
}

// Store is a key-value store with optimistic transactions.
//
// RunAtomic runs fn and commits its writes only if every key fn read, present
// or absent, is unchanged at commit time; otherwise it returns ErrContention
// and nothing is written. An error from fn aborts without writing. RunAtomic
// does not retry.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	// Scan returns records whose key starts with prefix in key order.
	// limit <= 0 means no limit.
	Scan(ctx context.Context, prefix string, limit int) ([]Record, error)
	RunAtomic(ctx context.Context, fn func(Txn) error) error
}
