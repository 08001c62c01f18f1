// Package handles keeps user handles globally unique, case-insensitively, on
// top of an optimistic transactional key-value store.
package handles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/kv"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

const (
	// KeyPrefix namespaces handle records in the key-value store
	KeyPrefix = "handles/"
	// UserPrefix namespaces the reverse user to handle records
	UserPrefix = "users/"
)

var (
	// ErrAlreadyTaken means the handle belongs to another user
	ErrAlreadyTaken = errors.NewStd("handle already taken")
	// ErrNotFound means no user holds the handle
	ErrNotFound = errors.NewStd("handle not found")
	// ErrInvalidHandle means the handle failed validation
	ErrInvalidHandle = errors.NewStd("invalid handle")
	// ErrHandleHeld means the user already holds a different handle
	ErrHandleHeld = errors.NewStd("user already holds a handle")
	// ErrNotOwner means a rename named an old handle held by another user
	ErrNotOwner = errors.NewStd("handle owned by another user")
	// ErrUnavailable means the store stayed contended or unreachable for every attempt
	ErrUnavailable = errors.NewStd("handle store unavailable")
)

// Config bounds retries and handle shape
type Config struct {
	MaxAttempts  int
	Timeout      time.Duration // per attempt
	RetryBackoff time.Duration // multiplied by the attempt number
	MinLength    int
	MaxLength    int
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		Timeout:      5 * time.Second,
		RetryBackoff: 25 * time.Millisecond,
		MinLength:    3,
		MaxLength:    30,
	}
}

// Registry is the handle registry
type Registry struct {
	store   kv.Store
	cfg     Config
	log     logger.Logger
	metrics *metrics.HandleMetrics
}

// Option configures a Registry
type Option func(*Registry)

func WithLogger(log logger.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithMetrics(m *metrics.HandleMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates a registry over store. Zero config fields take defaults.
func NewRegistry(store kv.Store, cfg Config, opts ...Option) *Registry {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}

	r := &Registry{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return r
}

func key(norm string) string {
	return KeyPrefix + norm
}

func userKey(userID string) string {
	return UserPrefix + userID
}

// IsAvailable reports whether no user holds handle. The answer is advisory;
// it does not reserve the handle.
func (r *Registry) IsAvailable(ctx context.Context, handle string) (bool, error) {
	norm, err := r.Validate(handle)
	if err != nil {
		return false, err
	}
	var taken bool
	err = r.run(ctx, metrics.OpHandleAvailable, func(ctx context.Context) error {
		_, ok, err := r.store.Get(ctx, key(norm))
		taken = ok
		return err
	})
	return !taken && err == nil, err
}

// Resolve returns the user holding handle
func (r *Registry) Resolve(ctx context.Context, handle string) (string, bool, error) {
	norm := Normalize(handle)
	if norm == "" {
		return "", false, nil
	}
	var (
		userID string
		found  bool
	)
	err := r.run(ctx, metrics.OpHandleResolve, func(ctx context.Context) error {
		rec, ok, err := r.store.Get(ctx, key(norm))
		userID, found = rec.Value, ok
		return err
	})
	if err != nil {
		return "", false, err
	}
	return userID, found, nil
}

// Claim gives handle to userID. Claiming a handle the user already holds
// succeeds, so a claim whose commit outcome was lost can be retried. A user
// holds at most one handle; moving to another one goes through Rename.
func (r *Registry) Claim(ctx context.Context, handle, userID string) error {
	norm, err := r.Validate(handle)
	if err != nil {
		return err
	}
	if err := requireUser(userID); err != nil {
		return err
	}

	err = r.run(ctx, metrics.OpHandleClaim, func(ctx context.Context) error {
		return r.store.RunAtomic(ctx, func(tx kv.Txn) error {
			current, err := currentIn(tx, userID)
			if err != nil {
				return err
			}
			if current != "" && current != norm {
				return errors.New(ErrHandleHeld).
					Component("handles").
					Category(errors.CategoryConflict).
					Context("handle", current).
					Build()
			}
			return takeIn(tx, norm, userID)
		})
	})
	if err == nil {
		r.log.Info("handle claimed", logger.String("handle", norm), logger.String("user_id", userID))
	}
	return err
}

// Release removes handle and its owner's reverse record if present.
// Releasing an absent handle succeeds.
func (r *Registry) Release(ctx context.Context, handle string) error {
	norm := Normalize(handle)
	if norm == "" {
		return nil
	}
	return r.run(ctx, metrics.OpHandleRelease, func(ctx context.Context) error {
		return r.store.RunAtomic(ctx, func(tx kv.Txn) error {
			rec, ok, err := tx.Get(key(norm))
			if err != nil || !ok {
				return err
			}
			if err := tx.Delete(key(norm)); err != nil {
				return err
			}
			return dropUserIn(tx, rec.Value, norm)
		})
	})
}

// Rename moves userID to newHandle in one transaction, releasing whatever
// handle the user held before. An empty oldHandle means the current one.
// When the two normalize to the same handle the call confirms ownership. On
// ErrAlreadyTaken or ErrNotOwner nothing changes.
func (r *Registry) Rename(ctx context.Context, oldHandle, newHandle, userID string) error {
	newNorm, err := r.Validate(newHandle)
	if err != nil {
		return err
	}
	if err := requireUser(userID); err != nil {
		return err
	}
	oldNorm := Normalize(oldHandle)

	var moved string
	err = r.run(ctx, metrics.OpHandleRename, func(ctx context.Context) error {
		moved = ""
		return r.store.RunAtomic(ctx, func(tx kv.Txn) error {
			if err := checkFreeIn(tx, newNorm, userID); err != nil {
				return err
			}
			current, err := currentIn(tx, userID)
			if err != nil {
				return err
			}
			if oldNorm != "" && oldNorm != newNorm && oldNorm != current {
				rec, ok, err := tx.Get(key(oldNorm))
				switch {
				case err != nil:
					return err
				case ok && rec.Value != userID:
					return errors.New(ErrNotOwner).
						Component("handles").
						Category(errors.CategoryValidation).
						Context("handle", oldNorm).
						Build()
				case ok:
					// held without a reverse record
					if err := tx.Delete(key(oldNorm)); err != nil {
						return err
					}
					moved = oldNorm
				}
			}
			if current != "" && current != newNorm {
				if err := tx.Delete(key(current)); err != nil {
					return err
				}
				moved = current
			}
			return takeIn(tx, newNorm, userID)
		})
	})
	if err == nil && moved != "" {
		r.log.Info("handle renamed",
			logger.String("from", moved),
			logger.String("to", newNorm),
			logger.String("user_id", userID))
	}
	return err
}

// Search returns handles starting with prefix, in order. limit <= 0 means no limit.
func (r *Registry) Search(ctx context.Context, prefix string, limit int) ([]string, error) {
	norm := Normalize(prefix)
	var recs []kv.Record
	err := r.run(ctx, metrics.OpHandleSearch, func(ctx context.Context) error {
		var err error
		recs, err = r.store.Scan(ctx, key(norm), limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, strings.TrimPrefix(rec.Key, KeyPrefix))
	}
	return out, nil
}

// HandleOf returns the handle held by userID
func (r *Registry) HandleOf(ctx context.Context, userID string) (string, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return "", false, nil
	}
	var (
		handle string
		found  bool
	)
	err := r.run(ctx, metrics.OpHandleResolve, func(ctx context.Context) error {
		rec, ok, err := r.store.Get(ctx, userKey(userID))
		handle, found = rec.Value, ok
		return err
	})
	if err != nil {
		return "", false, err
	}
	return handle, found, nil
}

// checkFreeIn fails when another user holds norm
func checkFreeIn(tx kv.Txn, norm, userID string) error {
	rec, ok, err := tx.Get(key(norm))
	if err != nil {
		return err
	}
	if ok && rec.Value != userID {
		return errors.New(ErrAlreadyTaken).
			Component("handles").
			Category(errors.CategoryConflict).
			Context("handle", norm).
			Build()
	}
	return nil
}

// takeIn writes the handle record for norm and the user's reverse record,
// skipping whichever already holds the right value
func takeIn(tx kv.Txn, norm, userID string) error {
	rec, ok, err := tx.Get(key(norm))
	if err != nil {
		return err
	}
	if ok && rec.Value != userID {
		return checkFreeIn(tx, norm, userID)
	}
	if !ok {
		if err := tx.Put(key(norm), userID); err != nil {
			return err
		}
	}
	back, ok, err := tx.Get(userKey(userID))
	if err != nil {
		return err
	}
	if ok && back.Value == norm {
		return nil
	}
	return tx.Put(userKey(userID), norm)
}

// currentIn returns the handle userID holds, or "" when the reverse record
// is missing or no longer matches the handle record
func currentIn(tx kv.Txn, userID string) (string, error) {
	back, ok, err := tx.Get(userKey(userID))
	if err != nil || !ok {
		return "", err
	}
	rec, ok, err := tx.Get(key(back.Value))
	if err != nil {
		return "", err
	}
	if !ok || rec.Value != userID {
		return "", nil
	}
	return back.Value, nil
}

// dropUserIn removes userID's reverse record when it points at norm
func dropUserIn(tx kv.Txn, userID, norm string) error {
	back, ok, err := tx.Get(userKey(userID))
	if err != nil || !ok || back.Value != norm {
		return err
	}
	return tx.Delete(userKey(userID))
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) != "" {
		return nil
	}
	return errors.Newf("user id is required").
		Component("handles").
		Category(errors.CategoryValidation).
		Build()
}

// run executes op with a per-attempt timeout, retrying contention and
// attempt timeouts with linear backoff. Content conflicts and caller
// cancellation are returned immediately.
func (r *Registry) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	var lastErr error

	for attempt := range r.cfg.MaxAttempts {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			r.metrics.RecordAttempts(op, attempt+1)
			r.metrics.RecordOperation(op, metrics.LabelSuccess, time.Since(start).Seconds())
			return nil
		}
		if ctx.Err() != nil {
			r.metrics.RecordOperation(op, metrics.LabelError, time.Since(start).Seconds())
			return ctx.Err()
		}

		reason, retryable := retryReason(err)
		if !retryable {
			r.metrics.RecordOperation(op, resultLabel(err), time.Since(start).Seconds())
			return err
		}
		lastErr = err
		if attempt+1 == r.cfg.MaxAttempts {
			break
		}

		delay := r.cfg.RetryBackoff * time.Duration(attempt+1)
		r.metrics.RecordRetry(op, reason)
		r.log.Debug("handle transaction retrying",
			logger.String("operation", op),
			logger.String("reason", reason),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", r.cfg.MaxAttempts),
			logger.Duration("delay", delay))

		select {
		case <-ctx.Done():
			r.metrics.RecordOperation(op, metrics.LabelError, time.Since(start).Seconds())
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	r.metrics.RecordAttempts(op, r.cfg.MaxAttempts)
	r.metrics.RecordOperation(op, "exhausted", time.Since(start).Seconds())
	r.log.Warn("handle transaction gave up",
		logger.String("operation", op),
		logger.Int("attempts", r.cfg.MaxAttempts),
		logger.Error(lastErr))
	return errors.New(fmt.Errorf("%w: %s failed after %d attempts: %w", ErrUnavailable, op, r.cfg.MaxAttempts, lastErr)).
		Component("handles").
		Category(errors.CategoryRetry).
		Context("operation", op).
		Context("attempts", r.cfg.MaxAttempts).
		Build()
}

// retryReason classifies errors that leave the store unchanged and may succeed on retry
func retryReason(err error) (string, bool) {
	switch {
	case errors.Is(err, kv.ErrContention):
		return "contention", true
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	default:
		return "", false
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyTaken):
		return "taken"
	case errors.Is(err, ErrHandleHeld):
		return "held"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrInvalidHandle):
		return "invalid"
	default:
		return metrics.LabelError
	}
}
