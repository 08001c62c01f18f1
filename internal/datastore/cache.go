package datastore

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/garden"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

const (
	// DefaultCacheTTL is how long an owner's last read stays usable offline
	DefaultCacheTTL = 24 * time.Hour

	cacheType = metrics.LabelPlants
)

// CachedPlants keeps the last collection read for each owner and serves it,
// flagged FromCache, while the wrapped backend is unreachable. Concurrent
// reads for one owner share a single backend call.
type CachedPlants struct {
	backend garden.Backend
	cache   *cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	log     logger.Logger
	metrics *metrics.DatastoreMetrics
}

var _ garden.Backend = (*CachedPlants)(nil)

// cachedCollection is one owner's offline copy
type cachedCollection struct {
	plants   []garden.OwnedPlant
	revision uint64
}

// NewCachedPlants wraps backend with an offline copy that lives for ttl
func NewCachedPlants(backend garden.Backend, ttl time.Duration, log logger.Logger, m *metrics.DatastoreMetrics) *CachedPlants {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	// no janitor goroutine; expired entries go on the next store
	return &CachedPlants{
		backend: backend,
		cache:   cache.New(ttl, 0),
		ttl:     ttl,
		log:     log.Module("datastore"),
		metrics: m,
	}
}

// Read reads through to the backend. When the backend is unavailable the
// cached collection is returned with FromCache set.
//
// The shared backend call does not inherit the first caller's cancellation;
// each caller still stops waiting when its own ctx is done.
func (c *CachedPlants) Read(ctx context.Context, ownerID string) (garden.Collection, error) {
	ch := c.group.DoChan(ownerID, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout(ctx))
		defer cancel()
		return c.backend.Read(readCtx, ownerID)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	err := res.Err
	if err == nil {
		coll, _ := res.Val.(garden.Collection)
		c.store(ownerID, coll.Plants, coll.Revision)
		return garden.Collection{Plants: clonePlants(coll.Plants), Revision: coll.Revision}, nil
	}

	if !errors.Is(err, garden.ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
		return garden.Collection{}, err
	}
	if cached, ok := c.cache.Get(ownerID); ok {
		c.metrics.RecordCacheOperation(cacheType, "fallback", metrics.LabelHit)
		c.log.Debug("serving cached plants",
			logger.String("owner_id", ownerID),
			logger.Error(err))
		entry, _ := cached.(cachedCollection)
		return garden.Collection{Plants: clonePlants(entry.plants), FromCache: true, Revision: entry.revision}, nil
	}
	c.metrics.RecordCacheOperation(cacheType, "fallback", metrics.LabelMiss)
	return garden.Collection{}, err
}

// Write writes through and updates the cached copy
func (c *CachedPlants) Write(ctx context.Context, plant garden.OwnedPlant) (uint64, error) {
	rev, err := c.backend.Write(ctx, plant)
	if err != nil {
		return 0, err
	}
	c.apply(plant.OwnerID, rev, func(plants []garden.OwnedPlant) []garden.OwnedPlant {
		for i := range plants {
			if plants[i].ID == plant.ID {
				plants[i] = plant.Clone()
				return plants
			}
		}
		return append(plants, plant.Clone())
	})
	return rev, nil
}

func (c *CachedPlants) Delete(ctx context.Context, ownerID, plantID string) (uint64, error) {
	rev, err := c.backend.Delete(ctx, ownerID, plantID)
	if err != nil {
		return 0, err
	}
	c.apply(ownerID, rev, func(plants []garden.OwnedPlant) []garden.OwnedPlant {
		out := plants[:0]
		for _, p := range plants {
			if p.ID != plantID {
				out = append(out, p)
			}
		}
		return out
	})
	return rev, nil
}

// Listen forwards the backend feed, keeping the cached copy current
func (c *CachedPlants) Listen(ctx context.Context, ownerID string) (<-chan garden.Collection, error) {
	upstream, err := c.backend.Listen(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make(chan garden.Collection, feedBuffer)
	go func() {
		defer close(out)
		for coll := range upstream {
			c.store(ownerID, coll.Plants, coll.Revision)
			select {
			case out <- coll:
			case <-ctx.Done():
				// upstream closes once ctx is done
			}
		}
	}()
	return out, nil
}

// Invalidate drops the cached copy for an owner
func (c *CachedPlants) Invalidate(ownerID string) {
	c.cache.Delete(ownerID)
	c.metrics.UpdateCacheSize(c.cache.ItemCount())
}

func (c *CachedPlants) store(ownerID string, plants []garden.OwnedPlant, revision uint64) {
	c.cache.DeleteExpired()
	c.cache.Set(ownerID, cachedCollection{plants: clonePlants(plants), revision: revision}, c.ttl)
	c.metrics.RecordCacheOperation(cacheType, "set", metrics.LabelSuccess)
	c.metrics.UpdateCacheSize(c.cache.ItemCount())
}

// apply edits the cached copy after a successful write of revision rev, if
// a copy exists
func (c *CachedPlants) apply(ownerID string, rev uint64, fn func([]garden.OwnedPlant) []garden.OwnedPlant) {
	cached, ok := c.cache.Get(ownerID)
	if !ok {
		return
	}
	entry, _ := cached.(cachedCollection)
	c.store(ownerID, fn(clonePlants(entry.plants)), max(entry.revision, rev))
}

// sharedReadTimeout keeps the caller's remaining time budget for the shared
// call, or the default operation timeout when the caller set none
func sharedReadTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
	}
	return garden.DefaultOpTimeout
}
