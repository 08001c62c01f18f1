package datastore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/verdant-app/verdant/internal/datastore/entities"
	"github.com/verdant-app/verdant/internal/datastore/mapper"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/garden"
	"github.com/verdant-app/verdant/internal/logger"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

const (
	// feedBuffer bounds pending pushes per listener; only the newest matters
	feedBuffer    = 4
	notifyTimeout = 5 * time.Second
)

// PlantRepository stores owned plants in the database. It implements
// garden.Backend; the change feed covers writes made through this process.
type PlantRepository struct {
	db *DB

	// notifyMu orders change feed reads so a later push never carries older state
	notifyMu  sync.Mutex
	mu        sync.Mutex
	listeners map[string][]chan garden.Collection
	revisions map[string]uint64
}

var _ garden.Backend = (*PlantRepository)(nil)

func NewPlantRepository(db *DB) *PlantRepository {
	return &PlantRepository{
		db:        db,
		listeners: make(map[string][]chan garden.Collection),
		revisions: make(map[string]uint64),
	}
}

// Read returns the owner's plants ordered by creation time, then id
func (r *PlantRepository) Read(ctx context.Context, ownerID string) (garden.Collection, error) {
	// taken before the query so the rows are at least as new as the revision
	rev := r.revision(ownerID)
	start := time.Now()
	plants, err := r.read(ctx, ownerID)
	r.db.observe(metrics.OpPlantRead, start, err)
	if err != nil {
		return garden.Collection{}, r.classify(err, "read", ownerID)
	}
	return garden.Collection{Plants: plants, Revision: rev}, nil
}

func (r *PlantRepository) read(ctx context.Context, ownerID string) ([]garden.OwnedPlant, error) {
	var rows []entities.OwnedPlant
	err := r.db.gorm.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	plants := make([]garden.OwnedPlant, 0, len(rows))
	for i := range rows {
		plants = append(plants, mapper.PlantFromEntity(&rows[i]))
	}
	return plants, nil
}

// Write inserts or replaces a plant
func (r *PlantRepository) Write(ctx context.Context, plant garden.OwnedPlant) (uint64, error) {
	if err := plant.Validate(); err != nil {
		return 0, err
	}
	start := time.Now()
	err := r.db.gorm.WithContext(ctx).Save(mapper.PlantToEntity(&plant)).Error
	r.db.observe(metrics.OpPlantWrite, start, err)
	if err != nil {
		return 0, r.classify(err, "write", plant.OwnerID)
	}
	rev := r.bump(plant.OwnerID)
	r.notify(ctx, plant.OwnerID)
	return rev, nil
}

// Delete removes a plant, returning garden.ErrNotFound if the owner has no such plant
func (r *PlantRepository) Delete(ctx context.Context, ownerID, plantID string) (uint64, error) {
	start := time.Now()
	res := r.db.gorm.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, plantID).
		Delete(&entities.OwnedPlant{})
	r.db.observe(metrics.OpPlantDelete, start, res.Error)
	if res.Error != nil {
		return 0, r.classify(res.Error, "delete", ownerID)
	}
	if res.RowsAffected == 0 {
		return 0, errors.New(garden.ErrNotFound).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("plant_id", plantID).
			Context("owner_id", ownerID).
			Build()
	}
	rev := r.bump(ownerID)
	r.notify(ctx, ownerID)
	return rev, nil
}

// bump records a committed change for the owner and returns its revision
func (r *PlantRepository) bump(ownerID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revisions[ownerID]++
	return r.revisions[ownerID]
}

func (r *PlantRepository) revision(ownerID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revisions[ownerID]
}

// Listen pushes the owner's collection after every change until ctx is done
func (r *PlantRepository) Listen(ctx context.Context, ownerID string) (<-chan garden.Collection, error) {
	if err := r.db.Ping(ctx); err != nil {
		return nil, err
	}

	ch := make(chan garden.Collection, feedBuffer)
	r.mu.Lock()
	r.listeners[ownerID] = append(r.listeners[ownerID], ch)
	r.db.metrics.SetListeners(r.listenerCountLocked())
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.listeners[ownerID] = slices.DeleteFunc(r.listeners[ownerID], func(c chan garden.Collection) bool { return c == ch })
		if len(r.listeners[ownerID]) == 0 {
			delete(r.listeners, ownerID)
		}
		r.db.metrics.SetListeners(r.listenerCountLocked())
		close(ch)
	}()
	return ch, nil
}

func (r *PlantRepository) listenerCountLocked() int {
	n := 0
	for _, chs := range r.listeners {
		n += len(chs)
	}
	return n
}

// notify reads the owner's collection once and pushes it to every listener.
// A full listener loses its oldest pending push.
func (r *PlantRepository) notify(ctx context.Context, ownerID string) {
	r.mu.Lock()
	n := len(r.listeners[ownerID])
	r.mu.Unlock()
	if n == 0 {
		return
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	rev := r.revision(ownerID)
	plants, err := r.read(readCtx, ownerID)
	if err != nil {
		r.db.log.Warn("change feed read failed",
			logger.String("owner_id", ownerID),
			logger.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.listeners[ownerID] {
		coll := garden.Collection{Plants: clonePlants(plants), Revision: rev}
		for {
			select {
			case ch <- coll:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// classify maps driver errors onto the garden error set
func (r *PlantRepository) classify(err error, op, ownerID string) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isConnectionError(err), isBusy(err):
		return unavailable(err, "plant_"+op, "owner_id", ownerID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return garden.ErrNotFound
	default:
		return dbError(err, "plant_"+op, errors.PriorityMedium, "owner_id", ownerID)
	}
}

// unavailable wraps err as garden.ErrUnavailable
func unavailable(err error, op string, pairs ...any) error {
	return dbError(fmt.Errorf("%w: %w", garden.ErrUnavailable, err), op, errors.PriorityHigh, pairs...)
}

func clonePlants(plants []garden.OwnedPlant) []garden.OwnedPlant {
	out := make([]garden.OwnedPlant, len(plants))
	for i := range plants {
		out[i] = plants[i].Clone()
	}
	return out
}
