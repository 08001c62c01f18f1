package garden

import (
	"context"

	"github.com/verdant-app/verdant/internal/errors"
)

var (
	// ErrNotFound means the referenced plant does not exist
	ErrNotFound = errors.NewStd("plant not found")
	// ErrUnavailable means the persistent store could not be reached
	ErrUnavailable = errors.NewStd("plant store unavailable")
	// ErrInvalidPlant means a plant failed validation
	ErrInvalidPlant = errors.NewStd("invalid plant")
	// ErrWateringOutOfOrder means a watering predates the last recorded one
	ErrWateringOutOfOrder = errors.NewStd("watering is earlier than the last watering")
	// ErrStoreClosed means the store was closed
	ErrStoreClosed = errors.NewStd("plant store closed")
)

// Backend is the persistent plant store a Store reads from and writes to.
//
// Listen pushes the owner's full collection after every change until ctx is
// done, then closes the channel. Implementations may serve Read from an
// offline cache and flag the collection FromCache.
//
// Revisions count changes per owner. Write and Delete return the revision
// their change produced; a collection carries a revision no newer than its
// content, so it reflects every change up to and including that revision.
// Backends that cannot order changes report 0.
type Backend interface {
	Read(ctx context.Context, ownerID string) (Collection, error)
	Write(ctx context.Context, plant OwnedPlant) (uint64, error)
	Delete(ctx context.Context, ownerID, plantID string) (uint64, error)
	Listen(ctx context.Context, ownerID string) (<-chan Collection, error)
}

func notFound(ownerID, plantID string) error {
	return errors.New(ErrNotFound).
		Component("garden").
		Category(errors.CategoryNotFound).
		Context("plant_id", plantID).
		Context("owner_id", ownerID).
		Build()
}
