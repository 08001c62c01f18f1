package garden

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
)

const listenerBuffer = 16

// MemoryBackend is an in-process Backend. It can be switched offline to
// exercise the unavailable path.
type MemoryBackend struct {
	mu        sync.Mutex
	plants    map[string]map[string]OwnedPlant
	listeners map[string][]chan Collection
	revisions map[string]uint64
	offline   bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		plants:    make(map[string]map[string]OwnedPlant),
		listeners: make(map[string][]chan Collection),
		revisions: make(map[string]uint64),
	}
}

func (b *MemoryBackend) Read(ctx context.Context, ownerID string) (Collection, error) {
	if err := ctx.Err(); err != nil {
		return Collection{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return Collection{}, ErrUnavailable
	}
	return b.collectionLocked(ownerID), nil
}

func (b *MemoryBackend) Write(ctx context.Context, plant OwnedPlant) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return 0, ErrUnavailable
	}
	owned, ok := b.plants[plant.OwnerID]
	if !ok {
		owned = make(map[string]OwnedPlant)
		b.plants[plant.OwnerID] = owned
	}
	owned[plant.ID] = plant.Clone()
	b.revisions[plant.OwnerID]++
	b.notifyLocked(plant.OwnerID)
	return b.revisions[plant.OwnerID], nil
}

func (b *MemoryBackend) Delete(ctx context.Context, ownerID, plantID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return 0, ErrUnavailable
	}
	if _, ok := b.plants[ownerID][plantID]; !ok {
		return 0, notFound(ownerID, plantID)
	}
	delete(b.plants[ownerID], plantID)
	b.revisions[ownerID]++
	b.notifyLocked(ownerID)
	return b.revisions[ownerID], nil
}

// Listen pushes the owner's collection after every change until ctx is done
func (b *MemoryBackend) Listen(ctx context.Context, ownerID string) (<-chan Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offline {
		return nil, ErrUnavailable
	}

	ch := make(chan Collection, listenerBuffer)
	b.listeners[ownerID] = append(b.listeners[ownerID], ch)
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners[ownerID] = slices.DeleteFunc(b.listeners[ownerID], func(c chan Collection) bool { return c == ch })
		close(ch)
	}()
	return ch, nil
}

// SetOffline toggles availability. Going back online pushes the current state
// to every listener so they can reconcile.
func (b *MemoryBackend) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasOffline := b.offline
	b.offline = offline
	if wasOffline && !offline {
		for owner := range b.listeners {
			b.notifyLocked(owner)
		}
	}
}

// Seed stores plants without notifying listeners
func (b *MemoryBackend) Seed(plants ...OwnedPlant) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range plants {
		if b.plants[p.OwnerID] == nil {
			b.plants[p.OwnerID] = make(map[string]OwnedPlant)
		}
		b.plants[p.OwnerID][p.ID] = p.Clone()
		b.revisions[p.OwnerID]++
	}
}

func (b *MemoryBackend) collectionLocked(ownerID string) Collection {
	plants := make([]OwnedPlant, 0, len(b.plants[ownerID]))
	for _, id := range slices.Sorted(maps.Keys(b.plants[ownerID])) {
		plants = append(plants, b.plants[ownerID][id].Clone())
	}
	return Collection{Plants: plants, Revision: b.revisions[ownerID]}
}

// notifyLocked pushes the collection to every listener. A full listener loses
// its oldest pending push; each push is a full collection so only the newest matters.
func (b *MemoryBackend) notifyLocked(ownerID string) {
	if b.offline {
		return
	}
	for _, ch := range b.listeners[ownerID] {
		coll := b.collectionLocked(ownerID)
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

// sortPlants orders plants by creation time, then id
func sortPlants(plants []OwnedPlant) {
	slices.SortStableFunc(plants, func(a, b OwnedPlant) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
