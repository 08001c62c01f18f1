// Package mapper converts between domain types and database entities
package mapper

import (
	"github.com/verdant-app/verdant/internal/care"
	"github.com/verdant-app/verdant/internal/datastore/entities"
	"github.com/verdant-app/verdant/internal/garden"
	"github.com/verdant-app/verdant/internal/health"
)

// PlantToEntity converts an owned plant for storage
func PlantToEntity(p *garden.OwnedPlant) *entities.OwnedPlant {
	e := &entities.OwnedPlant{
		ID:                    p.ID,
		OwnerID:               p.OwnerID,
		Name:                  p.Plant.Name,
		ScientificName:        p.Plant.ScientificName,
		Description:           p.Plant.Description,
		CareTips:              p.Plant.CareTips,
		WateringFrequencyDays: p.Plant.WateringFrequencyDays,
		Light:                 p.Plant.Light,
		Location:              p.Plant.Location,
		Health:                p.Plant.Health.String(),
		HealthDescription:     p.Plant.HealthDescription,
		Recognized:            p.Plant.Recognized,
		ImageRef:              p.Plant.ImageRef,
		LastWatered:           p.LastWatered.UTC(),
		CreatedAt:             p.CreatedAt.UTC(),
		UpdatedAt:             p.UpdatedAt.UTC(),
	}
	if p.PreviousLastWatered != nil {
		prev := p.PreviousLastWatered.UTC()
		e.PreviousLastWatered = &prev
	}
	return e
}

// PlantFromEntity converts a stored row back to a plant. The stored health is
// carried over as read; callers re-derive it before use.
func PlantFromEntity(e *entities.OwnedPlant) garden.OwnedPlant {
	status, err := health.ParseStatus(e.Health)
	if err != nil {
		status = health.StatusUnknown
	}
	p := garden.OwnedPlant{
		ID:      e.ID,
		OwnerID: e.OwnerID,
		Plant: garden.Plant{
			Name:                  e.Name,
			ScientificName:        e.ScientificName,
			Description:           e.Description,
			CareTips:              e.CareTips,
			WateringFrequencyDays: e.WateringFrequencyDays,
			Light:                 e.Light,
			Location:              e.Location,
			Health:                status,
			HealthDescription:     e.HealthDescription,
			Recognized:            e.Recognized,
			ImageRef:              e.ImageRef,
		},
		LastWatered: e.LastWatered.UTC(),
		CreatedAt:   e.CreatedAt.UTC(),
		UpdatedAt:   e.UpdatedAt.UTC(),
	}
	if e.PreviousLastWatered != nil {
		prev := e.PreviousLastWatered.UTC()
		p.PreviousLastWatered = &prev
	}
	return p
}

// AlertToEntity converts a care event for the alert history
func AlertToEntity(ev *care.Event) *entities.CareAlert {
	return &entities.CareAlert{
		OwnerID:         ev.OwnerID,
		PlantID:         ev.PlantID,
		PlantName:       ev.PlantName,
		Status:          ev.Status.String(),
		Previous:        ev.Previous.String(),
		At:              ev.At.UTC(),
		SnapshotVersion: ev.Version,
	}
}

// AlertFromEntity converts a stored alert back to an event
func AlertFromEntity(e *entities.CareAlert) care.Event {
	status, err := health.ParseStatus(e.Status)
	if err != nil {
		status = health.StatusUnknown
	}
	previous, err := health.ParseStatus(e.Previous)
	if err != nil {
		previous = health.StatusUnknown
	}
	return care.Event{
		PlantID:   e.PlantID,
		PlantName: e.PlantName,
		OwnerID:   e.OwnerID,
		Status:    status,
		Previous:  previous,
		At:        e.At.UTC(),
		Version:   e.SnapshotVersion,
	}
}
