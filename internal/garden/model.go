// Package garden holds a user's owned plants and publishes snapshots of them
// with health freshly derived on every publication.
package garden

import (
	"slices"
	"strings"
	"time"

	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/health"
)

// Plant is a species template as identified or entered by the user
type Plant struct {
	Name                  string        `json:"name"`
	ScientificName        string        `json:"scientific_name,omitempty"`
	Description           string        `json:"description,omitempty"`
	CareTips              string        `json:"care_tips,omitempty"`
	WateringFrequencyDays int           `json:"watering_frequency_days"`
	Light                 string        `json:"light,omitempty"`
	Location              string        `json:"location,omitempty"`
	Health                health.Status `json:"health"`
	HealthDescription     string        `json:"health_description,omitempty"`
	Recognized            bool          `json:"recognized"`
	ImageRef              string        `json:"image_ref,omitempty"`
}

// OwnedPlant is a user's instance of a plant with its own watering history
type OwnedPlant struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"owner_id"`
	Plant               Plant      `json:"plant"`
	LastWatered         time.Time  `json:"last_watered"`
	PreviousLastWatered *time.Time `json:"previous_last_watered,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Water records a watering at the given time. The current last watering
// becomes the previous one. Waterings earlier than the last one are rejected.
func (p *OwnedPlant) Water(at time.Time) error {
	if at.IsZero() {
		return ErrInvalidPlant
	}
	if !p.LastWatered.IsZero() && at.Before(p.LastWatered) {
		return errors.New(ErrWateringOutOfOrder).
			Component("garden").
			Category(errors.CategoryValidation).
			Context("plant_id", p.ID).
			Build()
	}
	if !p.LastWatered.IsZero() {
		prev := p.LastWatered
		p.PreviousLastWatered = &prev
	}
	p.LastWatered = at
	return nil
}

// Clone returns a deep copy
func (p OwnedPlant) Clone() OwnedPlant {
	if p.PreviousLastWatered != nil {
		prev := *p.PreviousLastWatered
		p.PreviousLastWatered = &prev
	}
	return p
}

// Validate checks the invariants every stored plant must satisfy.
// A non-positive watering frequency is allowed; health then reads UNKNOWN.
func (p *OwnedPlant) Validate() error {
	var problems []string
	if p.ID == "" {
		problems = append(problems, "id is required")
	}
	if p.OwnerID == "" {
		problems = append(problems, "owner is required")
	}
	if strings.TrimSpace(p.Plant.Name) == "" {
		problems = append(problems, "plant name is required")
	}
	if p.PreviousLastWatered != nil && p.PreviousLastWatered.After(p.LastWatered) {
		problems = append(problems, "previous watering is after last watering")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(ErrInvalidPlant).
		Component("garden").
		Category(errors.CategoryValidation).
		Context("plant_id", p.ID).
		Context("problems", strings.Join(problems, "; ")).
		Build()
}

// Collection is what the persistent store returns for one owner
type Collection struct {
	Plants    []OwnedPlant
	FromCache bool   // served from the offline cache, to be superseded on reconnect
	Revision  uint64 // backend change counter for the owner, 0 when unversioned
}

// Snapshot is one published state of an owner's garden
type Snapshot struct {
	OwnerID   string       `json:"owner_id"`
	Version   uint64       `json:"version"`
	Plants    []OwnedPlant `json:"plants"`
	TakenAt   time.Time    `json:"taken_at"`
	FromCache bool         `json:"from_cache"`
}

// Lookup finds a plant by id
func (s *Snapshot) Lookup(id string) (OwnedPlant, bool) {
	i := slices.IndexFunc(s.Plants, func(p OwnedPlant) bool { return p.ID == id })
	if i < 0 {
		return OwnedPlant{}, false
	}
	return s.Plants[i], true
}

// CountByStatus tallies plants per health status
func (s *Snapshot) CountByStatus() map[health.Status]int {
	counts := make(map[health.Status]int, len(health.AllStatuses()))
	for i := range s.Plants {
		counts[s.Plants[i].Plant.Health]++
	}
	return counts
}
