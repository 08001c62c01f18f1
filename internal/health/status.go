// Package health derives a plant's watering health from its watering history.
// Health is never stored as ground truth; every read path recomputes it here.
package health

import (
	"fmt"
	"strings"

	"github.com/verdant-app/verdant/internal/errors"
)

// Status is the derived watering health of a plant
type Status int

const (
	StatusUnknown Status = iota
	StatusSeverelyDry
	StatusNeedsWater
	StatusSlightlyDry
	StatusHealthy
	StatusOverwatered
	StatusSeverelyOverwatered
)

var statusNames = [...]string{
	StatusUnknown:             "UNKNOWN",
	StatusSeverelyDry:         "SEVERELY_DRY",
	StatusNeedsWater:          "NEEDS_WATER",
	StatusSlightlyDry:         "SLIGHTLY_DRY",
	StatusHealthy:             "HEALTHY",
	StatusOverwatered:         "OVERWATERED",
	StatusSeverelyOverwatered: "SEVERELY_OVERWATERED",
}

var statusDescriptions = [...]string{
	StatusUnknown:             "Health unknown: no usable watering schedule or history",
	StatusSeverelyDry:         "Severely dry: watering is long overdue",
	StatusNeedsWater:          "Needs water: watering is overdue",
	StatusSlightlyDry:         "Slightly dry: watering is due soon",
	StatusHealthy:             "Healthy: watered on schedule",
	StatusOverwatered:         "Overwatered: watered again too soon",
	StatusSeverelyOverwatered: "Severely overwatered: watered again almost immediately",
}

// AllStatuses lists every status in declaration order
func AllStatuses() []Status {
	return []Status{
		StatusUnknown,
		StatusSeverelyDry,
		StatusNeedsWater,
		StatusSlightlyDry,
		StatusHealthy,
		StatusOverwatered,
		StatusSeverelyOverwatered,
	}
}

func (s Status) String() string {
	if s.valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Description returns human-readable text for display next to the plant
func (s Status) Description() string {
	if s.valid() {
		return statusDescriptions[s]
	}
	return statusDescriptions[StatusUnknown]
}

// NeedsAttention reports whether the status is the one that triggers care alerts
func (s Status) NeedsAttention() bool {
	return s == StatusNeedsWater
}

// DrynessLevel orders the under-watering classes: 0 healthy up to 3 severely dry.
// Over-watering and unknown statuses return -1.
func (s Status) DrynessLevel() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusSlightlyDry:
		return 1
	case StatusNeedsWater:
		return 2
	case StatusSeverelyDry:
		return 3
	default:
		return -1
	}
}

func (s Status) valid() bool {
	return s >= StatusUnknown && int(s) < len(statusNames)
}

// ParseStatus parses a status name case-insensitively
func ParseStatus(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == upper {
			return Status(i), nil
		}
	}
	return StatusUnknown, errors.Newf("unknown health status %q", name).
		Component("health").
		Category(errors.CategoryValidation).
		Build()
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
