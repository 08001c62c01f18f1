package health

import (
	"time"

	"github.com/verdant-app/verdant/internal/errors"
)

// Reasons a history cannot be evaluated. Compute absorbs them into StatusUnknown;
// Evaluate returns them so callers can log why a plant shows unknown health.
var (
	ErrInvalidSchedule     = errors.NewStd("watering frequency must be positive")
	ErrNoHistory           = errors.NewStd("plant has never been watered")
	ErrInconsistentHistory = errors.NewStd("previous watering is after last watering")
)

const hoursPerDay = 24.0

// Thresholds are the calibration constants of the calculator.
//
// Under-watering compares elapsed days since the last watering against the
// watering frequency. Over-watering compares the gap between the last two
// waterings against the frequency.
type Thresholds struct {
	SlightlyDryRatio       float64 // ratio above which a plant is slightly dry
	NeedsWaterRatio        float64 // ratio above which a plant needs water
	SeverelyDryRatio       float64 // ratio above which a plant is severely dry
	OverwateredGap         float64 // gap/frequency below which a plant is overwatered
	SeverelyOverwateredGap float64 // gap/frequency below which a plant is severely overwatered
}

// DefaultThresholds returns the production calibration
func DefaultThresholds() Thresholds {
	return Thresholds{
		SlightlyDryRatio:       1.0,
		NeedsWaterRatio:        1.5,
		SeverelyDryRatio:       2.5,
		OverwateredGap:         0.25,
		SeverelyOverwateredGap: 0.05,
	}
}

// Calculator derives health status from watering history. The zero value is
// not usable; use NewCalculator or Default.
type Calculator struct {
	t Thresholds
}

// NewCalculator returns a calculator with custom thresholds
func NewCalculator(t Thresholds) Calculator {
	return Calculator{t: t}
}

// Default is the calculator used by the garden store
var Default = NewCalculator(DefaultThresholds())

// Compute returns the health of a plant with the default thresholds.
// previousLastWatered is nil until the plant has been watered twice.
func Compute(lastWatered time.Time, frequencyDays int, previousLastWatered *time.Time, now time.Time) Status {
	return Default.Compute(lastWatered, frequencyDays, previousLastWatered, now)
}

// Compute is total: invalid input yields StatusUnknown, never an error.
func (c Calculator) Compute(lastWatered time.Time, frequencyDays int, previousLastWatered *time.Time, now time.Time) Status {
	status, _ := c.Evaluate(lastWatered, frequencyDays, previousLastWatered, now)
	return status
}

// Evaluate is Compute with the reason for an unknown result
func (c Calculator) Evaluate(lastWatered time.Time, frequencyDays int, previousLastWatered *time.Time, now time.Time) (Status, error) {
	if frequencyDays <= 0 {
		return StatusUnknown, ErrInvalidSchedule
	}
	if lastWatered.IsZero() {
		return StatusUnknown, ErrNoHistory
	}
	if previousLastWatered != nil && previousLastWatered.After(lastWatered) {
		return StatusUnknown, ErrInconsistentHistory
	}

	freq := float64(frequencyDays)
	status := c.dryness(daysBetween(now, lastWatered) / freq)
	if status != StatusHealthy || previousLastWatered == nil || previousLastWatered.IsZero() {
		return status, nil
	}

	gapRatio := daysBetween(lastWatered, *previousLastWatered) / freq
	switch {
	case gapRatio < c.t.SeverelyOverwateredGap:
		return StatusSeverelyOverwatered, nil
	case gapRatio < c.t.OverwateredGap:
		return StatusOverwatered, nil
	default:
		return StatusHealthy, nil
	}
}

// dryness classifies the elapsed/frequency ratio; boundaries belong to the milder class.
func (c Calculator) dryness(ratio float64) Status {
	switch {
	case ratio <= c.t.SlightlyDryRatio:
		return StatusHealthy
	case ratio <= c.t.NeedsWaterRatio:
		return StatusSlightlyDry
	case ratio <= c.t.SeverelyDryRatio:
		return StatusNeedsWater
	default:
		return StatusSeverelyDry
	}
}

// daysBetween returns fractional days from earlier to later, clamped at zero
// so a lastWatered ahead of the clock reads as just watered.
func daysBetween(later, earlier time.Time) float64 {
	d := later.Sub(earlier)
	if d < 0 {
		return 0
	}
	return d.Hours() / hoursPerDay
}
