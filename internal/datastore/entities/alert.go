package entities

import "time"

// CareAlert records a plant entering NEEDS_WATER
type CareAlert struct {
	ID              uint      `gorm:"primaryKey"`
	OwnerID         string    `gorm:"size:128;not null;index:idx_care_alerts_owner_at,priority:1"`
	PlantID         string    `gorm:"size:64;not null;index"`
	PlantName       string    `gorm:"size:255"`
	Status          string    `gorm:"size:32;not null"`
	Previous        string    `gorm:"size:32"`
	At              time.Time `gorm:"not null;index:idx_care_alerts_owner_at,priority:2"`
	SnapshotVersion uint64
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (CareAlert) TableName() string {
	return "care_alerts"
}
