// Package entities contains the GORM models of the garden schema
package entities

import "time"

// OwnedPlant is one row per plant a user owns. Health columns hold the status
// derived at write time for reporting; readers always re-derive it.
type OwnedPlant struct {
	ID                    string     `gorm:"primaryKey;size:64"`
	OwnerID               string     `gorm:"size:128;not null;index:idx_owned_plants_owner_created,priority:1"`
	Name                  string     `gorm:"size:255;not null"`
	ScientificName        string     `gorm:"size:255"`
	Description           string     `gorm:"type:text"`
	CareTips              string     `gorm:"type:text"`
	WateringFrequencyDays int        `gorm:"not null;default:0"`
	Light                 string     `gorm:"size:64"`
	Location              string     `gorm:"size:128"`
	Health                string     `gorm:"size:32"`
	HealthDescription     string     `gorm:"size:255"`
	Recognized            bool       `gorm:"not null;default:false"`
	ImageRef              string     `gorm:"size:512"`
	LastWatered           time.Time  `gorm:"not null"`
	PreviousLastWatered   *time.Time
	CreatedAt             time.Time  `gorm:"autoCreateTime:false;not null;index:idx_owned_plants_owner_created,priority:2"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime:false"`
}

func (OwnedPlant) TableName() string {
	return "owned_plants"
}
