package entities

import "time"

// HandleRecord is one key of the versioned key-value table behind the handle
// registry. Version changes on every write of the key and never repeats.
type HandleRecord struct {
	Key       string    `gorm:"column:record_key;primaryKey;size:191"`
	Value     string    `gorm:"column:record_value;size:128;not null;index"`
	Version   uint64    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (HandleRecord) TableName() string {
	return "handle_records"
}
