package datastore

import (
	"context"
	"time"

	"github.com/verdant-app/verdant/internal/care"
	"github.com/verdant-app/verdant/internal/datastore/entities"
	"github.com/verdant-app/verdant/internal/datastore/mapper"
	"github.com/verdant-app/verdant/internal/errors"
	"github.com/verdant-app/verdant/internal/observability/metrics"
)

// DefaultAlertLimit caps alert history queries without an explicit limit
const DefaultAlertLimit = 100

// AlertHistory records care events. It is a care.Sink.
type AlertHistory struct {
	db *DB
}

var _ care.Sink = (*AlertHistory)(nil)

func NewAlertHistory(db *DB) *AlertHistory {
	return &AlertHistory{db: db}
}

func (h *AlertHistory) Name() string { return "alert_history" }

// HandleEvent stores ev
func (h *AlertHistory) HandleEvent(ctx context.Context, ev care.Event) error {
	start := time.Now()
	err := h.db.gorm.WithContext(ctx).Create(mapper.AlertToEntity(&ev)).Error
	h.db.observe(metrics.OpAlertRecord, start, err)
	if err != nil {
		return dbError(err, "record_alert", errors.PriorityLow,
			"owner_id", ev.OwnerID,
			"plant_id", ev.PlantID)
	}
	return nil
}

// List returns the owner's alerts, newest first
func (h *AlertHistory) List(ctx context.Context, ownerID string, limit int) ([]care.Event, error) {
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	start := time.Now()
	var rows []entities.CareAlert
	err := h.db.gorm.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	h.db.observe(metrics.OpAlertList, start, err)
	if err != nil {
		return nil, dbError(err, "list_alerts", errors.PriorityLow, "owner_id", ownerID)
	}

	events := make([]care.Event, 0, len(rows))
	for i := range rows {
		events = append(events, mapper.AlertFromEntity(&rows[i]))
	}
	return events, nil
}

// Prune deletes alerts recorded before cutoff and returns how many went
func (h *AlertHistory) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := h.db.gorm.WithContext(ctx).
		Where("at < ?", cutoff.UTC()).
		Delete(&entities.CareAlert{})
	if res.Error != nil {
		return 0, dbError(res.Error, "prune_alerts", errors.PriorityLow)
	}
	return res.RowsAffected, nil
}
