package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/wms_backend/utils"
	"gorm.io/gorm"
)

// History is one audit row: a single field change on a single entity.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	EntityType    string    `gorm:"size:50;not null;index:idx_history_entity" json:"entity_type"`
	EntityId      int       `gorm:"not null;index:idx_history_entity" json:"entity_id"`
	Action        string    `gorm:"size:50;not null" json:"action"`
	Field         string    `gorm:"size:100" json:"field"`
	OldValue      string    `gorm:"type:text" json:"old_value"`
	NewValue      string    `gorm:"type:text" json:"new_value"`
	Actor         string    `gorm:"size:100;not null" json:"actor"`
	CorrelationId string    `gorm:"size:100;index" json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// NewHistoryRows builds one row per changed field, skipping fields whose
// rendered old and new values are equal. Values longer than limit are truncated.
func NewHistoryRows(ctx context.Context, entityType string, entityId int, action string, at time.Time, limit int, changes ...FieldChange) []History {
	actor := utils.GetActorFromContext(ctx)
	correlationId := ""
	if ctx != nil {
		correlationId, _ = utils.GetCorrelationIdFromContext(ctx)
	}
	rows := make([]History, 0, len(changes))
	for _, c := range changes {
		oldValue := utils.StringifyValue(c.OldValue)
		newValue := utils.StringifyValue(c.NewValue)
		if oldValue == newValue && c.Field != "" {
			continue
		}
		rows = append(rows, History{
			EntityType:    entityType,
			EntityId:      entityId,
			Action:        action,
			Field:         c.Field,
			OldValue:      utils.Truncate(oldValue, limit),
			NewValue:      utils.Truncate(newValue, limit),
			Actor:         actor,
			CorrelationId: correlationId,
			CreatedAt:     at,
		})
	}
	return rows
}

func createHistory(tx *gorm.DB, rows []History) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// CreateHistory persists audit rows on the caller's transaction.
func CreateHistory(tx *gorm.DB, rows []History) error {
	return createHistory(tx, rows)
}

func ListHistory(tx *gorm.DB, entityType string, entityId int) ([]History, error) {
	var rows []History
	err := tx.Where("entity_type = ? AND entity_id = ?", entityType, entityId).Order("id").Find(&rows).Error
	return rows, err
}
