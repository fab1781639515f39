package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusSucceeded OutboxStatus = "SUCCEEDED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
	OutboxStatusDead      OutboxStatus = "DEAD"
)

// EventOutbox holds a receipt event written in the same transaction as the
// status change. The relay delivers PENDING and FAILED rows.
type EventOutbox struct {
	ID            int          `gorm:"primary_key" json:"id"`
	ReceiptId     int          `gorm:"not null;index" json:"receipt_id"`
	ToStatus      string       `gorm:"size:30;not null" json:"to_status"`
	Payload       string       `gorm:"type:text;not null" json:"payload"`
	Status        OutboxStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts      int          `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time   `gorm:"index" json:"next_attempt_at"`
	LastError     *string      `gorm:"type:text" json:"last_error"`
	LockedAt      *time.Time   `json:"locked_at"`
	LockedBy      *string      `gorm:"size:100" json:"locked_by"`
	CreatedAt     time.Time    `json:"created_at"`
	ProcessedAt   *time.Time   `json:"processed_at"`
}

func (EventOutbox) TableName() string {
	return "event_outbox"
}

// ClaimOutbox locks up to limit deliverable rows for workerId.
// Rows locked before staleBefore are considered abandoned and may be claimed again.
func ClaimOutbox(tx *gorm.DB, workerId string, now, staleBefore time.Time, limit int) ([]EventOutbox, error) {
	var claimed []EventOutbox
	err := tx.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status IN ?", []OutboxStatus{OutboxStatusPending, OutboxStatusFailed}).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]int, 0, len(claimed))
		for i := range claimed {
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &workerId
			ids = append(ids, claimed[i].ID)
		}
		return tx.Model(&EventOutbox{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"locked_at": now,
			"locked_by": workerId,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func MarkOutboxSucceeded(tx *gorm.DB, id int, now time.Time) error {
	return tx.Model(&EventOutbox{}).
		Where("id = ? AND status <> ?", id, OutboxStatusDead).
		Updates(map[string]interface{}{
			"status":          OutboxStatusSucceeded,
			"processed_at":    now,
			"next_attempt_at": nil,
			"last_error":      nil,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
}

// MarkOutboxFailed records a failed attempt. A nil nextAttemptAt marks the row DEAD.
func MarkOutboxFailed(tx *gorm.DB, id, attempts int, nextAttemptAt *time.Time, errMsg string) error {
	status := OutboxStatusFailed
	if nextAttemptAt == nil {
		status = OutboxStatusDead
	}
	return tx.Model(&EventOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"last_error":      errMsg,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
}

// RequeueDeadOutbox moves DEAD rows back to PENDING with a fresh attempt budget.
// An empty ids requeues every DEAD row.
func RequeueDeadOutbox(tx *gorm.DB, ids []int) (int64, error) {
	q := tx.Model(&EventOutbox{}).Where("status = ?", OutboxStatusDead)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"status":          OutboxStatusPending,
		"attempts":        0,
		"next_attempt_at": nil,
	})
	return res.RowsAffected, res.Error
}

type OutboxStatusCount struct {
	Status OutboxStatus `json:"status"`
	Count  int64        `json:"count"`
}

func CountOutboxByStatus(tx *gorm.DB) ([]OutboxStatusCount, error) {
	var rows []OutboxStatusCount
	err := tx.Model(&EventOutbox{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}
