package models

import (
	"time"

	"gorm.io/gorm"
)

type Task struct {
	ID               int        `gorm:"primary_key" json:"id"`
	Type             TaskType   `gorm:"size:20;not null;index" json:"type"`
	Status           TaskStatus `gorm:"size:20;not null;index" json:"status"`
	Assignee         string     `gorm:"size:100;index" json:"assignee"`
	QtyAssigned      int        `gorm:"not null;default:0" json:"qty_assigned"`
	QtyDone          int        `gorm:"not null;default:0" json:"qty_done"`
	ReceiptId        *int       `gorm:"index" json:"receipt_id"`
	ReceiptLineId    *int       `gorm:"index" json:"receipt_line_id"`
	PalletId         *int       `gorm:"index" json:"pallet_id"`
	SourceLocationId *int       `json:"source_location_id"`
	TargetLocationId *int       `gorm:"index" json:"target_location_id"`
	Priority         int        `gorm:"not null;default:0" json:"priority"`
	CreatedBy        string     `gorm:"size:100" json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at"`
	ClosedAt         *time.Time `json:"closed_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// PalletHoldStatus is the pallet status before the task reserved it; cancelling restores it.
	PalletHoldStatus PalletStatus `gorm:"size:20" json:"pallet_hold_status,omitempty"`
}

type NewTask struct {
	Type             TaskType `json:"type" validate:"required"`
	QtyAssigned      int      `json:"qty_assigned" validate:"gte=0"`
	ReceiptId        *int     `json:"receipt_id"`
	ReceiptLineId    *int     `json:"receipt_line_id"`
	PalletId         *int     `json:"pallet_id"`
	SourceLocationId *int     `json:"source_location_id"`
	TargetLocationId *int     `json:"target_location_id"`
	Priority         int      `json:"priority"`
	Assignee         string   `json:"assignee"`

	PalletHoldStatus PalletStatus `json:"-"`
}

func GetTask(tx *gorm.DB, id int) (*Task, error) {
	return fetch[Task](tx, "task", id)
}

func LockTask(tx *gorm.DB, id int) (*Task, error) {
	return fetchForUpdate[Task](tx, "task", id)
}

func ListReceiptTasks(tx *gorm.DB, receiptId int, taskType TaskType) ([]Task, error) {
	var tasks []Task
	err := tx.Where("receipt_id = ? AND type = ?", receiptId, taskType).Order("id").Find(&tasks).Error
	return tasks, err
}

func ListTasksByIds(tx *gorm.DB, ids []int) ([]Task, error) {
	var tasks []Task
	if len(ids) == 0 {
		return tasks, nil
	}
	err := tx.Where("id IN ?", ids).Order("id").Find(&tasks).Error
	return tasks, err
}

// HasOpenTaskForPallet reports whether a non-terminal task of taskType already covers the pallet.
func HasOpenTaskForPallet(tx *gorm.DB, palletId int, taskType TaskType) (bool, error) {
	var count int64
	err := tx.Model(&Task{}).
		Where("pallet_id = ? AND type = ? AND status IN ?", palletId, taskType, OpenTaskStatuses).
		Count(&count).Error
	return count > 0, err
}

type AssigneeLoad struct {
	Assignee  string
	TaskCount int
}

// CountActiveLoad counts ASSIGNED and IN_PROGRESS tasks per assignee.
func CountActiveLoad(tx *gorm.DB) ([]AssigneeLoad, error) {
	var loads []AssigneeLoad
	err := tx.Model(&Task{}).
		Select("assignee, COUNT(*) AS task_count").
		Where("status IN ? AND assignee <> ''", []TaskStatus{TaskStatusAssigned, TaskStatusInProgress}).
		Group("assignee").
		Scan(&loads).Error
	return loads, err
}
