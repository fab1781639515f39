package models

import (
	"time"

	"gorm.io/gorm"
)

// PalletMovement is an append-only ledger row; undo is the only writer that removes one.
type PalletMovement struct {
	ID             int          `gorm:"primary_key" json:"id"`
	PalletId       int          `gorm:"index;not null" json:"pallet_id"`
	Kind           MovementKind `gorm:"size:10;not null" json:"kind"`
	FromLocationId *int         `json:"from_location_id"`
	ToLocationId   *int         `json:"to_location_id"`
	Quantity       int          `gorm:"not null" json:"quantity"`
	TaskId         *int         `gorm:"index" json:"task_id"`
	ScanId         *int         `gorm:"index" json:"scan_id"`
	MovedBy        string       `gorm:"size:100" json:"moved_by"`
	MovedAt        time.Time    `gorm:"not null" json:"moved_at"`
}

func FindMovementByScan(tx *gorm.DB, scanId int) (*PalletMovement, error) {
	var movement PalletMovement
	err := tx.Where("scan_id = ?", scanId).Order("id DESC").Limit(1).Find(&movement).Error
	if err != nil {
		return nil, err
	}
	if movement.ID == 0 {
		return nil, nil
	}
	return &movement, nil
}

// LocationAt reconstructs where a pallet was at a point in time from the ledger.
// found is false when the ledger holds no movement for the pallet at all.
func LocationAt(tx *gorm.DB, palletId int, at time.Time) (locationId *int, found bool, err error) {
	var movement PalletMovement
	err = tx.Where("pallet_id = ? AND moved_at <= ?", palletId, at).
		Order("moved_at DESC").Order("id DESC").Limit(1).Find(&movement).Error
	if err != nil {
		return nil, false, err
	}
	if movement.ID != 0 {
		return movement.ToLocationId, true, nil
	}
	// before its first movement the pallet stood where that movement started
	err = tx.Where("pallet_id = ? AND moved_at > ?", palletId, at).
		Order("moved_at ASC").Order("id ASC").Limit(1).Find(&movement).Error
	if err != nil || movement.ID == 0 {
		return nil, false, err
	}
	return movement.FromLocationId, true, nil
}
