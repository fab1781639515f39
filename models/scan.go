package models

import (
	"time"

	"gorm.io/gorm"
)

// Scan is immutable once written; only undo removes it.
type Scan struct {
	ID           int        `gorm:"primary_key" json:"id"`
	TaskId       int        `gorm:"index;not null" json:"task_id"`
	PalletId     *int       `gorm:"index" json:"pallet_id"`
	PalletCode   string     `gorm:"size:64" json:"pallet_code"`
	Barcode      string     `gorm:"size:128" json:"barcode"`
	Sscc         string     `gorm:"size:18" json:"sscc"`
	LotNumber    string     `gorm:"size:100" json:"lot_number"`
	ExpiryDate   *time.Time `json:"expiry_date"`
	Quantity     int        `gorm:"not null" json:"quantity"`
	LocationCode string     `gorm:"size:64" json:"location_code"`
	DeviceId     string     `gorm:"size:100" json:"device_id"`
	Damaged      bool       `gorm:"not null;default:false" json:"damaged"`
	Discrepancy  bool       `gorm:"not null;default:false" json:"discrepancy"`
	RequestId    *string    `gorm:"size:100;uniqueIndex" json:"request_id"`
	ScannedBy    string     `gorm:"size:100" json:"scanned_by"`
	ScannedAt    time.Time  `gorm:"not null;index" json:"scanned_at"`
}

type NewScan struct {
	PalletCode   string     `json:"pallet_code"`
	Barcode      string     `json:"barcode"`
	Sscc         string     `json:"sscc"`
	LotNumber    string     `json:"lot_number"`
	ExpiryDate   *time.Time `json:"expiry_date"`
	Quantity     int        `json:"quantity"`
	LocationCode string     `json:"location_code"`
	DeviceId     string     `json:"device_id"`
	Damaged      bool       `json:"damaged"`
	RequestId    string     `json:"request_id"`
}

func GetScan(tx *gorm.DB, id int) (*Scan, error) {
	return fetch[Scan](tx, "scan", id)
}

func CountTaskScans(tx *gorm.DB, taskId int) (int64, error) {
	var count int64
	err := tx.Model(&Scan{}).Where("task_id = ?", taskId).Count(&count).Error
	return count, err
}

// LastScanForTask returns the most recent scan (latest timestamp, then highest id) or nil.
func LastScanForTask(tx *gorm.DB, taskId int) (*Scan, error) {
	var scan Scan
	err := tx.Where("task_id = ?", taskId).Order("scanned_at DESC").Order("id DESC").Limit(1).Find(&scan).Error
	if err != nil {
		return nil, err
	}
	if scan.ID == 0 {
		return nil, nil
	}
	return &scan, nil
}

func FindScanByRequestId(tx *gorm.DB, requestId string) (*Scan, error) {
	var scan Scan
	err := tx.Where("request_id = ?", requestId).Limit(1).Find(&scan).Error
	if err != nil {
		return nil, err
	}
	if scan.ID == 0 {
		return nil, nil
	}
	return &scan, nil
}

// HasDamagedScan reports whether any scan of the pallet other than excludeScanId flagged damage.
func HasDamagedScan(tx *gorm.DB, palletId, excludeScanId int) (bool, error) {
	var count int64
	err := tx.Model(&Scan{}).
		Where("pallet_id = ? AND damaged = ? AND id <> ?", palletId, true, excludeScanId).
		Count(&count).Error
	return count > 0, err
}

// SumScannedQty totals scan quantities of every task on a receipt line.
func SumScannedQty(tx *gorm.DB, receiptLineId int) (int, error) {
	var total int
	err := tx.Model(&Scan{}).
		Select("COALESCE(SUM(scans.quantity), 0)").
		Joins("JOIN tasks ON tasks.id = scans.task_id").
		Where("tasks.receipt_line_id = ?", receiptLineId).
		Scan(&total).Error
	return total, err
}
