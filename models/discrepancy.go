package models

import (
	"time"

	"gorm.io/gorm"
)

type Discrepancy struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Type          DiscrepancyType `gorm:"size:32;not null;index" json:"type"`
	ReceiptId     *int            `gorm:"index" json:"receipt_id"`
	ReceiptLineId *int            `gorm:"index" json:"receipt_line_id"`
	TaskId        *int            `gorm:"index" json:"task_id"`
	ScanId        *int            `gorm:"index" json:"scan_id"`
	ExpectedQty   *int            `json:"expected_qty"`
	ActualQty     *int            `json:"actual_qty"`
	ExpectedValue string          `gorm:"size:255" json:"expected_value"`
	ActualValue   string          `gorm:"size:255" json:"actual_value"`
	Resolved      bool            `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedBy    string          `gorm:"size:100" json:"resolved_by"`
	ResolvedAt    *time.Time      `json:"resolved_at"`
	Comment       string          `gorm:"type:text" json:"comment"`
	CreatedBy     string          `gorm:"size:100" json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

func GetDiscrepancy(tx *gorm.DB, id int) (*Discrepancy, error) {
	return fetch[Discrepancy](tx, "discrepancy", id)
}

func ListUnresolvedDiscrepancies(tx *gorm.DB, receiptId int) ([]Discrepancy, error) {
	var discrepancies []Discrepancy
	err := tx.Where("receipt_id = ? AND resolved = ?", receiptId, false).Order("id").Find(&discrepancies).Error
	return discrepancies, err
}

func ListScanDiscrepancies(tx *gorm.DB, scanId int) ([]Discrepancy, error) {
	var discrepancies []Discrepancy
	err := tx.Where("scan_id = ?", scanId).Order("id").Find(&discrepancies).Error
	return discrepancies, err
}
