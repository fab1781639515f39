package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Pallet struct {
	ID         int          `gorm:"primary_key" json:"id"`
	Code       string       `gorm:"size:64;not null;uniqueIndex" json:"code"`
	Status     PalletStatus `gorm:"size:20;not null;index" json:"status"`
	LocationId *int         `gorm:"index" json:"location_id"`
	SkuId      *int         `gorm:"index" json:"sku_id"`
	Quantity   int          `gorm:"not null;default:0" json:"quantity"`
	LotNumber  string       `gorm:"size:100" json:"lot_number"`
	ExpiryDate *time.Time   `json:"expiry_date"`
	ReceiptId  *int         `gorm:"index" json:"receipt_id"`
	CreatedAt  time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// ResetToEmpty clears every receiving attribute so the pallet can be reused.
func (p *Pallet) ResetToEmpty() {
	p.Status = PalletStatusEmpty
	p.Quantity = 0
	p.SkuId = nil
	p.LocationId = nil
	p.ReceiptId = nil
	p.LotNumber = ""
	p.ExpiryDate = nil
}

func GetPallet(tx *gorm.DB, id int) (*Pallet, error) {
	return fetch[Pallet](tx, "pallet", id)
}

func LockPallet(tx *gorm.DB, id int) (*Pallet, error) {
	return fetchForUpdate[Pallet](tx, "pallet", id)
}

// LockPalletByCode returns nil, nil when no pallet carries the code.
func LockPalletByCode(tx *gorm.DB, code string) (*Pallet, error) {
	var pallet Pallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("code = ?", code).Limit(1).Find(&pallet).Error
	if err != nil {
		return nil, err
	}
	if pallet.ID == 0 {
		return nil, nil
	}
	return &pallet, nil
}

func ListReceiptPallets(tx *gorm.DB, receiptId int, statuses []PalletStatus) ([]Pallet, error) {
	var pallets []Pallet
	err := tx.Where("receipt_id = ? AND status IN ?", receiptId, statuses).Order("id").Find(&pallets).Error
	return pallets, err
}
