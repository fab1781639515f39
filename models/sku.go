package models

import (
	"time"

	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Sku struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Code         string          `gorm:"size:64;not null;uniqueIndex" json:"code"`
	Barcode      string          `gorm:"size:128;index" json:"barcode"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Status       SkuStatus       `gorm:"size:20;not null;default:ACTIVE" json:"status"`
	UnitWeightKg decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_weight_kg"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// MatchesBarcode accepts the canonical code or the registered barcode.
func (s Sku) MatchesBarcode(scanned string) bool {
	if utils.SameCode(scanned, s.Code) {
		return true
	}
	return s.Barcode != "" && utils.SameCode(scanned, s.Barcode)
}

func GetSku(tx *gorm.DB, id int) (*Sku, error) {
	return fetch[Sku](tx, "sku", id)
}

func ListSkus(tx *gorm.DB, ids []int) (map[int]Sku, error) {
	result := make(map[int]Sku, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var skus []Sku
	if err := tx.Where("id IN ?", ids).Find(&skus).Error; err != nil {
		return nil, err
	}
	for _, sku := range skus {
		result[sku.ID] = sku
	}
	return result, nil
}
