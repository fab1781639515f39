package models

import (
	"time"

	"gorm.io/gorm"
)

type Receipt struct {
	ID             int           `gorm:"primary_key" json:"id"`
	DocumentNumber string        `gorm:"size:100;not null;index" json:"document_number"`
	Supplier       string        `gorm:"size:255" json:"supplier"`
	Status         ReceiptStatus `gorm:"size:32;not null;index" json:"status"`
	IsCrossDock    bool          `gorm:"not null;default:false" json:"is_cross_dock"`
	OutboundRef    *string       `gorm:"size:100;index" json:"outbound_ref"`
	DockLocationId *int          `gorm:"index" json:"dock_location_id"`
	MessageId      *string       `gorm:"size:255;uniqueIndex" json:"message_id"`
	Lines          []ReceiptLine `gorm:"foreignKey:ReceiptId" json:"lines"`
	CreatedBy      string        `gorm:"size:100" json:"created_by"`
	ConfirmedAt    *time.Time    `json:"confirmed_at"`
	ClosedAt       *time.Time    `json:"closed_at"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReceiptLine struct {
	ID          int        `gorm:"primary_key" json:"id"`
	ReceiptId   int        `gorm:"index;not null" json:"receipt_id"`
	LineNo      int        `gorm:"not null" json:"line_no"`
	SkuId       int        `gorm:"index;not null" json:"sku_id"`
	Sku         *Sku       `gorm:"foreignKey:SkuId" json:"sku,omitempty"`
	ExpectedQty int        `gorm:"not null" json:"expected_qty"`
	LotNumber   string     `gorm:"size:100" json:"lot_number"`
	ExpiryDate  *time.Time `json:"expiry_date"`
	Sscc        string     `gorm:"size:18" json:"sscc"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReceipt struct {
	DocumentNumber string           `json:"document_number" validate:"required"`
	Supplier       string           `json:"supplier"`
	IsCrossDock    bool             `json:"is_cross_dock"`
	OutboundRef    string           `json:"outbound_ref"`
	DockLocationId *int             `json:"dock_location_id"`
	MessageId      string           `json:"message_id"`
	Lines          []NewReceiptLine `json:"lines" validate:"required,min=1,dive"`
}

type NewReceiptLine struct {
	SkuId       int        `json:"sku_id" validate:"required,gt=0"`
	ExpectedQty int        `json:"expected_qty" validate:"gt=0"`
	LotNumber   string     `json:"lot_number"`
	ExpiryDate  *time.Time `json:"expiry_date"`
	Sscc        string     `json:"sscc" validate:"omitempty,len=18,numeric"`
}

func GetReceipt(tx *gorm.DB, id int) (*Receipt, error) {
	return fetch[Receipt](tx, "receipt", id)
}

// LockReceipt loads a receipt with its lines and holds the row until tx ends.
func LockReceipt(tx *gorm.DB, id int) (*Receipt, error) {
	return fetchForUpdate[Receipt](tx, "receipt", id, "Lines", "Lines.Sku")
}

func FindReceiptByMessageId(tx *gorm.DB, messageId string) (*Receipt, error) {
	var receipt Receipt
	err := tx.Preload("Lines").Where("message_id = ?", messageId).Limit(1).Find(&receipt).Error
	if err != nil {
		return nil, err
	}
	if receipt.ID == 0 {
		return nil, nil
	}
	return &receipt, nil
}

func ListWaveReceipts(tx *gorm.DB, outboundRef string) ([]Receipt, error) {
	var receipts []Receipt
	err := tx.Where("outbound_ref = ?", outboundRef).Order("id").Find(&receipts).Error
	return receipts, err
}
