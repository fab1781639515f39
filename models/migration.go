package models

import (
	"gorm.io/gorm"
)

func AllModels() []interface{} {
	return []interface{}{
		&Zone{}, &Location{}, &PutawayRule{}, &Sku{}, &User{},
		&Receipt{}, &ReceiptLine{},
		&Pallet{}, &Task{}, &Scan{}, &Discrepancy{}, &PalletMovement{},
		&History{}, &EventOutbox{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
