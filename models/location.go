package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Zone struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Location struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Code        string          `gorm:"size:64;not null;uniqueIndex" json:"code"`
	ZoneId      *int            `gorm:"index" json:"zone_id"`
	Type        LocationType    `gorm:"size:20;not null;index" json:"type"`
	IsActive    bool            `gorm:"not null;default:true" json:"is_active"`
	IsAvailable bool            `gorm:"not null;default:true" json:"is_available"`
	MaxPallets  int             `gorm:"not null;default:0" json:"max_pallets"`
	MaxWeightKg decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"max_weight_kg"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PutawayRule narrows storage candidates; lower Priority is tried first.
// Nil ZoneId/SkuId mean "any".
type PutawayRule struct {
	ID           int          `gorm:"primary_key" json:"id"`
	Name         string       `gorm:"size:100;not null" json:"name"`
	Priority     int          `gorm:"not null;index" json:"priority"`
	ZoneId       *int         `json:"zone_id"`
	SkuId        *int         `json:"sku_id"`
	LocationType LocationType `gorm:"size:20;not null;default:STORAGE" json:"location_type"`
	IsActive     bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetLocation(tx *gorm.DB, id int) (*Location, error) {
	return fetch[Location](tx, "location", id)
}

// LocationStore is the gorm-backed view of zones, locations and putaway rules.
type LocationStore struct {
	tx *gorm.DB
}

func NewLocationStore(tx *gorm.DB) *LocationStore {
	return &LocationStore{tx: tx}
}

// AvailableLocations lists active, available locations of locType ordered by id.
func (s *LocationStore) AvailableLocations(locType LocationType, zoneId *int) ([]Location, error) {
	var locations []Location
	q := s.tx.Where("type = ? AND is_active = ? AND is_available = ?", locType, true, true)
	if zoneId != nil {
		q = q.Where("zone_id = ?", *zoneId)
	}
	err := q.Order("id").Find(&locations).Error
	return locations, err
}

func (s *LocationStore) ActivePutawayRules() ([]PutawayRule, error) {
	var rules []PutawayRule
	err := s.tx.Where("is_active = ?", true).Order("priority").Order("id").Find(&rules).Error
	return rules, err
}

// PalletsAt lists pallets stored at the location plus pallets already routed to it.
func (s *LocationStore) PalletsAt(locationId int) ([]Pallet, error) {
	var stored []Pallet
	if err := s.tx.Where("location_id = ? AND status IN ?", locationId, PalletStatusesOccupyingLocation).
		Find(&stored).Error; err != nil {
		return nil, err
	}
	var routed []Pallet
	err := s.tx.Where("id IN (?)", s.tx.Model(&Task{}).Select("pallet_id").
		Where("type = ? AND target_location_id = ? AND status IN ?", TaskTypePlacement, locationId, OpenTaskStatuses)).
		Find(&routed).Error
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(stored))
	for _, p := range stored {
		seen[p.ID] = true
	}
	for _, p := range routed {
		if !seen[p.ID] {
			stored = append(stored, p)
		}
	}
	return stored, nil
}

func (s *LocationStore) Sku(id int) (*Sku, error) {
	return GetSku(s.tx, id)
}
