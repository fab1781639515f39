package workflow

import (
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/shopspring/decimal"
)

// LocationRepository is the read side the putaway selector needs.
type LocationRepository interface {
	AvailableLocations(locType models.LocationType, zoneId *int) ([]models.Location, error)
	ActivePutawayRules() ([]models.PutawayRule, error)
	PalletsAt(locationId int) ([]models.Pallet, error)
	Sku(id int) (*models.Sku, error)
}

type PutawayContext struct {
	CrossDock bool
	Repo      LocationRepository
}

// SelectLocation returns the storage location for a pallet, or nil when no
// location can take it. Candidates are tried in ascending id order.
//
// Damaged and quarantined pallets go to their dedicated location types,
// cross-dock receipts to CROSS_DOCK, everything else through the active
// putaway rules by priority. With no active rules any STORAGE location qualifies.
func SelectLocation(pallet models.Pallet, pc PutawayContext) (*models.Location, error) {
	switch {
	case pallet.Status == models.PalletStatusDamaged:
		return firstFitting(pallet, pc.Repo, models.LocationTypeDamaged, nil)
	case pallet.Status == models.PalletStatusQuarantine:
		return firstFitting(pallet, pc.Repo, models.LocationTypeQuarantine, nil)
	case pc.CrossDock:
		return firstFitting(pallet, pc.Repo, models.LocationTypeCrossDock, nil)
	}

	rules, err := pc.Repo.ActivePutawayRules()
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return firstFitting(pallet, pc.Repo, models.LocationTypeStorage, nil)
	}
	for _, rule := range rules {
		if rule.SkuId != nil && (pallet.SkuId == nil || *rule.SkuId != *pallet.SkuId) {
			continue
		}
		locType := rule.LocationType
		if locType == "" {
			locType = models.LocationTypeStorage
		}
		location, err := firstFitting(pallet, pc.Repo, locType, rule.ZoneId)
		if err != nil {
			return nil, err
		}
		if location != nil {
			return location, nil
		}
	}
	return nil, nil
}

func firstFitting(pallet models.Pallet, repo LocationRepository, locType models.LocationType, zoneId *int) (*models.Location, error) {
	locations, err := repo.AvailableLocations(locType, zoneId)
	if err != nil {
		return nil, err
	}
	var palletWeight *decimal.Decimal
	for i := range locations {
		location := locations[i]
		if !location.IsActive || !location.IsAvailable {
			continue
		}
		if location.MaxPallets <= 0 && !location.MaxWeightKg.IsPositive() {
			return &location, nil
		}
		occupants, err := repo.PalletsAt(location.ID)
		if err != nil {
			return nil, err
		}
		others := make([]models.Pallet, 0, len(occupants))
		for _, p := range occupants {
			if p.ID != pallet.ID {
				others = append(others, p)
			}
		}
		if location.MaxPallets > 0 && len(others) >= location.MaxPallets {
			continue
		}
		if location.MaxWeightKg.IsPositive() {
			if palletWeight == nil {
				w, err := weightOf(repo, pallet)
				if err != nil {
					return nil, err
				}
				palletWeight = &w
			}
			load := decimal.Zero
			for _, p := range others {
				w, err := weightOf(repo, p)
				if err != nil {
					return nil, err
				}
				load = load.Add(w)
			}
			if load.Add(*palletWeight).GreaterThan(location.MaxWeightKg) {
				continue
			}
		}
		return &location, nil
	}
	return nil, nil
}

func weightOf(repo LocationRepository, pallet models.Pallet) (decimal.Decimal, error) {
	if pallet.SkuId == nil || pallet.Quantity == 0 {
		return decimal.Zero, nil
	}
	sku, err := repo.Sku(*pallet.SkuId)
	if err != nil {
		return decimal.Zero, err
	}
	return sku.UnitWeightKg.Mul(decimal.NewFromInt(int64(pallet.Quantity))), nil
}
