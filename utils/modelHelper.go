package utils

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// FetchModel loads a row by primary key within tx.
// (returns a NotFound AppError naming entity when the row is missing)
func FetchModel[T any](tx *gorm.DB, entity string, id int, associations ...string) (*T, error) {
	dbCtx := tx
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound(entity, id)
		}
		return nil, err
	}
	return &result, nil
}

// FetchModelForUpdate is FetchModel holding a row lock until tx ends.
func FetchModelForUpdate[T any](tx *gorm.DB, entity string, id int, associations ...string) (*T, error) {
	return FetchModel[T](tx.Clauses(clause.Locking{Strength: "UPDATE"}), entity, id, associations...)
}
