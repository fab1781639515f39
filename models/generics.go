package models

import (
	"github.com/mmdatafocus/wms_backend/utils"
	"gorm.io/gorm"
)

func fetch[T any](tx *gorm.DB, entity string, id int, associations ...string) (*T, error) {
	return utils.FetchModel[T](tx, entity, id, associations...)
}

func fetchForUpdate[T any](tx *gorm.DB, entity string, id int, associations ...string) (*T, error) {
	return utils.FetchModelForUpdate[T](tx, entity, id, associations...)
}
