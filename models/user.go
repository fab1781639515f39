package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Role      UserRole  `gorm:"size:20;not null;default:OPERATOR" json:"role"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListActiveOperators returns operators eligible for task assignment, ordered by username.
func ListActiveOperators(tx *gorm.DB) ([]User, error) {
	var users []User
	err := tx.Where("role = ? AND is_active = ?", UserRoleOperator, true).Order("username").Find(&users).Error
	return users, err
}

func FindUserByUsername(tx *gorm.DB, username string) (*User, error) {
	var user User
	err := tx.Where("username = ?", username).Limit(1).Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}
