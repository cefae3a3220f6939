package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleUser  UserRole = "USER"
)

func (r UserRole) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type User struct {
	ID          string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	Email       string         `json:"email" gorm:"uniqueIndex;not null"`
	Password    string         `json:"-" gorm:"not null"`
	FirstName   string         `json:"firstName" gorm:"not null"`
	LastName    string         `json:"lastName" gorm:"not null"`
	Role        UserRole       `json:"role" gorm:"not null;default:'USER'"`
	IsActive    bool           `json:"isActive" gorm:"not null;default:true"`
	LastLoginAt *time.Time     `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
