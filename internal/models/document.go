package models

import (
	"time"

	"gorm.io/gorm"
)

// Document is a staged upload. Its ID is the input reference handed to jobs.
type Document struct {
	ID               string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	OwnerID          string         `json:"ownerId" gorm:"type:varchar(64);not null;index"`
	OriginalFilename string         `json:"originalFilename" gorm:"not null"`
	StorageKey       string         `json:"-" gorm:"not null;uniqueIndex"`
	Size             int64          `json:"size" gorm:"not null"`
	MimeType         string         `json:"mimeType" gorm:"not null"`
	ContentHash      string         `json:"contentHash" gorm:"type:varchar(64);not null;index"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Document) TableName() string {
	return "documents"
}
