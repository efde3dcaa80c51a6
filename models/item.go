package models

import (
	"time"

	"gorm.io/gorm"
)

// Item is a catalog entry that visitors browse. Co-view counters reference it by ID only.
type Item struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"index;not null" json:"user_id"`
	Title     string         `gorm:"size:255;not null" json:"title"`
	Slug      string         `gorm:"size:255;index" json:"slug"`
	Summary   string         `gorm:"type:text" json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
