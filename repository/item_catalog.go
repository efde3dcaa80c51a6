package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cppla/alsoviewed/models"
)

// ItemCatalog is the read-only view of the item catalog the co-view core needs.
type ItemCatalog interface {
	ItemExists(ctx context.Context, id uint) (bool, error)
	// GetItem returns nil, nil when the item does not exist.
	GetItem(ctx context.Context, id uint) (*models.Item, error)
}

// GormItemCatalog reads items through GORM. Soft-deleted items do not exist.
type GormItemCatalog struct {
	db *gorm.DB
}

// NewItemCatalog returns a GORM backed ItemCatalog.
func NewItemCatalog(db *gorm.DB) *GormItemCatalog {
	return &GormItemCatalog{db: db}
}

// ItemExists implements ItemCatalog.
func (c *GormItemCatalog) ItemExists(ctx context.Context, id uint) (bool, error) {
	if id == 0 {
		return false, nil
	}
	var n int64
	if err := c.db.WithContext(ctx).Model(&models.Item{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check item %d: %w", id, err)
	}
	return n > 0, nil
}

// GetItem implements ItemCatalog.
func (c *GormItemCatalog) GetItem(ctx context.Context, id uint) (*models.Item, error) {
	if id == 0 {
		return nil, nil
	}
	var item models.Item
	err := c.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	return &item, nil
}
