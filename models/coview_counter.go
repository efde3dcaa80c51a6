package models

import "time"

// CoViewCounter tallies how often RelatedItemID was viewed right before or right
// after ItemID. One row per ordered pair; TotalViewCount is always
// BeforeViewCount + AfterViewCount.
type CoViewCounter struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ItemID          uint      `gorm:"index;index:idx_also_viewed_pair,unique;not null" json:"item_id"`
	RelatedItemID   uint      `gorm:"index;index:idx_also_viewed_pair,unique;not null" json:"related_item_id"`
	BeforeViewCount int64     `gorm:"index;not null;default:0" json:"before_view_count"`
	AfterViewCount  int64     `gorm:"index;not null;default:0" json:"after_view_count"`
	TotalViewCount  int64     `gorm:"index;not null;default:0" json:"total_view_count"`
	Added           time.Time `gorm:"column:added;not null" json:"added"`
	Modified        time.Time `gorm:"column:modified;not null" json:"modified"`
	RelatedItem     *Item     `gorm:"foreignKey:RelatedItemID" json:"related_item,omitempty"`
}

// TableName keeps the historical table name.
func (CoViewCounter) TableName() string {
	return "also_viewed_items"
}

// CountFor returns the counter value for the given column name.
func (c CoViewCounter) CountFor(column string) (int64, bool) {
	switch column {
	case "total_view_count":
		return c.TotalViewCount, true
	case "before_view_count":
		return c.BeforeViewCount, true
	case "after_view_count":
		return c.AfterViewCount, true
	default:
		return 0, false
	}
}
