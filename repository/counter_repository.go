package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/alsoviewed/models"
)

var (
	// ErrSelfPair is returned when a counter would pair an item with itself.
	ErrSelfPair = errors.New("item cannot be related to itself")
	// ErrInvalidItem is returned for a zero item id.
	ErrInvalidItem = errors.New("invalid item id")
	// ErrInvalidColumn is returned for a sort column outside the counter columns.
	ErrInvalidColumn = errors.New("invalid counter column")
)

// Direction says which side of a transition a counter bump records.
type Direction int

const (
	// Before records that the related item was viewed right before the base item.
	Before Direction = iota
	// After records that the related item was viewed right after the base item.
	After
)

func (d Direction) column() string {
	if d == After {
		return "after_view_count"
	}
	return "before_view_count"
}

func (d Direction) String() string {
	if d == After {
		return "after"
	}
	return "before"
}

// Counter columns a query may order by.
const (
	ColumnTotal  = "total_view_count"
	ColumnBefore = "before_view_count"
	ColumnAfter  = "after_view_count"
)

// ValidColumn reports whether column is one of the three counter columns.
func ValidColumn(column string) bool {
	switch column {
	case ColumnTotal, ColumnBefore, ColumnAfter:
		return true
	}
	return false
}

// CounterQuery selects and orders the counters of one base item.
// Limit 0 returns every row; Page is 1-based and only used with a Limit.
type CounterQuery struct {
	Column string
	Desc   bool
	Limit  int
	Page   int
}

// CounterSummary aggregates the whole counter table.
type CounterSummary struct {
	Pairs       int64 `json:"pairs"`
	Transitions int64 `json:"transitions"`
}

// CounterRepository persists co-view counters.
type CounterRepository interface {
	// UpsertCounter atomically creates the (itemID, relatedItemID) row if needed
	// and bumps the directional and total counts by one.
	UpsertCounter(ctx context.Context, itemID, relatedItemID uint, dir Direction) error
	// QueryByItem returns the counters whose base item is itemID.
	QueryByItem(ctx context.Context, itemID uint, q CounterQuery) ([]models.CoViewCounter, error)
	// Find returns the counter for one ordered pair, or nil when none exists.
	Find(ctx context.Context, itemID, relatedItemID uint) (*models.CoViewCounter, error)
	// Summary counts stored pairs and recorded transitions.
	Summary(ctx context.Context) (CounterSummary, error)
}

// GormCounterRepository stores counters through GORM. The (item_id,
// related_item_id) unique index is what makes UpsertCounter race free.
type GormCounterRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCounterRepository returns a GORM backed CounterRepository.
func NewCounterRepository(db *gorm.DB) *GormCounterRepository {
	return &GormCounterRepository{db: db, now: time.Now}
}

// WithClock overrides the timestamp source.
func (r *GormCounterRepository) WithClock(now func() time.Time) *GormCounterRepository {
	r.now = now
	return r
}

// UpsertCounter implements CounterRepository with a single INSERT ... ON CONFLICT statement.
func (r *GormCounterRepository) UpsertCounter(ctx context.Context, itemID, relatedItemID uint, dir Direction) error {
	if itemID == 0 || relatedItemID == 0 {
		return ErrInvalidItem
	}
	if itemID == relatedItemID {
		return ErrSelfPair
	}

	now := r.now()
	row := models.CoViewCounter{
		ItemID:         itemID,
		RelatedItemID:  relatedItemID,
		TotalViewCount: 1,
		Added:          now,
		Modified:       now,
	}
	if dir == After {
		row.AfterViewCount = 1
	} else {
		row.BeforeViewCount = 1
	}

	col := dir.column()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item_id"}, {Name: "related_item_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			col:                gorm.Expr(col + " + 1"),
			"total_view_count": gorm.Expr("total_view_count + 1"),
			"modified":         now,
		}),
	}).Omit(clause.Associations).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert %s counter (%d,%d): %w", dir, itemID, relatedItemID, err)
	}
	return nil
}

// QueryByItem implements CounterRepository. Ties are broken by ascending row id.
func (r *GormCounterRepository) QueryByItem(ctx context.Context, itemID uint, q CounterQuery) ([]models.CoViewCounter, error) {
	if !ValidColumn(q.Column) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidColumn, q.Column)
	}

	tx := r.db.WithContext(ctx).
		Preload("RelatedItem").
		Where("item_id = ?", itemID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: q.Column}, Desc: q.Desc}).
		Order("id ASC")
	if q.Limit > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		tx = tx.Limit(q.Limit).Offset((page - 1) * q.Limit)
	}

	var rows []models.CoViewCounter
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query counters for item %d: %w", itemID, err)
	}
	return rows, nil
}

// Find implements CounterRepository.
func (r *GormCounterRepository) Find(ctx context.Context, itemID, relatedItemID uint) (*models.CoViewCounter, error) {
	var row models.CoViewCounter
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND related_item_id = ?", itemID, relatedItemID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find counter (%d,%d): %w", itemID, relatedItemID, err)
	}
	return &row, nil
}

// Summary implements CounterRepository. Every transition bumps exactly one
// after_view_count, so its sum is the number of recorded transitions.
func (r *GormCounterRepository) Summary(ctx context.Context) (CounterSummary, error) {
	var s CounterSummary
	if err := r.db.WithContext(ctx).Model(&models.CoViewCounter{}).Count(&s.Pairs).Error; err != nil {
		return s, fmt.Errorf("count counters: %w", err)
	}
	if err := r.db.WithContext(ctx).Model(&models.CoViewCounter{}).
		Select("COALESCE(SUM(after_view_count),0)").
		Scan(&s.Transitions).Error; err != nil {
		return s, fmt.Errorf("sum transitions: %w", err)
	}
	return s, nil
}
