package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/alsoviewed/metrics"
	"github.com/cppla/alsoviewed/models"
	"github.com/cppla/alsoviewed/repository"
)

// Caller errors reported by RelatedItemsQuery.Find.
var (
	ErrInvalidSortField = errors.New("sort field must be total_view_count, before_view_count or after_view_count")
	ErrInvalidSortDir   = errors.New("sort direction must be a(sc) or d(esc)")
	ErrInvalidLimit     = errors.New("limit must be positive")
	ErrInvalidPage      = errors.New("page must be positive")
	ErrPageWithoutLimit = errors.New("page requires a limit")
)

// SortField is the counter a related-item list is ranked by.
type SortField string

const (
	SortByTotal  SortField = repository.ColumnTotal
	SortByBefore SortField = repository.ColumnBefore
	SortByAfter  SortField = repository.ColumnAfter
)

// ParseSortField accepts a column name or its short form (total, before, after).
// An empty string means total.
func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "total", repository.ColumnTotal:
		return SortByTotal, nil
	case "before", repository.ColumnBefore:
		return SortByBefore, nil
	case "after", repository.ColumnAfter:
		return SortByAfter, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSortField, s)
}

// SortDir is the ranking direction.
type SortDir int

const (
	Descending SortDir = iota
	Ascending
)

// ParseSortDir accepts a, asc, ascending, d, desc or descending. An empty string means descending.
func ParseSortDir(s string) (SortDir, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "d", "desc", "descending":
		return Descending, nil
	case "a", "asc", "ascending":
		return Ascending, nil
	}
	return Descending, fmt.Errorf("%w: %q", ErrInvalidSortDir, s)
}

func (d SortDir) String() string {
	if d == Ascending {
		return "asc"
	}
	return "desc"
}

// RelatedItemsQuery ranks the items viewed around a base item.
type RelatedItemsQuery struct {
	counters repository.CounterRepository
	catalog  repository.ItemCatalog
	logger   *zap.Logger
}

// NewRelatedItemsQuery wires a query service. A nil logger disables logging.
func NewRelatedItemsQuery(counters repository.CounterRepository, catalog repository.ItemCatalog, logger *zap.Logger) *RelatedItemsQuery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelatedItemsQuery{counters: counters, catalog: catalog, logger: logger.Named("related")}
}

// Find returns the counters of itemID ordered by field in dir, ties broken
// by ascending row id. limit 0 returns every row; page is 1-based, defaults
// to the first window and is only allowed together with a limit.
// A zero or unknown item yields an empty result, not an error.
func (q *RelatedItemsQuery) Find(ctx context.Context, itemID uint, field SortField, dir SortDir, limit, page int) ([]models.CoViewCounter, error) {
	if !repository.ValidColumn(string(field)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSortField, field)
	}
	if dir != Ascending && dir != Descending {
		return nil, ErrInvalidSortDir
	}
	switch {
	case limit < 0:
		return nil, ErrInvalidLimit
	case page < 0:
		return nil, ErrInvalidPage
	case page > 0 && limit == 0:
		return nil, ErrPageWithoutLimit
	}

	start := time.Now()
	rows, err := q.find(ctx, itemID, repository.CounterQuery{
		Column: string(field),
		Desc:   dir == Descending,
		Limit:  limit,
		Page:   page,
	})
	metrics.RelatedQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RelatedQueries.WithLabelValues(string(field), "error").Inc()
		q.logger.Error("related query failed", zap.Uint("item_id", itemID), zap.String("sort", string(field)), zap.Error(err))
		return nil, err
	}
	metrics.RelatedQueries.WithLabelValues(string(field), "ok").Inc()
	return rows, nil
}

func (q *RelatedItemsQuery) find(ctx context.Context, itemID uint, cq repository.CounterQuery) ([]models.CoViewCounter, error) {
	empty := []models.CoViewCounter{}
	if itemID == 0 {
		return empty, nil
	}
	exists, err := q.catalog.ItemExists(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return empty, nil
	}
	rows, err := q.counters.QueryByItem(ctx, itemID, cq)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = empty
	}
	return rows, nil
}
