package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cppla/alsoviewed/models"
)

// DefaultDisplayCount caps each related panel when no count is configured.
const DefaultDisplayCount = 5

// RelatedLink is the render-ready form of one counter row.
type RelatedLink struct {
	ItemID uint   `json:"item_id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Count  *int64 `json:"count,omitempty"`
}

// RelatedPanels holds the three standard related lists of an item.
type RelatedPanels struct {
	Total  []RelatedLink `json:"total"`
	Before []RelatedLink `json:"before"`
	After  []RelatedLink `json:"after"`
}

// ItemURL is the public show path of an item.
func ItemURL(id uint) string {
	return fmt.Sprintf("/items/%d", id)
}

// Links turns counter rows into links to their related items. Rows whose
// related item no longer resolves are dropped. With showCounts each link
// carries the value of field.
func Links(rows []models.CoViewCounter, field SortField, showCounts bool) []RelatedLink {
	links := make([]RelatedLink, 0, len(rows))
	for _, row := range rows {
		if row.RelatedItem == nil {
			continue
		}
		link := RelatedLink{
			ItemID: row.RelatedItem.ID,
			Title:  row.RelatedItem.Title,
			URL:    ItemURL(row.RelatedItem.ID),
		}
		if showCounts {
			if n, ok := row.CountFor(string(field)); ok {
				link.Count = &n
			}
		}
		links = append(links, link)
	}
	return links
}

// Panels loads the total, before and after rankings of itemID, each
// descending and capped at displayCount.
func (q *RelatedItemsQuery) Panels(ctx context.Context, itemID uint, displayCount int, showCounts bool) (RelatedPanels, error) {
	if displayCount <= 0 {
		displayCount = DefaultDisplayCount
	}

	var panels RelatedPanels
	g, gCtx := errgroup.WithContext(ctx)
	for _, p := range []struct {
		field SortField
		dst   *[]RelatedLink
	}{
		{SortByTotal, &panels.Total},
		{SortByBefore, &panels.Before},
		{SortByAfter, &panels.After},
	} {
		p := p
		g.Go(func() error {
			rows, err := q.Find(gCtx, itemID, p.field, Descending, displayCount, 1)
			if err != nil {
				return fmt.Errorf("%s panel: %w", p.field, err)
			}
			*p.dst = Links(rows, p.field, showCounts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RelatedPanels{}, err
	}
	return panels, nil
}
