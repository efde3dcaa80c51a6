package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/alsoviewed/config"
	"github.com/cppla/alsoviewed/metrics"
	"github.com/cppla/alsoviewed/middleware"
	"github.com/cppla/alsoviewed/models"
	"github.com/cppla/alsoviewed/services"
	"github.com/cppla/alsoviewed/utils"
)

const (
	trackTimeout     = 2 * time.Second
	panelCachePrefix = "cache:related:panels:"
)

// ItemController serves the item catalog and its related-item lists.
type ItemController struct {
	db      *gorm.DB
	tracker *services.ViewTracker
	related *services.RelatedItemsQuery
}

// NewItemController creates a new ItemController instance.
func NewItemController(db *gorm.DB, tracker *services.ViewTracker, related *services.RelatedItemsQuery) *ItemController {
	return &ItemController{db: db, tracker: tracker, related: related}
}

// ListItems returns paginated items, newest first.
func (p *ItemController) ListItems(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))

	var items []models.Item
	var total int64
	if err := p.db.WithContext(ctx.Request.Context()).Model(&models.Item{}).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to count items")
		return
	}
	if err := p.db.WithContext(ctx.Request.Context()).Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&items).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list items")
		return
	}

	utils.Success(ctx, gin.H{
		"items":      items,
		"pagination": pagination(page, pageSize, total),
	})
}

// GetItem returns a single item and records the view for co-view tracking.
func (p *ItemController) GetItem(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid item id")
		return
	}

	var item models.Item
	if err := p.db.WithContext(ctx.Request.Context()).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "item not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to load item")
		return
	}

	p.trackView(ctx, item.ID)
	utils.Success(ctx, gin.H{"item": item})
}

// trackView is best effort: failures are logged and never change the response.
func (p *ItemController) trackView(ctx *gin.Context, itemID uint) {
	visit := services.Visit{
		ItemID:        itemID,
		Authenticated: middleware.IsAuthenticated(ctx),
	}
	if sess := middleware.SessionFrom(ctx); sess != nil {
		visit.Session = sess
	}

	tctx, cancel := context.WithTimeout(ctx.Request.Context(), trackTimeout)
	defer cancel()
	if err := p.tracker.Track(tctx, visit); err != nil {
		utils.Logger.Warn("view tracking failed", zap.Uint("item_id", itemID), zap.Error(err))
	}
}

// Related returns the related items of an item ranked by one counter.
// Query: sort (total_view_count|before_view_count|after_view_count), dir (a|d),
// limit, page, show_counts.
func (p *ItemController) Related(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid item id")
		return
	}
	field, err := services.ParseSortField(ctx.Query("sort"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40040, err.Error())
		return
	}
	dir, err := services.ParseSortDir(ctx.Query("dir"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40041, err.Error())
		return
	}
	limit, err := parseOptionalInt(ctx.Query("limit"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40042, "limit must be an integer")
		return
	}
	page, err := parseOptionalInt(ctx.Query("page"))
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40043, "page must be an integer")
		return
	}

	rows, err := p.related.Find(ctx.Request.Context(), id, field, dir, limit, page)
	if err != nil {
		if isQueryCallerError(err) {
			utils.Error(ctx, http.StatusBadRequest, 40044, err.Error())
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to load related items")
		return
	}

	showCounts := truthy(ctx.Query("show_counts"))
	utils.Success(ctx, gin.H{
		"item_id":  id,
		"sort":     field,
		"dir":      dir.String(),
		"links":    services.Links(rows, field, showCounts),
		"counters": rows,
	})
}

// RelatedPanels returns the total, before and after rankings of an item,
// each capped at the configured display count. Responses are cached briefly.
func (p *ItemController) RelatedPanels(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid item id")
		return
	}
	showCounts := truthy(ctx.Query("show_counts"))
	cfg := config.Get()
	cacheKey := fmt.Sprintf("%s%d:counts=%t", panelCachePrefix, id, showCounts)
	useCache := cfg.RelatedCacheTTLSec > 0

	if useCache {
		if b, ok := utils.CacheGetBytes(ctx.Request.Context(), cacheKey); ok {
			metrics.PanelCache.WithLabelValues("hit").Inc()
			ctx.Data(http.StatusOK, "application/json", b)
			return
		}
		metrics.PanelCache.WithLabelValues("miss").Inc()
	}

	panels, err := p.related.Panels(ctx.Request.Context(), id, cfg.RelatedDisplayCount, showCounts)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to load related items")
		return
	}

	payload := gin.H{"item_id": id, "display_count": cfg.RelatedDisplayCount, "panels": panels}
	if useCache {
		ttl := time.Duration(cfg.RelatedCacheTTLSec) * time.Second
		utils.CacheSetJSON(ctx.Request.Context(), cacheKey, utils.SuccessEnvelope(payload), ttl)
	}
	utils.Success(ctx, payload)
}

// CreateItem adds an item to the catalog.
func (p *ItemController) CreateItem(ctx *gin.Context) {
	var req struct {
		Title   string `json:"title" binding:"required,min=1,max=255"`
		Slug    string `json:"slug" binding:"max=255"`
		Summary string `json:"summary"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40021, "invalid request payload")
		return
	}

	title := utils.SanitizeText(req.Title)
	if title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40022, "title cannot be empty")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	item := models.Item{
		UserID:  userID,
		Title:   title,
		Slug:    strings.ToLower(utils.SanitizeText(req.Slug)),
		Summary: utils.SanitizeText(req.Summary),
	}
	if err := p.db.WithContext(ctx.Request.Context()).Create(&item).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to create item")
		return
	}

	utils.Success(ctx, gin.H{"item": item})
}

// DeleteItem soft-deletes an item. Its co-view counters are kept; both
// tracking and queries treat the item as missing from now on.
func (p *ItemController) DeleteItem(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid item id")
		return
	}

	var item models.Item
	if err := p.db.WithContext(ctx.Request.Context()).First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40404, "item not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to load item")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40112, "unauthorized")
		return
	}
	if item.UserID != userID && !isAdmin(ctx) {
		utils.Error(ctx, http.StatusForbidden, 40302, "you can only delete your own items")
		return
	}

	if err := p.db.WithContext(ctx.Request.Context()).Delete(&item).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50028, "failed to delete item")
		return
	}

	// Panels of other items may still link here until their cache entries expire.
	utils.InvalidateByPrefix(ctx.Request.Context(), panelCachePrefix)
	utils.Success(ctx, gin.H{"message": "item deleted"})
}

func isQueryCallerError(err error) bool {
	return errors.Is(err, services.ErrInvalidSortField) ||
		errors.Is(err, services.ErrInvalidSortDir) ||
		errors.Is(err, services.ErrInvalidLimit) ||
		errors.Is(err, services.ErrInvalidPage) ||
		errors.Is(err, services.ErrPageWithoutLimit)
}

func truthy(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}
