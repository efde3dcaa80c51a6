package controllers

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/alsoviewed/models"
	"github.com/cppla/alsoviewed/repository"
	"github.com/cppla/alsoviewed/utils"
)

// StatsController reports catalog and co-view totals.
type StatsController struct {
	db       *gorm.DB
	counters repository.CounterRepository
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, counters repository.CounterRepository) *StatsController {
	return &StatsController{db: db, counters: counters}
}

// GetStats returns aggregate statistics. Failing parts fall back to 0
// instead of failing the whole endpoint.
func (s *StatsController) GetStats(ctx *gin.Context) {
	rctx := ctx.Request.Context()
	var itemCount, userCount, todayPV int64

	if err := s.db.WithContext(rctx).Model(&models.Item{}).Count(&itemCount).Error; err != nil {
		itemCount = 0
	}
	if err := s.db.WithContext(rctx).Model(&models.User{}).Count(&userCount).Error; err != nil {
		userCount = 0
	}

	today := models.DayOf(time.Now())
	if err := s.db.WithContext(rctx).Model(&models.PageView{}).
		Where("date >= ? AND date < ?", today, today.Add(24*time.Hour)).
		Select("COALESCE(SUM(count),0)").
		Scan(&todayPV).Error; err != nil {
		todayPV = 0
	}

	summary, err := s.counters.Summary(rctx)
	if err != nil {
		utils.Sugar.Warnf("co-view summary failed: %v", err)
	}

	utils.Success(ctx, gin.H{
		"item_count":          itemCount,
		"user_count":          userCount,
		"daily_page_views":    todayPV,
		"co_view_pairs":       summary.Pairs,
		"co_view_transitions": summary.Transitions,
	})
}
