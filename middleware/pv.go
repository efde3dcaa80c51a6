package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/alsoviewed/models"
	"github.com/cppla/alsoviewed/utils"
)

// PageViewRecorder counts successful GET requests per day and path.
func PageViewRecorder(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != "GET" {
			return
		}
		status := c.Writer.Status()
		if status < 200 || status >= 400 {
			return
		}
		path := c.Request.URL.Path
		if !countablePath(path) {
			return
		}

		now := time.Now()

		// Atomic upsert to avoid duplicate key errors under concurrency
		err := db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}, {Name: "path"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("count + 1"), "updated_at": now}),
		}).Create(&models.PageView{Date: models.DayOf(now), Path: path, Count: 1}).Error
		if err != nil {
			utils.Sugar.Debugf("page view record failed path=%s err=%v", path, err)
		}
	}
}

// countablePath skips health, metrics, stats and static endpoints so PV reflects content views.
func countablePath(path string) bool {
	if path == "/health" || path == "/metrics" {
		return false
	}
	return !strings.Contains(path, "/stats") && !strings.HasPrefix(path, "/static/")
}
