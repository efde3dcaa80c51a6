package routes

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/alsoviewed/config"
	"github.com/cppla/alsoviewed/controllers"
	"github.com/cppla/alsoviewed/middleware"
	"github.com/cppla/alsoviewed/repository"
	"github.com/cppla/alsoviewed/services"
	"github.com/cppla/alsoviewed/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if gl, err := accessLogger(cfg); err == nil {
		r.Use(ginzap.Ginzap(gl, time.RFC3339, true))
		r.Use(ginzap.RecoveryWithZap(gl, true))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.PageViewRecorder(db))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	counters := repository.NewCounterRepository(db)
	catalog := repository.NewItemCatalog(db)
	tracker := services.NewViewTracker(counters, catalog, utils.Logger)
	related := services.NewRelatedItemsQuery(counters, catalog, utils.Logger)

	sessions := utils.NewSessionStore(utils.GetRedis(), time.Duration(cfg.SessionTTLMinutes)*time.Minute)
	sessionMW := middleware.VisitorSession(sessions, middleware.SessionOptions{
		CookieName: cfg.SessionCookieName,
		MaxAge:     cfg.SessionTTLMinutes * 60,
		Secure:     cfg.SessionCookieSecure,
	})

	authController := controllers.NewAuthController(db)
	itemController := controllers.NewItemController(db, tracker, related)
	statsController := controllers.NewStatsController(db, counters)
	configController := controllers.NewConfigController()

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimit(cfg.RateLimitPerMinute))
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)

	items := api.Group("/items")
	items.GET("", itemController.ListItems)
	items.GET("/:id", middleware.OptionalAuth(), sessionMW, itemController.GetItem)
	items.GET("/:id/related", itemController.Related)
	items.GET("/:id/related/panels", itemController.RelatedPanels)

	api.GET("/stats", statsController.GetStats)
	api.GET("/config/related", configController.GetRelated)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimit(cfg.RateLimitPerMinute))
	protected.POST("/items", itemController.CreateItem)
	protected.DELETE("/items/:id", itemController.DeleteItem)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}

// accessLogger writes gin access logs to their own rolling file. Test mode keeps them off disk.
func accessLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if gin.Mode() == gin.TestMode {
		return nil, errors.New("access log disabled in test mode")
	}
	return utils.NewRollingFileLogger(cfg.GinPath, cfg)
}
