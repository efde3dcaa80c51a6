package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/alsoviewed/config"
	"github.com/cppla/alsoviewed/repository"
	"github.com/cppla/alsoviewed/utils"
)

// ConfigController serves UI configuration for related-item panels.
type ConfigController struct{}

func NewConfigController() *ConfigController { return &ConfigController{} }

// GetRelated returns the panel display settings and accepted sort fields.
func (c *ConfigController) GetRelated(ctx *gin.Context) {
	cfg := config.Get()
	utils.Success(ctx, gin.H{
		"display_count": cfg.RelatedDisplayCount,
		"cache_ttl_sec": cfg.RelatedCacheTTLSec,
		"sort_fields":   []string{repository.ColumnTotal, repository.ColumnBefore, repository.ColumnAfter},
		"sort_dirs":     []string{"a", "d"},
		"default_sort":  repository.ColumnTotal,
		"default_dir":   "d",
	})
}
