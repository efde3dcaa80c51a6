// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cppla/alsoviewed/config"
	"github.com/cppla/alsoviewed/models"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory SQLite database with every model migrated.
// The pool is pinned to one connection so the in-memory database survives
// and concurrent writers queue instead of failing with SQLITE_BUSY.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:alsoviewed_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.Migrate(db,
		&models.User{}, &models.Item{}, &models.CoViewCounter{}, &models.PageView{}))
	return db
}

// CreateItems inserts one item per title and returns them in order.
func CreateItems(t *testing.T, db *gorm.DB, titles ...string) []models.Item {
	t.Helper()
	items := make([]models.Item, 0, len(titles))
	for _, title := range titles {
		item := models.Item{UserID: 1, Title: title}
		require.NoError(t, db.Create(&item).Error)
		items = append(items, item)
	}
	return items
}
