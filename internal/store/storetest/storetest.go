// Package storetest opens throwaway sqlite-backed stores for tests.
package storetest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lydonator/rust-plus-web-sub002/config"
	"github.com/lydonator/rust-plus-web-sub002/internal/db"
	"github.com/lydonator/rust-plus-web-sub002/internal/model"
	"github.com/lydonator/rust-plus-web-sub002/internal/store"
)

// New returns a migrated store on a private in-memory database.
func New(t *testing.T) (store.Store, *gorm.DB) {
	t.Helper()
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return store.NewGormStore(gormDB), gormDB
}

// SeedUser inserts a user row.
func SeedUser(t *testing.T, gormDB *gorm.DB, id string, playerID int64, vendorAuthToken string) model.User {
	t.Helper()
	now := time.Now().UTC()
	u := model.User{ID: id, PlayerID: playerID, VendorAuthToken: vendorAuthToken, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, gormDB.Create(&u).Error)
	return u
}
