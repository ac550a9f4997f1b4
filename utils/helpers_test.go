package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/roxy/config"
	"github.com/cppla/roxy/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase("sqlite://:memory:", "silent")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, HashedPassword: "x", ApiKey: NewApiKey()}
	require.NoError(t, db.Omit("Limits", "Usage").Create(user).Error)
	require.NoError(t, db.Create(&models.UserLimits{UserID: user.ID, TotalMB: 50}).Error)
	require.NoError(t, db.Create(&models.UserUsage{UserID: user.ID}).Error)
	return user
}
