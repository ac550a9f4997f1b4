package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
)

// RecalculateUsage sums paste and file bytes into the user's usage row.
func RecalculateUsage(tx *gorm.DB, userID string) error {
	var pasteBytes, fileBytes int64
	if err := tx.Model(&models.Paste{}).Where("user_id = ?", userID).
		Select("COALESCE(SUM(bytes), 0)").Scan(&pasteBytes).Error; err != nil {
		return fmt.Errorf("sum paste bytes: %w", err)
	}
	if err := tx.Model(&models.File{}).Where("user_id = ?", userID).
		Select("COALESCE(SUM(bytes + thumbnail_bytes), 0)").Scan(&fileBytes).Error; err != nil {
		return fmt.Errorf("sum file bytes: %w", err)
	}
	return tx.Model(&models.UserUsage{}).Where("user_id = ?", userID).
		Update("bytes_used", pasteBytes+fileBytes).Error
}

// DeleteUniqueKey removes a key with whatever content it points to. Clicks
// stay behind, detached from the key.
func DeleteUniqueKey(tx *gorm.DB, uniqueKeyID string) error {
	for _, m := range []interface{}{&models.UrlShortener{}, &models.Paste{}, &models.File{}} {
		if err := tx.Where("unique_key_id = ?", uniqueKeyID).Delete(m).Error; err != nil {
			return err
		}
	}
	if err := tx.Model(&models.Click{}).Where("unique_key_id = ?", uniqueKeyID).
		Update("unique_key_id", nil).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", uniqueKeyID).Delete(&models.UniqueKey{}).Error
}

// PurgeUser hard-deletes a user and everything they own. It returns the
// stored names of the user's files so the caller can remove them after commit.
func PurgeUser(tx *gorm.DB, userID string) ([]string, error) {
	var files []models.File
	if err := tx.Where("user_id = ?", userID).Find(&files).Error; err != nil {
		return nil, err
	}
	var keyIDs []string
	if err := tx.Model(&models.UniqueKey{}).Where("user_id = ?", userID).Pluck("id", &keyIDs).Error; err != nil {
		return nil, err
	}
	for _, id := range keyIDs {
		if err := DeleteUniqueKey(tx, id); err != nil {
			return nil, err
		}
	}
	for _, m := range []interface{}{&models.Session{}, &models.UserLimits{}, &models.UserUsage{}} {
		if err := tx.Where("user_id = ?", userID).Delete(m).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Where("id = ?", userID).Delete(&models.User{}).Error; err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.StoredName())
	}
	return names, nil
}

// RemoveStoredFiles deletes files from dir, logging failures.
func RemoveStoredFiles(dir string, names ...string) {
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			Sugar.Warnf("remove stored file %s failed: %v", name, err)
		}
	}
}
