package utils

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
)

const maxKeyAttempts = 10

// ErrKeyExhausted means every sampled key collided with an existing one.
var ErrKeyExhausted = errors.New("failed to create a new key")

// reservedKeys are top-level paths served by the router instead of a key lookup.
var reservedKeys = map[string]struct{}{
	"api":    {},
	"assets": {},
	"files":  {},
	"health": {},
}

// IsReservedKey reports whether key would be shadowed by a fixed route.
func IsReservedKey(key string) bool {
	_, ok := reservedKeys[strings.ToLower(key)]
	return ok
}

// GenerateUniqueKey samples keys of the given length until one is unused.
func GenerateUniqueKey(tx *gorm.DB, length int) (string, error) {
	return generateUniqueKey(tx, length, RandomString)
}

func generateUniqueKey(tx *gorm.DB, length int, sample func(int) string) (string, error) {
	if length <= 0 {
		length = 5
	}
	for i := 0; i < maxKeyAttempts; i++ {
		key := sample(length)
		if IsReservedKey(key) {
			continue
		}
		taken, err := KeyExists(tx, key)
		if err != nil {
			return "", err
		}
		if !taken {
			return key, nil
		}
	}
	return "", ErrKeyExhausted
}

// KeyExists reports whether key is already assigned.
func KeyExists(tx *gorm.DB, key string) (bool, error) {
	var count int64
	if err := tx.Model(&models.UniqueKey{}).Where(&models.UniqueKey{Key: key}).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check key: %w", err)
	}
	return count > 0, nil
}
