package utils

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
)

// Cleaner periodically drops stale sessions and purges accounts whose
// scheduled deletion has passed.
type Cleaner struct {
	db         *gorm.DB
	filesDir   string
	refreshTTL time.Duration
	clock      Clock
}

func NewCleaner(db *gorm.DB, filesDir string, refreshTTL time.Duration) *Cleaner {
	return &Cleaner{db: db, filesDir: filesDir, refreshTTL: refreshTTL, clock: SystemClock{}}
}

// Start runs the sweep every interval until ctx is done.
func (c *Cleaner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunOnce performs one sweep. Failures are logged and retried on the next tick.
func (c *Cleaner) RunOnce(ctx context.Context) {
	now := c.clock.Now()
	db := c.db.WithContext(ctx)

	res := db.Where("updated_at < ?", now.Add(-c.refreshTTL)).Delete(&models.Session{})
	if res.Error != nil {
		Sugar.Errorf("session cleanup failed: %v", res.Error)
	} else if res.RowsAffected > 0 {
		Sugar.Infof("session cleanup removed %d expired sessions", res.RowsAffected)
	}

	var userIDs []string
	if err := db.Model(&models.User{}).
		Where("scheduled_deletion IS NOT NULL AND scheduled_deletion <= ?", now).
		Pluck("id", &userIDs).Error; err != nil {
		Sugar.Errorf("account cleanup query failed: %v", err)
		return
	}
	for _, id := range userIDs {
		var stored []string
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			stored, err = PurgeUser(tx, id)
			return err
		})
		if err != nil {
			Sugar.Errorf("account cleanup failed user=%s err=%v", id, err)
			continue
		}
		RemoveStoredFiles(c.filesDir, stored...)
		Sugar.Infof("account %s deleted after scheduled deletion", id)
	}
}
