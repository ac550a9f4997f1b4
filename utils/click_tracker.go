package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
)

// ClickDedupWindow is how long one visitor identity is ignored after a counted click.
const ClickDedupWindow = 60 * time.Second

// ClickStore remembers recent visitor identities. It is process local and
// starts empty after a restart.
type ClickStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	clock  Clock
	stop   chan struct{}
	once   sync.Once
}

// NewClickStore starts a store whose janitor evicts identities once their window passed.
func NewClickStore(window time.Duration, clock Clock) *ClickStore {
	if clock == nil {
		clock = SystemClock{}
	}
	s := &ClickStore{
		seen:   make(map[string]time.Time),
		window: window,
		clock:  clock,
		stop:   make(chan struct{}),
	}
	go s.janitor()
	return s
}

// TryMark returns true and marks id when id has no live entry.
func (s *ClickStore) TryMark(id string) bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.seen[id]; ok && now.Before(until) {
		return false
	}
	s.seen[id] = now.Add(s.window)
	return true
}

// Len is the number of tracked identities.
func (s *ClickStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *ClickStore) sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	for id, until := range s.seen {
		if !now.Before(until) {
			delete(s.seen, id)
		}
	}
	s.mu.Unlock()
}

func (s *ClickStore) janitor() {
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// Close stops the janitor.
func (s *ClickStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Visit identifies who is opening a key.
type Visit struct {
	IP        string
	UserAgent string
}

// Identity is the dedup key of a visit.
func (v Visit) Identity() string {
	return v.IP + "-" + v.UserAgent
}

// ClickTracker records clicks on unique keys. Recording is best effort: failures
// are logged and never reach the visitor.
type ClickTracker struct {
	db      *gorm.DB
	store   *ClickStore
	locator Locator
	errLog  rate.Sometimes
}

func NewClickTracker(db *gorm.DB, store *ClickStore, locator Locator) *ClickTracker {
	return &ClickTracker{
		db:      db,
		store:   store,
		locator: locator,
		errLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Record counts a click on uniqueKeyID unless the visitor is a bot or was
// counted within the dedup window. It reports whether a click was stored.
func (t *ClickTracker) Record(ctx context.Context, uniqueKeyID string, v Visit) bool {
	if IsBot(v.UserAgent) {
		return false
	}
	if !t.store.TryMark(v.Identity()) {
		return false
	}

	location := UnknownLocation
	if t.locator != nil {
		location = t.locator.Locate(ctx, v.IP)
	}
	userAgent := v.UserAgent
	if userAgent == "" {
		userAgent = "unknown"
	}

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UniqueKey{}).
			Where("id = ?", uniqueKeyID).
			UpdateColumn("click_count", gorm.Expr("click_count + ?", 1)).Error; err != nil {
			return err
		}
		return tx.Create(&models.Click{
			UniqueKeyID: &uniqueKeyID,
			IPAddress:   v.IP,
			Location:    location,
			UserAgent:   userAgent,
		}).Error
	})
	if err != nil {
		t.errLog.Do(func() {
			Sugar.Warnf("click recording failed key=%s err=%v", uniqueKeyID, err)
		})
		return false
	}
	return true
}
