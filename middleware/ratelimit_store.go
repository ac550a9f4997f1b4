package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/cppla/roxy/utils"
)

// Hit is the state of one identity's window after an increment.
type Hit struct {
	TotalHits int
	ResetTime time.Time
}

// Store counts hits per identity inside fixed windows.
type Store interface {
	Increment(ctx context.Context, identity string) (Hit, error)
	Close() error
}

// StoreFactory builds the store of one limiter scope.
type StoreFactory func(scope string, window time.Duration) Store

// MemoryStore is a fixed window counter shared by every identity of a scope:
// all keys reset together once the window elapses. State is process local.
type MemoryStore struct {
	mu        sync.Mutex
	hits      map[string]int
	window    time.Duration
	resetTime time.Time
	clock     utils.Clock

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore starts a store with a background ticker resetting all keys each window.
func NewMemoryStore(window time.Duration, clock utils.Clock) *MemoryStore {
	if window <= 0 {
		window = time.Second
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	s := &MemoryStore{
		hits:      make(map[string]int),
		window:    window,
		resetTime: clock.Now().Add(window),
		clock:     clock,
		stop:      make(chan struct{}),
	}
	go s.loop()
	return s
}

// MemoryStoreFactory builds memory stores on the given clock.
func MemoryStoreFactory(clock utils.Clock) StoreFactory {
	return func(_ string, window time.Duration) Store {
		return NewMemoryStore(window, clock)
	}
}

func (s *MemoryStore) Increment(_ context.Context, identity string) (Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the ticker may lag behind the clock, in particular a manual one
	if now := s.clock.Now(); !now.Before(s.resetTime) {
		s.resetLocked(now)
	}
	s.hits[identity]++
	return Hit{TotalHits: s.hits[identity], ResetTime: s.resetTime}, nil
}

// Reset clears every identity and starts a new window.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	s.resetLocked(s.clock.Now())
	s.mu.Unlock()
}

func (s *MemoryStore) resetLocked(now time.Time) {
	s.hits = make(map[string]int)
	s.resetTime = now.Add(s.window)
}

func (s *MemoryStore) loop() {
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if now := s.clock.Now(); !now.Before(s.resetTime) {
				s.resetLocked(now)
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Close stops the reset ticker.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
