package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/roxy/utils"
)

// RedisStore keeps fixed window counters in redis so several instances share limits.
// Windows are aligned to multiples of the window length.
type RedisStore struct {
	rdb    *redis.Client
	scope  string
	window time.Duration
	clock  utils.Clock
}

func NewRedisStore(rdb *redis.Client, scope string, window time.Duration, clock utils.Clock) *RedisStore {
	if window <= 0 {
		window = time.Second
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &RedisStore{rdb: rdb, scope: scope, window: window, clock: clock}
}

// RedisStoreFactory builds redis stores sharing one client.
func RedisStoreFactory(rdb *redis.Client, clock utils.Clock) StoreFactory {
	return func(scope string, window time.Duration) Store {
		return NewRedisStore(rdb, scope, window, clock)
	}
}

func (s *RedisStore) Increment(ctx context.Context, identity string) (Hit, error) {
	now := s.clock.Now()
	start := now.Truncate(s.window)
	reset := start.Add(s.window)
	key := fmt.Sprintf("ratelimit:%s:%d:%s", s.scope, start.UnixMilli(), identity)

	// counter and expiry go out as one MULTI/EXEC so a key never outlives its window
	var incr *redis.IntCmd
	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpireAt(ctx, key, reset)
		return nil
	}); err != nil {
		return Hit{}, fmt.Errorf("ratelimit incr: %w", err)
	}
	return Hit{TotalHits: int(incr.Val()), ResetTime: reset}, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }
