package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/roxy/utils"
)

const (
	globalScope = "global"

	serverBusyMessage      = "Server is busy, please try again later"
	tooManyRequestsMessage = "Too many requests"
)

// Rule allows Max hits per identity in each Window. Paths containing one of
// the Exceptions are not counted. A Max of zero or less disables the rule.
type Rule struct {
	Max        int
	Window     time.Duration
	Exceptions []string
}

// Milliseconds, Seconds and Minutes build rule windows.
func Milliseconds(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Seconds returns n seconds.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Minutes returns n minutes.
func Minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func (r Rule) unlimited() bool { return r.Max <= 0 }

func (r Rule) window() time.Duration {
	if r.Window <= 0 {
		return time.Second
	}
	return r.Window
}

func (r Rule) exempt(path string) bool {
	for _, e := range r.Exceptions {
		if e != "" && strings.Contains(path, e) {
			return true
		}
	}
	return false
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// Limiter owns the global store and one store per route scope.
type Limiter struct {
	mu      sync.Mutex
	stores  map[string]Store
	factory StoreFactory
	global  Rule
	proxied bool
	clock   utils.Clock
}

// NewLimiter builds a limiter. global applies to every request through Global.
func NewLimiter(factory StoreFactory, global Rule, proxied bool, clock utils.Clock) *Limiter {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Limiter{
		stores:  make(map[string]Store),
		factory: factory,
		global:  global,
		proxied: proxied,
		clock:   clock,
	}
}

func (l *Limiter) store(scope string, window time.Duration) Store {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stores[scope]
	if !ok {
		s = l.factory(scope, window)
		l.stores[scope] = s
	}
	return s
}

// Take charges one hit to identity in scope. Unlimited rules allow without
// touching a store.
func (l *Limiter) Take(ctx context.Context, scope string, rule Rule, identity string) (Decision, error) {
	if rule.unlimited() {
		return Decision{Allowed: true}, nil
	}
	hit, err := l.store(scope, rule.window()).Increment(ctx, identity)
	if err != nil {
		return Decision{}, err
	}
	remaining := rule.Max - hit.TotalHits
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   hit.TotalHits <= rule.Max,
		Limit:     rule.Max,
		Remaining: remaining,
		ResetTime: hit.ResetTime,
	}, nil
}

// Global limits every request by client IP before authentication.
func (l *Limiter) Global() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.global.unlimited() || l.global.exempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		l.apply(c, globalScope, l.global, RequestIP(c, l.proxied), utils.CodeServerBusy, serverBusyMessage)
	}
}

// Route limits a single route. It must run after the guard so that
// authenticated callers are counted by user id.
func (l *Limiter) Route(rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rule.unlimited() || rule.exempt(c.Request.URL.Path) {
			c.Next()
			return
		}
		scope := c.FullPath()
		if scope == "" {
			scope = c.Request.URL.Path
		}
		l.apply(c, scope, rule, Identity(c, l.proxied), utils.CodeTooManyRequests, tooManyRequestsMessage)
	}
}

func (l *Limiter) apply(c *gin.Context, scope string, rule Rule, identity string, code int, message string) {
	d, err := l.Take(c.Request.Context(), scope, rule, identity)
	if err != nil {
		// a broken store must not take the API down with it
		utils.Sugar.Warnf("rate limit store error scope=%s err=%v", scope, err)
		c.Next()
		return
	}

	now := l.clock.Now()
	untilReset := int(math.Ceil(d.ResetTime.Sub(now).Seconds()))
	if untilReset < 0 {
		untilReset = 0
	}
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(int64(math.Ceil(float64(d.ResetTime.UnixMilli())/1000)), 10))
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(untilReset))
	h.Set("Date", now.UTC().Format(http.TimeFormat))

	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(untilReset))
		utils.Abort(c, utils.TooManyRequests(code, message))
		return
	}
	c.Next()
}

// Close closes every store.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for scope, s := range l.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.stores, scope)
	}
	return first
}
