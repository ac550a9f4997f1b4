package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/roxy/config"
	"github.com/cppla/roxy/controllers"
	"github.com/cppla/roxy/middleware"
	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	db     *gorm.DB
	cfg    config.AppConfig
	clock  *utils.ManualClock
}

func newTestServer(t *testing.T, mutate ...func(*config.AppConfig)) *testServer {
	t.Helper()
	cfg := config.Defaults(t.TempDir())
	cfg.GinMode = "test"
	cfg.GinLogPath = ""
	cfg.LogPath = ""
	cfg.IsProxied = false
	cfg.Secrets = config.Secrets{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     900,
		RefreshTokenTTL:    2419200,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	db, err := config.OpenDatabase("sqlite://:memory:", "silent")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	clock := utils.NewManualClock(time.Now())
	clicks := utils.NewClickStore(utils.ClickDedupWindow, clock)
	limiter := middleware.NewLimiter(middleware.MemoryStoreFactory(clock),
		middleware.Rule{Max: cfg.GlobalRateLimitPerSecond, Window: time.Second}, cfg.IsProxied, clock)
	codec := utils.NewTokenCodec(cfg.Secrets)
	t.Cleanup(func() {
		clicks.Close()
		_ = limiter.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	engine := SetupRouter(Options{
		Deps: controllers.Deps{
			DB:      db,
			Config:  cfg,
			Codec:   codec,
			Tracker: utils.NewClickTracker(db, clicks, nil),
			Clock:   clock,
		},
		Guard:   middleware.NewGuard(db, codec),
		Limiter: limiter,
	})
	return &testServer{t: t, engine: engine, db: db, cfg: cfg, clock: clock}
}

// client is a set of credentials sent with a request.
type client struct {
	access  string
	refresh string
	apiKey  string
	ip      string
	ua      string
}

type envelope struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

type signedToken struct {
	Token string `json:"token"`
}

type authData struct {
	User struct {
		ID              string `json:"id"`
		Username        string `json:"username"`
		IsAdministrator bool   `json:"isAdministrator"`
	} `json:"user"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
	AccessJwt   signedToken  `json:"accessJwt"`
	RefreshJwt  *signedToken `json:"refreshJwt"`
	BackupCodes []string     `json:"backupCodes"`
	ApiKey      string       `json:"apiKey"`
}

func (s *testServer) send(c client, req *http.Request) *httptest.ResponseRecorder {
	if c.access != "" {
		req.Header.Set("Authorization", "Bearer "+c.access)
	}
	if c.refresh != "" {
		req.Header.Set("Refresh", "Bearer "+c.refresh)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	}
	ip := c.ip
	if ip == "" {
		ip = "192.0.2.10"
	}
	req.RemoteAddr = ip + ":5555"
	ua := c.ua
	if ua == "" {
		ua = browserUA
	}
	req.Header.Set("User-Agent", ua)

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) do(c client, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(c, req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data), string(env.Data))
	}
	return env
}

func (s *testServer) signUp(username, password string) (client, authData) {
	s.t.Helper()
	w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": username, "password": password})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var data authData
	decode(s.t, w, &data)
	return client{access: data.AccessJwt.Token, refresh: data.RefreshJwt.Token}, data
}

func (s *testServer) login(username, password string) (client, authData) {
	s.t.Helper()
	w := s.do(client{}, http.MethodPost, "/api/v1/auth/login", gin.H{"username": username, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var data authData
	decode(s.t, w, &data)
	return client{access: data.AccessJwt.Token, refresh: data.RefreshJwt.Token}, data
}

func (s *testServer) count(model interface{}) int64 {
	var n int64
	require.NoError(s.t, s.db.Model(model).Count(&n).Error)
	return n
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(client{}, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))

	w = s.do(client{}, http.MethodGet, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route not found", decode(t, w, nil).Message)

	w = s.do(client{}, http.MethodGet, "/zzzzz", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not found", decode(t, w, nil).Message)
}

func TestSignUp(t *testing.T) {
	s := newTestServer(t)

	w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "alice", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, w.Code)
	cookies := w.Header().Values("Set-Cookie")
	require.Len(t, cookies, 2)
	assert.True(t, strings.HasPrefix(cookies[0], "Authentication="))
	assert.True(t, strings.HasPrefix(cookies[1], "Refresh="))

	var first authData
	decode(t, w, &first)
	assert.True(t, first.User.IsAdministrator, "first user is administrator")
	assert.Len(t, first.BackupCodes, 10)
	assert.Len(t, first.ApiKey, 64)

	_, second := s.signUp("bob", "hunter22")
	assert.False(t, second.User.IsAdministrator)

	var limits models.UserLimits
	require.NoError(t, s.db.Where("user_id = ?", second.User.ID).First(&limits).Error)
	assert.Equal(t, s.cfg.DefaultLimitsTotalMB, limits.TotalMB)

	t.Run("duplicate username", func(t *testing.T) {
		w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "alice", "password": "other-pass"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Username is already in use", decode(t, w, nil).Message)
	})

	t.Run("validation", func(t *testing.T) {
		w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "al"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w, nil)
		assert.Equal(t, utils.CodeValidation, env.Code)
		assert.Contains(t, env.Errors, "username")
		assert.Contains(t, env.Errors, "password")
	})

	t.Run("length counts after trimming", func(t *testing.T) {
		w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "  ab ", "password": "hunter22"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w, nil)
		assert.Equal(t, utils.CodeValidation, env.Code)
		assert.Equal(t, "Must be at least 3 characters", env.Errors["username"])
		assert.EqualValues(t, 2, s.count(&models.User{}))
	})
}

func TestSignUp_Disabled(t *testing.T) {
	s := newTestServer(t, func(c *config.AppConfig) { c.AllowRegistrations = false })
	w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "alice", "password": "hunter22"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Registrations are currently disabled", decode(t, w, nil).Message)
	assert.Zero(t, s.count(&models.User{}))
}

func TestSignUp_RateLimited(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 5; i++ {
		w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "al", "password": "x"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	}
	w := s.do(client{}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "al", "password": "x"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, utils.CodeTooManyRequests, decode(t, w, nil).Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// a different address has its own window
	w = s.do(client{ip: "192.0.2.99"}, http.MethodPost, "/api/v1/auth/signup", gin.H{"username": "al", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	s.signUp("alice", "hunter22")
	sessions := s.count(&models.Session{})

	t.Run("wrong password", func(t *testing.T) {
		w := s.do(client{}, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "nope"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w, nil)
		assert.Equal(t, utils.CodeInvalidCredentials, env.Code)
		assert.Equal(t, "Invalid credentials", env.Message)
		assert.Empty(t, w.Header().Values("Set-Cookie"))
		assert.Equal(t, sessions, s.count(&models.Session{}))
	})

	t.Run("unknown user looks the same", func(t *testing.T) {
		w := s.do(client{}, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "mallory", "password": "nope"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid credentials", decode(t, w, nil).Message)
	})

	t.Run("success opens a session", func(t *testing.T) {
		c, data := s.login("alice", "hunter22")
		assert.Equal(t, "alice", meUsername(s, c))
		assert.Equal(t, sessions+1, s.count(&models.Session{}))
		assert.NotEmpty(t, data.Session.ID)
	})

	t.Run("login from the same client replaces its session", func(t *testing.T) {
		c, _ := s.login("alice", "hunter22")
		before := s.count(&models.Session{})
		w := s.do(client{refresh: c.refresh}, http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "hunter22"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, before, s.count(&models.Session{}))
	})
}

// meUsername fetches /users/me and returns the caller's username.
func meUsername(s *testServer, c client) string {
	s.t.Helper()
	rec := s.do(c, http.MethodGet, "/api/v1/users/me", nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var me struct {
		Username string `json:"username"`
	}
	decode(s.t, rec, &me)
	return me.Username
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t)
	c, _ := s.signUp("alice", "hunter22")

	w := s.do(client{refresh: c.refresh}, http.MethodPost, "/api/v1/auth/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data authData
	decode(t, w, &data)
	assert.NotEmpty(t, data.AccessJwt.Token)
	assert.Nil(t, data.RefreshJwt, "young sessions keep their refresh token")
	assert.Len(t, w.Header().Values("Set-Cookie"), 1)

	s.clock.Advance(25 * time.Hour)
	w = s.do(client{refresh: c.refresh}, http.MethodPost, "/api/v1/auth/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = authData{}
	decode(t, w, &data)
	require.NotNil(t, data.RefreshJwt)
	assert.NotEqual(t, c.refresh, data.RefreshJwt.Token)
	assert.Len(t, w.Header().Values("Set-Cookie"), 2)

	// the rotated token no longer matches any session
	w = s.do(client{refresh: c.refresh}, http.MethodPost, "/api/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, utils.CodeSessionNotFound, decode(t, w, nil).Code)

	rotated := client{access: data.AccessJwt.Token, refresh: data.RefreshJwt.Token}
	assert.Equal(t, "alice", meUsername(s, rotated))

	w = s.do(client{refresh: rotated.refresh}, http.MethodPost, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, cookie := range w.Header().Values("Set-Cookie") {
		assert.Contains(t, cookie, "Max-Age=0")
	}
	w = s.do(rotated, http.MethodGet, "/api/v1/users/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, utils.CodeSessionNotFound, decode(t, w, nil).Code)
}
