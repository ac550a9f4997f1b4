package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/roxy/config"
	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

type authFixture struct {
	db      *gorm.DB
	codec   *utils.TokenCodec
	user    *models.User
	session *models.Session
	access  string
	refresh string
	engine  *gin.Engine
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := newTestDB(t)
	codec := utils.NewTokenCodec(config.Secrets{
		AccessTokenSecret:  "access",
		RefreshTokenSecret: "refresh",
		AccessTokenTTL:     900,
		RefreshTokenTTL:    3600,
	})

	user := &models.User{Username: "alice", HashedPassword: "x", ApiKey: "api-key-alice"}
	require.NoError(t, db.Omit("Limits", "Usage").Create(user).Error)
	require.NoError(t, db.Create(&models.UserLimits{UserID: user.ID, TotalMB: 50}).Error)
	require.NoError(t, db.Create(&models.UserUsage{UserID: user.ID}).Error)

	access, err := codec.SignAccess(user.ID)
	require.NoError(t, err)
	refresh, err := codec.SignRefresh(user.ID)
	require.NoError(t, err)
	session := &models.Session{UserID: user.ID, HashedRefreshToken: utils.HashForLookup(refresh.Token)}
	require.NoError(t, db.Create(session).Error)

	guard := NewGuard(db, codec)
	r := gin.New()
	r.Use(ErrorHandler())
	whoami := func(c *gin.Context) {
		u, _ := CurrentUser(c)
		s, _ := CurrentSession(c)
		c.JSON(http.StatusOK, gin.H{"user": u.ID, "session": s.ID, "totalMB": u.Limits.TotalMB})
	}
	r.GET("/full", guard.Authenticate(PolicyFull), whoami)
	r.GET("/step", guard.Authenticate(PolicyStep), whoami)
	r.GET("/refresh", guard.Authenticate(PolicyRefresh), whoami)
	r.GET("/admin", guard.Authenticate(PolicyFull), RequireAdmin(), whoami)

	return &authFixture{db: db, codec: codec, user: user, session: session, access: access.Token, refresh: refresh.Token, engine: r}
}

func (f *authFixture) do(path string, headers map[string]string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return perform(f.engine, req)
}

func (f *authFixture) tokenHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + f.access,
		"Refresh":       "Bearer " + f.refresh,
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	var body utils.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestGuard_Full(t *testing.T) {
	f := newAuthFixture(t)

	t.Run("bearer headers", func(t *testing.T) {
		w := f.do("/full", f.tokenHeaders())
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user":"`+f.user.ID+`","session":"`+f.session.ID+`","totalMB":50}`, w.Body.String())
	})

	t.Run("cookies", func(t *testing.T) {
		w := f.do("/full", nil,
			&http.Cookie{Name: utils.AccessCookieName, Value: f.access},
			&http.Cookie{Name: utils.RefreshCookieName, Value: f.refresh})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("api key", func(t *testing.T) {
		w := f.do("/full", map[string]string{"Authorization": "ApiKey api-key-alice"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"session":"api"`)
	})

	t.Run("unknown api key", func(t *testing.T) {
		w := f.do("/full", map[string]string{"Authorization": "ApiKey nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, utils.CodeApiKeyNotFound, errorCode(t, w))
	})

	t.Run("no credentials", func(t *testing.T) {
		w := f.do("/full", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, utils.CodeNoCredential, errorCode(t, w))
	})

	t.Run("invalid access token", func(t *testing.T) {
		w := f.do("/full", map[string]string{"Authorization": "Bearer " + f.refresh, "Refresh": "Bearer " + f.refresh})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, utils.CodeInvalidToken, errorCode(t, w))
	})

	t.Run("missing refresh token", func(t *testing.T) {
		w := f.do("/full", map[string]string{"Authorization": "Bearer " + f.access})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, utils.CodeSessionNotFound, errorCode(t, w))
	})

	t.Run("unknown user", func(t *testing.T) {
		ghost, err := f.codec.SignAccess("ghost")
		require.NoError(t, err)
		w := f.do("/full", map[string]string{"Authorization": "Bearer " + ghost.Token, "Refresh": "Bearer " + f.refresh})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, utils.CodeUserNotFound, errorCode(t, w))
	})

	t.Run("not an admin", func(t *testing.T) {
		w := f.do("/admin", f.tokenHeaders())
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"code":40300,"message":"Forbidden resource"}`, w.Body.String())
	})
}

func TestGuard_MfaGates(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.db.Model(f.user).Update("has_mfa_enabled", true).Error)

	w := f.do("/full", f.tokenHeaders())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, utils.CodeMfaRequired, errorCode(t, w))

	assert.Equal(t, http.StatusOK, f.do("/step", f.tokenHeaders()).Code)

	// api keys skip the mfa step
	assert.Equal(t, http.StatusOK, f.do("/full", map[string]string{"Authorization": "ApiKey api-key-alice"}).Code)

	require.NoError(t, f.db.Model(f.session).Update("is_mfa_authenticated", true).Error)
	assert.Equal(t, http.StatusOK, f.do("/full", f.tokenHeaders()).Code)

	w = f.do("/step", f.tokenHeaders())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, utils.CodeAlreadyMfaAuthed, errorCode(t, w))
}

func TestGuard_Refresh(t *testing.T) {
	f := newAuthFixture(t)

	w := f.do("/refresh", map[string]string{"Refresh": "Bearer " + f.refresh})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, utils.CodeInvalidRefreshToken, errorCode(t, w))

	// an access token is not a refresh token
	w = f.do("/refresh", map[string]string{"Refresh": "Bearer " + f.access})
	assert.Equal(t, utils.CodeInvalidRefreshToken, errorCode(t, w))

	// a valid token whose session was revoked
	require.NoError(t, f.db.Delete(f.session).Error)
	w = f.do("/refresh", map[string]string{"Refresh": "Bearer " + f.refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, utils.CodeSessionNotFound, errorCode(t, w))
}

func TestGuardPolicy_String(t *testing.T) {
	assert.Equal(t, "full", PolicyFull.String())
	assert.Equal(t, "step", PolicyStep.String())
	assert.Equal(t, "refresh", PolicyRefresh.String())
}

func TestCacheControl(t *testing.T) {
	r := gin.New()
	r.Use(CacheControl())
	r.GET("/*any", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, httptest.NewRequest(http.MethodGet, "/files/abc.png", nil))
	assert.Equal(t, "public, max-age=2592000", w.Header().Get("Cache-Control"))

	w = perform(r, httptest.NewRequest(http.MethodGet, "/abcde", nil))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/abcde", nil)
	req.Header.Set("User-Agent", "Discordbot/2.0")
	w = perform(r, req)
	assert.Equal(t, "public, max-age=2592000", w.Header().Get("Cache-Control"))
}
