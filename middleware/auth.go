package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

const (
	// ContextUserKey stores the authenticated *models.User in the gin context.
	ContextUserKey = "current_user"
	// ContextSessionKey stores the *models.Session the request belongs to.
	ContextSessionKey = "current_session"
)

// GuardPolicy selects which credential a guard accepts and how it treats MFA.
type GuardPolicy int

const (
	// PolicyFull accepts an API key or access token and requires a completed
	// MFA step when the user has MFA enabled.
	PolicyFull GuardPolicy = iota
	// PolicyStep is for the MFA endpoints themselves and rejects sessions that
	// already passed MFA.
	PolicyStep
	// PolicyRefresh accepts only the refresh token.
	PolicyRefresh
)

func (p GuardPolicy) String() string {
	switch p {
	case PolicyFull:
		return "full"
	case PolicyStep:
		return "step"
	case PolicyRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Guard authenticates requests against users and sessions in the database.
type Guard struct {
	db    *gorm.DB
	codec *utils.TokenCodec
}

func NewGuard(db *gorm.DB, codec *utils.TokenCodec) *Guard {
	return &Guard{db: db, codec: codec}
}

// Authenticate resolves the caller under policy and stores user and session in the context.
func (g *Guard) Authenticate(policy GuardPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, session, err := g.Resolve(c, policy)
		if err != nil {
			utils.Abort(c, err)
			return
		}
		c.Set(ContextUserKey, user)
		c.Set(ContextSessionKey, session)
		c.Next()
	}
}

// Resolve runs the credential checks of policy without touching the context.
func (g *Guard) Resolve(c *gin.Context, policy GuardPolicy) (*models.User, *models.Session, error) {
	if policy == PolicyRefresh {
		return g.resolveRefresh(c)
	}

	if key, ok := authorization(c, "ApiKey"); ok {
		user, err := g.findUser(c, "api_key = ?", key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, utils.Unauthorized(utils.CodeApiKeyNotFound, "No user with given api key found")
			}
			return nil, nil, utils.Internal("Failed to load user", err)
		}
		// API keys are not bound to a session and skip the MFA gate
		return user, models.NewAPISession(user.ID), nil
	}

	token := accessToken(c)
	if token == "" {
		return nil, nil, utils.Unauthorized(utils.CodeNoCredential, "No authentication token provided")
	}
	claims, err := g.codec.VerifyAccess(token)
	if err != nil {
		return nil, nil, utils.Unauthorized(utils.CodeInvalidToken, "Invalid or expired authentication token")
	}

	user, session, err := g.lookup(c, claims.UserID, RefreshToken(c))
	if err != nil {
		return nil, nil, err
	}

	switch policy {
	case PolicyFull:
		if user.HasMfaEnabled && !session.IsMfaAuthenticated {
			return nil, nil, utils.Unauthorized(utils.CodeMfaRequired, "Two factor authentication failed")
		}
	case PolicyStep:
		if session.IsMfaAuthenticated {
			return nil, nil, utils.Unauthorized(utils.CodeAlreadyMfaAuthed, "Already two factor authenticated")
		}
	}
	return user, session, nil
}

func (g *Guard) resolveRefresh(c *gin.Context) (*models.User, *models.Session, error) {
	token := RefreshToken(c)
	if token == "" {
		return nil, nil, utils.Unauthorized(utils.CodeInvalidRefreshToken, "Invalid or expired refresh token")
	}
	claims, err := g.codec.VerifyRefresh(token)
	if err != nil {
		return nil, nil, utils.Unauthorized(utils.CodeInvalidRefreshToken, "Invalid or expired refresh token")
	}
	return g.lookup(c, claims.UserID, token)
}

func (g *Guard) lookup(c *gin.Context, userID, refresh string) (*models.User, *models.Session, error) {
	user, err := g.findUser(c, "id = ?", userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, utils.Unauthorized(utils.CodeUserNotFound, "No user with given id found")
		}
		return nil, nil, utils.Internal("Failed to load user", err)
	}

	if refresh == "" {
		return nil, nil, utils.Unauthorized(utils.CodeSessionNotFound, "No session found")
	}
	var session models.Session
	err = g.db.WithContext(c.Request.Context()).
		Where("user_id = ? AND hashed_refresh_token = ?", user.ID, utils.HashForLookup(refresh)).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, utils.Unauthorized(utils.CodeSessionNotFound, "No session found")
		}
		return nil, nil, utils.Internal("Failed to load session", err)
	}
	return user, &session, nil
}

func (g *Guard) findUser(c *gin.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := g.db.WithContext(c.Request.Context()).
		Preload("Limits").Preload("Usage").
		Where(query, arg).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RequireAdmin rejects non-administrators. It must follow a guard.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || !user.IsAdministrator {
			utils.Abort(c, utils.Forbidden("Forbidden resource"))
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user stored by a guard.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// CurrentSession returns the session stored by a guard.
func CurrentSession(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*models.Session)
	return session, ok && session != nil
}

func accessToken(c *gin.Context) string {
	if v, err := c.Cookie(utils.AccessCookieName); err == nil && v != "" {
		return v
	}
	v, _ := authorization(c, "Bearer")
	return v
}

// RefreshToken reads the refresh JWT from the Refresh cookie or the "Refresh: Bearer" header.
func RefreshToken(c *gin.Context) string {
	if v, err := c.Cookie(utils.RefreshCookieName); err == nil && v != "" {
		return v
	}
	return schemeValue(c.GetHeader("Refresh"), "Bearer")
}

// authorization returns the credential of the Authorization header when it uses scheme.
func authorization(c *gin.Context, scheme string) (string, bool) {
	v := schemeValue(c.GetHeader("Authorization"), scheme)
	return v, v != ""
}

func schemeValue(header, scheme string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], scheme) {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
