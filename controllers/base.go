package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/config"
	"github.com/cppla/roxy/middleware"
	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

// Deps are the collaborators shared by the controllers.
type Deps struct {
	DB      *gorm.DB
	Config  config.AppConfig
	Codec   *utils.TokenCodec
	Locator utils.Locator
	Tracker *utils.ClickTracker
	Clock   utils.Clock
}

func (d Deps) now() utils.Clock {
	if d.Clock == nil {
		return utils.SystemClock{}
	}
	return d.Clock
}

func (d Deps) location(ctx *gin.Context, ip string) string {
	if d.Locator == nil {
		return utils.UnknownLocation
	}
	return d.Locator.Locate(ctx.Request.Context(), ip)
}

// contentURL is the public link of a unique key.
func (d Deps) contentURL(key string) string {
	return strings.TrimRight(d.Config.URL, "/") + "/" + key
}

// newSession describes the device behind the current request.
func (d Deps) newSession(ctx *gin.Context, userID string, refresh utils.SignedToken) *models.Session {
	ip := middleware.RequestIP(ctx, d.Config.IsProxied)
	app := ctx.Request.UserAgent()
	if app == "" {
		app = "unknown"
	}
	return &models.Session{
		UserID:             userID,
		App:                app,
		IPAddress:          ip,
		EstimatedLocation:  d.location(ctx, ip),
		HashedRefreshToken: utils.HashForLookup(refresh.Token),
	}
}

// mustUser returns the guarded user; routes without a guard never call it.
func mustUser(ctx *gin.Context) *models.User {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		panic("controllers: no authenticated user in context")
	}
	return user
}

func mustSession(ctx *gin.Context) *models.Session {
	session, ok := middleware.CurrentSession(ctx)
	if !ok {
		panic("controllers: no session in context")
	}
	return session
}

func setCookies(ctx *gin.Context, cookies ...string) {
	for _, c := range cookies {
		ctx.Writer.Header().Add("Set-Cookie", c)
	}
}

// pagination reads page and page_size query parameters.
func pagination(ctx *gin.Context) (page, pageSize int) {
	page, pageSize = 1, 20
	if v := strings.TrimSpace(ctx.Query("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(ctx.Query("page_size")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}
	return page, pageSize
}

func paginated(items interface{}, page, pageSize int, total int64) gin.H {
	return gin.H{
		"items": items,
		"pagination": gin.H{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	}
}

// loadUser reloads a user with limits and usage.
func loadUser(db *gorm.DB, id string) (*models.User, error) {
	var user models.User
	if err := db.Preload("Limits").Preload("Usage").Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// abortTx passes AppErrors raised inside a transaction through and wraps anything else.
func abortTx(ctx *gin.Context, message string, err error) {
	if _, ok := utils.AsAppError(err); ok {
		utils.Abort(ctx, err)
		return
	}
	if errors.Is(err, utils.ErrKeyExhausted) {
		utils.Abort(ctx, utils.Internal("Failed to create a new key", err))
		return
	}
	utils.Abort(ctx, utils.Internal(message, err))
}

const minUsernameLength = 3

// trimUsername strips surrounding spaces from a bound username and checks the
// minimum length again on what will be stored.
func trimUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if len(name) < minUsernameLength {
		return "", utils.Validation("Invalid request", map[string]string{
			"username": "Must be at least " + strconv.Itoa(minUsernameLength) + " characters",
		})
	}
	return name, nil
}
