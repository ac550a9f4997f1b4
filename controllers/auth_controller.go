package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/middleware"
	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

// refreshRotationAge is how old a session must be before refresh issues a new refresh token.
const refreshRotationAge = 24 * time.Hour

// AuthController handles signup, login, logout and token refresh.
type AuthController struct {
	Deps
}

// NewAuthController creates an AuthController.
func NewAuthController(deps Deps) *AuthController {
	return &AuthController{Deps: deps}
}

type authResponse struct {
	User       *models.User       `json:"user"`
	Session    *models.Session    `json:"session"`
	AccessJwt  utils.SignedToken  `json:"accessJwt"`
	RefreshJwt *utils.SignedToken `json:"refreshJwt"`
}

// SignUp creates a user with limits, usage and a first session. The first
// user ever created becomes administrator.
func (a *AuthController) SignUp(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,min=3,max=24"`
		Password string `json:"password" binding:"required,max=4096"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	username, err := trimUsername(req.Username)
	if err != nil {
		utils.Abort(ctx, err)
		return
	}
	req.Username = username
	if !a.Config.AllowRegistrations {
		utils.Abort(ctx, utils.Forbidden("Registrations are currently disabled"))
		return
	}

	db := a.DB.WithContext(ctx.Request.Context())
	var taken int64
	if err := db.Model(&models.User{}).Where("username = ?", req.Username).Count(&taken).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to create user", err))
		return
	}
	if taken > 0 {
		utils.Abort(ctx, utils.Conflict("Username is already in use"))
		return
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to create user", err))
		return
	}
	backupCodes := utils.GenerateBackupCodes()
	user := &models.User{
		Username:       req.Username,
		HashedPassword: hashed,
		MfaBackupCodes: strings.Join(backupCodes, ","),
		ApiKey:         utils.NewApiKey(),
	}

	var access, refresh utils.SignedToken
	var session *models.Session
	err = db.Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&models.User{}).Count(&users).Error; err != nil {
			return err
		}
		user.IsAdministrator = users == 0
		if err := tx.Omit("Limits", "Usage").Create(user).Error; err != nil {
			return err
		}
		user.Limits = models.UserLimits{
			UserID:     user.ID,
			TotalMB:    a.Config.DefaultLimitsTotalMB,
			CustomUrls: a.Config.DefaultLimitsCustomURLs,
		}
		if err := tx.Create(&user.Limits).Error; err != nil {
			return err
		}
		user.Usage = models.UserUsage{UserID: user.ID}
		if err := tx.Create(&user.Usage).Error; err != nil {
			return err
		}

		if access, err = a.Codec.SignAccess(user.ID); err != nil {
			return err
		}
		if refresh, err = a.Codec.SignRefresh(user.ID); err != nil {
			return err
		}
		session = a.newSession(ctx, user.ID, refresh)
		return tx.Create(session).Error
	})
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to create user", err))
		return
	}

	utils.Sugar.Infof("user %s signed up admin=%t", user.ID, user.IsAdministrator)
	setCookies(ctx, access.Cookie, refresh.Cookie)
	utils.Created(ctx, gin.H{
		"user":        user,
		"session":     session,
		"accessJwt":   access,
		"refreshJwt":  refresh,
		"backupCodes": backupCodes,
		"apiKey":      user.ApiKey,
	})
}

// Login checks username and password and opens a new session. A session
// already bound to the caller's refresh token is replaced.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username       string `json:"username" binding:"required"`
		Password       string `json:"password" binding:"required,max=4096"`
		CancelDeletion bool   `json:"cancelDeletion"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}

	db := a.DB.WithContext(ctx.Request.Context())
	var user models.User
	if err := db.Preload("Limits").Preload("Usage").
		Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Abort(ctx, utils.InvalidCredentials())
			return
		}
		utils.Abort(ctx, utils.Internal("Failed to load user", err))
		return
	}
	if !utils.CheckPassword(user.HashedPassword, req.Password) {
		utils.Abort(ctx, utils.InvalidCredentials())
		return
	}

	if user.ScheduledDeletion != nil {
		if !req.CancelDeletion {
			utils.Abort(ctx, utils.Forbidden(fmt.Sprintf("Account is scheduled for deletion on %s",
				user.ScheduledDeletion.UTC().Format(time.RFC3339))))
			return
		}
		if err := db.Model(&user).Update("scheduled_deletion", nil).Error; err != nil {
			utils.Abort(ctx, utils.Internal("Failed to update user", err))
			return
		}
		user.ScheduledDeletion = nil
		utils.Sugar.Infof("user %s cancelled account deletion", user.ID)
	}

	access, err := a.Codec.SignAccess(user.ID)
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to create session", err))
		return
	}
	refresh, err := a.Codec.SignRefresh(user.ID)
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to create session", err))
		return
	}

	session := a.newSession(ctx, user.ID, refresh)
	previous := middleware.RefreshToken(ctx)
	err = db.Transaction(func(tx *gorm.DB) error {
		// one session per browser or client
		if previous != "" {
			if err := tx.Where("user_id = ? AND hashed_refresh_token = ?", user.ID, utils.HashForLookup(previous)).
				Delete(&models.Session{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(session).Error
	})
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to create session", err))
		return
	}

	setCookies(ctx, access.Cookie, refresh.Cookie)
	utils.Success(ctx, authResponse{User: &user, Session: session, AccessJwt: access, RefreshJwt: &refresh})
}

// Logout deletes the caller's session and clears both cookies.
func (a *AuthController) Logout(ctx *gin.Context) {
	session := mustSession(ctx)
	if err := a.DB.WithContext(ctx.Request.Context()).
		Where("id = ?", session.ID).Delete(&models.Session{}).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to delete session", err))
		return
	}
	setCookies(ctx, utils.LogoutCookies()...)
	utils.Success(ctx, nil)
}

// Refresh issues a new access token. The refresh token itself is rotated once
// the session has not been updated for a day.
func (a *AuthController) Refresh(ctx *gin.Context) {
	user := mustUser(ctx)
	session := mustSession(ctx)

	access, err := a.Codec.SignAccess(user.ID)
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to refresh token", err))
		return
	}
	cookies := []string{access.Cookie}

	var rotated *utils.SignedToken
	if a.now().Now().Sub(session.UpdatedAt) >= refreshRotationAge {
		refresh, err := a.Codec.SignRefresh(user.ID)
		if err != nil {
			utils.Abort(ctx, utils.Internal("Failed to refresh token", err))
			return
		}
		session.HashedRefreshToken = utils.HashForLookup(refresh.Token)
		if err := a.DB.WithContext(ctx.Request.Context()).Model(session).
			Update("hashed_refresh_token", session.HashedRefreshToken).Error; err != nil {
			utils.Abort(ctx, utils.Internal("Failed to update session", err))
			return
		}
		rotated = &refresh
		cookies = append(cookies, refresh.Cookie)
	}

	setCookies(ctx, cookies...)
	utils.Success(ctx, authResponse{User: user, Session: session, AccessJwt: access, RefreshJwt: rotated})
}
