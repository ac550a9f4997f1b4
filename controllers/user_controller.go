package controllers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

// deletionGrace is how long a deleted account can still be restored by logging in.
const deletionGrace = 7 * 24 * time.Hour

// UserController serves account settings and the administrator user list.
type UserController struct {
	Deps
}

func NewUserController(deps Deps) *UserController {
	return &UserController{Deps: deps}
}

// Me returns the current user with limits and usage.
func (u *UserController) Me(ctx *gin.Context) {
	utils.Success(ctx, mustUser(ctx))
}

type sessionView struct {
	*models.Session
	Device    string `json:"device"`
	IsCurrent bool   `json:"isCurrent"`
}

// Sessions lists the current user's sessions.
func (u *UserController) Sessions(ctx *gin.Context) {
	user := mustUser(ctx)
	current := mustSession(ctx)

	var sessions []models.Session
	if err := u.DB.WithContext(ctx.Request.Context()).
		Where("user_id = ?", user.ID).Order("updated_at DESC").Find(&sessions).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to load sessions", err))
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, sessionView{
			Session:   &sessions[i],
			Device:    utils.DescribeUserAgent(sessions[i].App),
			IsCurrent: sessions[i].ID == current.ID,
		})
	}
	utils.Success(ctx, views)
}

// DeleteSession signs out one of the user's own sessions.
func (u *UserController) DeleteSession(ctx *gin.Context) {
	user := mustUser(ctx)
	res := u.DB.WithContext(ctx.Request.Context()).
		Where("id = ? AND user_id = ?", ctx.Param("id"), user.ID).Delete(&models.Session{})
	if res.Error != nil {
		utils.Abort(ctx, utils.Internal("Failed to delete session", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		utils.Abort(ctx, utils.NotFound("Session not found"))
		return
	}
	utils.Success(ctx, nil)
}

// ChangePassword rehashes the password and signs out every session.
func (u *UserController) ChangePassword(ctx *gin.Context) {
	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required,max=4096"`
		NewPassword     string `json:"newPassword" binding:"required,max=4096"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)
	if !utils.CheckPassword(user.HashedPassword, req.CurrentPassword) {
		utils.Abort(ctx, utils.BadRequest("Invalid password"))
		return
	}
	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update user", err))
		return
	}

	err = u.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Update("hashed_password", hashed).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", user.ID).Delete(&models.Session{}).Error
	})
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update user", err))
		return
	}
	setCookies(ctx, utils.LogoutCookies()...)
	utils.Success(ctx, nil)
}

// ChangeUsername renames the account after a password check.
func (u *UserController) ChangeUsername(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,min=3,max=24"`
		Password string `json:"password" binding:"required,max=4096"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)
	if !utils.CheckPassword(user.HashedPassword, req.Password) {
		utils.Abort(ctx, utils.BadRequest("Invalid password"))
		return
	}

	username, err := trimUsername(req.Username)
	if err != nil {
		utils.Abort(ctx, err)
		return
	}
	db := u.DB.WithContext(ctx.Request.Context())
	var taken int64
	if err := db.Model(&models.User{}).Where("username = ? AND id <> ?", username, user.ID).Count(&taken).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update user", err))
		return
	}
	if taken > 0 {
		utils.Abort(ctx, utils.Conflict("Username is already in use"))
		return
	}
	if err := db.Model(&models.User{}).Where("id = ?", user.ID).Update("username", username).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update user", err))
		return
	}
	user.Username = username
	utils.Success(ctx, user)
}

// ResetApiKey replaces the API key after a password check.
func (u *UserController) ResetApiKey(ctx *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required,max=4096"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)
	if !utils.CheckPassword(user.HashedPassword, req.Password) {
		utils.Abort(ctx, utils.BadRequest("Invalid password"))
		return
	}
	key := utils.NewApiKey()
	if err := u.DB.WithContext(ctx.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).Update("api_key", key).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update user", err))
		return
	}
	utils.Success(ctx, gin.H{"apiKey": key})
}

// DeleteAccount schedules the account for deletion in a week and signs out
// every session. Logging in with cancelDeletion restores it until then.
func (u *UserController) DeleteAccount(ctx *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required,max=4096"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)
	if !utils.CheckPassword(user.HashedPassword, req.Password) {
		utils.Abort(ctx, utils.BadRequest("Invalid password"))
		return
	}

	when := u.now().Now().Add(deletionGrace)
	err := u.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Update("scheduled_deletion", when).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", user.ID).Delete(&models.Session{}).Error
	})
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to schedule account deletion", err))
		return
	}
	utils.Sugar.Infof("user %s scheduled for deletion at %s", user.ID, when.Format(time.RFC3339))
	setCookies(ctx, utils.LogoutCookies()...)
	utils.Success(ctx, gin.H{"scheduledDeletion": when})
}

// List returns all users, paginated. Administrators only.
func (u *UserController) List(ctx *gin.Context) {
	page, pageSize := pagination(ctx)
	db := u.DB.WithContext(ctx.Request.Context())

	var total int64
	if err := db.Model(&models.User{}).Count(&total).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to count users", err))
		return
	}
	var users []models.User
	if err := db.Preload("Limits").Preload("Usage").Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to retrieve users", err))
		return
	}
	utils.Success(ctx, paginated(users, page, pageSize, total))
}

// SetLimits overwrites a user's quotas. Administrators only.
func (u *UserController) SetLimits(ctx *gin.Context) {
	var req struct {
		TotalMB    *int `json:"totalMB" binding:"required,gte=0"`
		CustomUrls *int `json:"customUrls" binding:"required,gte=0"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}

	db := u.DB.WithContext(ctx.Request.Context())
	id := ctx.Param("id")
	if _, err := loadUser(db, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Abort(ctx, utils.NotFound("User not found"))
			return
		}
		utils.Abort(ctx, utils.Internal("Failed to load user", err))
		return
	}
	if err := db.Model(&models.UserLimits{}).Where("user_id = ?", id).
		Updates(map[string]interface{}{"total_mb": *req.TotalMB, "custom_urls": *req.CustomUrls}).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update limits", err))
		return
	}
	user, err := loadUser(db, id)
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to load user", err))
		return
	}
	utils.Success(ctx, user)
}
