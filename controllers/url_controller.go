package controllers

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

var customKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// UrlController manages short URLs.
type UrlController struct {
	Deps
}

func NewUrlController(deps Deps) *UrlController {
	return &UrlController{Deps: deps}
}

// Create shortens a URL. A custom key counts against limits.customUrls.
func (u *UrlController) Create(ctx *gin.Context) {
	var req struct {
		Key            string     `json:"key" binding:"omitempty,min=3,max=32"`
		DestinationURL string     `json:"destinationUrl" binding:"required,max=4096,url"`
		ExpirationDate *time.Time `json:"expirationDate"`
		MaxClicks      *int       `json:"maxClicks" binding:"omitempty,gte=1"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	if req.Key != "" && !customKeyPattern.MatchString(req.Key) {
		utils.Abort(ctx, utils.Validation("Invalid request", map[string]string{"key": "Must only contain letters, numbers, '-' and '_'"}))
		return
	}
	user := mustUser(ctx)
	isCustom := req.Key != ""

	short := &models.UrlShortener{
		UserID:         user.ID,
		IsCustomKey:    isCustom,
		ExpirationDate: req.ExpirationDate,
		MaxClicks:      req.MaxClicks,
		DestinationURL: req.DestinationURL,
	}
	err := u.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		key := req.Key
		if isCustom {
			var used int64
			if err := tx.Model(&models.UrlShortener{}).
				Where("user_id = ? AND is_custom_key = ?", user.ID, true).Count(&used).Error; err != nil {
				return err
			}
			if int(used) >= user.Limits.CustomUrls {
				return utils.Forbidden(fmt.Sprintf("You have reached your limit for custom URLs (%d)", user.Limits.CustomUrls))
			}
			taken, err := utils.KeyExists(tx, key)
			if err != nil {
				return err
			}
			if taken || utils.IsReservedKey(key) {
				return utils.Conflict("Key is already in use")
			}
		} else {
			var err error
			if key, err = utils.GenerateUniqueKey(tx, u.Config.URLShortenerKeyLength); err != nil {
				return err
			}
		}

		uk := &models.UniqueKey{UserID: user.ID, Key: key}
		if err := tx.Create(uk).Error; err != nil {
			return err
		}
		short.UniqueKeyID = uk.ID
		if err := tx.Omit("UniqueKey").Create(short).Error; err != nil {
			return err
		}
		short.UniqueKey = uk
		return nil
	})
	if err != nil {
		abortTx(ctx, "Failed to create URL", err)
		return
	}
	utils.Created(ctx, gin.H{"urlShortener": short, "url": u.contentURL(short.UniqueKey.Key)})
}

// List returns the user's short URLs, newest first.
func (u *UrlController) List(ctx *gin.Context) {
	user := mustUser(ctx)
	var items []models.UrlShortener
	if err := u.DB.WithContext(ctx.Request.Context()).Preload("UniqueKey").
		Where("user_id = ?", user.ID).Order("created_at DESC").Find(&items).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to load URLs", err))
		return
	}
	utils.Success(ctx, items)
}

// Update changes expiration and click cap. A null value removes the limit.
func (u *UrlController) Update(ctx *gin.Context) {
	var req struct {
		ExpirationDate *time.Time `json:"expirationDate"`
		MaxClicks      *int       `json:"maxClicks" binding:"omitempty,gte=1"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	short, ok := u.owned(ctx)
	if !ok {
		return
	}
	if err := u.DB.WithContext(ctx.Request.Context()).Model(short).
		Updates(map[string]interface{}{"expiration_date": req.ExpirationDate, "max_clicks": req.MaxClicks}).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update URL", err))
		return
	}
	short.ExpirationDate, short.MaxClicks = req.ExpirationDate, req.MaxClicks
	utils.Success(ctx, short)
}

// Delete removes the short URL with its unique key. Its clicks are kept, detached.
func (u *UrlController) Delete(ctx *gin.Context) {
	short, ok := u.owned(ctx)
	if !ok {
		return
	}
	if err := u.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		return utils.DeleteUniqueKey(tx, short.UniqueKeyID)
	}); err != nil {
		utils.Abort(ctx, utils.Internal("Failed to delete URL", err))
		return
	}
	utils.Success(ctx, nil)
}

// Clicks lists the recorded visits of a short URL.
func (u *UrlController) Clicks(ctx *gin.Context) {
	short, ok := u.owned(ctx)
	if !ok {
		return
	}
	var clicks []models.Click
	if err := u.DB.WithContext(ctx.Request.Context()).
		Where("unique_key_id = ?", short.UniqueKeyID).Order("created_at ASC").Find(&clicks).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to load clicks", err))
		return
	}
	utils.Success(ctx, clicks)
}

func (u *UrlController) owned(ctx *gin.Context) (*models.UrlShortener, bool) {
	user := mustUser(ctx)
	var short models.UrlShortener
	err := u.DB.WithContext(ctx.Request.Context()).Preload("UniqueKey").
		Where("id = ? AND user_id = ?", ctx.Param("id"), user.ID).First(&short).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Abort(ctx, utils.NotFound("URL not found"))
			return nil, false
		}
		utils.Abort(ctx, utils.Internal("Failed to load URL", err))
		return nil, false
	}
	return &short, true
}
