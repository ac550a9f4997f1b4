package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

// PasteController manages text pastes.
type PasteController struct {
	Deps
}

func NewPasteController(deps Deps) *PasteController {
	return &PasteController{Deps: deps}
}

// Create stores a paste under a fresh key and recalculates usage.
func (p *PasteController) Create(ctx *gin.Context) {
	var req struct {
		Title   string `json:"title" binding:"max=100"`
		Content string `json:"content" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)

	paste := &models.Paste{
		UserID:  user.ID,
		Title:   utils.StripMarkup(req.Title),
		Content: req.Content,
		Bytes:   int64(len(req.Content)),
	}

	err := p.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		key, err := utils.GenerateUniqueKey(tx, p.Config.PasteKeyLength)
		if err != nil {
			return err
		}
		uk := &models.UniqueKey{UserID: user.ID, Key: key}
		if err := tx.Create(uk).Error; err != nil {
			return err
		}
		paste.UniqueKeyID = uk.ID
		if err := tx.Omit("UniqueKey").Create(paste).Error; err != nil {
			return err
		}
		paste.UniqueKey = uk
		return utils.RecalculateUsage(tx, user.ID)
	})
	if err != nil {
		abortTx(ctx, "Failed to create paste", err)
		return
	}
	utils.Created(ctx, gin.H{"paste": paste, "url": p.contentURL(paste.UniqueKey.Key)})
}

// List returns the user's pastes, newest first.
func (p *PasteController) List(ctx *gin.Context) {
	user := mustUser(ctx)
	var items []models.Paste
	if err := p.DB.WithContext(ctx.Request.Context()).Preload("UniqueKey").
		Where("user_id = ?", user.ID).Order("created_at DESC").Find(&items).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to load pastes", err))
		return
	}
	utils.Success(ctx, items)
}

// Delete removes a paste with its key and recalculates usage.
func (p *PasteController) Delete(ctx *gin.Context) {
	user := mustUser(ctx)
	db := p.DB.WithContext(ctx.Request.Context())
	var paste models.Paste
	if err := db.Where("id = ? AND user_id = ?", ctx.Param("id"), user.ID).First(&paste).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Abort(ctx, utils.NotFound("Paste not found"))
			return
		}
		utils.Abort(ctx, utils.Internal("Failed to load paste", err))
		return
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := utils.DeleteUniqueKey(tx, paste.UniqueKeyID); err != nil {
			return err
		}
		return utils.RecalculateUsage(tx, user.ID)
	}); err != nil {
		utils.Abort(ctx, utils.Internal("Failed to delete paste", err))
		return
	}
	utils.Success(ctx, nil)
}
