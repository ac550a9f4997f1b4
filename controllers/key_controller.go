package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/middleware"
	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

const (
	maxClicksMessage = "The URL has reached its maximum amount of clicks. Check back later!"
	expiredMessage   = "This URL has expired"
)

// KeyController resolves public unique keys to their content.
type KeyController struct {
	Deps
	files *FileController
}

func NewKeyController(deps Deps) *KeyController {
	return &KeyController{Deps: deps, files: NewFileController(deps)}
}

// Visit handles GET /:key. File links may carry their extension, as in /abc12.png.
func (k *KeyController) Visit(ctx *gin.Context) {
	key, _, _ := strings.Cut(ctx.Param("key"), ".")
	if key == "" {
		utils.Abort(ctx, utils.NotFound("Not found"))
		return
	}

	var uk models.UniqueKey
	err := k.DB.WithContext(ctx.Request.Context()).
		Preload("UrlShortener").Preload("Paste").Preload("File").
		Where(&models.UniqueKey{Key: key}).First(&uk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Abort(ctx, utils.NotFound("Not found"))
			return
		}
		utils.Abort(ctx, utils.Internal("Failed to load key", err))
		return
	}

	switch {
	case uk.UrlShortener != nil:
		short := uk.UrlShortener
		if short.MaxClicks != nil && uk.ClickCount >= *short.MaxClicks {
			utils.Abort(ctx, utils.Forbidden(maxClicksMessage))
			return
		}
		if short.Expired(k.now().Now()) {
			utils.Abort(ctx, utils.Forbidden(expiredMessage))
			return
		}
		k.click(ctx, &uk)
		ctx.Redirect(http.StatusFound, short.DestinationURL)
	case uk.Paste != nil:
		k.click(ctx, &uk)
		untrustedContent(ctx)
		ctx.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(uk.Paste.Content))
	case uk.File != nil:
		file := uk.File
		k.click(ctx, &uk)
		// link previews embed the media itself
		if (file.IsImage() || file.IsVideo() || file.IsAudio()) && utils.IsBot(ctx.Request.UserAgent()) {
			ctx.Redirect(http.StatusFound, "/files/"+file.StoredName())
			return
		}
		k.files.serve(ctx, file)
	default:
		utils.Abort(ctx, utils.NotFound("Not found"))
	}
}

func (k *KeyController) click(ctx *gin.Context, uk *models.UniqueKey) {
	if k.Tracker == nil {
		return
	}
	if k.Tracker.Record(ctx.Request.Context(), uk.ID, middleware.Visit(ctx, k.Config.IsProxied)) {
		uk.ClickCount++
	}
}
