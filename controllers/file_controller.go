package controllers

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

const bytesPerMB = 1024 * 1024

var safeExt = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

// FileController handles uploads and serves stored files.
type FileController struct {
	Deps
}

func NewFileController(deps Deps) *FileController {
	return &FileController{Deps: deps}
}

func (f *FileController) dir() string {
	return f.Config.FilesPath()
}

// Upload stores the multipart field "file". Administrators are not bound by
// the storage quota.
func (f *FileController) Upload(ctx *gin.Context) {
	header, err := ctx.FormFile("file")
	if err != nil {
		utils.Abort(ctx, utils.BadRequest("No file provided"))
		return
	}
	user := mustUser(ctx)
	if !user.IsAdministrator && exceedsQuota(user, header.Size) {
		utils.Abort(ctx, utils.BadRequest(fmt.Sprintf("Reached the upload limit (%d MB)", user.Limits.TotalMB)))
		return
	}

	mimeType, ext, err := detectType(header)
	if err != nil {
		utils.Abort(ctx, utils.BadRequest("Invalid file"))
		return
	}
	if err := os.MkdirAll(f.dir(), 0o755); err != nil {
		utils.Abort(ctx, utils.Internal("Failed to store file", err))
		return
	}

	file := &models.File{
		UserID:   user.ID,
		Filename: displayName(header.Filename, ext),
		Ext:      ext,
		MimeType: mimeType,
		Bytes:    header.Size,
	}
	var stored string
	err = f.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		key, err := utils.GenerateUniqueKey(tx, f.Config.FileKeyLength)
		if err != nil {
			return err
		}
		uk := &models.UniqueKey{UserID: user.ID, Key: key}
		if err := tx.Create(uk).Error; err != nil {
			return err
		}
		file.UniqueKeyID = uk.ID
		if err := tx.Omit("UniqueKey").Create(file).Error; err != nil {
			return err
		}
		file.UniqueKey = uk

		stored = file.StoredName()
		if err := ctx.SaveUploadedFile(header, filepath.Join(f.dir(), stored)); err != nil {
			return fmt.Errorf("save upload: %w", err)
		}
		return utils.RecalculateUsage(tx, user.ID)
	})
	if err != nil {
		if stored != "" {
			utils.RemoveStoredFiles(f.dir(), stored)
		}
		abortTx(ctx, "Failed to create file", err)
		return
	}
	utils.Created(ctx, gin.H{"file": file, "url": f.contentURL(file.UniqueKey.Key + "." + file.Ext)})
}

// List returns the user's files, newest first.
func (f *FileController) List(ctx *gin.Context) {
	user := mustUser(ctx)
	var items []models.File
	if err := f.DB.WithContext(ctx.Request.Context()).Preload("UniqueKey").
		Where("user_id = ?", user.ID).Order("created_at DESC").Find(&items).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to load files", err))
		return
	}
	utils.Success(ctx, items)
}

// Delete removes the file row, its key and the stored bytes.
func (f *FileController) Delete(ctx *gin.Context) {
	user := mustUser(ctx)
	db := f.DB.WithContext(ctx.Request.Context())
	var file models.File
	if err := db.Where("id = ? AND user_id = ?", ctx.Param("id"), user.ID).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Abort(ctx, utils.NotFound("File not found"))
			return
		}
		utils.Abort(ctx, utils.Internal("Failed to load file", err))
		return
	}
	if err := db.Transaction(func(tx *gorm.DB) error {
		if err := utils.DeleteUniqueKey(tx, file.UniqueKeyID); err != nil {
			return err
		}
		return utils.RecalculateUsage(tx, user.ID)
	}); err != nil {
		utils.Abort(ctx, utils.Internal("Failed to delete file", err))
		return
	}
	utils.RemoveStoredFiles(f.dir(), file.StoredName())
	utils.Success(ctx, nil)
}

// Raw serves /files/<id>.<ext> without counting a click.
func (f *FileController) Raw(ctx *gin.Context) {
	id, ext, _ := strings.Cut(ctx.Param("name"), ".")
	var file models.File
	if err := f.DB.WithContext(ctx.Request.Context()).Where("id = ?", id).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Abort(ctx, utils.NotFound("File not found"))
			return
		}
		utils.Abort(ctx, utils.Internal("Failed to load file", err))
		return
	}
	if ext != "" && ext != file.Ext {
		utils.Abort(ctx, utils.NotFound("File not found"))
		return
	}
	f.serve(ctx, &file)
}

func (f *FileController) serve(ctx *gin.Context, file *models.File) {
	path := filepath.Join(f.dir(), file.StoredName())
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			utils.Abort(ctx, utils.NotFound("File not found"))
			return
		}
		utils.Abort(ctx, utils.Internal("Failed to read file", err))
		return
	}
	untrustedContent(ctx)
	if rendersInline(file.MimeType) {
		ctx.Header("Content-Type", file.MimeType)
		ctx.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": file.Filename}))
	} else {
		ctx.Header("Content-Type", "application/octet-stream")
		ctx.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}))
	}
	ctx.File(path)
}

// untrustedContent marks user supplied bytes so the browser neither sniffs
// them nor runs them with the API's origin.
func untrustedContent(ctx *gin.Context) {
	ctx.Header("X-Content-Type-Options", "nosniff")
	ctx.Header("Content-Security-Policy", "sandbox; default-src 'none'; img-src 'self'; media-src 'self'; style-src 'unsafe-inline'")
}

// rendersInline reports whether a stored type is safe to display in the
// browser. SVG can carry script and is downloaded like everything else.
func rendersInline(mimeType string) bool {
	base, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	base = strings.TrimSpace(base)
	switch {
	case base == "image/svg+xml":
		return false
	case strings.HasPrefix(base, "image/"), strings.HasPrefix(base, "video/"), strings.HasPrefix(base, "audio/"):
		return true
	default:
		return base == "text/plain"
	}
}

// exceedsQuota reports whether adding size bytes passes the user's storage limit.
func exceedsQuota(user *models.User, size int64) bool {
	used := float64(user.Usage.BytesUsed+size) / bytesPerMB
	return used > float64(user.Limits.TotalMB)
}

// detectType sniffs the uploaded bytes. The extension follows the detected
// type, so a .jpeg upload is stored as jpg.
func detectType(header *multipart.FileHeader) (string, string, error) {
	src, err := header.Open()
	if err != nil {
		return "", "", err
	}
	defer src.Close()
	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return "", "", err
	}
	ext := strings.TrimPrefix(mt.Extension(), ".")
	if ext == "" {
		ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	}
	if !safeExt.MatchString(ext) {
		ext = "bin"
	}
	return mt.String(), ext, nil
}

func displayName(original, ext string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	if base == "" || base == "." {
		base = "file"
	}
	return base + "." + ext
}
