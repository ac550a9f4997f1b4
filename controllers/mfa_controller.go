package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/roxy/models"
	"github.com/cppla/roxy/utils"
)

// MfaController drives TOTP setup and the second authentication step.
type MfaController struct {
	Deps
}

func NewMfaController(deps Deps) *MfaController {
	return &MfaController{Deps: deps}
}

type mfaCodeRequest struct {
	Code string `json:"code" binding:"required,max=12"`
}

// Generate stores a new TOTP secret and returns its provisioning URI and QR code.
// MFA stays disabled until Enable confirms a code.
func (m *MfaController) Generate(ctx *gin.Context) {
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
	if user.HasMfaEnabled {
		utils.Abort(ctx, utils.Conflict("MFA is already enabled"))
		return
	}

	secret, err := utils.GenerateTOTPSecret()
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to generate MFA secret", err))
		return
	}
	uri := utils.TOTPProvisionURI(secret, user.Username)
	qr, err := utils.QRCodeDataURI(uri)
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to generate MFA secret", err))
		return
	}
	if err := m.DB.WithContext(ctx.Request.Context()).Model(&models.User{}).
		Where("id = ?", user.ID).Update("mfa_secret", secret).Error; err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update user", err))
		return
	}

	utils.Success(ctx, gin.H{"secret": secret, "otpAuthUrl": uri, "qrCode": qr})
}

// Enable turns MFA on after a valid TOTP code. Backup codes are not accepted
// here. The current session counts as authenticated.
func (m *MfaController) Enable(ctx *gin.Context) {
	var req mfaCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)
	session := mustSession(ctx)
	if user.HasMfaEnabled {
		utils.Abort(ctx, utils.Conflict("MFA is already enabled"))
		return
	}
	if user.MfaSecret == nil || *user.MfaSecret == "" {
		utils.Abort(ctx, utils.BadRequest("No MFA secret generated"))
		return
	}
	if !utils.VerifyTOTP(*user.MfaSecret, utils.SanitizeMfaCode(req.Code), m.now().Now()) {
		utils.Abort(ctx, utils.BadRequest("Invalid MFA code"))
		return
	}

	err := m.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Update("has_mfa_enabled", true).Error; err != nil {
			return err
		}
		return tx.Model(&models.Session{}).Where("id = ?", session.ID).
			Update("is_mfa_authenticated", true).Error
	})
	if err != nil {
		utils.Abort(ctx, utils.Internal("Failed to update user", err))
		return
	}
	utils.Sugar.Infof("user %s enabled MFA", user.ID)
	utils.Success(ctx, nil)
}

// Disable turns MFA off with a TOTP or backup code and resets the MFA flag
// of every session of the user.
func (m *MfaController) Disable(ctx *gin.Context) {
	var req mfaCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)
	if !user.HasMfaEnabled {
		utils.Abort(ctx, utils.Conflict("MFA is already disabled"))
		return
	}

	err := m.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		ok, err := m.checkCode(tx, user, req.Code)
		if err != nil {
			return err
		}
		if !ok {
			return utils.BadRequest("Invalid code")
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]interface{}{"has_mfa_enabled": false, "mfa_secret": nil}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Session{}).
			Where("user_id = ? AND is_mfa_authenticated = ?", user.ID, true).
			Update("is_mfa_authenticated", false).Error
	})
	if err != nil {
		abortTx(ctx, "Failed to update user", err)
		return
	}
	utils.Sugar.Infof("user %s disabled MFA", user.ID)
	utils.Success(ctx, nil)
}

// Authenticate completes the second step for the current session.
func (m *MfaController) Authenticate(ctx *gin.Context) {
	var req mfaCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Abort(ctx, utils.BindError(err))
		return
	}
	user := mustUser(ctx)
	session := mustSession(ctx)

	err := m.DB.WithContext(ctx.Request.Context()).Transaction(func(tx *gorm.DB) error {
		ok, err := m.checkCode(tx, user, req.Code)
		if err != nil {
			return err
		}
		if !ok {
			return utils.BadRequest("Invalid code")
		}
		return tx.Model(session).Update("is_mfa_authenticated", true).Error
	})
	if err != nil {
		abortTx(ctx, "Failed to update user", err)
		return
	}
	session.IsMfaAuthenticated = true
	utils.Success(ctx, gin.H{"user": user, "session": session})
}

// checkCode accepts a TOTP code or an unused backup code. A used backup code
// is replaced by a fresh one.
func (m *MfaController) checkCode(tx *gorm.DB, user *models.User, code string) (bool, error) {
	code = utils.SanitizeMfaCode(code)
	if user.MfaSecret != nil && utils.VerifyTOTP(*user.MfaSecret, code, m.now().Now()) {
		return true, nil
	}
	remaining, ok := utils.ConsumeBackupCode(user.MfaBackupCodes, code)
	if !ok {
		return false, nil
	}
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
		Update("mfa_backup_codes", remaining).Error; err != nil {
		return false, err
	}
	user.MfaBackupCodes = remaining
	return true, nil
}
