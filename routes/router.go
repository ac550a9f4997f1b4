package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/roxy/controllers"
	"github.com/cppla/roxy/middleware"
	"github.com/cppla/roxy/utils"
)

// Options carries everything the router wires into handlers.
type Options struct {
	Deps    controllers.Deps
	Guard   *middleware.Guard
	Limiter *middleware.Limiter
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(opts Options) *gin.Engine {
	cfg := opts.Deps.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(accessLog(cfg.GinLogPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)...)

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Refresh", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CacheControl())
	r.Use(opts.Limiter.Global())

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	guard := opts.Guard
	limit := opts.Limiter.Route
	full := guard.Authenticate(middleware.PolicyFull)
	step := guard.Authenticate(middleware.PolicyStep)
	refresh := guard.Authenticate(middleware.PolicyRefresh)

	authController := controllers.NewAuthController(opts.Deps)
	mfaController := controllers.NewMfaController(opts.Deps)
	userController := controllers.NewUserController(opts.Deps)
	urlController := controllers.NewUrlController(opts.Deps)
	pasteController := controllers.NewPasteController(opts.Deps)
	fileController := controllers.NewFileController(opts.Deps)
	keyController := controllers.NewKeyController(opts.Deps)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.POST("/signup", limit(middleware.Rule{Max: 5, Window: middleware.Minutes(1)}), authController.SignUp)
	authGroup.POST("/login", limit(middleware.Rule{Max: 10, Window: middleware.Minutes(1)}), authController.Login)
	authGroup.POST("/logout", refresh, authController.Logout)
	authGroup.POST("/refresh", refresh, limit(middleware.Rule{Max: 10, Window: middleware.Minutes(1)}), authController.Refresh)

	mfaGroup := authGroup.Group("/mfa", step, limit(middleware.Rule{Max: 5, Window: middleware.Minutes(1)}))
	mfaGroup.POST("/generate", mfaController.Generate)
	mfaGroup.POST("/enable", mfaController.Enable)
	mfaGroup.POST("/disable", mfaController.Disable)
	mfaGroup.POST("/authenticate", mfaController.Authenticate)

	users := api.Group("/users", full)
	users.GET("/me", userController.Me)
	users.GET("/me/sessions", userController.Sessions)
	users.DELETE("/me/sessions/:id", userController.DeleteSession)
	users.PATCH("/me/password", limit(middleware.Rule{Max: 3, Window: middleware.Minutes(60)}), userController.ChangePassword)
	users.PATCH("/me/username", limit(middleware.Rule{Max: 5, Window: middleware.Minutes(1)}), userController.ChangeUsername)
	users.POST("/me/api-key", limit(middleware.Rule{Max: 5, Window: middleware.Minutes(1)}), userController.ResetApiKey)
	users.DELETE("/me", limit(middleware.Rule{Max: 3, Window: middleware.Minutes(60)}), userController.DeleteAccount)
	users.GET("", middleware.RequireAdmin(), userController.List)
	users.PUT("/:id/limits", middleware.RequireAdmin(), userController.SetLimits)

	create := limit(middleware.Rule{Max: 10, Window: middleware.Seconds(5)})

	urls := api.Group("/urls", full)
	urls.POST("", create, urlController.Create)
	urls.GET("", urlController.List)
	urls.PATCH("/:id", urlController.Update)
	urls.DELETE("/:id", urlController.Delete)
	urls.GET("/:id/clicks", urlController.Clicks)

	pastes := api.Group("/pastes", full)
	pastes.POST("", create, pasteController.Create)
	pastes.GET("", pasteController.List)
	pastes.DELETE("/:id", pasteController.Delete)

	files := api.Group("/files", full)
	files.POST("", create, fileController.Upload)
	files.GET("", fileController.List)
	files.DELETE("/:id", fileController.Delete)

	r.GET("/files/:name", fileController.Raw)
	r.GET("/:key", keyController.Visit)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Abort(ctx, utils.NotFound("Route not found"))
	})

	return r
}

// accessLog logs requests to the gin rolling file, or to the application
// logger when no file is configured.
func accessLog(path, level string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) []gin.HandlerFunc {
	var logger *zap.Logger
	if path != "" {
		l, err := utils.NewRollingFileLogger(path, level, maxSizeMB, maxBackups, maxAgeDays, compress)
		if err != nil {
			utils.Sugar.Warnf("gin access log disabled: %v", err)
		} else {
			logger = l
		}
	}
	if logger == nil {
		logger = utils.Logger
	}
	return []gin.HandlerFunc{
		utils.Ginzap(logger, time.RFC3339, true),
		utils.RecoveryWithZap(logger, false),
	}
}
