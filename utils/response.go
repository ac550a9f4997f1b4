package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JSONResponse defines the uniform structure for successful API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorBody is the body of every failed API call.
type ErrorBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, 0, "success", data)
}

// Created is Success with 201.
func Created(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusCreated, 0, "success", data)
}

// Abort records err for the error middleware and stops the handler chain.
func Abort(ctx *gin.Context, err error) {
	_ = ctx.Error(err)
	ctx.Abort()
}

// RenderError writes err as an ErrorBody. Errors that are not *AppError are
// logged and reported as a generic 500.
func RenderError(ctx *gin.Context, err error) {
	appErr, ok := AsAppError(err)
	if !ok {
		Logger.Error("unhandled error",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Error(err))
		appErr = Internal(internalMessage, err)
	}
	if appErr.Kind == KindInternal && appErr.Err != nil {
		Logger.Error(appErr.Message,
			zap.String("path", ctx.Request.URL.Path),
			zap.Error(appErr.Err))
	}
	ctx.JSON(appErr.Status, ErrorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
		Errors:  appErr.Fields,
	})
}
