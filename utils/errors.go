package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind classifies an AppError and decides its HTTP status.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindForbidden
	KindNotFound
	KindRateLimited
	KindInternal
)

const internalMessage = "An unexpected error occurred"

// Numeric codes carried in the error body.
const (
	CodeValidation         = 40000
	CodeInvalidCredentials = 40001
	CodeBadRequest         = 40002

	CodeNoCredential        = 40101
	CodeInvalidToken        = 40102
	CodeUserNotFound        = 40103
	CodeApiKeyNotFound      = 40104
	CodeSessionNotFound     = 40105
	CodeMfaRequired         = 40106
	CodeAlreadyMfaAuthed    = 40107
	CodeInvalidRefreshToken = 40108

	CodeForbidden = 40300
	CodeNotFound  = 40400

	CodeServerBusy      = 42901
	CodeTooManyRequests = 42902

	CodeInternal = 50000
)

// AppError is the single error type rendered by the API error middleware.
type AppError struct {
	Kind    Kind
	Status  int
	Code    int
	Message string
	Fields  map[string]string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// AsAppError unwraps err into an *AppError.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func Validation(message string, fields map[string]string) *AppError {
	return &AppError{Kind: KindValidation, Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Fields: fields}
}

func BadRequest(message string) *AppError {
	return &AppError{Kind: KindValidation, Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

// InvalidCredentials is an auth failure reported as 400 so login probing
// cannot tell a bad username from a bad password.
func InvalidCredentials() *AppError {
	return &AppError{Kind: KindAuth, Status: http.StatusBadRequest, Code: CodeInvalidCredentials, Message: "Invalid credentials"}
}

func Unauthorized(code int, message string) *AppError {
	return &AppError{Kind: KindAuth, Status: http.StatusUnauthorized, Code: code, Message: message}
}

func Forbidden(message string) *AppError {
	return &AppError{Kind: KindForbidden, Status: http.StatusForbidden, Code: CodeForbidden, Message: message}
}

// Conflict is a business-rule denial that the API reports as 400.
func Conflict(message string) *AppError {
	return &AppError{Kind: KindForbidden, Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

func NotFound(message string) *AppError {
	return &AppError{Kind: KindNotFound, Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func TooManyRequests(code int, message string) *AppError {
	return &AppError{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Code: code, Message: message}
}

func Internal(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// BindError converts a gin binding failure into a validation error with per-field messages.
func BindError(err error) *AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[lowerFirst(fe.Field())] = fieldMessage(fe)
		}
		return Validation("Invalid request", fields)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		return Validation("Invalid request", map[string]string{typeErr.Field: "Invalid type"})
	case errors.As(err, &syntaxErr):
		return Validation("Malformed JSON body", nil)
	}
	return Validation("Invalid request", nil)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Required"
	case "min":
		return "Must be at least " + fe.Param() + " characters"
	case "max":
		return "Must be at most " + fe.Param() + " characters"
	case "url":
		return "Must be a valid URL"
	case "gte":
		return "Must be greater than or equal to " + fe.Param()
	case "alphanum":
		return "Must only contain letters and numbers"
	default:
		return "Invalid value"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
