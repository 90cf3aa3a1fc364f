package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeBadRequest          ErrorType = "BAD_REQUEST"
	ErrorTypeUnauthorized        ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden           ErrorType = "FORBIDDEN"
	ErrorTypeNotFound            ErrorType = "NOT_FOUND"
	ErrorTypeQuotaExceeded       ErrorType = "QUOTA_EXCEEDED"
	ErrorTypeValidation          ErrorType = "VALIDATION_ERROR"
	ErrorTypePartialDeletion     ErrorType = "PARTIAL_DELETION"
	ErrorTypeInternalServerError ErrorType = "INTERNAL_SERVER_ERROR"
)

// CustomError represents a custom error with associated HTTP status code and type
type CustomError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *CustomError) Error() string {
	return e.Message
}

// newError creates a new CustomError
func newError(errType ErrorType, message string, statusCode int, internal error) *CustomError {
	return &CustomError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// New400Error creates a new bad request error
func New400Error(message string) *CustomError {
	return newError(ErrorTypeBadRequest, message, http.StatusBadRequest, nil)
}

// New401Error creates a new unauthorized error
func New401Error() *CustomError {
	return newError(ErrorTypeUnauthorized, "Unauthorized access", http.StatusUnauthorized, nil)
}

// New404Error creates a new not found error
func New404Error(message string) *CustomError {
	return newError(ErrorTypeNotFound, message, http.StatusNotFound, nil)
}

// NewValidationError reports a file rejected before any network call.
func NewValidationError(message string) *CustomError {
	return newError(ErrorTypeValidation, message, http.StatusUnprocessableEntity, nil)
}

// NewQuotaError reports the anonymous free-turn ceiling being reached.
func NewQuotaError(message string) *CustomError {
	return newError(ErrorTypeQuotaExceeded, message, http.StatusTooManyRequests, nil)
}

// NewPartialDeletionError reports a cascade delete that only half finished.
// Callers must surface this distinctly from "not found".
func NewPartialDeletionError(internal error) *CustomError {
	return newError(ErrorTypePartialDeletion, "Chat was only partially deleted", http.StatusInternalServerError, internal)
}

// New500Error creates a new internal server error
func New500Error(internal error) *CustomError {
	return newError(ErrorTypeInternalServerError, "An unexpected error occurred", http.StatusInternalServerError, internal)
}

// HandleError handles the custom error and sends an appropriate JSON response
func HandleError(c *gin.Context, err error) {
	var customErr *CustomError
	var ok bool

	if customErr, ok = err.(*CustomError); !ok {
		customErr = New500Error(err)
	}

	if customErr.Internal != nil {
		log.Error().
			Err(customErr.Internal).
			Str("type", string(customErr.Type)).
			Str("url", c.Request.URL.String()).
			Msg("Request failed")
	}

	c.JSON(customErr.StatusCode, gin.H{
		"error": gin.H{
			"type":    customErr.Type,
			"message": customErr.Message,
		},
	})
}
