// Package errors defines the error taxonomy for the sync engine.
//
// Errors fall into five classes with distinct handling semantics:
// precondition failures abort an operation before any work is done,
// conflict/decode/io errors are per-item failures that batch operations
// count and continue past, and storage errors roll back the current
// transaction while leaving previously committed work in place.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes used across the application
const (
	CodePrecondition = "PRECONDITION_FAILED"
	CodeConflict     = "CONFLICT"
	CodeDecode       = "DECODE_ERROR"
	CodeIO           = "IO_ERROR"
	CodeStorage      = "STORAGE_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// CadenzaError is the standard application error type
type CadenzaError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *CadenzaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *CadenzaError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *CadenzaError) WithContext(key string, value interface{}) *CadenzaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ToGinResponse sends the error as a JSON response
func (e *CadenzaError) ToGinResponse(c *gin.Context) {
	status := e.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}
	if len(e.Context) > 0 {
		response["details"] = e.Context
	}

	c.JSON(status, response)
}

// Constructors

// NewPreconditionError creates an error for an operation whose
// prerequisites are not met. These are fatal to the whole operation.
func NewPreconditionError(message string, cause error) *CadenzaError {
	return &CadenzaError{
		Code:       CodePrecondition,
		Message:    message,
		Cause:      cause,
		HTTPStatus: http.StatusPreconditionFailed,
	}
}

// NewConflictError creates an error for a stale-revision write
func NewConflictError(message string, cause error) *CadenzaError {
	return &CadenzaError{
		Code:       CodeConflict,
		Message:    message,
		Cause:      cause,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDecodeError creates an error for unreadable file metadata
func NewDecodeError(message string, cause error) *CadenzaError {
	return &CadenzaError{
		Code:       CodeDecode,
		Message:    message,
		Cause:      cause,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewIOError creates an error for a failed filesystem operation
func NewIOError(message string, cause error) *CadenzaError {
	return &CadenzaError{
		Code:       CodeIO,
		Message:    message,
		Cause:      cause,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewStorageError creates an error for a failed database operation
func NewStorageError(message string, cause error) *CadenzaError {
	return &CadenzaError{
		Code:       CodeStorage,
		Message:    message,
		Cause:      cause,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *CadenzaError {
	return &CadenzaError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *CadenzaError {
	return &CadenzaError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInternalError creates a generic internal error
func NewInternalError(message string, cause error) *CadenzaError {
	return &CadenzaError{
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Classifiers

func hasCode(err error, code string) bool {
	var ce *CadenzaError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsPrecondition reports whether err is a precondition failure
func IsPrecondition(err error) bool { return hasCode(err, CodePrecondition) }

// IsConflict reports whether err is a revision conflict
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }

// IsDecode reports whether err is a metadata decode failure
func IsDecode(err error) bool { return hasCode(err, CodeDecode) }

// IsIO reports whether err is a filesystem failure
func IsIO(err error) bool { return hasCode(err, CodeIO) }

// IsStorage reports whether err is a database failure
func IsStorage(err error) bool { return hasCode(err, CodeStorage) }

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// Gin helpers

// HandleError writes an appropriate JSON response for any error
func HandleError(c *gin.Context, err error) {
	var ce *CadenzaError
	if stderrors.As(err, &ce) {
		ce.ToGinResponse(c)
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Internal server error",
		"code":  CodeInternal,
	})
}
