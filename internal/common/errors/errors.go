// Package errors provides custom error types for the checkpointd application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeTransientState       = "TRANSIENT_STATE"
	ErrCodeSubprocessFailure    = "SUBPROCESS_FAILURE"
	ErrCodePreconditionRejected = "PRECONDITION_REJECTED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// TransientState creates an error for a repository that is temporarily
// unavailable because the agent has renamed it aside mid-task. Distinct from
// NotFound: the correct client behavior is retry-later, not give-up.
func TransientState(message string) *AppError {
	return &AppError{
		Code:       ErrCodeTransientState,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// SubprocessFailure creates an error for a git invocation that exited
// non-zero or could not be launched. The command line and stderr tail are
// folded into the message for diagnosability.
func SubprocessFailure(command string, stderr string, err error) *AppError {
	msg := fmt.Sprintf("command failed: %s", command)
	if stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	}
	return &AppError{
		Code:       ErrCodeSubprocessFailure,
		Message:    msg,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// PreconditionRejected creates an error for an operation whose safety checks
// did not pass. Never coerced into a silent no-op.
func PreconditionRejected(message string) *AppError {
	return &AppError{
		Code:       ErrCodePreconditionRejected,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsTransientState checks if the error reports a repository renamed aside.
func IsTransientState(err error) bool {
	return hasCode(err, ErrCodeTransientState)
}

// IsSubprocessFailure checks if the error came from a failed git invocation.
func IsSubprocessFailure(err error) bool {
	return hasCode(err, ErrCodeSubprocessFailure)
}

// IsPreconditionRejected checks if the error is a rejected safety check.
func IsPreconditionRejected(err error) bool {
	return hasCode(err, ErrCodePreconditionRejected)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
