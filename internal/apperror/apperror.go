// Package apperror defines the error taxonomy for the turn pipeline.
//
// Fatal kinds (CONFIGURATION, UNAUTHORIZED, VALIDATION) abort the turn
// before generation. Recoverable kinds (TOOL_INVOCATION, EXTERNAL_API)
// are logged and folded into context as diagnostics. GENERATION still
// persists an assistant record with a sanitized message — raw provider
// error text never reaches the end user.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and persisted usage records.
type Code string

const (
	CodeConfiguration  Code = "CONFIGURATION"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeValidation     Code = "VALIDATION"
	CodeNotFound       Code = "NOT_FOUND"
	CodeToolInvocation Code = "TOOL_INVOCATION"
	CodeExternalAPI    Code = "EXTERNAL_API"
	CodeGeneration     Code = "GENERATION"
	CodeTimeout        Code = "TIMEOUT"
	CodeInternal       Code = "INTERNAL"
)

// Error is a classified application error.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a classification and context to an underlying error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the classification from err, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Fatal reports whether the error should abort the turn before any
// generation side effect.
func Fatal(err error) bool {
	switch CodeOf(err) {
	case CodeConfiguration, CodeUnauthorized, CodeValidation, CodeNotFound:
		return true
	}
	return false
}

// HTTPStatus maps the classification to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConfiguration:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeGeneration, CodeExternalAPI, CodeToolInvocation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
