// Package apierror defines the error taxonomy shared by the HTTP layer, the
// chat orchestrator, and the provider adapters. Handlers recover at
// the HTTP boundary; callers deeper in the stack wrap underlying causes with
// fmt.Errorf("...: %w", err).
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code enumerates the error taxonomy categories.
type Code string

const (
	// CodeAuth indicates a missing/expired/invalid credential.
	CodeAuth Code = "AUTH_REQUIRED"
	// CodeTokenExpired indicates a token that has expired.
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	// CodeForbidden indicates an authenticated caller lacking permission.
	CodeForbidden Code = "FORBIDDEN"
	// CodeFeatureDisabled indicates a feature flag disabled the request path.
	CodeFeatureDisabled Code = "FEATURE_DISABLED"
	// CodeValidation indicates a payload failed schema validation.
	CodeValidation Code = "VALIDATION"
	// CodeNotFound indicates a missing resource id.
	CodeNotFound Code = "NOT_FOUND"
	// CodeRateLimit indicates the caller exceeded a rate-limit bucket.
	CodeRateLimit Code = "RATE_LIMIT"
	// CodeProviderError indicates an upstream LLM provider failure.
	CodeProviderError Code = "PROVIDER_ERROR"
	// CodeToolError indicates a tool invocation failed; recoverable by the model.
	CodeToolError Code = "TOOL_ERROR"
	// CodeCancelled indicates the request was cancelled by the caller.
	CodeCancelled Code = "CANCELLED"
	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INTERNAL"
)

// Error is a typed, user-presentable error carrying an HTTP-mappable code, an
// optional field pointer (for CodeValidation), and an optional correlation id
// (for CodeInternal, never presented to the user).
type Error struct {
	Code          Code
	Message       string
	Field         string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the taxonomy to the status code the transport layer returns.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuth, CodeTokenExpired:
		return http.StatusUnauthorized
	case CodeForbidden, CodeFeatureDisabled:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeProviderError, CodeToolError:
		return http.StatusBadGateway
	case CodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap constructs an Error that preserves cause for errors.Is/As chains.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// WithField attaches a validation field pointer (e.g. "variables.city").
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCorrelationID attaches a correlation id, only ever logged, never
// returned verbatim to untrusted callers for CodeInternal errors.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// As reports whether err (or any error in its chain) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
