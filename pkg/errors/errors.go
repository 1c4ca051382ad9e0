package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so cloned instances compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrPersistence        = New("PERSISTENCE_FAILURE", http.StatusInternalServerError, "storage unavailable")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Refresh-token state rejections. Distinct codes are kept for audit trails;
// the HTTP layer collapses them into a single outward message.
var (
	ErrRefreshNotFound = New("REFRESH_NOT_FOUND", http.StatusUnauthorized, "refresh token not found")
	ErrRefreshReused   = New("REFRESH_REUSED", http.StatusUnauthorized, "refresh token already used")
	ErrRefreshRevoked  = New("REFRESH_REVOKED", http.StatusUnauthorized, "refresh token revoked")
	ErrRefreshExpired  = New("REFRESH_EXPIRED", http.StatusUnauthorized, "refresh token expired")
)

// Access-token validation rejections.
var (
	ErrBadSignature = New("TOKEN_BAD_SIGNATURE", http.StatusUnauthorized, "token signature invalid")
	ErrBadIssuer    = New("TOKEN_BAD_ISSUER", http.StatusUnauthorized, "token issuer invalid")
	ErrBadAudience  = New("TOKEN_BAD_AUDIENCE", http.StatusUnauthorized, "token audience invalid")
	ErrTokenExpired = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token expired")
)

// IsRefreshRejection reports whether err is one of the refresh-token state
// rejections that must stay outwardly indistinguishable.
func IsRefreshRejection(err error) bool {
	for _, candidate := range []*Error{ErrRefreshNotFound, ErrRefreshReused, ErrRefreshRevoked, ErrRefreshExpired} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
