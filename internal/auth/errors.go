package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is returned when no valid access token is available
	// even after attempting a refresh.
	ErrSessionExpired = errors.New("session expired")

	// ErrRefreshFailed wraps any failure of a refresh attempt.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshRejected is returned when the refresh endpoint answers with a
	// non-success status (revoked or unknown refresh token).
	ErrRefreshRejected = errors.New("refresh token rejected")

	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrMissingExpiry  = errors.New("access token has no expiry")
	ErrStaleExpiry    = errors.New("refreshed token is already expired")
	ErrNoTokens       = errors.New("token set has no access or refresh token")
)

// StatusError is returned for non-success responses from the auth endpoints.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: %s %s (status: %d)", e.Method, e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrRefreshRejected
}
