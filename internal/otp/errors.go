package otp

import (
	"errors"
	"fmt"
)

var (
	// ErrNoServiceRegistered means the registry has neither a service for
	// the requested type nor a default. This is a wiring mistake.
	ErrNoServiceRegistered = errors.New("no OTP service registered")

	ErrUnknownType = errors.New("unknown OTP type")
	ErrNoRoute     = errors.New("no backend route for OTP type")

	// ErrResendThrottled is returned when a code was resent too recently.
	ErrResendThrottled = errors.New("OTP resend throttled")
	ErrTooManyAttempts = errors.New("too many OTP attempts")

	// ErrTransport matches any *TransportError.
	ErrTransport = errors.New("OTP backend unavailable")

	ErrInvalidInput = errors.New("invalid OTP input")
)

// TransportError is returned when an OTP backend call fails for a reason
// other than a rejected code.
type TransportError struct {
	Op         string // "verify" or "resend"
	Type       Type
	StatusCode int // Zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("otp %s for %s failed (status: %d)", e.Op, e.Type, e.StatusCode)
	}
	return fmt.Sprintf("otp %s for %s failed: %v", e.Op, e.Type, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
