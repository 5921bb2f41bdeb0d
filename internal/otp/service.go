// Package otp routes one-time-password verification and resend requests to
// the backend that owns each flow.
//
// Screens collect a code for some flow (a withdrawal, a bank transfer, an
// e-contract signature) and hand it to a Registry together with the flow's
// Type. The registry picks the Service registered for that type and passes
// the request and its opaque context through unchanged.
package otp

import "context"

// ContextData carries flow-specific parameters (account ID, amount, order
// data) to the backend. The registry and the services in this package never
// inspect it.
type ContextData map[string]any

type VerifyRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

type ResendRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type VerifyResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type ResendResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	OTPSent     bool   `json:"otp_sent"`
	PhoneNumber string `json:"phone_number"`
}

// Service verifies and resends codes for one or more OTP types.
//
// Verify reports a wrong or expired code as a response with Success false.
// An error from either method means the backend could not be reached or
// refused the request outright (throttling, server fault).
type Service interface {
	Verify(ctx context.Context, t Type, req VerifyRequest, data ContextData) (*VerifyResponse, error)
	Resend(ctx context.Context, t Type, req ResendRequest, data ContextData) (*ResendResponse, error)
}
