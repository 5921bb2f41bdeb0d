package otp

import (
	"context"
	"fmt"
	"strings"
)

type Field string

const (
	FieldPhone Field = "phone"
	FieldCode  Field = "code"
)

// Session tracks the input state of one code entry screen. Field errors are
// only reported for fields the user has touched, so an untouched form does
// not open covered in errors.
type Session struct {
	Type    Type
	Config  Config
	Context ContextData

	phone   string
	code    string
	touched map[Field]bool
}

// NewSession starts an entry session for t. phone may be empty for flows
// that ask the user to type it.
func NewSession(t Type, phone string, data ContextData, opts ...ConfigOption) *Session {
	s := &Session{
		Type:    t,
		Config:  ConfigFor(t, opts...),
		Context: data,
		touched: make(map[Field]bool),
	}
	s.phone = NormalizePhone(phone, "")
	return s
}

func (s *Session) Phone() string { return s.phone }
func (s *Session) Code() string  { return s.code }

// UpdateField sets a field from raw user input. Codes keep only digits and
// are cut to the configured length. Phone numbers are normalized.
func (s *Session) UpdateField(f Field, value string) {
	switch f {
	case FieldPhone:
		s.phone = NormalizePhone(value, "")
	case FieldCode:
		var b strings.Builder
		for _, r := range value {
			if r >= '0' && r <= '9' && b.Len() < s.Config.CodeLength {
				b.WriteRune(r)
			}
		}
		s.code = b.String()
	}
}

func (s *Session) MarkFieldTouched(f Field) {
	s.touched[f] = true
}

// FieldError returns the message to show under f, or "" when there is
// nothing to show.
func (s *Session) FieldError(f Field) string {
	if !s.touched[f] {
		return ""
	}
	return s.validate(f)
}

func (s *Session) validate(f Field) string {
	switch f {
	case FieldPhone:
		if !s.Config.RequirePhoneVerification {
			return ""
		}
		if s.phone == "" {
			return "Please enter your phone number"
		}
		if !validPhone(s.phone) {
			return "Invalid phone number"
		}
	case FieldCode:
		if s.code == "" {
			return "Please enter the verification code"
		}
		if len(s.code) != s.Config.CodeLength {
			return fmt.Sprintf("The code must be %d digits", s.Config.CodeLength)
		}
	}
	return ""
}

// Valid reports whether every field passes validation, touched or not.
func (s *Session) Valid() bool {
	return s.validate(FieldPhone) == "" && s.validate(FieldCode) == ""
}

// ReadyToSubmit reports whether the session should submit without waiting
// for the user to confirm.
func (s *Session) ReadyToSubmit() bool {
	return s.Config.AutoSubmit && s.Valid()
}

// Verify submits the entered code through r. All fields are marked touched
// so the screen shows what is missing when validation fails.
func (s *Session) Verify(ctx context.Context, r *Registry) (*VerifyResponse, error) {
	s.MarkFieldTouched(FieldPhone)
	s.MarkFieldTouched(FieldCode)
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, strings.TrimSpace(s.validate(FieldPhone)+" "+s.validate(FieldCode)))
	}
	return r.Verify(ctx, s.Type, VerifyRequest{PhoneNumber: s.phone, OTP: s.code}, s.Context)
}

// Resend asks r for a new code and clears the current one when it is sent.
func (s *Session) Resend(ctx context.Context, r *Registry) (*ResendResponse, error) {
	s.MarkFieldTouched(FieldPhone)
	if msg := s.validate(FieldPhone); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, msg)
	}

	resp, err := r.Resend(ctx, s.Type, ResendRequest{PhoneNumber: s.phone}, s.Context)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Success {
		s.code = ""
		delete(s.touched, FieldCode)
	}
	return resp, nil
}
