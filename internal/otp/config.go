package otp

const DefaultCodeLength = 6

// Config holds per-type behavior for the code entry screen.
type Config struct {
	Type       Type
	CodeLength int

	// RequirePhoneVerification is set for flows where the user types the
	// phone number themselves. Other flows use the phone number on file.
	RequirePhoneVerification bool

	// AutoSubmit submits as soon as a complete code has been entered.
	AutoSubmit bool
}

type ConfigOption func(*Config)

func WithCodeLength(n int) ConfigOption {
	return func(c *Config) {
		if n > 0 {
			c.CodeLength = n
		}
	}
}

func WithPhoneVerification(required bool) ConfigOption {
	return func(c *Config) {
		c.RequirePhoneVerification = required
	}
}

func WithAutoSubmit(enabled bool) ConfigOption {
	return func(c *Config) {
		c.AutoSubmit = enabled
	}
}

// ConfigFor returns the default configuration for t with opts applied.
func ConfigFor(t Type, opts ...ConfigOption) Config {
	c := Config{
		Type:       t,
		CodeLength: DefaultCodeLength,
		AutoSubmit: true,
	}

	switch t {
	case TypeRegister, TypeLoginNewDevice, TypeForgotPassword:
		c.RequirePhoneVerification = true
	case TypeEContractSigning, TypeLoanApplication:
		// The user confirms the signature or application explicitly.
		c.AutoSubmit = false
	}

	for _, opt := range opts {
		opt(&c)
	}
	return c
}
