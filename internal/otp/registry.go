package otp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/raine/wallet-session/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Registry maps OTP types to the services that verify and resend their codes.
type Registry struct {
	mu       sync.RWMutex
	services map[Type]Service
	fallback Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[Type]Service)}
}

// RegisterService routes t to s, replacing any earlier registration. A nil
// service removes the route so t falls back to the default.
func (r *Registry) RegisterService(t Type, s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		delete(r.services, t)
		return
	}
	r.services[t] = s
}

// RegisterDefaultService sets the service used for types without a route.
func (r *Registry) RegisterDefaultService(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = s
}

// RegisterAll routes every type in services. It fails without registering
// anything if a declared Type is missing from the map, so a newly added Type
// cannot silently fall through to the default service.
func (r *Registry) RegisterAll(services map[Type]Service) error {
	var missing []string
	for _, t := range Types() {
		if services[t] == nil {
			missing = append(missing, t.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for types: %s", ErrNoServiceRegistered, strings.Join(missing, ", "))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for t, s := range services {
		r.services[t] = s
	}
	return nil
}

// Unbound returns the types that have no explicit route.
func (r *Registry) Unbound() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Type
	for _, t := range Types() {
		if _, ok := r.services[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// Service returns the service for t, the default service if t has no route,
// or nil if there is neither.
func (r *Registry) Service(t Type) Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.services[t]; ok {
		return s
	}
	return r.fallback
}

// Verify dispatches a code verification to the service for t. The service's
// response and error are returned unmodified.
func (r *Registry) Verify(ctx context.Context, t Type, req VerifyRequest, data ContextData) (*VerifyResponse, error) {
	s := r.Service(t)
	if s == nil {
		return nil, r.unrouted("verify", t)
	}

	resp, err := s.Verify(ctx, t, req, data)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case resp == nil || !resp.Success:
		outcome = "rejected"
	}
	metrics.RecordOTPDispatch("verify", t.String(), outcome)

	return resp, err
}

// Resend dispatches a code resend to the service for t.
func (r *Registry) Resend(ctx context.Context, t Type, req ResendRequest, data ContextData) (*ResendResponse, error) {
	s := r.Service(t)
	if s == nil {
		return nil, r.unrouted("resend", t)
	}

	resp, err := s.Resend(ctx, t, req, data)
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case resp == nil || !resp.Success:
		outcome = "rejected"
	}
	metrics.RecordOTPDispatch("resend", t.String(), outcome)

	return resp, err
}

func (r *Registry) unrouted(op string, t Type) error {
	metrics.RecordOTPDispatch(op, t.String(), "unrouted")
	log.Error().Str("op", op).Stringer("otpType", t).Msg("no OTP service registered")
	return fmt.Errorf("%w for type %s", ErrNoServiceRegistered, t)
}
