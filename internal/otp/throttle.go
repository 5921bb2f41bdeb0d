package otp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle wraps a Service and limits how often a code can be resent for
// the same type and phone number. Verify calls pass straight through.
type Throttle struct {
	next  Service
	every time.Duration
	burst int
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

// NewThrottle allows burst resends per phone number and type, refilled one
// every interval.
func NewThrottle(next Service, every time.Duration, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		next:     next,
		every:    every,
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttle) Verify(ctx context.Context, typ Type, req VerifyRequest, data ContextData) (*VerifyResponse, error) {
	return t.next.Verify(ctx, typ, req, data)
}

func (t *Throttle) Resend(ctx context.Context, typ Type, req ResendRequest, data ContextData) (*ResendResponse, error) {
	if !t.limiter(typ, req.PhoneNumber).AllowN(t.now(), 1) {
		return nil, ErrResendThrottled
	}
	return t.next.Resend(ctx, typ, req, data)
}

func (t *Throttle) limiter(typ Type, phone string) *rate.Limiter {
	key := typ.String() + ":" + phone
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastSweep) >= t.every {
		t.sweep(now)
	}
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.every), t.burst)
		t.limiters[key] = l
	}
	return l
}

// sweep drops limiters that have refilled completely. A dropped limiter is
// indistinguishable from a new one. Caller holds mu.
func (t *Throttle) sweep(now time.Time) {
	for key, l := range t.limiters {
		if l.TokensAt(now) >= float64(t.burst) {
			delete(t.limiters, key)
		}
	}
	t.lastSweep = now
}

var _ Service = (*Throttle)(nil)
