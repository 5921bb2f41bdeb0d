package auth

import (
	"fmt"
	"time"
)

// State is the lifecycle position of the session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateNeedsRefresh
	StateRefreshing
	StateLoginRequired
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StateAuthenticated:
		return "Authenticated"
	case StateNeedsRefresh:
		return "NeedsRefresh"
	case StateRefreshing:
		return "Refreshing"
	case StateLoginRequired:
		return "LoginRequired"
	default:
		return "Unknown"
	}
}

// Status is the derived, observable view of the session.
type Status struct {
	State           State          `json:"state"`
	IsAuthenticated bool           `json:"is_authenticated"`
	NeedsRefresh    bool           `json:"needs_refresh"`
	ExpiresAt       time.Time      `json:"expires_at,omitempty"`
	TimeUntilExpiry *time.Duration `json:"time_until_expiry,omitempty"`
}

// Expiry is the result of Guard.TokenExpiry.
type Expiry struct {
	ExpiresAt       time.Time
	TimeUntilExpiry *time.Duration
}

// MarshalText lets State appear as its name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for c := StateUnauthenticated; c <= StateLoginRequired; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// derive computes the state of tokens at now, given the refresh-ahead window.
// Refreshing and LoginRequired are sticky and tracked by the guard itself.
func derive(tokens TokenSet, now time.Time, refreshAhead time.Duration) State {
	switch {
	case tokens.IsEmpty():
		return StateUnauthenticated
	case !tokens.HasAccess():
		return StateNeedsRefresh
	case tokens.ExpiresAt.Sub(now) < refreshAhead:
		return StateNeedsRefresh
	default:
		return StateAuthenticated
	}
}
