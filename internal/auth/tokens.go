package auth

import "time"

// TokenSet holds the credentials of the current session.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"` // Access token expiry, zero if unknown
	DeviceID     string    `json:"device_id,omitempty"`
}

// HasAccess returns true if an access token with a known expiry is present.
func (t *TokenSet) HasAccess() bool {
	return t.AccessToken != "" && !t.ExpiresAt.IsZero()
}

// CanRefresh returns true if a refresh token is present.
func (t *TokenSet) CanRefresh() bool {
	return t.RefreshToken != ""
}

// IsEmpty returns true if the set holds no usable credential at all.
func (t *TokenSet) IsEmpty() bool {
	return !t.HasAccess() && !t.CanRefresh()
}

// IsExpired returns true if the access token is missing or past its expiry at now.
func (t *TokenSet) IsExpired(now time.Time) bool {
	if !t.HasAccess() {
		return true
	}
	return !now.Before(t.ExpiresAt)
}

// TimeUntilExpiry returns ExpiresAt - now, or nil if there is no access token.
func (t *TokenSet) TimeUntilExpiry(now time.Time) *time.Duration {
	if !t.HasAccess() {
		return nil
	}
	d := t.ExpiresAt.Sub(now)
	return &d
}

// normalize enforces the expiry invariant: an access token without a known
// expiry gets one from its exp claim, or is dropped.
func (t TokenSet) normalize() TokenSet {
	if t.AccessToken == "" {
		t.ExpiresAt = time.Time{}
		return t
	}
	if t.ExpiresAt.IsZero() {
		if exp, err := ExpiryFromJWT(t.AccessToken); err == nil {
			t.ExpiresAt = exp
		} else {
			t.AccessToken = ""
		}
	}
	return t
}
