package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryFromJWT(t *testing.T) {
	exp := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	got, err := ExpiryFromJWT(makeJWT(t, exp))
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))
}

func TestExpiryFromJWT_NoExpClaim(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ExpiryFromJWT(token)
	assert.ErrorIs(t, err, ErrMissingExpiry)
}

func TestExpiryFromJWT_NotAToken(t *testing.T) {
	_, err := ExpiryFromJWT("opaque-access-token")
	assert.Error(t, err)
}

func TestTokenSet_Normalize(t *testing.T) {
	exp := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		in         TokenSet
		wantAccess bool
		wantExpiry time.Time
	}{
		{
			name:       "explicit expiry kept",
			in:         TokenSet{AccessToken: "a1", ExpiresAt: exp},
			wantAccess: true,
			wantExpiry: exp,
		},
		{
			name:       "expiry from jwt",
			in:         TokenSet{AccessToken: makeJWT(t, exp)},
			wantAccess: true,
			wantExpiry: exp,
		},
		{
			name:       "opaque token without expiry dropped",
			in:         TokenSet{AccessToken: "opaque", RefreshToken: "r1"},
			wantAccess: false,
		},
		{
			name:       "expiry without token cleared",
			in:         TokenSet{RefreshToken: "r1", ExpiresAt: exp},
			wantAccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.normalize()
			assert.Equal(t, tt.wantAccess, got.HasAccess())
			assert.True(t, got.ExpiresAt.Equal(tt.wantExpiry))
			assert.Equal(t, tt.in.RefreshToken, got.RefreshToken)
		})
	}
}

func TestDeriveState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, StateUnauthenticated, derive(TokenSet{}, now, time.Minute))
	assert.Equal(t, StateNeedsRefresh, derive(TokenSet{RefreshToken: "r1"}, now, time.Minute))
	assert.Equal(t, StateNeedsRefresh, derive(TokenSet{AccessToken: "a", ExpiresAt: now.Add(59 * time.Second)}, now, time.Minute))
	assert.Equal(t, StateNeedsRefresh, derive(TokenSet{AccessToken: "a", ExpiresAt: now.Add(-time.Hour)}, now, time.Minute))
	assert.Equal(t, StateAuthenticated, derive(TokenSet{AccessToken: "a", ExpiresAt: now.Add(time.Minute)}, now, time.Minute))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Refreshing", StateRefreshing.String())
	assert.Equal(t, "LoginRequired", StateLoginRequired.String())
	assert.Equal(t, "Unknown", State(42).String())
}
