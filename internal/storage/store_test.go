package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/raine/wallet-session/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-key-32-bytes-long-ok-test!!")

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", testKey)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_TokensRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	tokens, err := store.LoadTokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, tokens)

	exp := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveTokens(ctx, auth.TokenSet{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    exp,
		DeviceID:     "dev-1",
	}))

	tokens, err = store.LoadTokens(ctx)
	require.NoError(t, err)
	require.NotNil(t, tokens)
	assert.Equal(t, "a1", tokens.AccessToken)
	assert.Equal(t, "r1", tokens.RefreshToken)
	assert.True(t, tokens.ExpiresAt.Equal(exp))
	assert.Equal(t, "dev-1", tokens.DeviceID)

	access, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", access)

	refresh, err := store.GetRefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", refresh)
}

func TestSQLiteStore_SetAuthTokensKeepsDevice(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.SaveTokens(ctx, auth.TokenSet{AccessToken: "a1", RefreshToken: "r1", DeviceID: "dev-1"}))

	exp := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetAuthTokens(ctx, "a2", "r2", exp))

	tokens, err := store.LoadTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", tokens.AccessToken)
	assert.Equal(t, "r2", tokens.RefreshToken)
	assert.Equal(t, "dev-1", tokens.DeviceID)
}

func TestSQLiteStore_ClearTokens(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.SaveTokens(ctx, auth.TokenSet{AccessToken: "a1", RefreshToken: "r1"}))
	deviceID, err := store.DeviceID(ctx)
	require.NoError(t, err)

	require.NoError(t, store.ClearTokens(ctx))

	tokens, err := store.LoadTokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, tokens)

	access, err := store.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)

	again, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, deviceID, again, "device id survives logout")
}

func TestSQLiteStore_DeviceID(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	first, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 36)

	second, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, store.SetDeviceID(ctx, "custom-device"))
	third, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "custom-device", third)
}

func TestSQLiteStore_WrongKeyFailsToLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallet.db")

	store, err := NewSQLiteStore(path, testKey)
	require.NoError(t, err)
	require.NoError(t, store.SaveTokens(ctx, auth.TokenSet{AccessToken: "a1"}))
	require.NoError(t, store.Close())

	other, err := NewSQLiteStore(path, []byte("another-key-32-bytes-long-test!!"))
	require.NoError(t, err)
	defer other.Close()

	_, err = other.LoadTokens(ctx)
	assert.Error(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallet.db")

	store, err := NewSQLiteStore(path, testKey)
	require.NoError(t, err)
	require.NoError(t, store.SaveTokens(ctx, auth.TokenSet{AccessToken: "a1", RefreshToken: "r1"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, testKey)
	require.NoError(t, err)
	defer reopened.Close()

	refresh, err := reopened.GetRefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", refresh)
}

func TestSQLiteStore_AuthEvents(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	base := time.Now().Add(-2 * time.Hour)
	_, err := store.AppendAuthEvent(ctx, "token-valid", "", base)
	require.NoError(t, err)
	_, err = store.AppendAuthEvent(ctx, "refresh-failed", "refresh rejected", base.Add(90*time.Minute))
	require.NoError(t, err)
	last, err := store.AppendAuthEvent(ctx, "login-required", "", time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, last.ID)

	events, err := store.RecentAuthEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "login-required", events[0].Type)
	assert.Equal(t, "refresh-failed", events[1].Type)
	assert.Equal(t, "refresh rejected", events[1].Message)
	assert.Equal(t, "token-valid", events[2].Type)

	limited, err := store.RecentAuthEvents(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	pruned, err := store.PruneAuthEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	events, err = store.RecentAuthEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCrypto(t *testing.T) {
	key, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)
	assert.Len(t, key, 32)

	again, err := DeriveKey("correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, key, again)

	_, err = DeriveKey("")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)

	encoded, err := Encrypt([]byte("secret"), key)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "secret")

	plain, err := Decrypt(encoded, key)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plain))

	other, err := DeriveKey("another passphrase")
	require.NoError(t, err)
	_, err = Decrypt(encoded, other)
	assert.Error(t, err)

	_, err = Decrypt("bm9wZQ==", key)
	assert.Error(t, err)
}
