package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raine/wallet-session/internal/auth"
	"github.com/raine/wallet-session/internal/otp"
	"github.com/raine/wallet-session/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stubRefresher struct {
	calls atomic.Int32
}

func (r *stubRefresher) Refresh(ctx context.Context, refreshToken string) (*auth.RefreshResult, error) {
	r.calls.Add(1)
	return &auth.RefreshResult{
		AccessToken:  "a2",
		RefreshToken: "r2",
		ExpiresAt:    testNow.Add(time.Hour),
	}, nil
}

type stubService struct {
	verifyResp *otp.VerifyResponse
	resendResp *otp.ResendResponse
	err        error
	lastData   otp.ContextData
}

func (s *stubService) Verify(ctx context.Context, t otp.Type, req otp.VerifyRequest, data otp.ContextData) (*otp.VerifyResponse, error) {
	s.lastData = data
	return s.verifyResp, s.err
}

func (s *stubService) Resend(ctx context.Context, t otp.Type, req otp.ResendRequest, data otp.ContextData) (*otp.ResendResponse, error) {
	s.lastData = data
	return s.resendResp, s.err
}

type testEnv struct {
	store     *storage.SQLiteStore
	guard     *auth.Guard
	refresher *stubRefresher
	registry  *otp.Registry
	handler   http.Handler
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:", []byte("test-key-32-bytes-long-ok-test!!"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	refresher := &stubRefresher{}
	guard := auth.NewGuard(store, refresher, auth.WithClock(func() time.Time { return testNow }))
	registry := otp.NewRegistry()

	return &testEnv{
		store:     store,
		guard:     guard,
		refresher: refresher,
		registry:  registry,
		handler:   NewServer(guard, registry, store).Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	env := setupServer(t)
	rec := env.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestMetrics(t *testing.T) {
	env := setupServer(t)
	rec := env.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSession(t *testing.T) {
	env := setupServer(t)

	rec := env.do(t, "GET", "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "Unauthenticated", got["state"])
	assert.Equal(t, false, got["is_authenticated"])
	assert.NotContains(t, got, "expires_in")

	require.NoError(t, env.guard.LoginWithTokens(context.Background(), auth.TokenSet{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    testNow.Add(time.Hour),
	}))

	rec = env.do(t, "GET", "/session", "")
	got = decode[map[string]any](t, rec)
	assert.Equal(t, "Authenticated", got["state"])
	assert.Equal(t, true, got["is_authenticated"])
	assert.Equal(t, float64(3600), got["expires_in"])
}

func TestEnsureSession_Refreshes(t *testing.T) {
	env := setupServer(t)
	require.NoError(t, env.guard.LoginWithTokens(context.Background(), auth.TokenSet{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    testNow.Add(30 * time.Second),
	}))

	rec := env.do(t, "POST", "/session/ensure", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[ensureResponse](t, rec)
	assert.True(t, got.Valid)
	assert.True(t, got.Session.IsAuthenticated)
	assert.Equal(t, int32(1), env.refresher.calls.Load())

	access, err := env.store.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a2", access)
}

func TestLogout(t *testing.T) {
	env := setupServer(t)
	require.NoError(t, env.guard.LoginWithTokens(context.Background(), auth.TokenSet{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    testNow.Add(time.Hour),
	}))

	rec := env.do(t, "POST", "/session/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, "GET", "/session", "")
	got := decode[map[string]any](t, rec)
	assert.Equal(t, false, got["is_authenticated"])

	tokens, err := env.store.LoadTokens(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tokens)
}

func TestSessionEvents(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()
	_, err := env.store.AppendAuthEvent(ctx, "token-valid", "", testNow)
	require.NoError(t, err)
	_, err = env.store.AppendAuthEvent(ctx, "token-expired", "", testNow.Add(time.Minute))
	require.NoError(t, err)

	rec := env.do(t, "GET", "/session/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]storage.AuthEventRecord](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "token-expired", got[0].Type)

	rec = env.do(t, "GET", "/session/events?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify_UnknownType(t *testing.T) {
	env := setupServer(t)
	rec := env.do(t, "POST", "/otp/lottery/verify", `{"otp": "123456"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerify_NoServiceRegistered(t *testing.T) {
	env := setupServer(t)
	rec := env.do(t, "POST", "/otp/withdraw/verify", `{"phone_number": "84901234567", "otp": "123456"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "withdraw")
}

func TestVerify_BadBody(t *testing.T) {
	env := setupServer(t)
	env.registry.RegisterDefaultService(&stubService{})
	rec := env.do(t, "POST", "/otp/withdraw/verify", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify_PassesResponseAndContext(t *testing.T) {
	env := setupServer(t)
	svc := &stubService{verifyResp: &otp.VerifyResponse{Success: false, Message: "Invalid code"}}
	env.registry.RegisterService(otp.TypeWithdraw, svc)

	rec := env.do(t, "POST", "/otp/withdraw/verify",
		`{"phone_number": "84901234567", "otp": "000000", "context": {"account_id": "acc-1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[otp.VerifyResponse](t, rec)
	assert.False(t, got.Success)
	assert.Equal(t, "Invalid code", got.Message)
	assert.Equal(t, otp.ContextData{"account_id": "acc-1"}, svc.lastData)
}

func TestResend_Throttled(t *testing.T) {
	env := setupServer(t)
	svc := &stubService{resendResp: &otp.ResendResponse{Success: true, OTPSent: true}}
	env.registry.RegisterService(otp.TypeBankTransfer, otp.NewThrottle(svc, time.Hour, 1))

	body := `{"phone_number": "84901234567"}`
	rec := env.do(t, "POST", "/otp/bank-transfer/resend", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[otp.ResendResponse](t, rec).OTPSent)

	rec = env.do(t, "POST", "/otp/bank-transfer/resend", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestResend_TransportError(t *testing.T) {
	env := setupServer(t)
	env.registry.RegisterDefaultService(&stubService{
		err: &otp.TransportError{Op: "resend", Type: otp.TypeGeneral, StatusCode: http.StatusServiceUnavailable},
	})

	rec := env.do(t, "POST", "/otp/general/resend", `{"phone_number": "84901234567"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestVerify_SessionExpired(t *testing.T) {
	env := setupServer(t)
	env.registry.RegisterDefaultService(&stubService{err: auth.ErrSessionExpired})

	rec := env.do(t, "POST", "/otp/trading/verify", `{"otp": "123456"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrongMethod(t *testing.T) {
	env := setupServer(t)
	rec := env.do(t, "GET", "/otp/withdraw/verify", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
