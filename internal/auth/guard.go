// Package auth tracks the session credentials of the wallet client.
//
// A Guard owns the access/refresh token pair, decides whether the session is
// usable, refreshes it ahead of expiry and broadcasts session changes to
// listeners. Concurrent refresh requests collapse into a single call to the
// refresh endpoint.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raine/wallet-session/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshAhead is how long before expiry a token is treated as
	// needing a refresh.
	DefaultRefreshAhead = 60 * time.Second

	// DefaultRecheckInterval is the polling interval used by Monitor.
	DefaultRecheckInterval = 1 * time.Second

	// DefaultRefreshTimeout bounds a single refresh call.
	DefaultRefreshTimeout = 30 * time.Second
)

const refreshKey = "refresh"

// TokenStore persists the session tokens.
type TokenStore interface {
	// LoadTokens returns the stored tokens, or nil, nil if none are stored.
	LoadTokens(ctx context.Context) (*TokenSet, error)
	SaveTokens(ctx context.Context, tokens TokenSet) error
	ClearTokens(ctx context.Context) error
}

// RefreshResult is the outcome of a successful refresh call. RefreshToken is
// empty when the backend does not rotate it. ExpiresAt is zero when the
// backend does not report it.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// Option configures a Guard.
type Option func(*Guard)

// WithRefreshAhead sets the refresh-ahead window.
func WithRefreshAhead(d time.Duration) Option {
	return func(g *Guard) {
		if d >= 0 {
			g.refreshAhead = d
		}
	}
}

// WithRefreshTimeout bounds each refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.refreshTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Guard is the single source of truth for whether the session is usable.
// Construct one per process and share it.
type Guard struct {
	store          TokenStore
	refresher      Refresher
	now            func() time.Time
	refreshAhead   time.Duration
	refreshTimeout time.Duration

	flight singleflight.Group
	events broadcaster

	mu            sync.Mutex
	tokens        TokenSet
	loaded        bool
	refreshing    bool
	loginRequired bool
	generation    uint64 // Bumped whenever the session is replaced or ended so stale refreshes are dropped
}

// NewGuard creates a guard backed by the given store and refresher. Tokens
// are loaded from the store on first use.
func NewGuard(store TokenStore, refresher Refresher, opts ...Option) *Guard {
	g := &Guard{
		store:          store,
		refresher:      refresher,
		now:            time.Now,
		refreshAhead:   DefaultRefreshAhead,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RefreshAhead returns the configured refresh-ahead window.
func (g *Guard) RefreshAhead() time.Duration {
	return g.refreshAhead
}

// AddListener registers fn for session events and returns a function that
// unregisters it. Listeners run synchronously in registration order.
func (g *Guard) AddListener(fn Listener) func() {
	return g.events.add(fn)
}

// IsAuthenticated returns true if a non-expired access token is present.
func (g *Guard) IsAuthenticated(ctx context.Context) bool {
	tokens, err := g.current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session tokens")
		return false
	}
	return !tokens.IsExpired(g.now())
}

// NeedsRefresh returns true if a token is present and it expires within the
// refresh-ahead window, or has already expired.
func (g *Guard) NeedsRefresh(ctx context.Context) bool {
	tokens, err := g.current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session tokens")
		return false
	}
	return derive(tokens, g.now(), g.refreshAhead) == StateNeedsRefresh
}

// TokenExpiry returns the access token expiry and the time left until it.
func (g *Guard) TokenExpiry(ctx context.Context) Expiry {
	tokens, err := g.current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session tokens")
		return Expiry{}
	}
	return Expiry{
		ExpiresAt:       tokens.ExpiresAt,
		TimeUntilExpiry: tokens.TimeUntilExpiry(g.now()),
	}
}

// CheckAuth returns the observable session status.
func (g *Guard) CheckAuth(ctx context.Context) Status {
	tokens, err := g.current(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session tokens")
		return Status{State: StateLoginRequired}
	}

	now := g.now()
	return Status{
		State:           g.State(),
		IsAuthenticated: !tokens.IsExpired(now),
		NeedsRefresh:    derive(tokens, now, g.refreshAhead) == StateNeedsRefresh,
		ExpiresAt:       tokens.ExpiresAt,
		TimeUntilExpiry: tokens.TimeUntilExpiry(now),
	}
}

// State returns the current lifecycle state, loading stored tokens on first
// use like the other read methods.
func (g *Guard) State() State {
	if _, err := g.current(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to read session tokens")
		return StateLoginRequired
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Guard) stateLocked() State {
	switch {
	case g.refreshing:
		return StateRefreshing
	case g.loginRequired && g.tokens.IsEmpty():
		return StateLoginRequired
	default:
		return derive(g.tokens, g.now(), g.refreshAhead)
	}
}

// EnsureValidToken makes sure the session has a usable access token,
// refreshing it if it is inside the refresh-ahead window. Concurrent callers
// share one refresh. It returns false when the user has to log in again.
func (g *Guard) EnsureValidToken(ctx context.Context) bool {
	tokens, err := g.current(ctx)
	if err != nil {
		g.fail(ctx, fmt.Errorf("%w: %w", ErrRefreshFailed, err))
		return false
	}

	switch derive(tokens, g.now(), g.refreshAhead) {
	case StateAuthenticated:
		return true
	case StateUnauthenticated:
		return false
	}

	v, _, _ := g.flight.Do(refreshKey, func() (any, error) {
		return g.refresh(ctx), nil
	})
	return v.(bool)
}

// AccessToken returns a usable access token, refreshing it if needed.
func (g *Guard) AccessToken(ctx context.Context) (string, error) {
	if !g.EnsureValidToken(ctx) {
		return "", ErrSessionExpired
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokens.IsExpired(g.now()) {
		return "", ErrSessionExpired
	}
	return g.tokens.AccessToken, nil
}

// refresh performs one refresh attempt. It runs inside the single flight.
func (g *Guard) refresh(ctx context.Context) bool {
	g.mu.Lock()
	tokens := g.tokens
	switch derive(tokens, g.now(), g.refreshAhead) {
	case StateAuthenticated:
		// A refresh that finished just before this flight started already
		// did the work.
		g.mu.Unlock()
		return true
	case StateUnauthenticated:
		// A failed refresh or a logout already ended the session.
		g.mu.Unlock()
		return false
	}
	if !tokens.CanRefresh() {
		g.tokens = TokenSet{}
		g.loginRequired = true
		g.clearStore(ctx)
		g.mu.Unlock()

		log.Info().Msg("session expired and no refresh token is available")
		g.emit(EventLoginRequired, nil)
		return false
	}
	g.refreshing = true
	gen := g.generation
	g.mu.Unlock()

	log.Info().Msg("attempting token refresh")

	// A refresh is shared by every waiting caller, so no single caller may
	// cancel it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
	defer cancel()

	start := time.Now()
	next, err := g.exchange(rctx, tokens)
	metrics.ObserveRefresh(err == nil, time.Since(start))

	g.mu.Lock()
	if g.generation != gen {
		// The session was replaced or ended while the call was in flight.
		g.refreshing = false
		ok := !g.tokens.IsExpired(g.now())
		g.mu.Unlock()
		log.Info().Err(err).Msg("discarding refresh outcome superseded by a newer session change")
		return ok
	}
	if err != nil {
		g.endSessionLocked(ctx)
		g.mu.Unlock()
		g.reportFailure(fmt.Errorf("%w: %w", ErrRefreshFailed, err))
		return false
	}
	g.tokens = next
	g.refreshing = false
	g.loginRequired = false
	if err := g.store.SaveTokens(context.WithoutCancel(ctx), next); err != nil {
		log.Warn().Err(err).Msg("failed to persist refreshed tokens")
	}
	g.mu.Unlock()

	log.Info().Time("expiresAt", next.ExpiresAt).Msg("token refresh successful")
	g.emit(EventTokenRefreshed, nil)
	return true
}

// exchange calls the refresher and builds the next token set from its result.
func (g *Guard) exchange(ctx context.Context, prev TokenSet) (TokenSet, error) {
	res, err := g.refresher.Refresh(ctx, prev.RefreshToken)
	if err != nil {
		return TokenSet{}, err
	}
	if res == nil || res.AccessToken == "" {
		return TokenSet{}, fmt.Errorf("refresh returned no access token")
	}

	next := TokenSet{
		AccessToken:  res.AccessToken,
		RefreshToken: prev.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
		DeviceID:     prev.DeviceID,
	}
	if res.RefreshToken != "" {
		next.RefreshToken = res.RefreshToken
	}
	if next.ExpiresAt.IsZero() {
		exp, err := ExpiryFromJWT(next.AccessToken)
		if err != nil {
			return TokenSet{}, fmt.Errorf("%w: %w", ErrMissingExpiry, err)
		}
		next.ExpiresAt = exp
	}
	if !next.ExpiresAt.After(g.now()) {
		return TokenSet{}, ErrStaleExpiry
	}

	return next, nil
}

// fail clears the session and moves to LoginRequired.
func (g *Guard) fail(ctx context.Context, err error) {
	g.mu.Lock()
	g.endSessionLocked(ctx)
	g.mu.Unlock()

	g.reportFailure(err)
}

// endSessionLocked drops the session from memory and the store. Store writes
// happen under mu so they stay ordered with logins and logouts.
func (g *Guard) endSessionLocked(ctx context.Context) {
	g.tokens = TokenSet{}
	g.loaded = true
	g.refreshing = false
	g.loginRequired = true
	g.generation++
	g.clearStore(ctx)
}

func (g *Guard) reportFailure(err error) {
	log.Error().Err(err).Msg("session refresh failed, login required")
	g.emit(EventRefreshFailed, err)
	g.emit(EventLoginRequired, nil)
}

// Logout clears the session from memory and storage.
func (g *Guard) Logout(ctx context.Context) {
	g.mu.Lock()
	g.tokens = TokenSet{}
	g.loaded = true
	g.refreshing = false
	g.loginRequired = false
	g.generation++
	g.clearStore(ctx)
	g.mu.Unlock()

	log.Info().Msg("logged out")
	g.emit(EventTokenExpired, nil)
}

// LoginWithTokens installs tokens obtained from a login flow.
func (g *Guard) LoginWithTokens(ctx context.Context, tokens TokenSet) error {
	tokens = tokens.normalize()
	if tokens.IsEmpty() {
		return ErrNoTokens
	}

	g.mu.Lock()
	if err := g.store.SaveTokens(ctx, tokens); err != nil {
		g.mu.Unlock()
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	valid := g.installLocked(tokens)
	g.mu.Unlock()

	g.emitInstalled(valid)
	return nil
}

// TriggerAuthUpdate reloads tokens that were written to the store by another
// component, such as a biometric login, and broadcasts the resulting state.
func (g *Guard) TriggerAuthUpdate(ctx context.Context) {
	g.mu.Lock()
	stored, err := g.store.LoadTokens(ctx)
	if err != nil {
		g.endSessionLocked(ctx)
		g.mu.Unlock()
		g.reportFailure(fmt.Errorf("failed to reload tokens: %w", err))
		return
	}

	var tokens TokenSet
	if stored != nil {
		tokens = stored.normalize()
	}
	valid := g.installLocked(tokens)
	g.mu.Unlock()

	g.emitInstalled(valid)
}

// installLocked replaces the session and supersedes any refresh in flight.
func (g *Guard) installLocked(tokens TokenSet) bool {
	g.tokens = tokens
	g.loaded = true
	g.refreshing = false
	g.loginRequired = false
	g.generation++
	return !tokens.IsExpired(g.now())
}

func (g *Guard) emitInstalled(valid bool) {
	if valid {
		g.emit(EventTokenValid, nil)
	} else {
		g.emit(EventTokenExpired, nil)
	}
}

// current returns the in-memory tokens, loading them from the store once.
func (g *Guard) current(ctx context.Context) (TokenSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.loaded {
		stored, err := g.store.LoadTokens(ctx)
		if err != nil {
			return TokenSet{}, fmt.Errorf("failed to load tokens: %w", err)
		}
		if stored != nil {
			g.tokens = stored.normalize()
		}
		g.loaded = true
	}
	return g.tokens, nil
}

func (g *Guard) clearStore(ctx context.Context) {
	if err := g.store.ClearTokens(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("failed to clear stored tokens")
	}
}

func (g *Guard) emit(t EventType, err error) {
	metrics.RecordAuthEvent(string(t))
	g.events.emit(Event{Type: t, Err: err, At: g.now()})
}
