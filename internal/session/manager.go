// Package session owns the authenticated identity and the bearer credential
// lifecycle: login, logout, restore from a persisted token, and expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/collabcards/dashboard/internal/apiclient"
	"github.com/collabcards/dashboard/internal/models"
)

// ErrAuthentication is returned by Login when the backend rejects the credentials.
var ErrAuthentication = errors.New("invalid email or password")

const storeTimeout = 5 * time.Second

// State is the session lifecycle state.
type State int

const (
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Reason tells a sign-out hook why the session ended.
type Reason string

const (
	ReasonLogout  Reason = "logout"
	ReasonExpired Reason = "expired"
)

// Backend is the part of the request pipeline the manager drives.
type Backend interface {
	Token(ctx context.Context, email, password string) (*models.Token, error)
	Me(ctx context.Context) (*models.Identity, error)
	SetToken(tok string)
	ClearToken()
}

type unauthorizedNotifier interface {
	SetUnauthorizedHook(fn func(bearer string))
}

// Manager holds the identity of one session owner.
type Manager struct {
	backend   Backend
	store     TokenStore
	logger    *zap.Logger
	clock     clockwork.Clock
	onSignOut func(Reason)

	restoreOnce sync.Once

	mu       sync.RWMutex
	state    State
	identity *models.Identity
	// token is the credential the identity was loaded with.
	token string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSignOutHook registers fn to run after every transition to anonymous
// caused by Logout or Expire. It is the "navigate to login" signal.
func WithSignOutHook(fn func(Reason)) Option {
	return func(m *Manager) { m.onSignOut = fn }
}

// WithClock overrides the clock used to inspect token expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a manager in state Unknown. When backend can report
// authorization failures, the manager expires the session on every
// rejection of its current credential.
func NewManager(backend Backend, store TokenStore, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		store:   store,
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if n, ok := backend.(unauthorizedNotifier); ok {
		n.SetUnauthorizedHook(m.Expire)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Identity returns a copy of the active identity, or nil when anonymous.
func (m *Manager) Identity() *models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil
	}
	cp := *m.identity
	return &cp
}

// Login exchanges credentials for a token, persists and attaches it, then loads
// the profile. It never retries. On any failure no partial session remains.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.Identity, error) {
	tok, err := m.backend.Token(ctx, email, password)
	if err != nil {
		if rejected(err) {
			m.logger.Info("login rejected", zap.String("email", email))
			return nil, fmt.Errorf("%w: %s", ErrAuthentication, apiclient.Message(err))
		}
		return nil, fmt.Errorf("request token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("request token: empty access token")
	}

	if err := m.store.Save(ctx, tok.AccessToken); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	m.backend.SetToken(tok.AccessToken)

	id, err := m.backend.Me(ctx)
	if err != nil {
		m.reset(ctx)
		return nil, fmt.Errorf("load profile: %w", err)
	}

	m.mu.Lock()
	m.identity = id
	m.token = tok.AccessToken
	m.state = StateAuthenticated
	m.mu.Unlock()

	m.logger.Info("login succeeded", zap.String("user_id", id.ID), zap.String("role", string(id.Role)))
	return m.Identity(), nil
}

// Logout clears the persisted credential, detaches the bearer and forgets the
// identity. Calling it without a session only fires the sign-out hook.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.store.Clear(ctx)
	if err != nil {
		m.logger.Warn("clear persisted token", zap.Error(err))
	}
	m.backend.ClearToken()

	m.mu.Lock()
	m.identity = nil
	m.token = ""
	m.state = StateAnonymous
	m.mu.Unlock()

	m.signOut(ReasonLogout)
	if err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// Restore rehydrates the session from the persisted credential. It acts once,
// while the state is Unknown; later calls return the current state. Failures
// are never surfaced: the session simply ends up anonymous.
func (m *Manager) Restore(ctx context.Context) State {
	m.restoreOnce.Do(func() {
		if m.State() != StateUnknown {
			return
		}
		m.setState(m.restore(ctx))
	})
	return m.State()
}

func (m *Manager) restore(ctx context.Context) State {
	tok, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("load persisted token", zap.Error(err))
		return StateAnonymous
	}
	if tok == "" {
		return StateAnonymous
	}
	if tokenExpired(tok, m.clock.Now()) {
		m.logger.Debug("persisted token expired")
		m.clearStore(ctx)
		return StateAnonymous
	}

	m.backend.SetToken(tok)
	id, err := m.backend.Me(ctx)
	if err != nil {
		m.logger.Debug("persisted token rejected", zap.Error(err))
		m.backend.ClearToken()
		m.clearStore(ctx)
		return StateAnonymous
	}

	m.mu.Lock()
	m.identity = id
	m.token = tok
	m.mu.Unlock()
	m.logger.Info("session restored", zap.String("user_id", id.ID))
	return StateAuthenticated
}

// Expire ends an authenticated session after the backend rejected tok. It
// is a no-op in any other state, and when tok is no longer the session's
// credential: a late rejection of a replaced token changes nothing.
func (m *Manager) Expire(tok string) {
	m.mu.Lock()
	if m.token != tok {
		m.mu.Unlock()
		m.logger.Debug("rejection of a replaced token ignored")
		return
	}
	m.expireLocked()
}

// expireLocked must be called with mu held; it releases mu.
func (m *Manager) expireLocked() {
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	m.state = StateAnonymous
	m.identity = nil
	m.token = ""
	m.mu.Unlock()

	m.backend.ClearToken()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	m.clearStore(ctx)

	m.logger.Info("session expired")
	m.signOut(ReasonExpired)
}

func (m *Manager) reset(ctx context.Context) {
	m.backend.ClearToken()
	m.clearStore(ctx)
	m.mu.Lock()
	m.identity = nil
	m.token = ""
	m.state = StateAnonymous
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) clearStore(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clear persisted token", zap.Error(err))
	}
}

func (m *Manager) signOut(r Reason) {
	if m.onSignOut != nil {
		m.onSignOut(r)
	}
}

// rejected reports whether the token endpoint refused the credentials.
func rejected(err error) bool {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// tokenExpired inspects the exp claim without verifying the signature. Tokens
// that are not JWTs are left for the backend to judge.
func tokenExpired(tok string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(now)
}
