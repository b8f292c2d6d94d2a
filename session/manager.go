// Package session owns the authenticated-user state of the client: the auth
// session manager that orchestrates login, logout, restore, and forced
// expiry, and the lifecycle monitor that enforces background and inactivity
// timeouts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/meridianbank/mobilecore/bankapi"
	"github.com/meridianbank/mobilecore/lockout"
	"github.com/meridianbank/mobilecore/models"
	pkglogger "github.com/meridianbank/mobilecore/pkg/logger"
	"github.com/meridianbank/mobilecore/securestore"
)

// User-facing messages for terminal failure paths
const (
	msgLoginFailed    = "login failed, please check your credentials"
	msgNetwork        = "check your connection and try again"
	msgSessionExpired = "your session has expired, please sign in again"
	msgGeneric        = "something went wrong, please try again"
)

// Global validator instance (reused across all requests)
var validate = validator.New()

type loginRequest struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type changePasswordRequest struct {
	CurrentPassword string `validate:"required"`
	NewPassword     string `validate:"required,min=8"`
}

// API is the slice of the bank API the manager needs
type API interface {
	Login(ctx context.Context, username, password string) (*bankapi.LoginResponse, error)
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context, current, newPassword string) error
}

// CredentialSource yields stored credentials after a successful biometric
// challenge
type CredentialSource interface {
	Credentials(ctx context.Context) (*models.BiometricCredentials, error)
}

// Manager is the single writer for session state. All mutations go through
// its mutex; overlapping Login calls are rejected rather than raced.
type Manager struct {
	api     API
	store   securestore.Store
	lockout *lockout.Tracker
	creds   CredentialSource
	logger  *slog.Logger
	audit   *pkglogger.AuditLogger

	mu            sync.Mutex
	state         State
	session       *models.Session
	lastErr       string
	loginInFlight bool
	now           func() time.Time
	subscribers   []func(State)
}

// NewManager creates a session manager. creds may be nil when biometric
// login is not wired up.
func NewManager(api API, store securestore.Store, tracker *lockout.Tracker, creds CredentialSource, logger *slog.Logger, audit *pkglogger.AuditLogger) *Manager {
	return &Manager{
		api:     api,
		store:   store,
		lockout: tracker,
		creds:   creds,
		logger:  logger,
		audit:   audit,
		state:   StateUnauthenticated,
		now:     time.Now,
	}
}

// SetClock overrides the manager's clock, for tests
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// State returns the current authentication state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether a valid session is held
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAuthenticated && m.session.Valid(m.now())
}

// Err returns the user-facing message from the last failed operation
func (m *Manager) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// CurrentUser returns a copy of the signed-in user's profile, or nil
func (m *Manager) CurrentUser() *models.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	user := m.session.User
	return &user
}

// AccessToken returns the current bearer token, or "" when logged out.
// Intended as the bankapi token source.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.AccessToken
}

// Subscribe registers a callback invoked after every state change. Callbacks
// run outside the manager's lock and must not block.
func (m *Manager) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Restore validates any persisted session at startup. A present, unexpired
// token with a readable profile resurrects the session; anything else clears
// the persisted keys and leaves the manager unauthenticated. Calling it
// repeatedly yields the same outcome.
func (m *Manager) Restore(ctx context.Context) State {
	m.mu.Lock()

	if m.state == StateAuthenticated && m.session.Valid(m.now()) {
		state := m.state
		m.mu.Unlock()
		return state
	}

	token, ok := m.store.Get(ctx, securestore.KeyAuthToken)
	if !ok || token == "" {
		state := m.applyAndSnapshot(eventSessionExpired, "")
		m.notify(state)
		return state
	}

	expiry := m.storedExpiry(ctx, token)
	if !expiry.IsZero() && !m.now().Before(expiry) {
		m.store.ClearAll(ctx, securestore.SessionKeys...)
		state := m.applyAndSnapshot(eventSessionExpired, "")
		m.notify(state)
		m.audit.LogSessionEvent("restore_expired", "", "token expired")
		return state
	}

	var user models.UserProfile
	if !m.store.GetJSON(ctx, securestore.KeyUserProfile, &user) {
		m.logger.Warn("persisted session has no readable profile")
		m.store.ClearAll(ctx, securestore.SessionKeys...)
		state := m.applyAndSnapshot(eventSessionExpired, "")
		m.notify(state)
		return state
	}

	m.session = &models.Session{
		AccessToken: token,
		ExpiresAt:   expiry,
		User:        user,
	}
	state := m.applyAndSnapshot(eventSessionRestored, "")
	m.notify(state)
	m.logger.Info("session restored", slog.String("user_id", user.ID))
	return state
}

// storedExpiry resolves the session expiry from the persisted timestamp and
// the token's own exp claim, taking the earlier when both are present.
// Caller holds m.mu.
func (m *Manager) storedExpiry(ctx context.Context, token string) time.Time {
	var expiry time.Time
	if raw, ok := m.store.Get(ctx, securestore.KeyTokenExpiresAt); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			expiry = parsed
		} else {
			m.logger.Warn("invalid stored token expiry", slog.String("raw", raw))
		}
	}

	if claimExp, ok := tokenExpClaim(token); ok {
		if expiry.IsZero() || claimExp.Before(expiry) {
			expiry = claimExp
		}
	}
	return expiry
}

// tokenExpClaim extracts the exp claim from a JWT access token without
// verifying the signature; verification is the backend's job, the client
// only needs the deadline
func tokenExpClaim(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Login authenticates against the bank API. A second call while one is in
// flight returns ErrLoginInFlight; an active lockout returns ErrLockedOut
// without touching the network.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	req := loginRequest{Email: email, Password: password}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", models.ErrInvalidCredentials, "email or password is malformed")
	}

	if m.lockout.IsLockedOut(ctx) {
		remaining := m.lockout.LockoutRemaining(ctx)
		return fmt.Errorf("%w: retry in %s", models.ErrLockedOut, remaining)
	}

	m.mu.Lock()
	if m.loginInFlight {
		m.mu.Unlock()
		return models.ErrLoginInFlight
	}
	m.loginInFlight = true
	state := m.applyAndSnapshot(eventLoginStarted, "")
	m.notify(state)

	resp, err := m.api.Login(ctx, email, password)

	m.mu.Lock()
	m.loginInFlight = false

	if err != nil {
		msg := userMessage(err)
		if errors.Is(err, models.ErrInvalidCredentials) {
			count := m.lockout.RecordFailedAttempt(ctx)
			m.logger.Info("login failed: invalid credentials",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Int("failed_attempts", count))
		} else {
			m.logger.Warn("login failed", slog.Any("error", err))
		}
		m.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			FailureReason: msg,
			Success:       false,
		})
		state := m.applyAndSnapshot(eventLoginFailed, msg)
		m.notify(state)
		return err
	}

	// The session may have been force-expired while the request was in
	// flight. Discard the late result instead of persisting credentials
	// behind an unauthenticated state.
	if _, ok := transitions[m.state][eventLoginSucceeded]; !ok {
		m.mu.Unlock()
		m.logger.Warn("late login result discarded",
			slog.String("state", m.State().String()),
			slog.String("email", pkglogger.SanitizedEmail(email)))
		m.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_discarded",
			FailureReason: "session expired during login",
			Success:       false,
		})
		return fmt.Errorf("login interrupted: %w", models.ErrSessionExpired)
	}

	expiresAt := m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	m.session = &models.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         resp.User,
	}

	// Persist access token and profile only; the refresh token stays in memory
	if !m.store.Set(ctx, securestore.KeyAuthToken, resp.AccessToken) ||
		!m.store.Set(ctx, securestore.KeyTokenExpiresAt, expiresAt.Format(time.RFC3339Nano)) ||
		!m.store.Set(ctx, securestore.KeyUserProfile, resp.User) {
		m.logger.Warn("failed to persist session", slog.String("user_id", resp.User.ID))
	}

	m.lockout.ResetFailedAttempts(ctx)
	m.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    resp.User.ID,
		Success:   true,
	})
	m.logger.Info("user logged in", slog.String("user_id", resp.User.ID))

	state = m.applyAndSnapshot(eventLoginSucceeded, "")
	m.notify(state)
	return nil
}

// LoginWithBiometrics unlocks the stored credential bundle behind the
// biometric gate and logs in with it
func (m *Manager) LoginWithBiometrics(ctx context.Context) error {
	if m.creds == nil {
		return models.ErrBiometricUnavailable
	}
	bundle, err := m.creds.Credentials(ctx)
	if err != nil {
		return err
	}
	return m.Login(ctx, bundle.Username, bundle.Password)
}

// Logout revokes the session remotely (best effort) and always clears local
// state. A network failure never blocks the local logout.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.api.Logout(ctx); err != nil {
		m.logger.Warn("remote logout failed", slog.Any("error", err))
	}

	m.mu.Lock()
	userID := ""
	if m.session != nil {
		userID = m.session.User.ID
	}
	m.clearLocked(ctx)
	state := m.applyAndSnapshot(eventLoggedOut, "")
	m.notify(state)

	m.audit.LogSessionEvent("logout", userID, "user initiated")
	m.logger.Info("user logged out", slog.String("user_id", userID))
}

// ForceExpire invalidates the session without a remote call. Used by the
// lifecycle monitor on background/inactivity timeout and by API consumers on
// a session-expired response.
func (m *Manager) ForceExpire(ctx context.Context, reason string) {
	m.mu.Lock()
	userID := ""
	if m.session != nil {
		userID = m.session.User.ID
	}
	m.clearLocked(ctx)
	state := m.applyAndSnapshot(eventSessionExpired, msgSessionExpired)
	m.notify(state)

	m.audit.LogSessionEvent("session_expired", userID, reason)
	m.logger.Info("session expired", slog.String("user_id", userID), slog.String("reason", reason))
}

// UpdateUser persists a new profile snapshot. Only valid while authenticated;
// no state transition occurs.
func (m *Manager) UpdateUser(ctx context.Context, user models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAuthenticated || m.session == nil {
		return models.ErrNotAuthenticated
	}
	if !m.store.Set(ctx, securestore.KeyUserProfile, user) {
		return models.ErrStorage
	}
	m.session.User = user
	return nil
}

// ChangePassword delegates to the bank API. Session state is untouched; if
// the backend invalidates existing tokens the caller must re-authenticate.
func (m *Manager) ChangePassword(ctx context.Context, current, newPassword string) error {
	req := changePasswordRequest{CurrentPassword: current, NewPassword: newPassword}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: new password must be at least 8 characters", models.ErrInvalidCredentials)
	}
	return m.api.ChangePassword(ctx, current, newPassword)
}

// clearLocked wipes the persisted session keys and the in-memory session.
// Caller holds m.mu.
func (m *Manager) clearLocked(ctx context.Context) {
	if !m.store.ClearAll(ctx, securestore.SessionKeys...) {
		m.logger.Warn("failed to clear persisted session")
	}
	m.session = nil
}

// applyAndSnapshot applies an event to the state machine, records the
// user-facing message, and returns the resulting state with m.mu released.
// Illegal transitions are refused and logged.
func (m *Manager) applyAndSnapshot(ev event, msg string) State {
	next, ok := transitions[m.state][ev]
	if !ok {
		m.logger.Warn("illegal session transition refused",
			slog.String("state", m.state.String()),
			slog.String("event", ev.String()))
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.state = next
	m.lastErr = msg
	m.mu.Unlock()
	return next
}

// notify fans a state change out to subscribers, outside the lock
func (m *Manager) notify(state State) {
	m.mu.Lock()
	subs := make([]func(State), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// userMessage maps an API error onto the message shown to the user
func userMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return msgLoginFailed
	case errors.Is(err, models.ErrNetwork):
		return msgNetwork
	case errors.Is(err, models.ErrSessionExpired):
		return msgSessionExpired
	default:
		return msgGeneric
	}
}
