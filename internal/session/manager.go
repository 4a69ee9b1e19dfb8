package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantiva/quantiva-go/internal/api"
	"github.com/quantiva/quantiva-go/internal/broadcast"
	"github.com/quantiva/quantiva-go/internal/tokenstore"
)

// Config tunes a Manager. Zero values select defaults.
type Config struct {
	// Backoff is the retry policy for transient refresh failures.
	Backoff Backoff
	// RefreshThreshold is the lead time before expiry at which the
	// background refresh fires.
	RefreshThreshold time.Duration
}

// Manager is the auth state machine. It owns the in-memory session state
// and composes the refresher, scheduler, token store, and broadcaster. It
// replaces the hidden module-level singleton of older clients with an
// explicit construct/Close lifecycle.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	client Client
	store  tokenstore.Store
	bc     broadcast.Broadcaster // nil when no other process shares the session

	refresher *Refresher
	scheduler *Scheduler
	logger    *slog.Logger

	mu             sync.Mutex
	state          State
	user           *api.User
	challenge      *api.TwoFactorChallenge
	accessToken    string
	sessionExpired bool
	initialized    bool
	restored       bool
	unsubscribe    func()
	closed         bool
}

// NewManager creates a manager. bc may be nil. The manager subscribes to bc
// while a session is established and unsubscribes on logout and Close; it
// never closes bc — the caller owns it.
func NewManager(
	client Client,
	store tokenstore.Store,
	bc broadcast.Broadcaster,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}

	m := &Manager{
		client: client,
		store:  store,
		bc:     bc,
		logger: logger,
	}

	m.refresher = NewRefresher(client, store, bc, cfg.Backoff, logger)
	m.scheduler = NewScheduler(cfg.RefreshThreshold, m.backgroundRefresh, logger)

	return m
}

// Snapshot returns a consistent view of the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	loading := m.state == StateRestoring ||
		m.state == StateLoggingIn ||
		m.state == StateVerifyingTwoFactor ||
		m.state == StateLoggingOut

	return Snapshot{
		State:          m.state,
		User:           m.user,
		TwoFactor:      m.challenge,
		IsLoading:      loading,
		IsInitialized:  m.initialized,
		SessionExpired: m.sessionExpired,
	}
}

// AccessToken returns the current in-memory access token, empty when not
// authenticated.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.accessToken
}

// Login authenticates with email and password. On a two-factor account the
// call succeeds leaving a pending challenge — no tokens are issued until
// Verify2FA or VerifyBackupCode completes. On failure no partial state is
// retained and the error propagates to the caller.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	m.mu.Lock()

	if m.state != StateLoggedOut {
		defer m.mu.Unlock()
		return &StateError{Op: "login", State: m.state}
	}

	m.state = StateLoggingIn
	m.mu.Unlock()

	result, err := m.client.Login(ctx, email, password)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.state = StateLoggedOut
		return err
	}

	if result.Challenge != nil {
		m.challenge = result.Challenge
		m.state = StateTwoFactorPending

		return nil
	}

	return m.establishLocked(ctx, result.Session)
}

// Verify2FA answers the pending challenge with a TOTP code. A wrong code
// keeps the challenge so the caller may retry. Calling without a pending
// challenge is a contract violation: a StateError is returned synchronously
// and no network call is made.
func (m *Manager) Verify2FA(ctx context.Context, code string) error {
	return m.verify(ctx, "verify 2FA", func(email string) (*api.Session, error) {
		return m.client.Verify2FA(ctx, email, code)
	})
}

// VerifyBackupCode answers the pending challenge with a one-time backup
// code. Same state contract as Verify2FA.
func (m *Manager) VerifyBackupCode(ctx context.Context, backupCode string) error {
	return m.verify(ctx, "verify backup code", func(email string) (*api.Session, error) {
		return m.client.VerifyBackupCode(ctx, email, backupCode)
	})
}

func (m *Manager) verify(ctx context.Context, op string, call func(email string) (*api.Session, error)) error {
	m.mu.Lock()

	if m.state != StateTwoFactorPending || m.challenge == nil {
		defer m.mu.Unlock()
		return &StateError{Op: op, State: m.state}
	}

	email := m.challenge.Email
	m.state = StateVerifyingTwoFactor
	m.mu.Unlock()

	session, err := call(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// Challenge retained — the caller may retry with another code.
		m.state = StateTwoFactorPending
		return err
	}

	return m.establishLocked(ctx, session)
}

// Cancel2FA discards the pending challenge and returns to logged out. No-op
// when no challenge is pending.
func (m *Manager) Cancel2FA() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateTwoFactorPending {
		return
	}

	m.challenge = nil
	m.state = StateLoggedOut

	m.logger.Info("two-factor challenge canceled")
}

// Logout tears the session down. Local credentials are cleared, the refresh
// timer canceled, and the broadcaster unsubscribed unconditionally — a
// failing remote logout call is only logged, never surfaced, so Logout
// always leaves the manager logged out.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	token := m.accessToken
	m.state = StateLoggingOut
	m.mu.Unlock()

	if token == "" {
		// A fresh process (e.g. `quantiva-go logout`) has no in-memory
		// token yet; use the stored one for the remote call.
		if creds, err := m.store.Load(ctx); err == nil && creds != nil {
			token = creds.AccessToken
		}
	}

	if token != "" {
		if err := m.client.Logout(ctx, token); err != nil {
			m.logger.Warn("remote logout failed", slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked(ctx)
	m.logger.Info("logged out")
}

// RefreshToken forces a token refresh, sharing any in-flight one. On a
// definitive server-side rejection the session is expired: the store is
// cleared and SessionExpired set. Cancellation and a missing session leave
// the stored credentials untouched.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	token, err := m.refresher.Refresh(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if sessionRejected(err) {
			m.expireLocked(ctx)
		}

		return "", err
	}

	m.adoptTokenLocked(token)

	return token, nil
}

// sessionRejected reports whether err is a definitive server-side rejection
// of the stored credentials. Caller cancellation and a never-established
// session are not rejections: neither exhausts a recovery path, so neither
// may expire the session or wipe the store.
func sessionRejected(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNoSession) {
		return false
	}

	return api.Classify(err) == api.ClassPermanent
}

// ClearSessionExpired resets the expired flag after the consumer has
// acknowledged it.
func (m *Manager) ClearSessionExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionExpired = false
}

// Close cancels the refresh timer and unsubscribes from the broadcaster.
// It does not clear stored credentials — the session survives for the next
// process.
func (m *Manager) Close() {
	m.scheduler.Cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}

	m.closed = true
}

// backgroundRefresh is the scheduler's callback: refresh, adopt the new
// token, and re-arm for the next expiry.
func (m *Manager) backgroundRefresh(ctx context.Context) (string, error) {
	token, err := m.refresher.Refresh(ctx)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.adoptTokenLocked(token)

	return token, nil
}

// establishLocked installs an issued session: credentials persisted
// whole-value, refresh timer armed from the expiry hint, broadcaster
// subscribed. Caller holds m.mu.
func (m *Manager) establishLocked(ctx context.Context, session *api.Session) error {
	expiresAt := TokenExpiry(session.AccessToken)
	if session.ExpiresIn > 0 {
		expiresAt = time.Now().Add(session.ExpiresIn)
	}

	creds := tokenstore.Credentials{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    expiresAt,
	}

	if err := m.store.Save(ctx, creds); err != nil {
		m.state = StateLoggedOut
		return fmt.Errorf("persisting credentials: %w", err)
	}

	user := session.User
	m.user = &user
	m.accessToken = session.AccessToken
	m.challenge = nil
	m.sessionExpired = false
	m.state = StateAuthenticated

	if !expiresAt.IsZero() {
		m.scheduler.Schedule(time.Until(expiresAt))
	}

	m.subscribeLocked()

	m.logger.Info("session established",
		slog.String("user_id", user.ID),
		slog.Time("expiry", expiresAt),
	)

	return nil
}

// adoptTokenLocked installs a refreshed access token in memory and re-arms
// the refresh timer from its expiry claim. Caller holds m.mu.
func (m *Manager) adoptTokenLocked(token string) {
	if m.closed {
		return
	}

	m.accessToken = token

	if expiresAt := TokenExpiry(token); !expiresAt.IsZero() {
		m.scheduler.Schedule(time.Until(expiresAt))
	}
}

// subscribeLocked registers the broadcast handler once. Caller holds m.mu.
func (m *Manager) subscribeLocked() {
	if m.bc == nil || m.unsubscribe != nil {
		return
	}

	m.unsubscribe = m.bc.Subscribe(m.handleBroadcast)
}

// handleBroadcast adopts an access token refreshed by another process. No
// network call is made — the other process already refreshed for everyone.
func (m *Manager) handleBroadcast(msg broadcast.Message) {
	m.mu.Lock()

	if m.closed || m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}

	m.adoptTokenLocked(msg.AccessToken)
	m.mu.Unlock()

	m.logger.Debug("adopted access token from broadcast")

	// Keep the durable store in step. The publisher usually shares it and
	// has already written; rewriting is an idempotent overwrite.
	ctx := context.Background()

	creds, err := m.store.Load(ctx)
	if err != nil || creds == nil {
		return
	}

	creds.AccessToken = msg.AccessToken
	creds.ExpiresAt = TokenExpiry(msg.AccessToken)

	if err := m.store.Save(ctx, *creds); err != nil {
		m.logger.Warn("persisting broadcast token failed", slog.String("error", err.Error()))
	}
}

// clearLocked wipes all session state. Caller holds m.mu.
func (m *Manager) clearLocked(ctx context.Context) {
	m.scheduler.Cancel()

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clearing credential store failed", slog.String("error", err.Error()))
	}

	m.user = nil
	m.accessToken = ""
	m.challenge = nil
	m.state = StateLoggedOut
}

// expireLocked terminates the session after all recovery paths failed:
// store cleared, SessionExpired set so consumers can prompt for a fresh
// sign-in. Caller holds m.mu.
func (m *Manager) expireLocked(ctx context.Context) {
	m.clearLocked(ctx)
	m.sessionExpired = true

	m.logger.Warn("session expired")
}
