package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantiva/quantiva-go/internal/api"
)

// Restore reconstructs the session from the store at application start. It
// runs at most once per manager — duplicate start signals are a no-op.
//
// The decision tree, in order:
//   - no stored refresh token: terminal logged out, zero network calls;
//   - refresh succeeds and the user fetch succeeds: authenticated;
//   - refresh fails permanently: session expired, store cleared, no
//     fallback — the credentials are definitively rejected;
//   - refresh fails transiently, or the user fetch fails: fall back to the
//     previously stored access token for one more user fetch. A possibly
//     stale token is accepted rather than forcing a re-login, to tolerate
//     a slow or cold backend;
//   - the fallback fetch fails too: session expired;
//   - the caller's context is canceled mid-restore: the stored credentials
//     are left untouched and the cancellation error is returned. A shutdown
//     signal decides nothing about credential validity.
//
// Restore itself returns an error only for store read failures and caller
// cancellation; auth outcomes surface through Snapshot (IsAuthenticated,
// SessionExpired).
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()

	if m.restored {
		m.mu.Unlock()
		return nil
	}

	m.restored = true
	m.state = StateRestoring
	m.mu.Unlock()

	err := m.restore(ctx)

	m.mu.Lock()
	m.initialized = true

	if m.state == StateRestoring {
		m.state = StateLoggedOut
	}
	m.mu.Unlock()

	return err
}

func (m *Manager) restore(ctx context.Context) error {
	creds, err := m.store.Load(ctx)
	if err != nil {
		return err
	}

	if creds == nil || creds.RefreshToken == "" {
		m.logger.Debug("no stored session to restore")
		return nil
	}

	token, refreshErr := m.refresher.Refresh(ctx)
	if refreshErr != nil {
		if sessionRejected(refreshErr) {
			m.logger.Warn("stored refresh token rejected",
				slog.String("error", refreshErr.Error()),
			)

			m.mu.Lock()
			m.expireLocked(ctx)
			m.mu.Unlock()

			return nil
		}

		if ctx.Err() != nil {
			m.logger.Debug("restore interrupted",
				slog.String("error", refreshErr.Error()),
			)

			return refreshErr
		}

		m.logger.Warn("restore refresh failed, trying stored access token",
			slog.String("error", refreshErr.Error()),
		)

		m.fallback(ctx, creds.AccessToken, creds.ExpiresAt)

		return nil
	}

	user, userErr := m.client.Me(ctx, token)
	if userErr != nil {
		m.logger.Warn("user fetch failed after refresh, trying stored access token",
			slog.String("error", userErr.Error()),
		)

		m.fallback(ctx, creds.AccessToken, creds.ExpiresAt)

		return nil
	}

	m.mu.Lock()
	m.restoredSessionLocked(user, token, TokenExpiry(token))
	m.mu.Unlock()

	m.logger.Info("session restored", slog.String("user_id", user.ID))

	return nil
}

// fallback attempts one user fetch with the previously stored access token.
// Success keeps the session alive on that token; failure is terminal.
func (m *Manager) fallback(ctx context.Context, storedAccessToken string, expiresAt time.Time) {
	if storedAccessToken == "" {
		m.mu.Lock()
		m.expireLocked(ctx)
		m.mu.Unlock()

		return
	}

	user, err := m.client.Me(ctx, storedAccessToken)
	if err != nil {
		// A canceled fetch proves nothing about the token; keep the
		// credentials for the next start.
		if ctx.Err() != nil {
			m.logger.Debug("restore interrupted during fallback",
				slog.String("error", err.Error()),
			)

			return
		}

		m.logger.Warn("fallback user fetch failed",
			slog.String("error", err.Error()),
		)

		m.mu.Lock()
		m.expireLocked(ctx)
		m.mu.Unlock()

		return
	}

	m.mu.Lock()
	m.restoredSessionLocked(user, storedAccessToken, expiresAt)
	m.mu.Unlock()

	m.logger.Info("session restored with stored access token",
		slog.String("user_id", user.ID),
	)
}

// restoredSessionLocked installs a restored session without touching the
// store — the refresher already persisted any new credentials. Caller holds
// m.mu.
func (m *Manager) restoredSessionLocked(user *api.User, token string, expiresAt time.Time) {
	m.user = user
	m.accessToken = token
	m.sessionExpired = false
	m.state = StateAuthenticated

	if !expiresAt.IsZero() {
		m.scheduler.Schedule(time.Until(expiresAt))
	}

	m.subscribeLocked()
}
