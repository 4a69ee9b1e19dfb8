package session

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantiva/quantiva-go/internal/api"
	"github.com/quantiva/quantiva-go/internal/broadcast"
	"github.com/quantiva/quantiva-go/internal/tokenstore"
)

// Client is the slice of the auth API the session layer needs. Defined at
// the consumer; *api.Client implements it.
type Client interface {
	Login(ctx context.Context, email, password string) (*api.LoginResult, error)
	Verify2FA(ctx context.Context, email, code string) (*api.Session, error)
	VerifyBackupCode(ctx context.Context, email, backupCode string) (*api.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*api.TokenPair, error)
	Me(ctx context.Context, accessToken string) (*api.User, error)
	Logout(ctx context.Context, accessToken string) error
}

// Refresher coalesces concurrent token refreshes into one network
// operation. While a refresh is in flight every caller joins it and
// receives the same access token or error; once it settles, the next call
// starts a fresh attempt loop — results are never cached.
type Refresher struct {
	client  Client
	store   tokenstore.Store
	bc      broadcast.Broadcaster // nil disables cross-process notification
	backoff Backoff
	logger  *slog.Logger

	group singleflight.Group

	// sleep is called to wait between retries. Tests override it to avoid
	// real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRefresher creates a refresher. bc may be nil when no other process
// shares the session.
func NewRefresher(
	client Client,
	store tokenstore.Store,
	bc broadcast.Broadcaster,
	backoff Backoff,
	logger *slog.Logger,
) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{
		client:  client,
		store:   store,
		bc:      bc,
		backoff: backoff,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Refresh obtains a fresh access token, persists the new credential pair,
// and notifies other processes. Concurrent callers share one in-flight
// operation and one result. The attempt loop runs on the context of the
// caller that started the flight.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// doRefresh runs the attempt loop: classify each failure, retry transient
// ones with exponential backoff, abort immediately on permanent rejection.
func (r *Refresher) doRefresh(ctx context.Context) (string, error) {
	creds, err := r.store.Load(ctx)
	if err != nil {
		return "", err
	}

	if creds == nil || creds.RefreshToken == "" {
		return "", ErrNoSession
	}

	var attempt int
	for {
		pair, err := r.client.Refresh(ctx, creds.RefreshToken)
		if err == nil {
			return r.commit(ctx, creds.RefreshToken, pair)
		}

		if api.Classify(err) == api.ClassPermanent {
			r.logger.Warn("refresh rejected",
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)

			return "", err
		}

		if attempt >= r.backoff.MaxRetries {
			r.logger.Error("refresh failed after retries",
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)

			return "", err
		}

		delay := r.backoff.delay(attempt)
		r.logger.Warn("retrying refresh after transient error",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return "", sleepErr
		}

		attempt++
	}
}

// commit persists the refreshed credentials whole-value and publishes the
// new access token. Failed attempts never reach here, so a broadcast always
// means a refresh succeeded.
func (r *Refresher) commit(ctx context.Context, oldRefreshToken string, pair *api.TokenPair) (string, error) {
	refreshToken := pair.RefreshToken
	if refreshToken == "" {
		// No rotation — the old refresh token stays valid.
		refreshToken = oldRefreshToken
	}

	creds := tokenstore.Credentials{
		AccessToken:  pair.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    TokenExpiry(pair.AccessToken),
	}

	if err := r.store.Save(ctx, creds); err != nil {
		return "", err
	}

	if r.bc != nil {
		if err := r.bc.Publish(ctx, pair.AccessToken); err != nil {
			// Other processes fall back to their own refresh; the local
			// session is already consistent.
			r.logger.Warn("broadcast failed", slog.String("error", err.Error()))
		}
	}

	r.logger.Info("token refreshed",
		slog.Bool("rotated", pair.RefreshToken != ""),
		slog.Time("expiry", creds.ExpiresAt),
	)

	return pair.AccessToken, nil
}

// sleepCtx waits for the given duration or until the context is canceled.
// It is the default sleep for Refresher.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
