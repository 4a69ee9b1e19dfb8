package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantiva/quantiva-go/internal/api"
	"github.com/quantiva/quantiva-go/internal/tokenstore"
)

func TestRestore_NoStoredSession(t *testing.T) {
	client := &fakeClient{}

	m := newTestManager(client, &memStore{}, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.True(t, snap.IsInitialized)
	assert.False(t, snap.SessionExpired)

	// An empty store resolves without touching the network.
	_, _, _, refresh, me, _ := client.calls()
	assert.Zero(t, refresh)
	assert.Zero(t, me)
}

func TestRestore_RefreshAndFetchSucceed(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{AccessToken: "at-stored", RefreshToken: "rt-stored"})

	client := &fakeClient{
		refreshFn: func(refreshToken string) (*api.TokenPair, error) {
			assert.Equal(t, "rt-stored", refreshToken)
			return &api.TokenPair{AccessToken: "at-fresh"}, nil
		},
		meFn: func(accessToken string) (*api.User, error) {
			assert.Equal(t, "at-fresh", accessToken)
			u := testUser
			return &u, nil
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))

	snap := m.Snapshot()
	assert.True(t, snap.IsAuthenticated())
	assert.True(t, snap.IsInitialized)
	require.NotNil(t, snap.User)
	assert.Equal(t, "u1", snap.User.ID)
	assert.Equal(t, "at-fresh", m.AccessToken())
}

func TestRestore_PermanentRejectionExpiresWithoutFallback(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{AccessToken: "at-stored", RefreshToken: "rt-revoked"})

	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			return nil, permanentErr()
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.True(t, snap.SessionExpired)
	assert.True(t, snap.IsInitialized)
	assert.Nil(t, store.stored())

	// The stored access token is not tried: the server said no definitively.
	_, _, _, _, me, _ := client.calls()
	assert.Zero(t, me)
}

func TestRestore_TransientFailureFallsBackToStoredToken(t *testing.T) {
	store := &memStore{}
	expiresAt := time.Now().Add(10 * time.Minute)
	store.seed(tokenstore.Credentials{
		AccessToken:  "at-stored",
		RefreshToken: "rt-stored",
		ExpiresAt:    expiresAt,
	})

	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			return nil, transientErr()
		},
		meFn: func(accessToken string) (*api.User, error) {
			assert.Equal(t, "at-stored", accessToken)
			u := testUser
			return &u, nil
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))

	snap := m.Snapshot()
	assert.True(t, snap.IsAuthenticated())
	assert.False(t, snap.SessionExpired)
	assert.Equal(t, "at-stored", m.AccessToken())

	// The stored credentials survive for the next refresh attempt.
	assert.NotNil(t, store.stored())
}

func TestRestore_FallbackFailureExpiresSession(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{AccessToken: "at-stale", RefreshToken: "rt-stored"})

	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			return nil, transientErr()
		},
		meFn: func(string) (*api.User, error) {
			return nil, permanentErr()
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.True(t, snap.SessionExpired)
	assert.Nil(t, store.stored())
}

func TestRestore_NoStoredAccessTokenForFallback(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{RefreshToken: "rt-stored"})

	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			return nil, transientErr()
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))

	assert.True(t, m.Snapshot().SessionExpired)

	_, _, _, _, me, _ := client.calls()
	assert.Zero(t, me)
}

func TestRestore_UserFetchFailureFallsBackToStoredToken(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{AccessToken: "at-stored", RefreshToken: "rt-stored"})

	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			return &api.TokenPair{AccessToken: "at-fresh"}, nil
		},
	}
	client.meFn = func(accessToken string) (*api.User, error) {
		client.mu.Lock()
		n := client.meCalls
		client.mu.Unlock()

		// The fetch with the fresh token fails; the stored token still works.
		if n == 1 {
			assert.Equal(t, "at-fresh", accessToken)
			return nil, transientErr()
		}

		assert.Equal(t, "at-stored", accessToken)
		u := testUser

		return &u, nil
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))

	snap := m.Snapshot()
	assert.True(t, snap.IsAuthenticated())
	assert.Equal(t, "at-stored", m.AccessToken())
}

func TestRestore_RunsOnlyOnce(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{AccessToken: "at-stored", RefreshToken: "rt-stored"})

	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			return &api.TokenPair{AccessToken: "at-fresh"}, nil
		},
		meFn: func(string) (*api.User, error) {
			u := testUser
			return &u, nil
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(context.Background()))
	require.NoError(t, m.Restore(context.Background()))

	_, _, _, refresh, me, _ := client.calls()
	assert.Equal(t, 1, refresh)
	assert.Equal(t, 1, me)
}

func TestRestore_CancellationKeepsStoredCredentials(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{AccessToken: "at-stored", RefreshToken: "rt-stored"})

	ctx, cancel := context.WithCancel(context.Background())

	// The backend is down and the user hits Ctrl-C during the retry wait.
	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			cancel()
			return nil, transientErr()
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	m.refresher.sleep = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}

	err := m.Restore(ctx)
	require.ErrorIs(t, err, context.Canceled)

	snap := m.Snapshot()
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.False(t, snap.SessionExpired)
	assert.True(t, snap.IsInitialized)

	// The credentials survive for the next start.
	stored := store.stored()
	require.NotNil(t, stored)
	assert.Equal(t, "rt-stored", stored.RefreshToken)

	// No fallback fetch was attempted on a dead context.
	_, _, _, _, me, _ := client.calls()
	assert.Zero(t, me)
}

func TestRestore_CancellationDuringFallbackKeepsStoredCredentials(t *testing.T) {
	store := &memStore{}
	store.seed(tokenstore.Credentials{AccessToken: "at-stored", RefreshToken: "rt-stored"})

	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{
		refreshFn: func(string) (*api.TokenPair, error) {
			return nil, transientErr()
		},
		meFn: func(string) (*api.User, error) {
			cancel()
			return nil, context.Canceled
		},
	}

	m := newTestManager(client, store, nil)
	defer m.Close()

	require.NoError(t, m.Restore(ctx))

	snap := m.Snapshot()
	assert.False(t, snap.SessionExpired)
	assert.NotNil(t, store.stored())
}

func TestRestore_StoreReadFailureSurfaces(t *testing.T) {
	store := &memStore{loadErr: assert.AnError}

	m := newTestManager(&fakeClient{}, store, nil)
	defer m.Close()

	err := m.Restore(context.Background())
	require.ErrorIs(t, err, assert.AnError)

	// Initialization still completes so consumers are not stuck loading.
	snap := m.Snapshot()
	assert.True(t, snap.IsInitialized)
	assert.Equal(t, StateLoggedOut, snap.State)
}
