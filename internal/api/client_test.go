package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	return NewClient(url, http.DefaultClient, slog.Default())
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body string) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice@example.com", req["email"])
		assert.Equal(t, "hunter2", req["password"])

		writeJSON(t, w, http.StatusOK, `{
			"user": {"id": "u1", "email": "alice@example.com", "displayName": "Alice", "roles": ["surveyor"]},
			"accessToken": "at-1",
			"refreshToken": "rt-1",
			"expiresIn": 900
		}`)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Login(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Nil(t, result.Challenge)

	assert.Equal(t, "u1", result.Session.User.ID)
	assert.Equal(t, []string{"surveyor"}, result.Session.User.Roles)
	assert.Equal(t, "at-1", result.Session.AccessToken)
	assert.Equal(t, "rt-1", result.Session.RefreshToken)
	assert.Equal(t, float64(900), result.Session.ExpiresIn.Seconds())
}

func TestLogin_Requires2FA(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, `{"requires2FA": true, "userId": "u1"}`)
	}))
	defer srv.Close()

	result, err := newTestClient(t, srv.URL).Login(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, result.Challenge)
	assert.Nil(t, result.Session)

	assert.Equal(t, "alice@example.com", result.Challenge.Email)
	assert.Equal(t, "u1", result.Challenge.UserID)
}

func TestLogin_IncompleteResponseIsProtocolError(t *testing.T) {
	// Not a 2FA response, but no refresh token either — contract mismatch.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, `{
			"user": {"id": "u1"},
			"accessToken": "at-1"
		}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Login(context.Background(), "alice@example.com", "hunter2")

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, []string{"refreshToken"}, protoErr.Missing)
	assert.Equal(t, ClassPermanent, Classify(err))
}

func TestLogin_WrongPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, `{"error": "invalid credentials"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Login(context.Background(), "alice@example.com", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid credentials", apiErr.Message)
}

func TestVerify2FA_SendsCodeAndEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/verify-2fa", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "123456", req["token"])
		assert.Equal(t, "alice@example.com", req["email"])

		writeJSON(t, w, http.StatusOK, `{
			"user": {"id": "u1", "email": "alice@example.com"},
			"accessToken": "at-2fa",
			"refreshToken": "rt-2fa"
		}`)
	}))
	defer srv.Close()

	session, err := newTestClient(t, srv.URL).Verify2FA(context.Background(), "alice@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "at-2fa", session.AccessToken)
	// expiresIn is optional on 2FA verification responses.
	assert.Zero(t, session.ExpiresIn)
}

func TestVerifyBackupCode_UsesBackupEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/verify-2fa/backup", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "backup-1", req["backupCode"])

		writeJSON(t, w, http.StatusOK, `{
			"user": {"id": "u1"},
			"accessToken": "at-b",
			"refreshToken": "rt-b"
		}`)
	}))
	defer srv.Close()

	session, err := newTestClient(t, srv.URL).VerifyBackupCode(context.Background(), "alice@example.com", "backup-1")
	require.NoError(t, err)
	assert.Equal(t, "at-b", session.AccessToken)
}

func TestRefresh_WithRotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rt-old", req["refreshToken"])

		writeJSON(t, w, http.StatusOK, `{"accessToken": "at-new", "refreshToken": "rt-new"}`)
	}))
	defer srv.Close()

	pair, err := newTestClient(t, srv.URL).Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", pair.AccessToken)
	assert.Equal(t, "rt-new", pair.RefreshToken)
}

func TestRefresh_WithoutRotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, `{"accessToken": "at-new"}`)
	}))
	defer srv.Close()

	pair, err := newTestClient(t, srv.URL).Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", pair.AccessToken)
	assert.Empty(t, pair.RefreshToken)
}

func TestRefresh_MissingAccessTokenIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, `{}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Refresh(context.Background(), "rt-old")

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestMe_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/auth/me", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))

		writeJSON(t, w, http.StatusOK, `{
			"id": "u1", "email": "alice@example.com", "displayName": "Alice",
			"emailVerified": true, "twoFactorEnabled": true
		}`)
	}))
	defer srv.Close()

	user, err := newTestClient(t, srv.URL).Me(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.True(t, user.EmailVerified)
	assert.True(t, user.TwoFactorEnabled)
}

func TestLogout_IgnoresResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/logout", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL).Logout(context.Background(), "at-1"))
}

func TestDo_ServerErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusServiceUnavailable, `{"message": "warming up"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Me(context.Background(), "at-1")
	require.ErrorIs(t, err, ErrServerError)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "warming up", apiErr.Message)
}
