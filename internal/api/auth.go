package api

import (
	"context"
	"log/slog"
	"net/http"
)

// Login authenticates with email and password. The result is either a full
// session or a two-factor challenge that must be answered by Verify2FA or
// VerifyBackupCode before any tokens are issued.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	req := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	var resp sessionPayload
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", &req, &resp); err != nil {
		return nil, err
	}

	if resp.Requires2FA {
		c.logger.Info("login requires second factor", slog.String("email", email))

		return &LoginResult{Challenge: &TwoFactorChallenge{
			Email:  email,
			UserID: resp.UserID,
		}}, nil
	}

	session, err := resp.toSession("/auth/login")
	if err != nil {
		return nil, err
	}

	c.logger.Info("login successful", slog.String("user_id", session.User.ID))

	return &LoginResult{Session: session}, nil
}

// Verify2FA answers a pending two-factor challenge with a TOTP code.
func (c *Client) Verify2FA(ctx context.Context, email, code string) (*Session, error) {
	req := struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}{Token: code, Email: email}

	var resp sessionPayload
	if err := c.do(ctx, http.MethodPost, "/auth/verify-2fa", "", &req, &resp); err != nil {
		return nil, err
	}

	return resp.toSession("/auth/verify-2fa")
}

// VerifyBackupCode answers a pending two-factor challenge with a one-time
// backup code.
func (c *Client) VerifyBackupCode(ctx context.Context, email, backupCode string) (*Session, error) {
	req := struct {
		BackupCode string `json:"backupCode"`
		Email      string `json:"email"`
	}{BackupCode: backupCode, Email: email}

	var resp sessionPayload
	if err := c.do(ctx, http.MethodPost, "/auth/verify-2fa/backup", "", &req, &resp); err != nil {
		return nil, err
	}

	return resp.toSession("/auth/verify-2fa/backup")
}

// Refresh exchanges a refresh token for a new access token. The returned
// pair's RefreshToken is empty when the server did not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	req := struct {
		RefreshToken string `json:"refreshToken"`
	}{RefreshToken: refreshToken}

	var resp refreshPayload
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", "", &req, &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return nil, &ProtocolError{Endpoint: "/auth/refresh", Missing: []string{"accessToken"}}
	}

	return &TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// Me fetches the profile of the user the access token belongs to.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var resp userPayload
	if err := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil, &resp); err != nil {
		return nil, err
	}

	user := resp.toUser()

	return &user, nil
}

// Logout invalidates the session server-side. Best-effort — callers clear
// local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}
