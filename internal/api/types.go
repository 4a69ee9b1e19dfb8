package api

import "time"

// User is the normalized Quantiva account profile.
// Fields are normalized from the API response — callers never see raw wire data.
type User struct {
	ID               string
	Email            string
	DisplayName      string
	Roles            []string
	EmailVerified    bool
	TwoFactorEnabled bool
}

// TokenPair is the credential pair returned by a refresh. RefreshToken is
// empty when the server did not rotate it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session is a fully issued login session.
type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime hint. Zero when the server
	// sent none.
	ExpiresIn time.Duration
}

// TwoFactorChallenge is the intermediate state between a correct password
// and an issued session. No tokens exist while a challenge is pending.
type TwoFactorChallenge struct {
	Email  string
	UserID string
}

// LoginResult carries the outcome of a login call: exactly one of Session
// or Challenge is set.
type LoginResult struct {
	Session   *Session
	Challenge *TwoFactorChallenge
}

// userPayload mirrors the API user JSON shape.
// Unexported — callers use User via toUser() normalization.
type userPayload struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	DisplayName      string   `json:"displayName"`
	Roles            []string `json:"roles"`
	EmailVerified    bool     `json:"emailVerified"`
	TwoFactorEnabled bool     `json:"twoFactorEnabled"`
}

func (u *userPayload) toUser() User {
	return User{
		ID:               u.ID,
		Email:            u.Email,
		DisplayName:      u.DisplayName,
		Roles:            u.Roles,
		EmailVerified:    u.EmailVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

// sessionPayload mirrors the session-issuing responses (login, 2FA verify).
type sessionPayload struct {
	User         *userPayload `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	// ExpiresIn is seconds until access token expiry. Optional on 2FA
	// verification responses.
	ExpiresIn int64 `json:"expiresIn"`

	// 2FA branch of the login response. When Requires2FA is set no session
	// fields are present.
	Requires2FA bool   `json:"requires2FA"`
	UserID      string `json:"userId"`
}

// toSession validates and normalizes a session-issuing response. A response
// that is not a 2FA challenge but lacks any of user/accessToken/refreshToken
// is a ProtocolError.
func (p *sessionPayload) toSession(endpoint string) (*Session, error) {
	var missing []string

	if p.User == nil {
		missing = append(missing, "user")
	}

	if p.AccessToken == "" {
		missing = append(missing, "accessToken")
	}

	if p.RefreshToken == "" {
		missing = append(missing, "refreshToken")
	}

	if len(missing) > 0 {
		return nil, &ProtocolError{Endpoint: endpoint, Missing: missing}
	}

	return &Session{
		User:         p.User.toUser(),
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    time.Duration(p.ExpiresIn) * time.Second,
	}, nil
}

// refreshPayload mirrors the refresh response. Refresh token rotation is
// optional — an absent refreshToken means the old one stays valid.
type refreshPayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
