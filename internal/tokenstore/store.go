// Package tokenstore persists session credentials durably so separate
// processes on the same machine (CLI invocations, the agent) share one
// session. Credentials are replaced whole-value: a reader never observes an
// access token from one refresh paired with a refresh token from another.
package tokenstore

import (
	"context"
	"time"
)

// Credentials is the persisted token pair plus the expiry hint for the
// access token. ExpiresAt is zero when unknown.
type Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// Store is durable key/value persistence for credentials.
//
// Load returns (nil, nil) when no credentials are stored — absence is a
// valid, meaningful state (no session), not an error. Save replaces the
// stored value atomically. Clear is idempotent.
type Store interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}
