// Package session manages the authentication session lifecycle: login with
// an optional two-factor challenge, single-flight token refresh with
// backoff, pre-expiry refresh scheduling, startup restoration from the
// token store, and cross-process propagation of refreshed tokens.
package session

import "github.com/quantiva/quantiva-go/internal/api"

// State is the manager's position in the auth lifecycle. Exactly one state
// is active at a time.
type State int

const (
	// StateLoggedOut means no session exists and no operation is in flight.
	StateLoggedOut State = iota
	// StateRestoring means startup restoration from the store is running.
	StateRestoring
	// StateLoggingIn means a login call is in flight.
	StateLoggingIn
	// StateTwoFactorPending means the password was accepted and a second
	// factor is required. No tokens exist yet.
	StateTwoFactorPending
	// StateVerifyingTwoFactor means a 2FA verification call is in flight.
	StateVerifyingTwoFactor
	// StateAuthenticated means a session is established.
	StateAuthenticated
	// StateLoggingOut means a logout is tearing the session down.
	StateLoggingOut
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateRestoring:
		return "restoring"
	case StateLoggingIn:
		return "logging_in"
	case StateTwoFactorPending:
		return "two_factor_pending"
	case StateVerifyingTwoFactor:
		return "verifying_two_factor"
	case StateAuthenticated:
		return "authenticated"
	case StateLoggingOut:
		return "logging_out"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent read-only view of the manager for consumers
// (CLI commands, embedding applications).
type Snapshot struct {
	State State
	User  *api.User
	// TwoFactor is the pending challenge, nil outside StateTwoFactorPending
	// and StateVerifyingTwoFactor.
	TwoFactor *api.TwoFactorChallenge
	// IsLoading is true while a transition is in flight, including the
	// whole restoration interval.
	IsLoading bool
	// IsInitialized becomes true once startup restoration has reached a
	// terminal state.
	IsInitialized bool
	// SessionExpired is true only after every fallback path was exhausted,
	// so consumers can distinguish "sign in again" from a transient hiccup
	// that self-healed.
	SessionExpired bool
}

// IsAuthenticated reports whether a session is established.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated
}
