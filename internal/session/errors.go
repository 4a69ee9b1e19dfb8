package session

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned by a refresh attempted with no stored refresh
// token. Classified permanent — retrying cannot create credentials.
var ErrNoSession = errors.New("session: no stored refresh token")

// StateError reports an operation invoked while the state machine is not in
// a compatible state, e.g. verifying a 2FA code with no pending challenge.
// Raised synchronously, before any network I/O.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s not allowed in state %s", e.Op, e.State)
}
