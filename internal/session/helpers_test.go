package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/quantiva/quantiva-go/internal/api"
	"github.com/quantiva/quantiva-go/internal/broadcast"
	"github.com/quantiva/quantiva-go/internal/tokenstore"
)

// fastBackoff keeps retry loops quick in tests while preserving the
// production retry count.
func fastBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
		MaxRetries:   3,
	}
}

// fakeClient scripts the auth API per method. A nil script fails the call
// so tests catch network traffic they did not expect.
type fakeClient struct {
	mu sync.Mutex

	loginFn   func(email, password string) (*api.LoginResult, error)
	verifyFn  func(email, code string) (*api.Session, error)
	backupFn  func(email, backupCode string) (*api.Session, error)
	refreshFn func(refreshToken string) (*api.TokenPair, error)
	meFn      func(accessToken string) (*api.User, error)
	logoutFn  func(accessToken string) error

	loginCalls   int
	verifyCalls  int
	backupCalls  int
	refreshCalls int
	meCalls      int
	logoutCalls  int
}

var errUnexpectedCall = errors.New("unexpected API call")

func (c *fakeClient) Login(_ context.Context, email, password string) (*api.LoginResult, error) {
	c.mu.Lock()
	c.loginCalls++
	fn := c.loginFn
	c.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(email, password)
}

func (c *fakeClient) Verify2FA(_ context.Context, email, code string) (*api.Session, error) {
	c.mu.Lock()
	c.verifyCalls++
	fn := c.verifyFn
	c.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(email, code)
}

func (c *fakeClient) VerifyBackupCode(_ context.Context, email, backupCode string) (*api.Session, error) {
	c.mu.Lock()
	c.backupCalls++
	fn := c.backupFn
	c.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(email, backupCode)
}

func (c *fakeClient) Refresh(_ context.Context, refreshToken string) (*api.TokenPair, error) {
	c.mu.Lock()
	c.refreshCalls++
	fn := c.refreshFn
	c.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(refreshToken)
}

func (c *fakeClient) Me(_ context.Context, accessToken string) (*api.User, error) {
	c.mu.Lock()
	c.meCalls++
	fn := c.meFn
	c.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(accessToken)
}

func (c *fakeClient) Logout(_ context.Context, accessToken string) error {
	c.mu.Lock()
	c.logoutCalls++
	fn := c.logoutFn
	c.mu.Unlock()

	if fn == nil {
		return errUnexpectedCall
	}

	return fn(accessToken)
}

func (c *fakeClient) calls() (login, verify, backup, refresh, me, logout int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loginCalls, c.verifyCalls, c.backupCalls, c.refreshCalls, c.meCalls, c.logoutCalls
}

// memStore is an in-memory tokenstore.Store with injectable failures.
type memStore struct {
	mu    sync.Mutex
	creds *tokenstore.Credentials

	loadErr  error
	saveErr  error
	clearErr error

	saveCalls  int
	clearCalls int
}

func (s *memStore) Load(_ context.Context) (*tokenstore.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	if s.creds == nil {
		return nil, nil //nolint:nilnil // sentinel for "no session"
	}

	c := *s.creds

	return &c, nil
}

func (s *memStore) Save(_ context.Context, creds tokenstore.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveCalls++

	if s.saveErr != nil {
		return s.saveErr
	}

	s.creds = &creds

	return nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearCalls++

	if s.clearErr != nil {
		return s.clearErr
	}

	s.creds = nil

	return nil
}

func (s *memStore) stored() *tokenstore.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		return nil
	}

	c := *s.creds

	return &c
}

func (s *memStore) seed(creds tokenstore.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = &creds
}

// recordBroadcaster captures publishes and lets tests inject incoming
// messages from "another process".
type recordBroadcaster struct {
	mu         sync.Mutex
	published  []string
	handlers   []broadcast.Handler
	publishErr error
}

func (b *recordBroadcaster) Publish(_ context.Context, accessToken string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishErr != nil {
		return b.publishErr
	}

	b.published = append(b.published, accessToken)

	return nil
}

func (b *recordBroadcaster) Subscribe(h broadcast.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, h)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.handlers = nil
	}
}

func (b *recordBroadcaster) Close() error { return nil }

func (b *recordBroadcaster) emit(msg broadcast.Message) {
	b.mu.Lock()
	handlers := append([]broadcast.Handler(nil), b.handlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (b *recordBroadcaster) publishedTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.published...)
}

func (b *recordBroadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.handlers)
}

var _ broadcast.Broadcaster = (*recordBroadcaster)(nil)

// transientErr builds an API error the classifier treats as transient.
func transientErr() error {
	return &api.APIError{StatusCode: 503, Err: api.ErrServerError}
}

// permanentErr builds an API error the classifier treats as permanent.
func permanentErr() error {
	return &api.APIError{StatusCode: 401, Err: api.ErrUnauthorized}
}

// signedToken mints an HS256 JWT with the given expiry, the shape real
// access tokens have.
func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": "u1",
		"exp": expiresAt.Unix(),
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return tok
}
