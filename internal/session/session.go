// Package session holds the authenticated identity of the running client.
//
// A Context is created once in main and handed to whatever needs the
// credential; nothing reads it from package state.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/store"
)

// Authenticator exchanges credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, model.User, error)
}

// CredentialStore persists the credential between runs.
type CredentialStore interface {
	SaveCredential(ctx context.Context, c store.Credential) error
	LoadCredential(ctx context.Context) (store.Credential, bool, error)
	ClearCredential(ctx context.Context) error
}

// ErrNotLoggedIn is returned when an operation needs a user and there is none.
var ErrNotLoggedIn = apperr.Session("not logged in")

// Context is the injectable session. It is safe for concurrent use.
type Context struct {
	mu    sync.RWMutex
	store CredentialStore
	cred  *store.Credential
	now   func() time.Time
	log   *zap.Logger
}

// Option configures a Context.
type Option func(*Context)

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.now = now }
}

// WithLogger sets the session logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Context) {
		if log != nil {
			c.log = log
		}
	}
}

// New returns an empty session backed by st. st may be nil for an in-memory session.
func New(st CredentialStore, opts ...Option) *Context {
	c := &Context{store: st, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open loads a previously saved credential, if any.
func (c *Context) Open(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	cred, ok, err := c.store.LoadCredential(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.cred = &cred
	} else {
		c.cred = nil
	}
	return nil
}

// Login authenticates and persists the resulting credential.
func (c *Context) Login(ctx context.Context, auth Authenticator, email, password string) (model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return model.User{}, apperr.Validation("email and password are required")
	}
	token, user, err := auth.Login(ctx, email, password)
	if err != nil {
		return model.User{}, err
	}
	cred := store.Credential{Token: token, User: user, LoggedInAt: c.now()}
	if c.store != nil {
		if err := c.store.SaveCredential(ctx, cred); err != nil {
			return model.User{}, err
		}
	}
	c.mu.Lock()
	c.cred = &cred
	c.mu.Unlock()
	c.log.Info("logged in", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Logout forgets the credential locally and on disk.
func (c *Context) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.cred = nil
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.ClearCredential(ctx)
}

// CurrentUser returns the logged-in user. ok is false when logged out or expired.
func (c *Context) CurrentUser() (model.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred == nil || c.expired(c.cred.Token) {
		return model.User{}, false
	}
	return c.cred.User, true
}

// RequireUser is CurrentUser returning ErrNotLoggedIn instead of a flag.
func (c *Context) RequireUser() (model.User, error) {
	user, ok := c.CurrentUser()
	if !ok {
		return model.User{}, ErrNotLoggedIn
	}
	return user, nil
}

// Token implements api.TokenSource. It returns "" once the token has expired.
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cred == nil || c.expired(c.cred.Token) {
		return ""
	}
	return c.cred.Token
}

// Expire drops the credential after the server refused it.
func (c *Context) Expire() {
	c.mu.Lock()
	had := c.cred != nil
	c.cred = nil
	c.mu.Unlock()
	if !had {
		return
	}
	c.log.Warn("session expired")
	if c.store == nil {
		return
	}
	if err := c.store.ClearCredential(context.Background()); err != nil {
		c.log.Warn("failed to clear credential", zap.Error(err))
	}
}

// expired reads the exp claim without verifying the signature; the server
// stays the authority. Opaque tokens never expire locally.
func (c *Context) expired(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !c.now().Before(claims.ExpiresAt.Time)
}

// IsNotLoggedIn reports whether err means no user is logged in.
func IsNotLoggedIn(err error) bool {
	return errors.Is(err, ErrNotLoggedIn)
}
