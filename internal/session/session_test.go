package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marceloligiero/tradehub/internal/apperr"
	"github.com/marceloligiero/tradehub/internal/model"
	"github.com/marceloligiero/tradehub/internal/store"
)

type fakeAuth struct {
	token string
	user  model.User
	err   error
	calls int
}

func (f *fakeAuth) Login(_ context.Context, _, _ string) (string, model.User, error) {
	f.calls++
	return f.token, f.user, f.err
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tradehub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestLoginPersistsAcrossContexts(t *testing.T) {
	st := openStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	auth := &fakeAuth{
		token: signed(t, now.Add(time.Hour)),
		user:  model.User{ID: 7, Email: "s@example.com", Name: "Student", Role: model.RoleStudent},
	}

	first := New(st, WithClock(clock))
	user, err := first.Login(context.Background(), auth, " s@example.com ", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, auth.token, first.Token())

	second := New(st, WithClock(clock))
	require.NoError(t, second.Open(context.Background()))
	got, ok := second.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, auth.user, got)

	require.NoError(t, second.Logout(context.Background()))
	third := New(st, WithClock(clock))
	require.NoError(t, third.Open(context.Background()))
	_, ok = third.CurrentUser()
	assert.False(t, ok)
}

func TestLoginValidatesBeforeCalling(t *testing.T) {
	auth := &fakeAuth{}
	s := New(nil)
	_, err := s.Login(context.Background(), auth, "  ", "pw")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, auth.calls)
}

func TestLoginFailureKeepsSessionEmpty(t *testing.T) {
	auth := &fakeAuth{err: apperr.Request(400, "Incorrect email or password")}
	s := New(nil)
	_, err := s.Login(context.Background(), auth, "a@b.c", "bad")
	require.Error(t, err)
	assert.Empty(t, s.Token())
	_, err = s.RequireUser()
	assert.True(t, IsNotLoggedIn(err))
	assert.True(t, apperr.IsSession(err))
}

func TestExpiredTokenIsWithheld(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := now
	s := New(nil, WithClock(func() time.Time { return current }))
	auth := &fakeAuth{token: signed(t, now.Add(time.Minute)), user: model.User{ID: 1}}
	_, err := s.Login(context.Background(), auth, "a@b.c", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token())

	current = now.Add(2 * time.Minute)
	assert.Empty(t, s.Token())
	_, ok := s.CurrentUser()
	assert.False(t, ok)
}

func TestOpaqueTokenNeverExpiresLocally(t *testing.T) {
	s := New(nil)
	_, err := s.Login(context.Background(), &fakeAuth{token: "opaque", user: model.User{ID: 1}}, "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "opaque", s.Token())
}

func TestExpireClearsStore(t *testing.T) {
	st := openStore(t)
	s := New(st)
	_, err := s.Login(context.Background(), &fakeAuth{token: "opaque", user: model.User{ID: 1}}, "a@b.c", "pw")
	require.NoError(t, err)

	s.Expire()
	assert.Empty(t, s.Token())
	_, ok, err := st.LoadCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	s.Expire()
}

func TestNotLoggedInIsDistinct(t *testing.T) {
	other := apperr.Session("something else")
	assert.False(t, errors.Is(other, ErrNotLoggedIn))
	assert.True(t, errors.Is(ErrNotLoggedIn, apperr.ErrSession))
}
