package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIssuer_Authenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "login@example.com", password: "s3cret password", active: true})

	got, tokens, err := f.sessions.Authenticate(ctx, "  LOGIN@example.com ", "s3cret password")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.True(t, tokens.AccessExpiry.Equal(baseTime.Add(f.cfg.GetAccessTokenTTL())))
	assert.True(t, tokens.RefreshExpiry.Equal(baseTime.Add(f.cfg.GetRefreshTokenTTL())))
	assert.True(t, tokens.AccessExpiry.Before(tokens.RefreshExpiry))

	stored := findAccount(t, f.repo, account.ID)
	assert.Equal(t, auth.HashRefreshToken(tokens.RefreshToken), stored.RefreshTokenRef)
	assert.NotEqual(t, tokens.RefreshToken, stored.RefreshTokenRef, "raw refresh tokens are never stored")

	accountID, err := f.sessions.Authorize(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, accountID)

	require.Len(t, f.sink.ofType(auth.ActivityEventLoginSuccess), 1)
}

func TestSessionIssuer_AuthenticateFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedAccount(t, f.repo, accountSeed{email: "known@example.com", password: "right password", active: true})
	pending := seedAccount(t, f.repo, accountSeed{email: "pending@example.com", password: "right password"})
	seedAccount(t, f.repo, accountSeed{email: "deleted@example.com", password: "right password", active: true, deleted: true})

	_, _, wrongPassword := f.sessions.Authenticate(ctx, "known@example.com", "wrong password")
	_, _, unknownEmail := f.sessions.Authenticate(ctx, "nobody@example.com", "right password")
	_, _, deleted := f.sessions.Authenticate(ctx, "deleted@example.com", "right password")

	for _, err := range []error{wrongPassword, unknownEmail, deleted} {
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
		assert.Equal(t, 401, auth.StatusCode(err))
	}

	_, tokens, err := f.sessions.Authenticate(ctx, "pending@example.com", "right password")
	assert.ErrorIs(t, err, auth.ErrAccountPending)
	assert.Nil(t, tokens)
	assert.Empty(t, findAccount(t, f.repo, pending.ID).RefreshTokenRef)

	failures := f.sink.ofType(auth.ActivityEventLoginFailure)
	require.Len(t, failures, 4)
	assert.Equal(t, "pending_activation", failures[3].Metadata["reason"])
}

func TestSessionIssuer_LoginOverwritesPreviousSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "twice@example.com", active: true})

	first, err := f.sessions.Login(ctx, account)
	require.NoError(t, err)
	second, err := f.sessions.Login(ctx, account)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.sessions.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	_, err = f.sessions.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	_, err = f.sessions.Login(ctx, &auth.Account{ID: uuid.New()})
	assert.True(t, auth.IsNotFound(err))
}

func TestSessionIssuer_RefreshRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "rotate@example.com", active: true})

	initial, err := f.sessions.Login(ctx, account)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rotated, err := f.sessions.Refresh(ctx, initial.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, initial.RefreshToken, rotated.RefreshToken)
	assert.True(t, rotated.AccessExpiry.Equal(baseTime.Add(time.Minute).Add(f.cfg.GetAccessTokenTTL())))

	_, err = f.sessions.Refresh(ctx, initial.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession, "a rotated token cannot be replayed")

	_, err = f.sessions.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)

	_, err = f.sessions.Refresh(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	_, err = f.sessions.Refresh(ctx, initial.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession, "access tokens are signed with another secret")

	assert.Len(t, f.sink.ofType(auth.ActivityEventSessionRefreshed), 2)
}

func TestSessionIssuer_RefreshRejectsDeletedAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "deleted-session@example.com", active: true})

	tokens, err := f.sessions.Login(ctx, account)
	require.NoError(t, err)

	_, err = f.machine.SoftDelete(ctx, account.ID)
	require.NoError(t, err)

	_, err = f.sessions.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
}

func TestSessionIssuer_Logout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "logout@example.com", active: true})

	tokens, err := f.sessions.Login(ctx, account)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Logout(ctx, account.ID))
	require.NoError(t, f.sessions.Logout(ctx, account.ID), "logout is idempotent")
	require.NoError(t, f.sessions.Logout(ctx, uuid.New()))

	assert.Empty(t, findAccount(t, f.repo, account.ID).RefreshTokenRef)

	_, err = f.sessions.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)
}

func TestSessionIssuer_AccessTokenExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "expiry@example.com", active: true})

	tokens, err := f.sessions.Login(ctx, account)
	require.NoError(t, err)

	f.clock.Advance(f.cfg.GetAccessTokenTTL() + time.Second)
	_, err = f.sessions.Authorize(tokens.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	_, err = f.sessions.Authorize(tokens.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidSession)

	rotated, err := f.sessions.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err, "refresh outlives access")

	_, err = f.sessions.Authorize(rotated.AccessToken)
	require.NoError(t, err)
}
