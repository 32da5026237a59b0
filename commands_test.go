package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAccountHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mailer := &recordingMailer{}

	handler := auth.NewRegisterAccountHandler(f.repo, f.tokens, f.cfg).
		WithMailer(mailer).
		WithActivitySink(f.sink)

	var resp *auth.RegisterAccountResponse
	err := handler.Execute(ctx, auth.RegisterAccountMessage{
		Email:           "New.User@Example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
		OnResponse: func(r *auth.RegisterAccountResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Delivered)

	account := resp.Account
	assert.Equal(t, "new.user@example.com", account.Email)
	assert.Equal(t, auth.StatePendingActivation, account.State())

	role, err := f.repo.Roles().GetByID(ctx, account.RoleID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, role.Name)

	tokens := listTokens(t, f.repo, account.ID, auth.TokenKindActivation)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].ExpiresAt.Equal(baseTime.Add(f.cfg.GetActivationTokenTTL())))

	sent := mailer.last()
	assert.Equal(t, auth.TokenKindActivation, sent.Kind)
	assert.Equal(t, account.Email, sent.Email)
	assert.Equal(t, tokens[0].Token, sent.Token)

	registered := f.sink.ofType(auth.ActivityEventAccountRegistered)
	require.Len(t, registered, 1)
	assert.Equal(t, auth.StatePendingActivation, registered[0].ToState)

	err = handler.Execute(ctx, auth.RegisterAccountMessage{
		Email:           "new.user@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	assert.ErrorIs(t, err, auth.ErrEmailExists)
}

func TestRegisterAccountHandler_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	handler := auth.NewRegisterAccountHandler(f.repo, f.tokens, f.cfg)

	err := handler.Execute(ctx, auth.RegisterAccountMessage{
		Email:           "mismatch@example.com",
		Password:        "password123",
		ConfirmPassword: "password124",
	})
	assert.ErrorIs(t, err, auth.ErrPasswordMismatch)

	err = handler.Execute(ctx, auth.RegisterAccountMessage{
		Email:           "not-an-email",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed))

	err = handler.Execute(ctx, auth.RegisterAccountMessage{
		Email:           "short@example.com",
		Password:        "short",
		ConfirmPassword: "short",
	})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed))

	err = handler.Execute(ctx, auth.RegisterAccountMessage{
		Email:           "role@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
		Role:            auth.RoleName("ROOT"),
	})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed))

	_, err = f.repo.Accounts().FindByEmail(ctx, "role@example.com", auth.AnyRole())
	assert.True(t, auth.IsNotFound(err))
}

func TestRegisterAccountHandler_EmailOfDeletedAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedAccount(t, f.repo, accountSeed{email: "taken@example.com", deleted: true})

	err := auth.NewRegisterAccountHandler(f.repo, f.tokens, f.cfg).Execute(ctx, auth.RegisterAccountMessage{
		Email:           "taken@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	assert.ErrorIs(t, err, auth.ErrEmailExists, "email uniqueness spans soft-deleted accounts")
}

func TestRegisterAccountHandler_MailFailureKeepsAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	handler := auth.NewRegisterAccountHandler(f.repo, f.tokens, f.cfg).
		WithMailer(&recordingMailer{err: errMailDown}).
		WithActivitySink(f.sink)

	var resp *auth.RegisterAccountResponse
	err := handler.Execute(ctx, auth.RegisterAccountMessage{
		Email:           "offline@example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
		Role:            auth.RolePremium,
		OnResponse: func(r *auth.RegisterAccountResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	assert.False(t, resp.Delivered)

	account, err := f.repo.Accounts().FindByEmail(ctx, "offline@example.com", auth.RoleScope(auth.RolePremium))
	require.NoError(t, err)
	assert.Len(t, listTokens(t, f.repo, account.ID, auth.TokenKindActivation), 1)

	failed := f.sink.ofType(auth.ActivityEventMailFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, account.ID.String(), failed[0].AccountID)
}

func TestRegisterAccountHandler_HashidIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var resp *auth.RegisterAccountResponse
	err := auth.NewRegisterAccountHandler(f.repo, f.tokens, f.cfg).Execute(ctx, auth.RegisterAccountMessage{
		Email:           "Stable@Example.com",
		Password:        "password123",
		ConfirmPassword: "password123",
		UseHashid:       true,
		OnResponse: func(r *auth.RegisterAccountResponse) {
			resp = r
		},
	})
	require.NoError(t, err)

	expected, err := hashid.NewUUID("stable@example.com")
	require.NoError(t, err)
	assert.Equal(t, expected, resp.Account.ID)
}

func TestRequestActivationHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pending := seedAccount(t, f.repo, accountSeed{email: "resend@example.com"})
	seedAccount(t, f.repo, accountSeed{email: "done@example.com", active: true})
	mailer := &recordingMailer{}
	limiter := &staticLimiter{allowed: true}

	handler := auth.NewRequestActivationHandler(f.repo, f.tokens, f.cfg).
		WithMailer(mailer).
		WithLimiter(limiter)

	var resp *auth.RequestActivationResponse
	err := handler.Execute(ctx, auth.RequestActivationMessage{
		Email: "Resend@example.com",
		OnResponse: func(r *auth.RequestActivationResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Delivered)
	assert.Equal(t, pending.ID, resp.Account.ID)
	assert.Equal(t, []string{"activation:resend@example.com"}, limiter.keys)

	activated, err := f.machine.ActivateWithToken(ctx, mailer.last().Token)
	require.NoError(t, err)
	assert.Equal(t, auth.StateActive, activated.State())

	err = handler.Execute(ctx, auth.RequestActivationMessage{Email: "done@example.com"})
	assert.ErrorIs(t, err, auth.ErrAlreadyActive)

	err = handler.Execute(ctx, auth.RequestActivationMessage{Email: "missing@example.com"})
	assert.True(t, auth.IsNotFound(err))
}

func TestRequestActivationHandler_Throttled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "busy@example.com"})

	handler := auth.NewRequestActivationHandler(f.repo, f.tokens, f.cfg).
		WithLimiter(&staticLimiter{allowed: false})

	err := handler.Execute(ctx, auth.RequestActivationMessage{Email: "busy@example.com"})
	assert.ErrorIs(t, err, auth.ErrTooManyRequests)
	assert.Empty(t, listTokens(t, f.repo, account.ID, auth.TokenKindActivation))

	logger := &recordingLogger{}
	failOpen := auth.NewRequestActivationHandler(f.repo, f.tokens, f.cfg).
		WithLimiter(&staticLimiter{err: errors.New("redis: connection refused")}).
		WithLogger(logger)
	require.NoError(t, failOpen.Execute(ctx, auth.RequestActivationMessage{Email: "busy@example.com"}))
	assert.Len(t, listTokens(t, f.repo, account.ID, auth.TokenKindActivation), 1)

	errs := logger.at("error")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "activation:busy@example.com")
	assert.Contains(t, errs[0], "redis: connection refused")
}

func TestInitializePasswordResetHandler_LimiterFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "reset-open@example.com", active: true})

	logger := &recordingLogger{}
	handler := auth.NewInitializePasswordResetHandler(f.repo, f.tokens, f.cfg).
		WithLimiter(&staticLimiter{err: errors.New("redis: i/o timeout")}).
		WithLogger(logger)

	require.NoError(t, handler.Execute(ctx, auth.InitializePasswordResetMessage{Email: "reset-open@example.com"}))
	assert.Len(t, listTokens(t, f.repo, account.ID, auth.TokenKindReset), 1)

	errs := logger.at("error")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "reset:reset-open@example.com")
}

func TestActivateAccountHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "cmd-activate@example.com"})
	handler := auth.NewActivateAccountHandler(f.machine)

	err := handler.Execute(ctx, auth.ActivateAccountMessage{Token: " "})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed))

	token, err := f.tokens.Issue(ctx, account.ID, auth.TokenKindActivation, f.cfg.GetActivationTokenTTL())
	require.NoError(t, err)

	var got *auth.Account
	err = handler.Execute(ctx, auth.ActivateAccountMessage{
		AccountID: account.ID,
		Token:     token.Token,
		OnResponse: func(a *auth.Account) {
			got = a
		},
	})
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = handler.Execute(cancelled, auth.ActivateAccountMessage{Token: token.Token})
	assert.Error(t, err)
}

func TestPasswordResetHandlers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "forgot@example.com", password: "old password", active: true})
	mailer := &recordingMailer{}
	limiter := &staticLimiter{allowed: true}

	initialize := auth.NewInitializePasswordResetHandler(f.repo, f.tokens, f.cfg).
		WithMailer(mailer).
		WithLimiter(limiter).
		WithActivitySink(f.sink)
	finalize := auth.NewFinalizePasswordResetHandler(f.machine)

	var unknown *auth.InitializePasswordResetResponse
	err := initialize.Execute(ctx, auth.InitializePasswordResetMessage{
		Email: "stranger@example.com",
		OnResponse: func(r *auth.InitializePasswordResetResponse) {
			unknown = r
		},
	})
	require.NoError(t, err, "unknown emails are not disclosed")
	assert.Equal(t, auth.PasswordResetRequestedMessage, unknown.Message)
	assert.False(t, unknown.Delivered)
	assert.Empty(t, mailer.sent)

	var known *auth.InitializePasswordResetResponse
	err = initialize.Execute(ctx, auth.InitializePasswordResetMessage{
		Email: "forgot@example.com",
		OnResponse: func(r *auth.InitializePasswordResetResponse) {
			known = r
		},
	})
	require.NoError(t, err)
	assert.Equal(t, unknown.Message, known.Message)
	assert.True(t, known.Delivered)
	assert.Equal(t, []string{"reset:stranger@example.com", "reset:forgot@example.com"}, limiter.keys)

	sent := mailer.last()
	assert.Equal(t, auth.TokenKindReset, sent.Kind)
	assert.True(t, sent.ExpiresAt.Equal(baseTime.Add(f.cfg.GetResetTokenTTL())))

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:           sent.Token,
		Password:        "brand new password",
		ConfirmPassword: "brand new passw0rd",
	})
	assert.ErrorIs(t, err, auth.ErrPasswordMismatch)

	var updated *auth.Account
	err = finalize.Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:           sent.Token,
		Password:        "brand new password",
		ConfirmPassword: "brand new password",
		OnResponse: func(a *auth.Account) {
			updated = a
		},
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, updated.ID)

	_, _, err = f.sessions.Authenticate(ctx, "forgot@example.com", "brand new password")
	require.NoError(t, err)

	err = finalize.Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:           sent.Token,
		Password:        "yet another password",
		ConfirmPassword: "yet another password",
	})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenAlreadyUsed))
}

func ptr(s string) *string { return &s }

func TestUpdateAccountHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "old@example.com", active: true})
	f.clock.Advance(time.Hour)

	handler := auth.NewUpdateAccountHandler(f.repo, auth.RoleScope(auth.RoleUser)).
		WithClock(f.clock.Now).
		WithActivitySink(f.sink)

	var updated *auth.Account
	err := handler.Execute(ctx, auth.UpdateAccountMessage{
		AccountID:         account.ID,
		Email:             ptr("  New@Example.com "),
		ProfilePictureURL: ptr("https://cdn.example.com/me.png"),
		OnResponse: func(acc *auth.Account) {
			updated = acc
		},
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "new@example.com", updated.Email)
	assert.Equal(t, "https://cdn.example.com/me.png", updated.ProfilePictureURL)
	assert.Equal(t, auth.StateActive, updated.State())
	require.NotNil(t, updated.UpdatedAt)
	assert.True(t, updated.UpdatedAt.Equal(f.clock.Now()))

	events := f.sink.ofType(auth.ActivityEventAccountUpdated)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"email", "profile_picture_url"}, events[0].Metadata["fields"])

	err = handler.Execute(ctx, auth.UpdateAccountMessage{
		AccountID:         account.ID,
		ProfilePictureURL: ptr(""),
	})
	require.NoError(t, err)
	assert.Empty(t, findAccount(t, f.repo, account.ID).ProfilePictureURL)

	err = handler.Execute(ctx, auth.UpdateAccountMessage{
		AccountID: account.ID,
		Email:     ptr("new@example.com"),
	})
	require.NoError(t, err)
	assert.Len(t, f.sink.ofType(auth.ActivityEventAccountUpdated), 2, "unchanged fields record nothing")
}

func TestUpdateAccountHandler_EmailTaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "mine@example.com", active: true})
	seedAccount(t, f.repo, accountSeed{email: "live@example.com", active: true})
	seedAccount(t, f.repo, accountSeed{email: "gone@example.com", deleted: true})

	handler := auth.NewUpdateAccountHandler(f.repo, auth.AnyRole())

	err := handler.Execute(ctx, auth.UpdateAccountMessage{AccountID: account.ID, Email: ptr("LIVE@example.com")})
	assert.ErrorIs(t, err, auth.ErrEmailExists)

	err = handler.Execute(ctx, auth.UpdateAccountMessage{AccountID: account.ID, Email: ptr("gone@example.com")})
	assert.ErrorIs(t, err, auth.ErrEmailExists, "email uniqueness spans soft-deleted accounts")

	assert.Equal(t, "mine@example.com", findAccount(t, f.repo, account.ID).Email)
}

func TestUpdateAccountHandler_Scope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := seedAccount(t, f.repo, accountSeed{email: "root@example.com", role: auth.RoleAdmin, active: true})
	deleted := seedAccount(t, f.repo, accountSeed{email: "left@example.com", deleted: true})

	handler := auth.NewUpdateAccountHandler(f.repo, auth.RoleScope(auth.RoleUser))

	err := handler.Execute(ctx, auth.UpdateAccountMessage{AccountID: admin.ID, Email: ptr("x@example.com")})
	assert.True(t, auth.IsNotFound(err), "accounts outside the scope are not found")

	err = handler.Execute(ctx, auth.UpdateAccountMessage{AccountID: deleted.ID, Email: ptr("y@example.com")})
	assert.True(t, auth.IsNotFound(err))

	err = handler.WithScope(auth.AnyRole().IncludingDeleted()).Execute(ctx, auth.UpdateAccountMessage{
		AccountID: deleted.ID,
		Email:     ptr("y@example.com"),
	})
	assert.ErrorIs(t, err, auth.ErrAlreadyDeleted)
	assert.Equal(t, "left@example.com", findAccount(t, f.repo, deleted.ID).Email)
}

func TestUpdateAccountHandler_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account := seedAccount(t, f.repo, accountSeed{email: "valid@example.com", active: true})
	handler := auth.NewUpdateAccountHandler(f.repo, auth.AnyRole())

	err := handler.Execute(ctx, auth.UpdateAccountMessage{AccountID: account.ID})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed), "empty update")

	err = handler.Execute(ctx, auth.UpdateAccountMessage{AccountID: account.ID, Email: ptr("not-an-email")})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed))

	err = handler.Execute(ctx, auth.UpdateAccountMessage{AccountID: account.ID, ProfilePictureURL: ptr("::not a url")})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed))

	err = handler.Execute(ctx, auth.UpdateAccountMessage{Email: ptr("a@example.com")})
	assert.True(t, auth.HasTextCode(err, auth.TextCodeValidationFailed))
}
