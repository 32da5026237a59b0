package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-auth-accounts/config"
	"github.com/goliatone/go-auth-accounts/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

var baseTime = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

type testConfig struct {
	accessSecret  string
	refreshSecret string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	activationTTL time.Duration
	resetTTL      time.Duration
	issuer        string
	secure        bool
}

func newTestConfig() *testConfig {
	return &testConfig{
		accessSecret:  "access-secret-for-tests",
		refreshSecret: "refresh-secret-for-tests",
		accessTTL:     15 * time.Minute,
		refreshTTL:    7 * 24 * time.Hour,
		activationTTL: 24 * time.Hour,
		resetTTL:      time.Hour,
		issuer:        "accounts-test",
	}
}

func (c *testConfig) GetAccessTokenSecret() string         { return c.accessSecret }
func (c *testConfig) GetRefreshTokenSecret() string        { return c.refreshSecret }
func (c *testConfig) GetAccessTokenTTL() time.Duration     { return c.accessTTL }
func (c *testConfig) GetRefreshTokenTTL() time.Duration    { return c.refreshTTL }
func (c *testConfig) GetActivationTokenTTL() time.Duration { return c.activationTTL }
func (c *testConfig) GetResetTokenTTL() time.Duration      { return c.resetTTL }
func (c *testConfig) GetIssuer() string                    { return c.issuer }
func (c *testConfig) GetAccessCookieName() string          { return "access_token" }
func (c *testConfig) GetRefreshCookieName() string         { return "refresh_token" }
func (c *testConfig) GetSecureCookies() bool               { return c.secure }

// testClock is a manually advanced clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// cheapPasswords hashes with the minimum bcrypt cost to keep tests fast.
type cheapPasswords struct{}

func (cheapPasswords) HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(h), err
}

func (cheapPasswords) ComparePasswordAndHash(password, hash string) error {
	return auth.ComparePasswordAndHash(password, hash)
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	s, err := store.Open(context.Background(), config.Persistence{
		Driver:                store.DriverSQLite,
		Server:                "file::memory:?cache=private",
		PingTimeoutExpression: "5s",
		OtelIdentifier:        "auth-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s.DB()
}

func newTestRepo(t *testing.T) auth.RepositoryManager {
	t.Helper()

	repo := auth.NewRepositoryManager(newTestDB(t))
	require.NoError(t, repo.Validate())
	return repo
}

type accountSeed struct {
	email    string
	password string
	role     auth.RoleName
	active   bool
	deleted  bool
}

func seedAccount(t *testing.T, repo auth.RepositoryManager, seed accountSeed) *auth.Account {
	t.Helper()
	ctx := context.Background()

	if seed.role == "" {
		seed.role = auth.RoleUser
	}
	if seed.password == "" {
		seed.password = "correct horse battery"
	}

	role, err := repo.Roles().GetByName(ctx, seed.role)
	require.NoError(t, err)

	hash, err := cheapPasswords{}.HashPassword(seed.password)
	require.NoError(t, err)

	account, err := repo.Accounts().Create(ctx, &auth.Account{
		RoleID:       role.ID,
		Email:        seed.email,
		PasswordHash: hash,
		IsActive:     seed.active,
	})
	require.NoError(t, err)

	if seed.deleted {
		err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			_, err := repo.Accounts().SoftDeleteTx(ctx, tx, account.ID, auth.AnyRole(), baseTime)
			return err
		})
		require.NoError(t, err)
		account.DeletedAt = &baseTime
	}

	return account
}

func findAccount(t *testing.T, repo auth.RepositoryManager, id uuid.UUID) *auth.Account {
	t.Helper()
	account, err := repo.Accounts().Find(context.Background(), id, auth.AnyRole().IncludingDeleted())
	require.NoError(t, err)
	return account
}

func listTokens(t *testing.T, repo auth.RepositoryManager, accountID uuid.UUID, kind auth.TokenKind) []*auth.SingleUseToken {
	t.Helper()
	var tokens []*auth.SingleUseToken
	err := repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		tokens, err = repo.Tokens().ListTx(ctx, tx, accountID, kind)
		return err
	})
	require.NoError(t, err)
	return tokens
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) ofType(eventType auth.ActivityEventType) []auth.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []auth.ActivityEvent
	for _, evt := range c.events {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []auth.Notification
	err  error
}

func (m *recordingMailer) Send(_ context.Context, n auth.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *recordingMailer) last() auth.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return auth.Notification{}
	}
	return m.sent[len(m.sent)-1]
}

type staticLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *staticLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

var errMailDown = errors.New("smtp: connection refused")

type fixture struct {
	repo     auth.RepositoryManager
	cfg      *testConfig
	clock    *testClock
	sink     *capturingSink
	tokens   *auth.TokenManager
	machine  *auth.AccountStateMachine
	sessions *auth.SessionIssuer
}

func newFixture(t *testing.T, tokenOpts ...auth.TokenManagerOption) *fixture {
	t.Helper()

	f := &fixture{
		repo:  newTestRepo(t),
		cfg:   newTestConfig(),
		clock: newTestClock(),
		sink:  &capturingSink{},
	}

	opts := append([]auth.TokenManagerOption{
		auth.WithTokenManagerClock(f.clock.Now),
		auth.WithTokenManagerActivitySink(f.sink),
	}, tokenOpts...)
	f.tokens = auth.NewTokenManager(f.repo, opts...)

	f.machine = auth.NewAccountStateMachine(f.repo, f.tokens,
		auth.WithStateMachineClock(f.clock.Now),
		auth.WithStateMachinePasswords(cheapPasswords{}),
		auth.WithStateMachineActivitySink(f.sink),
	)

	f.sessions = auth.NewSessionIssuer(f.repo, f.cfg,
		auth.WithSessionClock(f.clock.Now),
		auth.WithSessionActivitySink(f.sink),
	)

	return f
}

// staleTokens reports every token as unused, as a reader that loaded the row
// before a concurrent consumer committed would.
type staleTokens struct {
	auth.SingleUseTokens
}

func (s staleTokens) FindTx(ctx context.Context, tx bun.IDB, value string, kind auth.TokenKind) (*auth.SingleUseToken, error) {
	token, err := s.SingleUseTokens.FindTx(ctx, tx, value, kind)
	if err != nil {
		return nil, err
	}
	snapshot := *token
	snapshot.IsUsed = false
	snapshot.UsedAt = nil
	return &snapshot, nil
}

type staleRepo struct {
	auth.RepositoryManager
}

func (r staleRepo) Tokens() auth.SingleUseTokens {
	return staleTokens{SingleUseTokens: r.RepositoryManager.Tokens()}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries map[string][]string
}

func (l *recordingLogger) log(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = map[string][]string{}
	}
	l.entries[level] = append(l.entries[level], fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debug(format string, args ...any) { l.log("debug", format, args...) }
func (l *recordingLogger) Info(format string, args ...any)  { l.log("info", format, args...) }
func (l *recordingLogger) Warn(format string, args ...any)  { l.log("warn", format, args...) }
func (l *recordingLogger) Error(format string, args ...any) { l.log("error", format, args...) }

func (l *recordingLogger) at(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries[level]...)
}
