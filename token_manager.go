package auth

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenManager issues and consumes single-use tokens.
type TokenManager struct {
	repo               RepositoryManager
	now                func() time.Time
	random             io.Reader
	invalidateSiblings bool
	logger             Logger
	activity           ActivitySink
}

type TokenManagerOption func(*TokenManager)

func WithTokenManagerClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTokenRandom overrides the entropy source, crypto/rand by default.
func WithTokenRandom(r io.Reader) TokenManagerOption {
	return func(m *TokenManager) {
		if r != nil {
			m.random = r
		}
	}
}

// WithInvalidateSiblings marks earlier unused tokens of the same account and
// kind as used whenever a new one is issued.
func WithInvalidateSiblings() TokenManagerOption {
	return func(m *TokenManager) {
		m.invalidateSiblings = true
	}
}

func WithTokenManagerLogger(logger Logger) TokenManagerOption {
	return func(m *TokenManager) {
		m.logger = normalizeLogger(logger)
	}
}

func WithTokenManagerActivitySink(sink ActivitySink) TokenManagerOption {
	return func(m *TokenManager) {
		m.activity = normalizeActivitySink(sink)
	}
}

func NewTokenManager(repo RepositoryManager, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		repo:     repo,
		now:      time.Now,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Issue creates a token in its own transaction.
func (m *TokenManager) Issue(ctx context.Context, accountID uuid.UUID, kind TokenKind, ttl time.Duration) (*SingleUseToken, error) {
	var token *SingleUseToken
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = m.IssueTx(ctx, tx, accountID, kind, ttl)
		return err
	})
	if err != nil {
		return nil, internalError(err, "failed to issue token")
	}
	m.recordIssued(ctx, token)
	return token, nil
}

// IssueTx stores a new unused token expiring at now + ttl.
func (m *TokenManager) IssueTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, kind TokenKind, ttl time.Duration) (*SingleUseToken, error) {
	if !kind.IsValid() {
		return nil, NewValidationError("kind", "unknown token kind")
	}
	if ttl <= 0 {
		return nil, NewValidationError("ttl", "must be positive")
	}

	value, err := GenerateToken(m.random)
	if err != nil {
		return nil, internalError(err, "failed to generate token")
	}

	now := m.now()

	if m.invalidateSiblings {
		n, err := m.repo.Tokens().InvalidateUnusedTx(ctx, tx, accountID, kind, now)
		if err != nil {
			return nil, internalError(err, "failed to invalidate previous tokens")
		}
		if n > 0 {
			m.logger.Debug("invalidated %d %s tokens for account %s", n, kind, accountID)
		}
	}

	token, err := m.repo.Tokens().CreateTx(ctx, tx, &SingleUseToken{
		AccountID: accountID,
		Kind:      kind,
		Token:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: &now,
	})
	if err != nil {
		return nil, internalError(err, "failed to store token")
	}

	return token, nil
}

// recordIssued is called once the issuing transaction committed.
func (m *TokenManager) recordIssued(ctx context.Context, token *SingleUseToken) {
	if token == nil {
		return
	}
	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventTokenIssued,
		Actor:     systemActor,
		AccountID: token.AccountID.String(),
		Metadata: map[string]any{
			"kind":       string(token.Kind),
			"expires_at": token.ExpiresAt,
		},
	})
}

// InspectTx resolves a token and checks it is still consumable without
// changing it. Expiry is checked before the used flag.
func (m *TokenManager) InspectTx(ctx context.Context, tx bun.IDB, value string, kind TokenKind) (*SingleUseToken, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, NewNotFoundError("token", "")
	}

	token, err := m.repo.Tokens().FindTx(ctx, tx, value, kind)
	if err != nil {
		return nil, internalError(err, "failed to find token")
	}

	if token.IsExpired(m.now()) {
		return nil, ErrTokenExpired
	}

	if token.IsUsed {
		return nil, ErrTokenAlreadyUsed
	}

	return token, nil
}

// ConsumeTx marks the token used. When the conditional update changes no
// row another consumer won the race and ErrTokenAlreadyUsed is returned.
func (m *TokenManager) ConsumeTx(ctx context.Context, tx bun.IDB, value string, kind TokenKind) (*SingleUseToken, error) {
	token, err := m.InspectTx(ctx, tx, value, kind)
	if err != nil {
		return nil, err
	}

	now := m.now()
	ok, err := m.repo.Tokens().MarkUsedTx(ctx, tx, token.ID, now)
	if err != nil {
		return nil, internalError(err, "failed to mark token as used")
	}
	if !ok {
		return nil, ErrTokenAlreadyUsed
	}

	token.IsUsed = true
	token.UsedAt = &now
	return token, nil
}

// Consume consumes a token in its own transaction and returns the owning account id.
func (m *TokenManager) Consume(ctx context.Context, value string, kind TokenKind) (uuid.UUID, error) {
	var token *SingleUseToken
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = m.ConsumeTx(ctx, tx, value, kind)
		return err
	})
	if err != nil {
		return uuid.Nil, internalError(err, "failed to consume token")
	}
	return token.AccountID, nil
}
