package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionTokens is the result of a login or refresh.
type SessionTokens struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

// SessionIssuer mints access/refresh pairs and keeps the single live refresh
// reference on the account row.
type SessionIssuer struct {
	repo     RepositoryManager
	access   *TokenSigner
	refresh  *TokenSigner
	verifier *CredentialVerifier
	now      func() time.Time
	logger   Logger
	activity ActivitySink
}

type SessionOption func(*SessionIssuer)

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionIssuer) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSessionVerifier(v *CredentialVerifier) SessionOption {
	return func(s *SessionIssuer) {
		if v != nil {
			s.verifier = v
		}
	}
}

func WithSessionLogger(logger Logger) SessionOption {
	return func(s *SessionIssuer) {
		s.logger = normalizeLogger(logger)
	}
}

func WithSessionActivitySink(sink ActivitySink) SessionOption {
	return func(s *SessionIssuer) {
		s.activity = normalizeActivitySink(sink)
	}
}

func NewSessionIssuer(repo RepositoryManager, cfg Config, opts ...SessionOption) *SessionIssuer {
	s := &SessionIssuer{
		repo:     repo,
		access:   NewTokenSigner(cfg.GetAccessTokenSecret(), cfg.GetAccessTokenTTL(), cfg.GetIssuer()),
		refresh:  NewTokenSigner(cfg.GetRefreshTokenSecret(), cfg.GetRefreshTokenTTL(), cfg.GetIssuer()),
		now:      time.Now,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.verifier == nil {
		s.verifier = NewCredentialVerifier(repo, WithVerifierLogger(s.logger))
	}
	return s
}

// Login signs a new token pair and overwrites the stored refresh reference.
// Tokens are only returned once that write succeeded.
func (s *SessionIssuer) Login(ctx context.Context, account *Account) (*SessionTokens, error) {
	if account == nil {
		return nil, NewValidationError("account", "required")
	}

	tokens, err := s.sign(account.ID)
	if err != nil {
		return nil, internalError(err, "failed to sign session tokens")
	}

	ok, err := s.repo.Accounts().SetRefreshToken(ctx, account.ID, HashRefreshToken(tokens.RefreshToken), s.now())
	if err != nil {
		return nil, internalError(err, "failed to persist refresh token")
	}
	if !ok {
		return nil, NewNotFoundError("account", account.ID.String())
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
	})

	return tokens, nil
}

// Authenticate verifies credentials and logs the account in. Pending
// accounts are refused with ErrAccountPending.
func (s *SessionIssuer) Authenticate(ctx context.Context, email, password string) (*Account, *SessionTokens, error) {
	account, err := s.verifier.Verify(ctx, email, password)
	if err != nil {
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "anonymous"},
			Metadata: map[string]any{
				"reason": "invalid_credentials",
			},
		})
		return nil, nil, err
	}

	if !account.IsActive {
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
			AccountID: account.ID.String(),
			Metadata: map[string]any{
				"reason": "pending_activation",
			},
		})
		return nil, nil, ErrAccountPending
	}

	tokens, err := s.Login(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return account, tokens, nil
}

// Logout clears the refresh reference. Logging out twice is not an error.
func (s *SessionIssuer) Logout(ctx context.Context, accountID uuid.UUID) error {
	if _, err := s.repo.Accounts().SetRefreshToken(ctx, accountID, "", s.now()); err != nil {
		return internalError(err, "failed to clear refresh token")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor:     ActorRef{ID: accountID.String(), Type: "account"},
		AccountID: accountID.String(),
	})
	return nil
}

// Refresh rotates a session. The presented refresh token must be the one
// currently stored; the swap is a compare-and-set so a reused token loses.
func (s *SessionIssuer) Refresh(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	claims, err := s.refresh.Validate(refreshToken, s.now())
	if err != nil {
		return nil, err
	}
	accountID, _ := claims.AccountID()

	var tokens *SessionTokens
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := s.repo.Accounts().FindTx(ctx, tx, accountID, AnyRole())
		if err != nil {
			if IsNotFound(err) {
				return ErrInvalidSession
			}
			return err
		}

		current := HashRefreshToken(refreshToken)
		if account.RefreshTokenRef == "" || subtle.ConstantTimeCompare([]byte(current), []byte(account.RefreshTokenRef)) != 1 {
			return ErrInvalidSession
		}

		tokens, err = s.sign(account.ID)
		if err != nil {
			return err
		}

		ok, err := s.repo.Accounts().RotateRefreshTokenTx(ctx, tx, account.ID, current, HashRefreshToken(tokens.RefreshToken), s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidSession
		}
		return nil
	})
	if err != nil {
		return nil, internalError(err, "failed to refresh session")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventSessionRefreshed,
		Actor:     ActorRef{ID: accountID.String(), Type: "account"},
		AccountID: accountID.String(),
	})

	return tokens, nil
}

// Authorize validates an access token and returns the account id it carries.
func (s *SessionIssuer) Authorize(accessToken string) (uuid.UUID, error) {
	claims, err := s.access.Validate(accessToken, s.now())
	if err != nil {
		return uuid.Nil, err
	}
	return claims.AccountID()
}

func (s *SessionIssuer) sign(accountID uuid.UUID) (*SessionTokens, error) {
	now := s.now()

	accessToken, accessExpiry, err := s.access.Sign(accountID, now)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshExpiry, err := s.refresh.Sign(accountID, now)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// HashRefreshToken returns the stored reference for a refresh token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
