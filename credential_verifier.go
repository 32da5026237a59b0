package auth

import (
	"context"
	"strings"
)

// CredentialVerifier checks an email/password pair against the stored hash.
type CredentialVerifier struct {
	accounts  Accounts
	scope     Scope
	passwords PasswordAuthenticator
	logger    Logger
}

type VerifierOption func(*CredentialVerifier)

// WithVerifierScope restricts which accounts can authenticate, e.g. admins only.
func WithVerifierScope(scope Scope) VerifierOption {
	return func(v *CredentialVerifier) {
		v.scope = scope
	}
}

func WithPasswordAuthenticator(p PasswordAuthenticator) VerifierOption {
	return func(v *CredentialVerifier) {
		if p != nil {
			v.passwords = p
		}
	}
}

func WithVerifierLogger(logger Logger) VerifierOption {
	return func(v *CredentialVerifier) {
		v.logger = normalizeLogger(logger)
	}
}

func NewCredentialVerifier(repo RepositoryManager, opts ...VerifierOption) *CredentialVerifier {
	v := &CredentialVerifier{
		accounts:  repo.Accounts(),
		scope:     AnyRole(),
		passwords: bcryptPasswords{},
		logger:    defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify returns the account matching email and password. A missing account
// and a wrong password both fail with ErrUnauthorized.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*Account, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrUnauthorized
	}

	account, err := v.accounts.FindByEmail(ctx, email, v.scope)
	if err != nil {
		if IsNotFound(err) {
			compareDecoy(password)
			return nil, ErrUnauthorized
		}
		return nil, internalError(err, "failed to look up account")
	}

	if err := v.passwords.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if !HasTextCode(err, TextCodeInvalidCredentials) {
			v.logger.Warn("password comparison failed for account %s: %v", account.ID, err)
		}
		return nil, ErrUnauthorized
	}

	return account, nil
}
