package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ScopedAccounts binds an Accounts repository to a Scope. Accounts outside
// the scope are reported NotFound, never as a different error.
type ScopedAccounts struct {
	accounts Accounts
	scope    Scope
}

func NewScopedAccounts(accounts Accounts, scope Scope) *ScopedAccounts {
	return &ScopedAccounts{accounts: accounts, scope: scope}
}

func (s *ScopedAccounts) Scope() Scope {
	return s.scope
}

// IncludingDeleted returns a facade that also sees soft-deleted accounts.
func (s *ScopedAccounts) IncludingDeleted() *ScopedAccounts {
	return &ScopedAccounts{accounts: s.accounts, scope: s.scope.IncludingDeleted()}
}

// WithScope returns a facade bound to scope.
func (s *ScopedAccounts) WithScope(scope Scope) *ScopedAccounts {
	return &ScopedAccounts{accounts: s.accounts, scope: scope}
}

func (s *ScopedAccounts) Find(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.accounts.Find(ctx, id, s.scope)
}

func (s *ScopedAccounts) FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	return s.accounts.FindTx(ctx, tx, id, s.scope)
}

func (s *ScopedAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.accounts.FindByEmail(ctx, email, s.scope)
}

func (s *ScopedAccounts) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	return s.accounts.FindByEmailTx(ctx, tx, email, s.scope)
}

func (s *ScopedAccounts) ActivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (bool, error) {
	return s.accounts.ActivateTx(ctx, tx, id, s.scope, now)
}

func (s *ScopedAccounts) SoftDeleteTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (bool, error) {
	return s.accounts.SoftDeleteTx(ctx, tx, id, s.scope, now)
}

func (s *ScopedAccounts) RestoreTx(ctx context.Context, tx bun.IDB, id uuid.UUID, now time.Time) (bool, error) {
	return s.accounts.RestoreTx(ctx, tx, id, s.scope, now)
}

func (s *ScopedAccounts) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, now time.Time) (bool, error) {
	return s.accounts.UpdatePasswordTx(ctx, tx, id, passwordHash, s.scope, now)
}

func (s *ScopedAccounts) UpdateProfileTx(ctx context.Context, tx bun.IDB, id uuid.UUID, update ProfileUpdate, now time.Time) (bool, error) {
	return s.accounts.UpdateProfileTx(ctx, tx, id, update, s.scope, now)
}
