package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	actor  ActorRef
	reason string
}

// WithActor records who requested the transition.
func WithActor(actor ActorRef) TransitionOption {
	return func(o *transitionOptions) {
		o.actor = actor
	}
}

// WithReason attaches a free form reason to the activity event.
func WithReason(reason string) TransitionOption {
	return func(o *transitionOptions) {
		o.reason = reason
	}
}

func resolveTransitionOptions(ctx context.Context, opts []TransitionOption) transitionOptions {
	o := transitionOptions{actor: systemActor}
	if actor, ok := ActorFromContext(ctx); ok {
		o.actor = actor
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// AccountStateMachine governs pending, active and soft-deleted accounts. Each
// transition runs in one transaction and relies on conditional updates.
type AccountStateMachine struct {
	repo      RepositoryManager
	tokens    *TokenManager
	accounts  *ScopedAccounts
	passwords PasswordAuthenticator
	now       func() time.Time
	logger    Logger
	activity  ActivitySink
}

type StateMachineOption func(*AccountStateMachine)

func WithStateMachineClock(now func() time.Time) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if now != nil {
			sm.now = now
		}
	}
}

// WithStateMachineScope sets the visibility used by every transition.
func WithStateMachineScope(scope Scope) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.accounts = sm.accounts.WithScope(scope)
	}
}

func WithStateMachinePasswords(p PasswordAuthenticator) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if p != nil {
			sm.passwords = p
		}
	}
}

func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.logger = normalizeLogger(logger)
	}
}

func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.activity = normalizeActivitySink(sink)
	}
}

func NewAccountStateMachine(repo RepositoryManager, tokens *TokenManager, opts ...StateMachineOption) *AccountStateMachine {
	sm := &AccountStateMachine{
		repo:      repo,
		tokens:    tokens,
		accounts:  NewScopedAccounts(repo.Accounts(), AnyRole()),
		passwords: bcryptPasswords{},
		now:       time.Now,
		logger:    defLogger{},
		activity:  noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}
	return sm
}

// WithScope returns a copy of the machine bound to scope.
func (sm *AccountStateMachine) WithScope(scope Scope) *AccountStateMachine {
	clone := *sm
	clone.accounts = sm.accounts.WithScope(scope)
	return &clone
}

func (sm *AccountStateMachine) Scope() Scope {
	return sm.accounts.Scope()
}

// Activate consumes an activation token issued for accountID and marks the
// account active. The token is checked first; an already active account
// fails with ErrAlreadyActive before the token is touched.
func (sm *AccountStateMachine) Activate(ctx context.Context, accountID uuid.UUID, tokenValue string, opts ...TransitionOption) (*Account, error) {
	return sm.activate(ctx, &accountID, tokenValue, opts...)
}

// ActivateWithToken resolves the account from the token itself.
func (sm *AccountStateMachine) ActivateWithToken(ctx context.Context, tokenValue string, opts ...TransitionOption) (*Account, error) {
	return sm.activate(ctx, nil, tokenValue, opts...)
}

func (sm *AccountStateMachine) activate(ctx context.Context, accountID *uuid.UUID, tokenValue string, opts ...TransitionOption) (*Account, error) {
	var account *Account

	err := sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := sm.tokens.InspectTx(ctx, tx, tokenValue, TokenKindActivation)
		if err != nil {
			return err
		}

		if accountID != nil && token.AccountID != *accountID {
			return NewNotFoundError("token", MaskToken(tokenValue))
		}

		account, err = sm.accounts.FindTx(ctx, tx, token.AccountID)
		if err != nil {
			return err
		}

		if account.IsActive {
			return ErrAlreadyActive
		}

		if _, err := sm.tokens.ConsumeTx(ctx, tx, tokenValue, TokenKindActivation); err != nil {
			return err
		}

		now := sm.now()
		ok, err := sm.accounts.ActivateTx(ctx, tx, account.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyActive
		}

		account.IsActive = true
		account.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, internalError(err, "failed to activate account")
	}

	sm.record(ctx, ActivityEventAccountActivated, account, StatePendingActivation, StateActive, resolveTransitionOptions(ctx, opts))
	return account, nil
}

// SoftDelete stamps deletedAt. Pending and active accounts can both be deleted.
func (sm *AccountStateMachine) SoftDelete(ctx context.Context, accountID uuid.UUID, opts ...TransitionOption) (*Account, error) {
	var (
		account *Account
		from    AccountState
	)

	err := sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = sm.accounts.IncludingDeleted().FindTx(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if account.IsDeleted() {
			return ErrAlreadyDeleted
		}
		from = account.State()

		now := sm.now()
		ok, err := sm.accounts.SoftDeleteTx(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyDeleted
		}

		account.DeletedAt = &now
		account.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, internalError(err, "failed to soft delete account")
	}

	sm.record(ctx, ActivityEventAccountSoftDeleted, account, from, StateSoftDeleted, resolveTransitionOptions(ctx, opts))
	return account, nil
}

// Restore clears deletedAt. isActive is left as it was before deletion.
func (sm *AccountStateMachine) Restore(ctx context.Context, accountID uuid.UUID, opts ...TransitionOption) (*Account, error) {
	var account *Account

	err := sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = sm.accounts.IncludingDeleted().FindTx(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if !account.IsDeleted() {
			return ErrNotDeleted
		}

		now := sm.now()
		ok, err := sm.accounts.RestoreTx(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDeleted
		}

		account.DeletedAt = nil
		account.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, internalError(err, "failed to restore account")
	}

	sm.record(ctx, ActivityEventAccountRestored, account, StateSoftDeleted, account.State(), resolveTransitionOptions(ctx, opts))
	return account, nil
}

// ResetPassword consumes a reset token and stores the new password hash in
// the same transaction. Open sessions are revoked.
func (sm *AccountStateMachine) ResetPassword(ctx context.Context, tokenValue, newPassword string, opts ...TransitionOption) (*Account, error) {
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}

	passwordHash, err := sm.passwords.HashPassword(newPassword)
	if err != nil {
		return nil, internalError(err, "failed to hash password")
	}

	var account *Account
	err = sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := sm.tokens.ConsumeTx(ctx, tx, tokenValue, TokenKindReset)
		if err != nil {
			return err
		}

		now := sm.now()
		ok, err := sm.accounts.UpdatePasswordTx(ctx, tx, token.AccountID, passwordHash, now)
		if err != nil {
			return err
		}
		if !ok {
			return NewNotFoundError("account", token.AccountID.String())
		}

		if _, err := sm.repo.Accounts().SetRefreshTokenTx(ctx, tx, token.AccountID, "", now); err != nil {
			return err
		}

		account, err = sm.accounts.FindTx(ctx, tx, token.AccountID)
		return err
	})
	if err != nil {
		return nil, internalError(err, "failed to reset password")
	}

	o := resolveTransitionOptions(ctx, opts)
	if o.actor == systemActor {
		o.actor = ActorRef{ID: account.ID.String(), Type: "account"}
	}
	recordActivity(ctx, sm.activity, sm.logger, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		Actor:     o.actor,
		AccountID: account.ID.String(),
	})
	return account, nil
}

func (sm *AccountStateMachine) record(ctx context.Context, eventType ActivityEventType, account *Account, from, to AccountState, o transitionOptions) {
	if account == nil {
		return
	}
	event := ActivityEvent{
		EventType: eventType,
		Actor:     o.actor,
		AccountID: account.ID.String(),
		FromState: from,
		ToState:   to,
	}
	if o.reason != "" {
		event.Metadata = map[string]any{"reason": o.reason}
	}
	recordActivity(ctx, sm.activity, sm.logger, event)
}
