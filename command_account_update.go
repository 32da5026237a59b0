package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UpdateAccountMessage changes profile fields. Nil fields are left as is, an
// empty ProfilePictureURL clears the picture.
type UpdateAccountMessage struct {
	AccountID         uuid.UUID `json:"-"`
	Email             *string   `json:"email,omitempty"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	OnResponse        func(account *Account)
}

func (e UpdateAccountMessage) Type() string { return "account.update" }

func (e UpdateAccountMessage) Validate() error {
	if e.AccountID == uuid.Nil {
		return NewValidationError("id", "cannot be blank")
	}
	if e.Email == nil && e.ProfilePictureURL == nil {
		return NewValidationError("body", "nothing to update")
	}
	if e.Email != nil {
		if err := validateEmail(NormalizeEmail(*e.Email)); err != nil {
			return err
		}
	}
	if e.ProfilePictureURL != nil {
		err := validation.Validate(*e.ProfilePictureURL, validation.Length(0, 2048), is.URL)
		if err != nil {
			return validationError(validation.Errors{"profile_picture_url": err})
		}
	}
	return nil
}

// UpdateAccountHandler edits the profile of an account visible through its
// scope. Soft-deleted accounts are read only.
type UpdateAccountHandler struct {
	repo     RepositoryManager
	accounts *ScopedAccounts
	now      func() time.Time
	logger   Logger
	activity ActivitySink
}

func NewUpdateAccountHandler(repo RepositoryManager, scope Scope) *UpdateAccountHandler {
	return &UpdateAccountHandler{
		repo:     repo,
		accounts: NewScopedAccounts(repo.Accounts(), scope),
		now:      time.Now,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
}

// WithScope returns a copy of the handler bound to scope.
func (h *UpdateAccountHandler) WithScope(scope Scope) *UpdateAccountHandler {
	clone := *h
	clone.accounts = h.accounts.WithScope(scope)
	return &clone
}

func (h *UpdateAccountHandler) WithClock(now func() time.Time) *UpdateAccountHandler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *UpdateAccountHandler) WithLogger(logger Logger) *UpdateAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *UpdateAccountHandler) WithActivitySink(sink ActivitySink) *UpdateAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *UpdateAccountHandler) Execute(ctx context.Context, event UpdateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account update",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateAccountHandler) execute(ctx context.Context, event UpdateAccountMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	now := h.now()
	var (
		account *Account
		changed []string
	)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := h.accounts.FindTx(ctx, tx, event.AccountID)
		if err != nil {
			return err
		}
		if current.IsDeleted() {
			return ErrAlreadyDeleted
		}

		update := ProfileUpdate{}
		if event.Email != nil {
			email := NormalizeEmail(*event.Email)
			if email != current.Email {
				// soft-deleted rows keep their address
				exists, err := h.repo.Accounts().EmailExistsTx(ctx, tx, email)
				if err != nil {
					return err
				}
				if exists {
					return ErrEmailExists
				}
				update.Email = &email
				changed = append(changed, "email")
			}
		}
		if event.ProfilePictureURL != nil && *event.ProfilePictureURL != current.ProfilePictureURL {
			update.ProfilePictureURL = event.ProfilePictureURL
			changed = append(changed, "profile_picture_url")
		}

		if update.IsEmpty() {
			account = current
			return nil
		}

		ok, err := h.accounts.UpdateProfileTx(ctx, tx, current.ID, update, now)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailExists
			}
			return err
		}
		if !ok {
			return NewNotFoundError("account", current.ID.String())
		}

		account, err = h.accounts.FindTx(ctx, tx, current.ID)
		return err
	})

	if err != nil {
		return internalError(err, "account update transaction failed")
	}

	if len(changed) > 0 {
		actor := systemActor
		if a, ok := ActorFromContext(ctx); ok {
			actor = a
		}
		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType:  ActivityEventAccountUpdated,
			Actor:      actor,
			AccountID:  account.ID.String(),
			FromState:  account.State(),
			ToState:    account.State(),
			OccurredAt: now,
			Metadata: map[string]any{
				"fields": changed,
			},
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(account)
	}
	return nil
}
