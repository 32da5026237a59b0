package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterAccountMessage struct {
	Email             string   `json:"email"`
	Password          string   `json:"password"`
	ConfirmPassword   string   `json:"confirm_password"`
	ProfilePictureURL string   `json:"profile_picture_url"`
	Role              RoleName `json:"-"`
	UseHashid         bool     `json:"-"`
	OnResponse        func(resp *RegisterAccountResponse)
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

func (e RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, emailRules...),
		validation.Field(&e.Password, passwordRules...),
		validation.Field(&e.ConfirmPassword, validation.Required),
		validation.Field(&e.ProfilePictureURL, validation.Length(0, 2048)),
	)
}

type RegisterAccountResponse struct {
	Account   *Account
	Delivered bool
}

// RegisterAccountHandler creates a pending account and its activation token
// in one transaction, then mails the token.
type RegisterAccountHandler struct {
	repo   RepositoryManager
	tokens *TokenManager
	cfg    Config
	dispatcher
}

func NewRegisterAccountHandler(repo RepositoryManager, tokens *TokenManager, cfg Config) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		repo:       repo,
		tokens:     tokens,
		cfg:        cfg,
		dispatcher: newDispatcher(),
	}
}

func (h *RegisterAccountHandler) WithMailer(mailer Mailer) *RegisterAccountHandler {
	if mailer != nil {
		h.mailer = mailer
	}
	return h
}

func (h *RegisterAccountHandler) WithActivitySink(sink ActivitySink) *RegisterAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RegisterAccountHandler) WithLogger(logger Logger) *RegisterAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	if err := event.Validate(); err != nil {
		return validationError(err)
	}

	if event.Password != event.ConfirmPassword {
		return ErrPasswordMismatch
	}

	role := event.Role
	if role == "" {
		role = RoleDefault
	}
	if !role.IsValid() {
		return NewValidationError("role", "unknown role")
	}

	passwordHash, err := HashPassword(event.Password)
	if err != nil {
		return internalError(err, "failed to hash password")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var (
		account *Account
		token   *SingleUseToken
	)

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := h.repo.Accounts().EmailExistsTx(ctx, tx, event.Email)
		if err != nil {
			return err
		}
		if exists {
			return ErrEmailExists
		}

		r, err := h.repo.Roles().GetByNameTx(ctx, tx, role)
		if err != nil {
			return err
		}

		record := &Account{
			RoleID:            r.ID,
			Email:             event.Email,
			PasswordHash:      passwordHash,
			ProfilePictureURL: event.ProfilePictureURL,
			IsActive:          false,
		}
		if event.UseHashid {
			if id, err := hashid.NewUUID(NormalizeEmail(event.Email)); err == nil {
				record.ID = id
			}
		}

		if account, err = h.repo.Accounts().CreateTx(ctx, tx, record); err != nil {
			if isUniqueViolation(err) {
				return ErrEmailExists
			}
			return err
		}

		token, err = h.tokens.IssueTx(ctx, tx, account.ID, TokenKindActivation, h.cfg.GetActivationTokenTTL())
		return err
	})

	if err != nil {
		return internalError(err, "account registration transaction failed")
	}

	h.tokens.recordIssued(ctx, token)
	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     systemActor,
		AccountID: account.ID.String(),
		ToState:   StatePendingActivation,
		Metadata: map[string]any{
			"role": string(role),
		},
	})

	resp := &RegisterAccountResponse{
		Account:   account,
		Delivered: h.deliver(ctx, account, token),
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
