package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// PasswordResetRequestedMessage is the reply shown for every reset request,
// known email or not.
const PasswordResetRequestedMessage = "if the email is registered, a reset link is on its way"

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "account.password_reset.initialize" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, emailRules...),
	)
}

type InitializePasswordResetResponse struct {
	Message   string
	Delivered bool
}

// InitializePasswordResetHandler issues a reset token and mails it. Unknown
// or deleted emails succeed silently so callers cannot enumerate accounts.
type InitializePasswordResetHandler struct {
	repo    RepositoryManager
	tokens  *TokenManager
	cfg     Config
	limiter Limiter
	dispatcher
}

func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *TokenManager, cfg Config) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:       repo,
		tokens:     tokens,
		cfg:        cfg,
		limiter:    noopLimiter{},
		dispatcher: newDispatcher(),
	}
}

func (h *InitializePasswordResetHandler) WithMailer(mailer Mailer) *InitializePasswordResetHandler {
	if mailer != nil {
		h.mailer = mailer
	}
	return h
}

func (h *InitializePasswordResetHandler) WithLimiter(limiter Limiter) *InitializePasswordResetHandler {
	if limiter != nil {
		h.limiter = limiter
	}
	return h
}

func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return validationError(err)
	}

	if err := allow(ctx, h.limiter, h.logger, "reset:"+NormalizeEmail(event.Email)); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var (
		account *Account
		token   *SingleUseToken
	)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = h.repo.Accounts().FindByEmailTx(ctx, tx, event.Email, AnyRole())
		if err != nil {
			if IsNotFound(err) {
				account = nil
				return nil
			}
			return err
		}

		token, err = h.tokens.IssueTx(ctx, tx, account.ID, TokenKindReset, h.cfg.GetResetTokenTTL())
		return err
	})

	if err != nil {
		return internalError(err, "failed to initialize password reset")
	}

	resp := &InitializePasswordResetResponse{Message: PasswordResetRequestedMessage}

	if account == nil {
		h.logger.Debug("password reset requested for unknown email")
	} else {
		h.tokens.recordIssued(ctx, token)
		resp.Delivered = h.deliver(ctx, account, token)
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
