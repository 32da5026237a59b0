package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RequestActivationMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *RequestActivationResponse)
}

func (e RequestActivationMessage) Type() string { return "account.activation.request" }

func (e RequestActivationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, emailRules...),
	)
}

type RequestActivationResponse struct {
	Account   *Account
	Delivered bool
}

// RequestActivationHandler issues a fresh activation token for a pending account.
type RequestActivationHandler struct {
	repo    RepositoryManager
	tokens  *TokenManager
	cfg     Config
	limiter Limiter
	dispatcher
}

func NewRequestActivationHandler(repo RepositoryManager, tokens *TokenManager, cfg Config) *RequestActivationHandler {
	return &RequestActivationHandler{
		repo:       repo,
		tokens:     tokens,
		cfg:        cfg,
		limiter:    noopLimiter{},
		dispatcher: newDispatcher(),
	}
}

func (h *RequestActivationHandler) WithMailer(mailer Mailer) *RequestActivationHandler {
	if mailer != nil {
		h.mailer = mailer
	}
	return h
}

func (h *RequestActivationHandler) WithLimiter(limiter Limiter) *RequestActivationHandler {
	if limiter != nil {
		h.limiter = limiter
	}
	return h
}

func (h *RequestActivationHandler) WithActivitySink(sink ActivitySink) *RequestActivationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RequestActivationHandler) WithLogger(logger Logger) *RequestActivationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestActivationHandler) Execute(ctx context.Context, event RequestActivationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during activation request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestActivationHandler) execute(ctx context.Context, event RequestActivationMessage) error {
	if err := event.Validate(); err != nil {
		return validationError(err)
	}

	if err := allow(ctx, h.limiter, h.logger, "activation:"+NormalizeEmail(event.Email)); err != nil {
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
			return err
		}

		if account.IsActive {
			return ErrAlreadyActive
		}

		token, err = h.tokens.IssueTx(ctx, tx, account.ID, TokenKindActivation, h.cfg.GetActivationTokenTTL())
		return err
	})

	if err != nil {
		return internalError(err, "failed to issue activation token")
	}

	h.tokens.recordIssued(ctx, token)

	resp := &RequestActivationResponse{
		Account:   account,
		Delivered: h.deliver(ctx, account, token),
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// allow consults the limiter. Limiter failures are logged and fail open.
func allow(ctx context.Context, limiter Limiter, logger Logger, key string) error {
	if limiter == nil {
		return nil
	}
	ok, err := limiter.Allow(ctx, key)
	if err != nil {
		normalizeLogger(logger).Error("rate limiter unavailable, allowing request: key=%s err=%v", key, err)
		return nil
	}
	if !ok {
		return ErrTooManyRequests
	}
	return nil
}
