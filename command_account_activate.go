package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type ActivateAccountMessage struct {
	// AccountID is optional, the token identifies the account on its own.
	AccountID  uuid.UUID `json:"account_id"`
	Token      string    `json:"token"`
	OnResponse func(account *Account)
}

func (e ActivateAccountMessage) Type() string { return "account.activate" }

type ActivateAccountHandler struct {
	machine *AccountStateMachine
}

func NewActivateAccountHandler(machine *AccountStateMachine) *ActivateAccountHandler {
	return &ActivateAccountHandler{machine: machine}
}

func (h *ActivateAccountHandler) Execute(ctx context.Context, event ActivateAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account activation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivateAccountHandler) execute(ctx context.Context, event ActivateAccountMessage) error {
	if strings.TrimSpace(event.Token) == "" {
		return NewValidationError("token", "cannot be blank")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var (
		account *Account
		err     error
	)
	if event.AccountID == uuid.Nil {
		account, err = h.machine.ActivateWithToken(ctx, event.Token)
	} else {
		account, err = h.machine.Activate(ctx, event.AccountID, event.Token)
	}
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(account)
	}
	return nil
}
