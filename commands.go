package auth

import (
	"github.com/goliatone/go-command"
)

var (
	_ command.Commander[RegisterAccountMessage]         = (*RegisterAccountHandler)(nil)
	_ command.Commander[RequestActivationMessage]       = (*RequestActivationHandler)(nil)
	_ command.Commander[ActivateAccountMessage]         = (*ActivateAccountHandler)(nil)
	_ command.Commander[InitializePasswordResetMessage] = (*InitializePasswordResetHandler)(nil)
	_ command.Commander[FinalizePasswordResetMessage]   = (*FinalizePasswordResetHandler)(nil)
	_ command.Commander[UpdateAccountMessage]           = (*UpdateAccountHandler)(nil)
)
