package auth

import (
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// bcrypt ignores input past 72 bytes.
var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(8, 72),
}

var emailRules = []validation.Rule{
	validation.Required,
	validation.Length(3, 254),
	is.Email,
}

func validatePassword(password string) error {
	if err := validation.Validate(password, passwordRules...); err != nil {
		return validationError(validation.Errors{"password": err})
	}
	return nil
}

func validateEmail(email string) error {
	if err := validation.Validate(email, emailRules...); err != nil {
		return validationError(validation.Errors{"email": err})
	}
	return nil
}
