package auth

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeInvalidSession     = "INVALID_SESSION"
	TextCodeAccountNotActive   = "ACCOUNT_NOT_ACTIVE"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeAlreadyActive      = "ACCOUNT_ALREADY_ACTIVE"
	TextCodeAlreadyDeleted     = "ACCOUNT_ALREADY_DELETED"
	TextCodeNotDeleted         = "ACCOUNT_NOT_DELETED"
	TextCodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeEmailExists        = "EMAIL_EXISTS"
	TextCodePasswordMismatch   = "PASSWORD_MISMATCH"
	TextCodeValidationFailed   = "VALIDATION_FAILED"
	TextCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	TextCodeInternal           = "INTERNAL_ERROR"
)

// ErrUnauthorized is returned for any credential failure. Unknown emails
// and wrong passwords are reported with the same error.
var ErrUnauthorized = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidSession is returned for missing, malformed, expired or revoked
// session tokens.
var ErrInvalidSession = goerrors.New("session is invalid or has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountPending is returned when a pending account tries to open a session.
var ErrAccountPending = goerrors.New("account has not been activated", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountNotActive).
	WithCode(goerrors.CodeForbidden)

// ErrForbidden is returned when the caller's role does not grant the operation.
var ErrForbidden = goerrors.New("operation not allowed for this account", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrAlreadyActive = goerrors.New("account is already active", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyActive).
	WithCode(goerrors.CodeConflict)

var ErrAlreadyDeleted = goerrors.New("account is already deleted", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyDeleted).
	WithCode(goerrors.CodeConflict)

var ErrNotDeleted = goerrors.New("account is not deleted", goerrors.CategoryConflict).
	WithTextCode(TextCodeNotDeleted).
	WithCode(goerrors.CodeConflict)

var ErrTokenAlreadyUsed = goerrors.New("token has already been used", goerrors.CategoryConflict).
	WithTextCode(TextCodeTokenAlreadyUsed).
	WithCode(goerrors.CodeConflict)

var ErrEmailExists = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailExists).
	WithCode(goerrors.CodeConflict)

var ErrPasswordMismatch = goerrors.New("password and confirmation do not match", goerrors.CategoryBadInput).
	WithTextCode(TextCodePasswordMismatch).
	WithCode(goerrors.CodeBadRequest)

var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeTokenExpired).
	WithCode(http.StatusGone)

var ErrTooManyRequests = goerrors.New("too many requests, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyRequests).
	WithCode(http.StatusTooManyRequests)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// NewNotFoundError builds a NotFound error for the given entity and id.
func NewNotFoundError(entity, id string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("%s not found", entity), goerrors.CategoryNotFound).
		WithTextCode(strings.ToUpper(entity) + "_NOT_FOUND").
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{
			"entity": entity,
			"id":     id,
		})
}

// NewValidationError builds a Validation error for a single field.
func NewValidationError(field, reason string) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("%s: %s", field, reason), goerrors.CategoryValidation).
		WithTextCode(TextCodeValidationFailed).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"field":  field,
			"reason": reason,
		})
}

// validationError converts ozzo validation errors into a rich Validation error.
// The first failing field (alphabetically) is reported as field/reason and
// every failure is kept under "fields".
func validationError(err error) error {
	if err == nil {
		return nil
	}

	errs, ok := err.(validation.Errors)
	if !ok || len(errs) == 0 {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid input").
			WithTextCode(TextCodeValidationFailed).
			WithCode(goerrors.CodeBadRequest)
	}

	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]any, len(errs))
	for _, name := range names {
		fields[name] = errs[name].Error()
	}

	first := names[0]
	return goerrors.New(fmt.Sprintf("%s: %s", first, errs[first].Error()), goerrors.CategoryValidation).
		WithTextCode(TextCodeValidationFailed).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"field":  first,
			"reason": errs[first].Error(),
			"fields": fields,
		})
}

// internalError wraps unexpected failures. Rich errors pass through untouched
// so domain classification survives transaction boundaries.
func internalError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeInternal).
		WithCode(goerrors.CodeInternal)
}

// HasTextCode reports whether err is a rich error carrying the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsNotFound reports whether err classifies as NotFound.
func IsNotFound(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return false
}

// StatusCode resolves the HTTP status for err. Unclassified errors are 500.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// isUniqueViolation reports whether err is a unique constraint failure raised
// by postgres or sqlite.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if goerrors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}

	return false
}
