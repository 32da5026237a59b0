package auth

import (
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

const (
	// LocalsAccountIDKey holds the authenticated account id on the request.
	LocalsAccountIDKey = "auth.account_id"
	// LocalsAccountKey holds the authenticated *Account once RequireRole loaded it.
	LocalsAccountKey = "auth.account"
)

// SessionCookies builds the access and refresh cookies for a token pair.
// Expiry is issue time plus the configured TTL for each token.
func SessionCookies(tokens *SessionTokens, cfg Config) []*router.Cookie {
	if tokens == nil {
		return nil
	}
	return []*router.Cookie{
		sessionCookie(cfg.GetAccessCookieName(), tokens.AccessToken, tokens.AccessExpiry, cfg.GetSecureCookies()),
		sessionCookie(cfg.GetRefreshCookieName(), tokens.RefreshToken, tokens.RefreshExpiry, cfg.GetSecureCookies()),
	}
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(cfg Config) []*router.Cookie {
	past := time.Now().Add(-time.Hour * (24 * 365))
	return []*router.Cookie{
		sessionCookie(cfg.GetAccessCookieName(), "", past, cfg.GetSecureCookies()),
		sessionCookie(cfg.GetRefreshCookieName(), "", past, cfg.GetSecureCookies()),
	}
}

func sessionCookie(name, value string, expires time.Time, secure bool) *router.Cookie {
	return &router.Cookie{
		Name:     name,
		Value:    value,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   secure,
		SameSite: "Lax",
	}
}

func setCookies(c router.Context, cookies []*router.Cookie) {
	for _, cookie := range cookies {
		c.Cookie(cookie)
	}
}

// RequireSession authorizes the access token found in the access cookie or
// in a bearer Authorization header.
func RequireSession(sessions *SessionIssuer, cfg Config, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			token := c.Cookies(cfg.GetAccessCookieName())
			if token == "" {
				token = bearerToken(c.Header("Authorization"))
			}
			if token == "" {
				return WriteError(c, logger, ErrInvalidSession)
			}

			accountID, err := sessions.Authorize(token)
			if err != nil {
				return WriteError(c, logger, err)
			}

			c.Locals(LocalsAccountIDKey, accountID)
			return next(c)
		}
	}
}

// RequireRole loads the session account and refuses callers whose role is
// not in roles. It must run after RequireSession.
func RequireRole(repo RepositoryManager, logger Logger, roles ...RoleName) router.MiddlewareFunc {
	logger = normalizeLogger(logger)
	scope := RoleScope(roles...)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			accountID, ok := AccountIDFromContext(c)
			if !ok {
				return WriteError(c, logger, ErrInvalidSession)
			}

			account, err := repo.Accounts().Find(c.Context(), accountID, scope)
			if err != nil {
				if IsNotFound(err) {
					return WriteError(c, logger, ErrForbidden)
				}
				return WriteError(c, logger, internalError(err, "failed to load session account"))
			}

			c.Locals(LocalsAccountKey, account)
			return next(c)
		}
	}
}

// AccountIDFromContext returns the account id stored by RequireSession.
func AccountIDFromContext(c router.Context) (uuid.UUID, bool) {
	id, ok := c.Locals(LocalsAccountIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message  string         `json:"message"`
	TextCode string         `json:"text_code"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// WriteError renders err as JSON with the status code resolved by StatusCode.
// Server errors only expose a generic message; details go to the log.
func WriteError(c router.Context, logger Logger, err error) error {
	logger = normalizeLogger(logger)

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "an unexpected server error occurred").
			WithTextCode(TextCodeInternal).
			WithCode(goerrors.CodeInternal)
	}

	status := StatusCode(richErr)
	body := ErrorBody{
		Message:  richErr.Message,
		TextCode: richErr.TextCode,
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed: %v details=%s", err, print.MaybePrettyJSON(richErr.Metadata))
		body.Message = "an unexpected server error occurred"
		body.TextCode = TextCodeInternal
	} else {
		logger.Debug("request rejected: category=%s text_code=%s", richErr.Category, richErr.TextCode)
		body.Metadata = richErr.Metadata
	}

	return c.JSON(status, ErrorResponse{Error: body})
}
