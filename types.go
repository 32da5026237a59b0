package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetAccessTokenSecret() string
	GetRefreshTokenSecret() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetActivationTokenTTL() time.Duration
	GetResetTokenTTL() time.Duration
	GetIssuer() string
	GetAccessCookieName() string
	GetRefreshCookieName() string
	// GetSecureCookies is false only in non-production environments
	GetSecureCookies() bool
}

// Notification is an out-of-band message carrying a single-use token.
type Notification struct {
	Kind      TokenKind `json:"kind"`
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Mailer delivers notifications. Implementations may send synchronously or
// hand the message to a queue.
type Mailer interface {
	Send(ctx context.Context, n Notification) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, n Notification) error

func (f MailerFunc) Send(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// Limiter gates repeated requests for the same key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type noopLimiter struct{}

func (noopLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

// MaskToken keeps a short prefix of a token for diagnostics.
func MaskToken(token string) string {
	if len(token) <= 6 {
		return "******"
	}
	return token[:6] + "******"
}
