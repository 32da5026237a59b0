package auth

import (
	"context"
	"strings"
)

// logMailer is the default Mailer. It only logs a masked token.
type logMailer struct {
	logger Logger
}

// NewLogMailer returns a Mailer that only logs, for development setups
// without SMTP.
func NewLogMailer(logger Logger) Mailer {
	return logMailer{logger: logger}
}

func (m logMailer) Send(_ context.Context, n Notification) error {
	normalizeLogger(m.logger).Info("mail %s for %s token=%s expires=%s",
		strings.ToLower(string(n.Kind)), n.Email, MaskToken(n.Token), n.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// dispatcher delivers notifications after the issuing transaction committed.
// Delivery errors never propagate: the token stays valid and can be resent.
type dispatcher struct {
	mailer   Mailer
	logger   Logger
	activity ActivitySink
}

func newDispatcher() dispatcher {
	return dispatcher{
		mailer:   logMailer{},
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
}

func (d dispatcher) deliver(ctx context.Context, account *Account, token *SingleUseToken) bool {
	if account == nil || token == nil {
		return false
	}

	n := Notification{
		Kind:      token.Kind,
		AccountID: account.ID,
		Email:     account.Email,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
	}

	if err := d.mailer.Send(ctx, n); err != nil {
		d.logger.Error("failed to deliver %s token %s to account %s: %v", token.Kind, MaskToken(token.Token), account.ID, err)
		recordActivity(ctx, d.activity, d.logger, ActivityEvent{
			EventType: ActivityEventMailFailed,
			Actor:     systemActor,
			AccountID: account.ID.String(),
			Metadata: map[string]any{
				"kind":  string(token.Kind),
				"error": err.Error(),
			},
		})
		return false
	}
	return true
}
