package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	auth "github.com/goliatone/go-auth-accounts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer drains the mail queue into a Mailer.
type Consumer struct {
	mailer auth.Mailer
	logger auth.Logger
}

func NewConsumer(mailer auth.Mailer, logger auth.Logger) *Consumer {
	return &Consumer{mailer: mailer, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("mail deliveries channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle acks delivered mail. Malformed messages are dropped; transport
// failures are requeued once.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var n auth.Notification
	if err := json.Unmarshal(d.Body, &n); err != nil {
		c.logf("dropping malformed mail message: %v", err)
		_ = d.Nack(false, false)
		return
	}

	if err := c.mailer.Send(ctx, n); err != nil {
		c.logf("mail %s for account %s failed (token %s): %v", n.Kind, n.AccountID, auth.MaskToken(n.Token), err)
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	_ = d.Ack(false)
}

func (c *Consumer) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Error(format, args...)
	}
}
