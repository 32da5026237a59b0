package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel used by QueueMailer.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueMailer hands notifications to a durable queue. A Consumer on the
// other side performs the actual delivery.
type QueueMailer struct {
	publisher Publisher
	queue     string
}

var _ auth.Mailer = (*QueueMailer)(nil)

func NewQueueMailer(publisher Publisher, queue string) *QueueMailer {
	return &QueueMailer{publisher: publisher, queue: queue}
}

func (m *QueueMailer) Send(ctx context.Context, n auth.Notification) error {
	if m.publisher == nil {
		return errors.New("queue mailer has no publisher")
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.publisher.PublishWithContext(publishCtx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(n.Kind),
		Body:         body,
	})
}

// Dial connects to the broker and declares the durable mail queue.
func Dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}

	return conn, ch, nil
}
