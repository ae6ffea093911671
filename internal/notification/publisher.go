package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/gestpay/gestpay-backend/internal/domain"
)

// Publisher pushes notifications onto a durable AMQP topic exchange with
// routing keys notification.wallet / notification.security, for downstream
// channels (email, push) to consume.
type Publisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

const dialTimeout = 10 * time.Second

func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("NewPublisher: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewPublisher: channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("NewPublisher: exchange declare: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

type event struct {
	AccountID     string  `json:"account_id"`
	Content       string  `json:"content"`
	Kind          string  `json:"kind"`
	TransactionID *string `json:"transaction_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func (p *Publisher) Emit(ctx context.Context, n domain.Notification) error {
	e := event{
		AccountID: n.AccountID.String(),
		Content:   n.Content,
		Kind:      string(n.Kind),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if n.TransactionID != nil {
		id := n.TransactionID.String()
		e.TransactionID = &id
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("Emit: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		"notification."+string(n.Kind),
		false, false,
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("Emit: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NopPublisher stands in when no broker is configured; deliveries are
// logged at debug and dropped.
type NopPublisher struct {
	Log *slog.Logger
}

func (p NopPublisher) Emit(_ context.Context, n domain.Notification) error {
	if p.Log != nil {
		p.Log.Debug("amqp unconfigured, notification dropped", "account_id", n.AccountID, "kind", n.Kind)
	}
	return nil
}
