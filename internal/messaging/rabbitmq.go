package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"forum-core/internal/domain"
	"forum-core/internal/observability"
)

// SessionEventsExchange fans every session event out to all server instances.
const SessionEventsExchange = "auth.session-events"

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		SessionEventsExchange, // name
		"fanout",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	); err != nil {
		return fmt.Errorf("failed to declare session events exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully",
		slog.String("exchange", SessionEventsExchange))
	return nil
}

// PublishSessionEvent implements service.EventPublisher.
func (r *RabbitMQ) PublishSessionEvent(ctx context.Context, event domain.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		SessionEventsExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Type:        string(event.Type),
			Timestamp:   event.OccurredAt,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	observability.SessionEventsPublishedTotal.WithLabelValues("rabbitmq", string(event.Type)).Inc()
	slog.Debug("published session event",
		slog.String("type", string(event.Type)),
		slog.String("user_id", event.UserID),
		slog.Int("sessions", len(event.SessionIDs)))
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
