package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"forum-core/internal/domain"
)

// Dispatcher receives decoded session events; websocket.Hub is the
// production implementation.
type Dispatcher interface {
	Dispatch(event domain.SessionEvent)
}

// SessionEventConsumer binds a private queue to the session events exchange
// so this instance sees events published by every instance.
type SessionEventConsumer struct {
	rmq  *RabbitMQ
	sink Dispatcher
}

func NewSessionEventConsumer(rmq *RabbitMQ, sink Dispatcher) *SessionEventConsumer {
	return &SessionEventConsumer{
		rmq:  rmq,
		sink: sink,
	}
}

func (c *SessionEventConsumer) Start(ctx context.Context) error {
	queue, err := c.rmq.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare session events queue: %w", err)
	}

	if err := c.rmq.channel.QueueBind(
		queue.Name,            // queue name
		"",                    // routing key
		SessionEventsExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind session events queue: %w", err)
	}

	msgs, err := c.rmq.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register session events consumer: %w", err)
	}

	slog.Info("started consuming session events",
		slog.String("queue", queue.Name),
		slog.String("exchange", SessionEventsExchange))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping session event consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("session event consumer channel closed")
					return
				}
				c.handle(msg.Body)
			}
		}
	}()

	return nil
}

func (c *SessionEventConsumer) handle(body []byte) {
	event, err := decodeSessionEvent(body)
	if err != nil {
		slog.Error("dropping malformed session event",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(body)))
		return
	}
	c.sink.Dispatch(event)
}

func decodeSessionEvent(body []byte) (domain.SessionEvent, error) {
	var event domain.SessionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal session event: %w", err)
	}
	if event.UserID == "" {
		return event, fmt.Errorf("session event has no user id")
	}
	switch event.Type {
	case domain.EventSessionCreated, domain.EventSessionTerminated:
	default:
		return event, fmt.Errorf("unknown session event type %q", event.Type)
	}
	return event, nil
}
