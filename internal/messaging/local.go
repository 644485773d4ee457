package messaging

import (
	"context"

	"forum-core/internal/domain"
	"forum-core/internal/observability"
)

// LocalPublisher delivers session events straight to this process's hub. It
// is used when no broker is configured, which limits revocation pushes to a
// single instance.
type LocalPublisher struct {
	sink Dispatcher
}

func NewLocalPublisher(sink Dispatcher) *LocalPublisher {
	return &LocalPublisher{sink: sink}
}

func (p *LocalPublisher) PublishSessionEvent(_ context.Context, event domain.SessionEvent) error {
	p.sink.Dispatch(event)
	observability.SessionEventsPublishedTotal.WithLabelValues("local", string(event.Type)).Inc()
	return nil
}
