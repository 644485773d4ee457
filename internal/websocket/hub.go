package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"forum-core/internal/domain"
	"forum-core/internal/observability"
)

// Hub owns every open session-notification connection, grouped by user id.
// All map access happens on the Run goroutine.
type Hub struct {
	clients map[string]map[*Client]bool

	events     chan domain.SessionEvent
	register   chan *Client
	unregister chan *Client

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		events:     make(chan domain.SessionEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case client := <-h.register:
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			observability.WebSocketConnectionsActive.Inc()
			slog.Debug("client registered",
				slog.String("user_id", client.userID),
				slog.String("session_id", client.sessionID))

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.events:
			h.deliver(event)
		}
	}
}

// deliver sends event to each of the user's connections. A connection whose
// own session was terminated gets the notice and is then closed.
func (h *Hub) deliver(event domain.SessionEvent) {
	clients, ok := h.clients[event.UserID]
	if !ok {
		return
	}

	data, err := json.Marshal(NewServerMessage(event))
	if err != nil {
		slog.Error("failed to marshal session event",
			slog.String("error", err.Error()),
			slog.String("type", string(event.Type)))
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
			observability.WebSocketMessagesSent.WithLabelValues(string(event.Type)).Inc()
		default:
			// send buffer full
			h.unregisterClient(client)
			continue
		}

		if event.Type == domain.EventSessionTerminated && slices.Contains(event.SessionIDs, client.sessionID) {
			client.revoked.Store(true)
			h.unregisterClient(client)
			slog.Info("closed connection of terminated session",
				slog.String("user_id", client.userID),
				slog.String("session_id", client.sessionID),
				slog.String("reason", string(event.Reason)))
		}
	}
}

func (h *Hub) unregisterClient(client *Client) {
	clients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	h.closeClientSend(client)
	observability.WebSocketConnectionsActive.Dec()
	slog.Debug("client unregistered",
		slog.String("user_id", client.userID),
		slog.String("session_id", client.sessionID))

	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
}

// closeClientSend closes the send channel once; only the Run goroutine calls it.
func (h *Hub) closeClientSend(client *Client) {
	if client.sendClosed {
		return
	}
	client.sendClosed = true
	close(client.send)
}

func (h *Hub) shutdown() {
	close(h.done)

	for _, clients := range h.clients {
		for client := range clients {
			h.closeClientSend(client)
			observability.WebSocketConnectionsActive.Dec()
		}
	}
	h.clients = make(map[string]map[*Client]bool)

	slog.Info("hub shutdown complete")
}

// Dispatch queues a session event for delivery. It never blocks once the hub
// has stopped, and drops the event if the queue is full.
func (h *Hub) Dispatch(event domain.SessionEvent) {
	select {
	case h.events <- event:
	case <-h.done:
	default:
		slog.Warn("session event queue full, dropping event",
			slog.String("type", string(event.Type)),
			slog.String("user_id", event.UserID))
	}
}

// Register registers a client with the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
