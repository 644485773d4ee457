package websocket

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"forum-core/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 512
)

// CloseSessionTerminated is the close code sent when the connection's own
// session was revoked.
const CloseSessionTerminated = 4001

// Client is one browser tab listening for session events. It only writes;
// inbound frames are read to service pings and detect disconnects.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	sessionID string

	// owned by the hub goroutine
	sendClosed bool

	revoked atomic.Bool
	writeMu sync.Mutex
	closed  atomic.Bool
}

// ServerMessage is the JSON frame pushed to the browser.
type ServerMessage struct {
	Type       string    `json:"type"`
	SessionIDs []string  `json:"session_ids"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewServerMessage(event domain.SessionEvent) ServerMessage {
	ids := event.SessionIDs
	if ids == nil {
		ids = []string{}
	}
	return ServerMessage{
		Type:       string(event.Type),
		SessionIDs: ids,
		Reason:     string(event.Reason),
		OccurredAt: event.OccurredAt,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, sessionID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 16),
		userID:    userID,
		sessionID: sessionID,
	}
}

// ReadPump discards inbound frames until the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("session_id", c.sessionID))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("session_id", c.sessionID))
			}
			return
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.writeMessage(websocket.CloseMessage, c.closeFrame())
				return
			}

			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) closeFrame() []byte {
	if c.revoked.Load() {
		return websocket.FormatCloseMessage(CloseSessionTerminated, "session terminated")
	}
	return websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
