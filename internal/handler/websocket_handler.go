package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"forum-core/internal/middleware"
	"forum-core/internal/observability"
	ws "forum-core/internal/websocket"
)

// WebSocketHandler upgrades authenticated requests into session event
// streams.
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, origins middleware.OriginPolicy) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins.Allows(origin)
			},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		observability.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn, session.UserID, session.ID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
