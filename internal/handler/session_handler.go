package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"forum-core/internal/domain"
	"forum-core/internal/middleware"
	"forum-core/internal/observability"
	"forum-core/internal/service"
)

// SessionHandler serves the signed-in user's device list.
type SessionHandler struct {
	sessions *service.SessionService
	auth     *service.AuthService
}

func NewSessionHandler(sessions *service.SessionService, auth *service.AuthService) *SessionHandler {
	return &SessionHandler{sessions: sessions, auth: auth}
}

// SessionView is a session as shown in the device list.
type SessionView struct {
	*domain.Session
	Current bool `json:"current"`
}

type heartbeatRequest struct {
	Location *domain.Location `json:"location,omitempty"`
}

// Heartbeat refreshes the current session's activity, device and location,
// and the user's last-seen time.
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req heartbeatRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	if err := h.sessions.TouchDetailed(r.Context(), session.Token, r.UserAgent(), middleware.ClientIP(r), req.Location); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.auth.MarkSeen(r.Context(), session.UserID); err != nil {
		observability.FromContext(r.Context()).Warn("failed to update last seen", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	current, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	sessions, err := h.sessions.ListActive(r.Context(), current.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{Session: s, Current: s.ID == current.ID})
	}
	writeJSON(w, http.StatusOK, map[string][]SessionView{"sessions": views})
}

// TerminateOthers signs out every device except the one making the request.
func (h *SessionHandler) TerminateOthers(w http.ResponseWriter, r *http.Request) {
	current, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	n, err := h.sessions.TerminateAllOthers(r.Context(), current.UserID, current.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, terminatedResponse{Terminated: n})
}

// Terminate ends one of the caller's sessions. Sessions owned by someone
// else get the same 404 as ones that do not exist.
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	current, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	ok, err := h.sessions.Terminate(r.Context(), chi.URLParam(r, "id"), current.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
