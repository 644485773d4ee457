package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"forum-core/internal/domain"
	"forum-core/internal/middleware"
	"forum-core/internal/observability"
	"forum-core/internal/service"
)

// AdminHandler holds staff-only operations. Routes are mounted behind
// RequireRole.
type AdminHandler struct {
	sessions *service.SessionService
}

func NewAdminHandler(sessions *service.SessionService) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

// TerminateUserSessions signs a user out everywhere.
func (h *AdminHandler) TerminateUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	n, err := h.sessions.TerminateAll(r.Context(), userID, domain.ReasonAdmin)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	actor, _ := middleware.GetUserID(r.Context())
	observability.FromContext(r.Context()).Info("admin terminated user sessions",
		"actor_id", actor,
		"target_user_id", userID,
		"terminated", n)
	writeJSON(w, http.StatusOK, terminatedResponse{Terminated: n})
}
