package handler

import (
	"net/http"
	"time"

	"forum-core/internal/domain"
	"forum-core/internal/middleware"
	"forum-core/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth       *service.AuthService
	production bool
}

func NewAuthHandler(auth *service.AuthService, production bool) *AuthHandler {
	return &AuthHandler{
		auth:       auth,
		production: production,
	}
}

type LoginResponse struct {
	User      *domain.User    `json:"user"`
	Session   *domain.Session `json:"session"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if !decodeJSON(w, r, &input, false) {
		return
	}

	user, err := h.auth.Register(r.Context(), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login verifies credentials, records a session for this device and sets the
// session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if !decodeJSON(w, r, &input, false) {
		return
	}
	input.UserAgent = r.UserAgent()
	input.IP = middleware.ClientIP(r)

	result, err := h.auth.Login(r.Context(), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, middleware.NewSessionCookie(r, result.Token, result.ExpiresAt, h.production))
	writeJSON(w, http.StatusOK, LoginResponse{
		User:      result.User,
		Session:   result.Session,
		ExpiresAt: result.ExpiresAt,
	})
}

// Logout terminates the current session if it is still live. Both the
// session cookie and its legacy name are cleared either way.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.ExtractToken(r); token != "" {
		_, session, err := h.auth.Authenticate(r.Context(), token)
		switch {
		case err == nil:
			if err := h.auth.Logout(r.Context(), session.UserID, session.Token); err != nil {
				writeServiceError(w, r, err)
				return
			}
		case !middleware.IsAuthFailure(err):
			writeServiceError(w, r, err)
			return
		}
	}

	middleware.ClearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	user, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ChangePassword stores the new password and signs out every other device.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var input service.ChangePasswordInput
	if !decodeJSON(w, r, &input, false) {
		return
	}

	n, err := h.auth.ChangePassword(r.Context(), session.UserID, session.Token, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, terminatedResponse{Terminated: n})
}
