package handler

import (
	"net/http"

	"forum-core/internal/middleware"
)

type CSRFHandler struct {
	issuer     middleware.CSRFIssuer
	production bool
}

func NewCSRFHandler(issuer middleware.CSRFIssuer, production bool) *CSRFHandler {
	return &CSRFHandler{issuer: issuer, production: production}
}

// Refresh rotates the CSRF cookie and returns the new value so scripts can
// echo it in the X-CSRF-Token header.
func (h *CSRFHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.issuer.Issue()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, middleware.NewCSRFCookie(r, token, h.production))
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}
