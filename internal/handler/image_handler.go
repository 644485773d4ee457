package handler

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"forum-core/internal/middleware"
	"forum-core/internal/service"
)

const imageCacheControl = "private, max-age=3600"

// ImageHandler serves private uploads stored as <dir>/<owner>/<name>. Only
// the owner and staff may read them.
type ImageHandler struct {
	dir  string
	auth *service.AuthService
}

func NewImageHandler(dir string, auth *service.AuthService) *ImageHandler {
	return &ImageHandler{dir: dir, auth: auth}
}

func (h *ImageHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")
	if !validSegment(owner) || !validSegment(name) {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	if owner != userID {
		user, err := h.auth.GetUser(r.Context(), userID)
		if err != nil || !user.Role.IsStaff() {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
	}

	f, err := os.Open(filepath.Join(h.dir, owner, name))
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("failed to open image: %w", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeServiceError(w, r, fmt.Errorf("failed to stat image: %w", err))
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	w.Header().Set("ETag", imageETag(info))
	w.Header().Set("Cache-Control", imageCacheControl)
	// ServeContent answers If-None-Match / If-Modified-Since with 304.
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func imageETag(info fs.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

// validSegment rejects anything that could escape the upload directory.
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, `/\`) && !strings.HasPrefix(s, ".")
}
