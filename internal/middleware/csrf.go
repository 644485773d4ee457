package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"forum-core/internal/observability"
	"forum-core/internal/security"
)

// CSRFChecker applies the double-submit policy.
type CSRFChecker interface {
	Check(method, cookieValue, submitted string) error
}

// CSRF rejects mutating requests whose csrf cookie and submitted token do not
// match. The token is read from the X-CSRF-Token header, then the csrf form
// field.
func CSRF(guard CSRFChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if security.IsSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if err := guard.Check(r.Method, csrfCookieValue(r), submittedCSRFToken(r)); err != nil {
				reason := "mismatch"
				if errors.Is(err, security.ErrCSRFMissing) {
					reason = "missing"
				}
				observability.CSRFFailuresTotal.WithLabelValues(reason).Inc()
				observability.FromContext(r.Context()).Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				writeJSONError(w, http.StatusForbidden, "Invalid CSRF token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func submittedCSRFToken(r *http.Request) string {
	if token := r.Header.Get(CSRFHeader); token != "" {
		return token
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		return r.FormValue(CSRFFormField)
	}
	return ""
}
