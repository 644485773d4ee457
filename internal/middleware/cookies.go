package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	SessionCookie       = "session"
	LegacySessionCookie = "token"
	CSRFCookie          = "csrf"
	CSRFHeader          = "X-CSRF-Token"
	CSRFFormField       = "csrf"
	NonceHeader         = "X-Nonce"

	csrfCookieMaxAge = 24 * time.Hour
)

// ExtractToken returns the auth token from the session cookie, the legacy
// token cookie, or a lenient parse of the raw Cookie header, in that order.
func ExtractToken(r *http.Request) string {
	for _, name := range []string{SessionCookie, LegacySessionCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}

	raw := r.Header.Values("Cookie")
	for _, name := range []string{SessionCookie, LegacySessionCookie} {
		if v := rawCookieValue(raw, name); v != "" {
			return v
		}
	}
	return ""
}

// rawCookieValue scans Cookie header lines without net/http's value
// validation, which drops cookies carrying characters browsers still send.
func rawCookieValue(lines []string, name string) string {
	for _, line := range lines {
		for _, part := range strings.Split(line, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if ok && strings.TrimSpace(k) == name {
				return strings.Trim(strings.TrimSpace(v), `"`)
			}
		}
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func csrfCookieValue(r *http.Request) string {
	if c, err := r.Cookie(CSRFCookie); err == nil {
		return c.Value
	}
	return rawCookieValue(r.Header.Values("Cookie"), CSRFCookie)
}

// NewCSRFCookie builds the readable double-submit cookie. It is Secure in
// production unless the request targets localhost.
func NewCSRFCookie(r *http.Request, value string, production bool) *http.Cookie {
	return &http.Cookie{
		Name:     CSRFCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(csrfCookieMaxAge.Seconds()),
		HttpOnly: false,
		Secure:   production && !isLocalhost(r.Host),
		SameSite: http.SameSiteLaxMode,
	}
}

// NewSessionCookie carries the signed auth token.
func NewSessionCookie(r *http.Request, token string, expires time.Time, production bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   production && !isLocalhost(r.Host),
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpireCookie returns a cookie that deletes name on the client.
func ExpireCookie(name string, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookies expires the session cookie and its legacy name.
func ClearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, ExpireCookie(SessionCookie, true))
	http.SetCookie(w, ExpireCookie(LegacySessionCookie, true))
}

func isLocalhost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
