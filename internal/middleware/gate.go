package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"forum-core/internal/observability"
	"forum-core/internal/security"
)

// TokenVerifier is the stateless half of authentication.
type TokenVerifier interface {
	Verify(token string) (*security.Claims, error)
}

// CSRFIssuer mints double-submit tokens.
type CSRFIssuer interface {
	Issue() (string, error)
}

type GateConfig struct {
	Production     bool
	AllowedOrigins []string
}

type gateDecision string

const (
	decisionPreflight     gateDecision = "preflight"
	decisionForbid        gateDecision = "forbid"
	decisionRedirectLogin gateDecision = "redirect_login"
	decisionRedirectHome  gateDecision = "redirect_home"
	decisionPass          gateDecision = "pass"
)

type nonceKey struct{}

// NonceFromContext returns the per-request CSP nonce, or "" when none was
// issued.
func NonceFromContext(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceKey{}).(string)
	return nonce
}

// Gate runs in front of every route. It answers CORS preflights, issues the
// CSP nonce, classifies the path, and redirects or forbids based on whether
// the request carries a verifiable token. Passthrough responses get a CSRF
// cookie when the client has none, and every response carries the security
// headers. Nothing in the gate produces a 500: verification failures mean
// unauthenticated, and random-source failures omit the nonce or cookie.
func Gate(verifier TokenVerifier, csrf CSRFIssuer, cfg GateConfig) func(http.Handler) http.Handler {
	origins := NewOriginPolicy(cfg.AllowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := ClassifyRoute(r.URL.Path)

			if r.Method == http.MethodOptions {
				SetSecurityHeaders(w.Header(), "", cfg.Production)
				origins.writePreflight(w, r)
				recordDecision(class, decisionPreflight)
				return
			}

			ctx := r.Context()
			nonce, err := security.NewNonce()
			if err != nil {
				observability.FromContext(ctx).Warn("failed to generate CSP nonce", "error", err)
				nonce = ""
			}
			if nonce != "" {
				r.Header.Set(NonceHeader, nonce)
				ctx = context.WithValue(ctx, nonceKey{}, nonce)
			}

			authenticated := false
			if token := ExtractToken(r); token != "" {
				if _, err := verifier.Verify(token); err != nil {
					recordTokenFailure(ctx, err)
				} else {
					authenticated = true
				}
			}

			SetSecurityHeaders(w.Header(), nonce, cfg.Production)

			decision := decide(class, authenticated)
			recordDecision(class, decision)
			switch decision {
			case decisionForbid:
				writeJSONError(w, http.StatusForbidden, "Forbidden")
				return
			case decisionRedirectLogin:
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			case decisionRedirectHome:
				http.Redirect(w, r, "/", http.StatusFound)
				return
			}

			origins.applyCORS(w, r)

			gw := &gateWriter{ResponseWriter: w}
			if csrfCookieValue(r) == "" {
				gw.beforeHeader = func(h http.Header) {
					if hasSetCookie(h, CSRFCookie) {
						return
					}
					token, err := csrf.Issue()
					if err != nil {
						observability.FromContext(ctx).Warn("failed to issue CSRF token", "error", err)
						return
					}
					h.Add("Set-Cookie", NewCSRFCookie(r, token, cfg.Production).String())
				}
			}

			next.ServeHTTP(gw, r.WithContext(ctx))
			gw.finish()
		})
	}
}

func decide(class RouteClass, authenticated bool) gateDecision {
	switch {
	case class == RouteUploadAsset:
		return decisionForbid
	case class == RouteAppPage && !authenticated:
		return decisionRedirectLogin
	case class == RoutePublicAuthPage && authenticated:
		return decisionRedirectHome
	default:
		return decisionPass
	}
}

func recordDecision(class RouteClass, decision gateDecision) {
	observability.GateDecisionsTotal.WithLabelValues(class.String(), string(decision)).Inc()
}

// SetSecurityHeaders stamps the response security policy. An empty nonce
// leaves the nonce source out of script-src.
func SetSecurityHeaders(h http.Header, nonce string, production bool) {
	scriptSrc := "script-src 'self'"
	if nonce != "" {
		scriptSrc = fmt.Sprintf("script-src 'self' 'nonce-%s' 'strict-dynamic'", nonce)
	}
	h.Set("Content-Security-Policy", strings.Join([]string{
		"default-src 'self'",
		scriptSrc,
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data: blob:",
		"connect-src 'self' ws: wss:",
		"frame-ancestors 'none'",
		"base-uri 'self'",
		"form-action 'self'",
	}, "; "))
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
	if production {
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
	}
}

func hasSetCookie(h http.Header, name string) bool {
	prefix := name + "="
	for _, c := range h.Values("Set-Cookie") {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// gateWriter runs beforeHeader exactly once, right before the status line is
// written, so the handler's own cookies are visible to it.
type gateWriter struct {
	http.ResponseWriter
	beforeHeader func(http.Header)
	wroteHeader  bool
}

func (w *gateWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if w.beforeHeader != nil {
			w.beforeHeader(w.Header())
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gateWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *gateWriter) finish() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

func (w *gateWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *gateWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("responsewriter does not implement http.Hijacker")
	}
	// A hijacked connection never writes headers through us.
	w.wroteHeader = true
	return hijacker.Hijack()
}

func (w *gateWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
