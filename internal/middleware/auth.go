package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"forum-core/internal/domain"
	"forum-core/internal/observability"
	"forum-core/internal/security"
)

type contextKey string

const (
	claimsKey  contextKey = "claims"
	sessionKey contextKey = "session"
	userKey    contextKey = "user"
)

// Authenticator runs both the token check and the live-session check.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*security.Claims, *domain.Session, error)
}

type UserGetter interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

type AuthOptions struct {
	// AllowBearer accepts an Authorization: Bearer header when no cookie
	// token is present.
	AllowBearer bool
}

// RequireAuth rejects the request with 401 unless the token verifies and
// its session is still active.
func RequireAuth(auth Authenticator, opts AuthOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			fromCookie := token != ""
			if token == "" && opts.AllowBearer {
				token = bearerToken(r)
			}
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			claims, session, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if IsAuthFailure(err) {
					recordTokenFailure(r.Context(), err)
					// A dead cookie would keep the gate treating the
					// browser as signed in.
					if fromCookie {
						ClearSessionCookies(w)
					}
					writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
					return
				}
				observability.FromContext(r.Context()).Error("failed to authenticate request", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = WithSession(ctx, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole loads the authenticated user and allows only the given roles.
// It must run after RequireAuth.
func RequireRole(users UserGetter, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if errors.Is(err, domain.ErrUserNotFound) {
				writeJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}
			if err != nil {
				observability.FromContext(r.Context()).Error("failed to load user", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !slices.Contains(roles, user.Role) {
				observability.FromContext(r.Context()).Warn("role check failed",
					"role", user.Role, "path", r.URL.Path)
				writeJSONError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func WithClaims(ctx context.Context, claims *security.Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return observability.WithUserID(ctx, claims.UserID())
}

func WithSession(ctx context.Context, session *domain.Session) context.Context {
	ctx = context.WithValue(ctx, sessionKey, session)
	return observability.WithSessionID(ctx, session.ID)
}

func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func GetClaims(ctx context.Context) (*security.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*security.Claims)
	return claims, ok
}

func GetSession(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(sessionKey).(*domain.Session)
	return session, ok
}

func GetUser(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(userKey).(*domain.User)
	return user, ok
}

func GetUserID(ctx context.Context) (string, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims.UserID() == "" {
		return "", false
	}
	return claims.UserID(), true
}

// IsAuthFailure reports whether err means the credentials are no good, as
// opposed to the store failing.
func IsAuthFailure(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) || isTokenError(err)
}

func isTokenError(err error) bool {
	return errors.Is(err, security.ErrInvalidToken) ||
		errors.Is(err, security.ErrExpiredToken) ||
		errors.Is(err, security.ErrClaimMismatch)
}

func tokenFailureKind(err error) string {
	switch {
	case errors.Is(err, security.ErrExpiredToken):
		return "expired"
	case errors.Is(err, security.ErrClaimMismatch):
		return "claim_mismatch"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "no_session"
	default:
		return "invalid"
	}
}

// recordTokenFailure logs the failure kind at debug; callers only ever see
// "unauthenticated".
func recordTokenFailure(ctx context.Context, err error) {
	kind := tokenFailureKind(err)
	observability.TokenVerifyFailuresTotal.WithLabelValues(kind).Inc()
	observability.FromContext(ctx).Debug("auth token rejected", "kind", kind, "error", err)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
