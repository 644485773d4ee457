package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"forum-core/internal/domain"
	"forum-core/internal/middleware"
	"forum-core/internal/security"
	"forum-core/internal/service"
	"forum-core/internal/testutil"
	ws "forum-core/internal/websocket"
)

const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"

type handlerEnv struct {
	users    *testutil.MockUserRepository
	repo     *testutil.MockSessionRepository
	events   service.EventPublisher
	sessions *service.SessionService
	auth     *service.AuthService
	hub      *ws.Hub
	imageDir string
}

type envOption func(*handlerEnv)

func withPublisher(p service.EventPublisher) envOption {
	return func(e *handlerEnv) { e.events = p }
}

func withHub(h *ws.Hub) envOption {
	return func(e *handlerEnv) { e.hub = h }
}

func newHandlerEnv(t *testing.T, users []*domain.User, opts ...envOption) *handlerEnv {
	t.Helper()
	e := &handlerEnv{
		users:    testutil.NewMockUserRepository(users...),
		repo:     testutil.NewMockSessionRepository(),
		events:   &testutil.MockEventPublisher{},
		imageDir: t.TempDir(),
	}
	for _, opt := range opts {
		opt(e)
	}

	tokens := security.NewTokenCodec([]byte("handler-secret-handler-secret-1234"), "forum-core", "forum-web", time.Hour)
	e.sessions = service.NewSessionService(e.repo, nil, e.events)
	e.auth = service.NewAuthService(e.users, e.sessions, tokens).WithBcryptCost(bcrypt.MinCost)
	return e
}

// router mounts the API routes without the gate or CSRF layers, which are
// covered by the middleware tests.
func (e *handlerEnv) router() http.Handler {
	authH := NewAuthHandler(e.auth, false)
	sessionH := NewSessionHandler(e.sessions, e.auth)
	adminH := NewAdminHandler(e.sessions)
	imageH := NewImageHandler(e.imageDir, e.auth)

	r := chi.NewRouter()
	r.Post("/auth/register", authH.Register)
	r.Post("/auth/login", authH.Login)
	r.Post("/auth/logout", authH.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(e.auth, middleware.AuthOptions{}))
		r.Get("/auth/me", authH.Me)
		r.Put("/auth/password", authH.ChangePassword)
		r.Post("/sessions/heartbeat", sessionH.Heartbeat)
		r.Get("/sessions", sessionH.List)
		r.Delete("/sessions/all", sessionH.TerminateOthers)
		r.Delete("/sessions/{id}", sessionH.Terminate)
		if e.hub != nil {
			r.Method(http.MethodGet, "/ws/sessions", NewWebSocketHandler(e.hub, middleware.NewOriginPolicy(nil)))
		}

		r.With(middleware.RequireRole(e.auth, domain.RoleAdmin)).
			Delete("/admin/users/{id}/sessions", adminH.TerminateUserSessions)
	})

	r.With(middleware.RequireAuth(e.auth, middleware.AuthOptions{AllowBearer: true})).
		Get("/images/{owner}/{name}", imageH.Serve)

	return r
}

func (e *handlerEnv) login(t *testing.T, user *domain.User, userAgent string) *service.LoginResult {
	t.Helper()
	res, err := e.auth.Login(context.Background(), service.LoginInput{
		Email:     user.Email,
		Password:  testutil.TestPassword,
		UserAgent: userAgent,
		IP:        "203.0.113.7",
	})
	require.NoError(t, err)
	return res
}

func (e *handlerEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router().ServeHTTP(w, req)
	return w
}

func withSession(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
	return req
}
