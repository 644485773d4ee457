package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forum-core/api"
	"forum-core/internal/config"
	"forum-core/internal/domain"
	"forum-core/internal/handler"
	"forum-core/internal/middleware"
	"forum-core/internal/security"
	"forum-core/internal/service"
	"forum-core/internal/websocket"
)

// Deps are the long-lived components the HTTP layer is built from.
type Deps struct {
	DB       *sql.DB
	Tokens   *security.TokenCodec
	CSRF     *security.CSRFGuard
	Auth     *service.AuthService
	Sessions *service.SessionService
	Hub      *websocket.Hub
	// Broker is nil when session events stay in-process.
	Broker handler.BrokerState
}

type Server struct {
	cfg      *config.Config
	handler  http.Handler
	limiters []*middleware.RateLimiter
	http     *http.Server
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	s := &Server{cfg: cfg}
	h, err := s.routes(deps)
	if err != nil {
		s.stopLimiters()
		return nil, err
	}
	s.handler = h
	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) ListenAndServe() error {
	slog.Info("server listening", slog.String("port", s.cfg.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops background limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.stopLimiters()
	return s.http.Shutdown(ctx)
}

func (s *Server) stopLimiters() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) newLimiter(rps float64, burst int) *middleware.RateLimiter {
	l := middleware.NewRateLimiter(rps, burst)
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes(deps Deps) (http.Handler, error) {
	cfg := s.cfg
	production := cfg.IsProduction()

	authHandler := handler.NewAuthHandler(deps.Auth, production)
	csrfHandler := handler.NewCSRFHandler(deps.CSRF, production)
	sessionHandler := handler.NewSessionHandler(deps.Sessions, deps.Auth)
	adminHandler := handler.NewAdminHandler(deps.Sessions)
	imageHandler := handler.NewImageHandler(cfg.UploadDir, deps.Auth)
	wsHandler := handler.NewWebSocketHandler(deps.Hub, middleware.NewOriginPolicy(cfg.Origins()))

	requireAuth := middleware.RequireAuth(deps.Auth, middleware.AuthOptions{})
	requireAuthOrBearer := middleware.RequireAuth(deps.Auth, middleware.AuthOptions{AllowBearer: true})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())
	r.Use(middleware.Gate(deps.Tokens, deps.CSRF, middleware.GateConfig{
		Production:     production,
		AllowedOrigins: cfg.Origins(),
	}))

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(deps.DB, deps.Broker))
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))

	r.Get("/", s.page("index.html"))
	for _, p := range []string{"login", "register", "forgot-password", "reset-password"} {
		r.Get("/"+p, s.page(p+".html"))
	}
	r.NotFound(s.notFound)

	var validate func(http.Handler) http.Handler
	if cfg.OpenAPIValidation {
		v, err := middleware.NewOpenAPIValidator(middleware.OpenAPIValidatorConfig{
			Spec:              api.OpenAPISpec,
			ValidateResponses: !production,
			PathPrefix:        "/api/v1",
			SkipPaths:         []string{"/api/v1/ws/"},
		})
		if err != nil {
			return nil, err
		}
		validate = v
	}

	authLimiter := s.newLimiter(5, 10)
	apiLimiter := s.newLimiter(20, 50)

	r.Route("/api/v1", func(r chi.Router) {
		if validate != nil {
			r.Use(validate)
		}
		r.Use(middleware.CSRF(deps.CSRF))

		r.Get("/csrf", csrfHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authLimiter.Middleware())
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
		})

		r.With(apiLimiter.Middleware()).Post("/auth/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(apiLimiter.Middleware())

			r.Get("/auth/me", authHandler.Me)
			r.Put("/auth/password", authHandler.ChangePassword)

			r.Get("/sessions", sessionHandler.List)
			r.Post("/sessions/heartbeat", sessionHandler.Heartbeat)
			r.Delete("/sessions/all", sessionHandler.TerminateOthers)
			r.Delete("/sessions/{id}", sessionHandler.Terminate)

			r.Method(http.MethodGet, "/ws/sessions", wsHandler)

			r.With(middleware.RequireRole(deps.Auth, domain.RoleAdmin)).
				Delete("/admin/users/{id}/sessions", adminHandler.TerminateUserSessions)
		})

		r.With(requireAuthOrBearer, apiLimiter.Middleware()).
			Get("/images/{owner}/{name}", imageHandler.Serve)
	})

	return r, nil
}

func (s *Server) page(name string) http.HandlerFunc {
	path := filepath.Join(s.cfg.StaticDir, name)
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(path); err != nil {
			s.notFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

// notFound serves the app shell for unknown app pages, which the browser
// router resolves, and a JSON 404 for everything else.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && middleware.ClassifyRoute(r.URL.Path) == middleware.RouteAppPage {
		index := filepath.Join(s.cfg.StaticDir, "index.html")
		if _, err := os.Stat(index); err == nil {
			w.Header().Set("Cache-Control", "no-cache")
			http.ServeFile(w, r, index)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"error":"Not found"}`))
}
