package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forum-core/internal/config"
	"forum-core/internal/device"
	"forum-core/internal/handler"
	"forum-core/internal/messaging"
	"forum-core/internal/migrations"
	"forum-core/internal/observability"
	"forum-core/internal/repository"
	"forum-core/internal/security"
	"forum-core/internal/server"
	"forum-core/internal/service"
	"forum-core/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("server stopped gracefully")
}

func run(cfg *config.Config) error {
	slog.Info("starting forum server",
		slog.String("environment", cfg.Environment),
		slog.String("database_driver", cfg.DatabaseDriver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	db, err := config.OpenDatabase(connCtx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := migrations.Up(connCtx, db, cfg.DatabaseDriver); err != nil {
		return err
	}

	repos, err := repository.New(cfg.DatabaseDriver, db)
	if err != nil {
		return err
	}
	defer repos.Close()

	hub := websocket.NewHub()
	go func() {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()

	var (
		publisher service.EventPublisher
		broker    handler.BrokerState
	)
	if cfg.RabbitMQURL != "" {
		rmq, err := messaging.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		defer rmq.Close()

		if err := messaging.NewSessionEventConsumer(rmq, hub).Start(ctx); err != nil {
			return err
		}
		publisher, broker = rmq, rmq
	} else {
		slog.Warn("RABBITMQ_URL not set, session events stay in this process")
		publisher = messaging.NewLocalPublisher(hub)
	}

	var resolver service.LocationResolver
	if cfg.GeoIPURL != "" {
		resolver = device.NewGeoIPClient(cfg.GeoIPURL, cfg.GeoIPTimeout)
	}

	tokens := security.NewTokenCodec([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL)
	csrf := security.NewCSRFGuard(cfg.CSRFDevBypass)
	if cfg.CSRFDevBypass {
		slog.Warn("CSRF dev bypass enabled: requests without any CSRF token are accepted")
	}

	sessions := service.NewSessionService(repos.Sessions, resolver, publisher)
	auth := service.NewAuthService(repos.Users, sessions, tokens)

	srv, err := server.New(cfg, server.Deps{
		DB:       db,
		Tokens:   tokens,
		CSRF:     csrf,
		Auth:     auth,
		Sessions: sessions,
		Hub:      hub,
		Broker:   broker,
	})
	if err != nil {
		return err
	}

	go server.RunSweeper(ctx, sessions, cfg.SessionSweepInterval)
	go recordDBStats(ctx, db)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func recordDBStats(ctx context.Context, db *sql.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		observability.RecordDBStats(db)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
