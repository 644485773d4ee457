package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// OpenDatabase opens the connection configured by DATABASE_DRIVER.
func OpenDatabase(ctx context.Context, cfg *Config) (*sql.DB, error) {
	switch cfg.DatabaseDriver {
	case DriverSQLite:
		return NewSQLiteConnection(ctx, cfg.DatabaseURL)
	default:
		return NewPostgresConnection(ctx, cfg.DatabaseURL)
	}
}

// NewPostgresConnection creates a new PostgreSQL database connection
func NewPostgresConnection(ctx context.Context, dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// NewSQLiteConnection opens a SQLite database. Writes are serialized through a
// single connection, which also keeps ":memory:" databases alive.
func NewSQLiteConnection(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}
