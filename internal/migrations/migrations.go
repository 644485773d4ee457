package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed sql
var embedded embed.FS

// Status describes one migration version.
type Status struct {
	Version int64
	Path    string
	Applied bool
}

func newProvider(db *sql.DB, driver string) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("nil database provided")
	}

	var (
		dialect goose.Dialect
		dir     string
	)
	switch driver {
	case "postgres":
		dialect, dir = goose.DialectPostgres, "sql/postgres"
	case "sqlite":
		dialect, dir = goose.DialectSQLite3, "sql/sqlite"
	default:
		return nil, fmt.Errorf("unsupported migration driver %q", driver)
	}

	fsys, err := fs.Sub(embedded, dir)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(dialect, db, fsys)
}

// Up applies every pending migration for the driver ("postgres" or "sqlite").
func Up(ctx context.Context, db *sql.DB, driver string) error {
	provider, err := newProvider(db, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// List reports the state of every known migration.
func List(ctx context.Context, db *sql.DB, driver string) ([]Status, error) {
	provider, err := newProvider(db, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, Status{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}
