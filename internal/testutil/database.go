package testutil

import (
	"context"
	"database/sql"
	"testing"

	"forum-core/internal/config"
	"forum-core/internal/migrations"
)

// NewSQLiteDB opens a migrated in-memory SQLite database that is closed when
// the test ends.
func NewSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := config.NewSQLiteConnection(ctx, ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Up(ctx, db, config.DriverSQLite); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return db
}
