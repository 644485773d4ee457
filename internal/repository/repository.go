// Package repository picks the storage implementation for the configured
// database driver.
package repository

import (
	"database/sql"
	"fmt"

	"forum-core/internal/config"
	"forum-core/internal/domain"
	"forum-core/internal/repository/postgres"
	"forum-core/internal/repository/sqlite"
)

// Repositories bundles the stores the services need.
type Repositories struct {
	Users    domain.UserRepository
	Sessions domain.SessionRepository

	close func() error
}

func New(driver string, db *sql.DB) (*Repositories, error) {
	switch driver {
	case config.DriverPostgres:
		sessions, err := postgres.NewSessionRepository(db)
		if err != nil {
			return nil, err
		}
		return &Repositories{
			Users:    postgres.NewUserRepository(db),
			Sessions: sessions,
			close:    sessions.Close,
		}, nil
	case config.DriverSQLite:
		return &Repositories{
			Users:    sqlite.NewUserRepository(db),
			Sessions: sqlite.NewSessionRepository(db),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Close releases prepared statements. The *sql.DB stays open.
func (r *Repositories) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}
