package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ncruces/go-sqlite3"

	"forum-core/internal/domain"
)

const userColumns = `id, email, name, password_hash, role, last_login_at, last_seen_at, created_at`

// UserRepository implements domain.UserRepository for SQLite
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), toMillis(u.CreatedAt))
	if err != nil {
		if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
			return domain.ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.exec(ctx, "password", `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	ms := toMillis(at)
	return r.exec(ctx, "last login", `UPDATE users SET last_login_at = ?, last_seen_at = ? WHERE id = ?`, ms, ms, id)
}

func (r *UserRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "last seen", `UPDATE users SET last_seen_at = ? WHERE id = ?`, toMillis(at), id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var (
		u                       domain.User
		role                    string
		lastLoginAt, lastSeenAt sql.NullInt64
		createdAt               int64
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &lastLoginAt, &lastSeenAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Role = domain.Role(role)
	u.LastLoginAt = timePtr(lastLoginAt)
	u.LastSeenAt = timePtr(lastSeenAt)
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

func (r *UserRepository) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
