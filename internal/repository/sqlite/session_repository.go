package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"forum-core/internal/domain"
)

const sessionColumns = `id, user_id, token, user_agent, ip, browser, os, device_class,
	location, status, last_activity, created_at, expires_at, terminated_at`

// SessionRepository implements domain.SessionRepository for SQLite
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	location, err := encodeLocation(s.Location)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token, user_agent, ip, browser, os, device_class,
			location, status, last_activity, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Token,
		s.Device.UserAgent, s.Device.IP, s.Device.Browser, s.Device.OS, string(s.Device.Class),
		location, string(s.Status),
		toMillis(s.LastActivity), toMillis(s.CreatedAt), toMillis(s.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetActiveByToken(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE token = ? AND status = 'active' AND expires_at > ?`,
		token, toMillis(now))

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) Touch(ctx context.Context, token string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ?1
		WHERE token = ?2 AND status = 'active' AND expires_at > ?1`,
		toMillis(at), token)
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return affected(result)
}

func (r *SessionRepository) UpdateDevice(ctx context.Context, token string, d domain.DeviceInfo, loc *domain.Location, at time.Time) (bool, error) {
	location, err := encodeLocation(loc)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET user_agent = ?1, ip = ?2, browser = ?3, os = ?4, device_class = ?5,
			location = ?6, last_activity = ?7
		WHERE token = ?8 AND status = 'active' AND expires_at > ?7`,
		d.UserAgent, d.IP, d.Browser, d.OS, string(d.Class), location, toMillis(at), token)
	if err != nil {
		return false, fmt.Errorf("failed to update session device: %w", err)
	}
	return affected(result)
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = ? AND status = 'active' AND expires_at > ?
		ORDER BY last_activity DESC`,
		userID, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Terminate(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'terminated', terminated_at = ?
		WHERE id = ? AND user_id = ? AND status = 'active'`,
		toMillis(at), sessionID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	return affected(result)
}

func (r *SessionRepository) TerminateByToken(ctx context.Context, userID, token string, at time.Time) ([]string, error) {
	return collectIDs(r.db.QueryContext(ctx, `
		UPDATE sessions SET status = 'terminated', terminated_at = ?
		WHERE user_id = ? AND token = ? AND status = 'active'
		RETURNING id`,
		toMillis(at), userID, token))
}

func (r *SessionRepository) TerminateAllExcept(ctx context.Context, userID, keepToken string, at time.Time) ([]string, error) {
	return collectIDs(r.db.QueryContext(ctx, `
		UPDATE sessions SET status = 'terminated', terminated_at = ?
		WHERE user_id = ? AND token <> ? AND status = 'active'
		RETURNING id`,
		toMillis(at), userID, keepToken))
}

func (r *SessionRepository) TerminateAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	return collectIDs(r.db.QueryContext(ctx, `
		UPDATE sessions SET status = 'terminated', terminated_at = ?
		WHERE user_id = ? AND status = 'active'
		RETURNING id`,
		toMillis(at), userID))
}

func (r *SessionRepository) DeleteStale(ctx context.Context, now, inactiveBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at <= ? OR last_activity < ?`,
		toMillis(now), toMillis(inactiveBefore))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                                  domain.Session
		deviceClass, status                string
		location                           sql.NullString
		lastActivity, createdAt, expiresAt int64
		terminatedAt                       sql.NullInt64
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.Token,
		&s.Device.UserAgent, &s.Device.IP, &s.Device.Browser, &s.Device.OS, &deviceClass,
		&location, &status,
		&lastActivity, &createdAt, &expiresAt, &terminatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Device.Class = domain.DeviceClass(deviceClass)
	s.Status = domain.SessionStatus(status)
	s.LastActivity = fromMillis(lastActivity)
	s.CreatedAt = fromMillis(createdAt)
	s.ExpiresAt = fromMillis(expiresAt)
	s.TerminatedAt = timePtr(terminatedAt)
	if location.Valid && location.String != "" {
		s.Location = &domain.Location{}
		if err := json.Unmarshal([]byte(location.String), s.Location); err != nil {
			return nil, fmt.Errorf("failed to decode session location: %w", err)
		}
	}
	return &s, nil
}

func encodeLocation(loc *domain.Location) (sql.NullString, error) {
	if loc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode session location: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func collectIDs(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to terminate sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session ids: %w", err)
	}
	return ids, nil
}
