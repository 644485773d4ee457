package postgres

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

type SessionRepository struct {
	db                     *sql.DB
	createStmt             *sql.Stmt
	getActiveByTokenStmt   *sql.Stmt
	touchStmt              *sql.Stmt
	updateDeviceStmt       *sql.Stmt
	listActiveByUserStmt   *sql.Stmt
	terminateStmt          *sql.Stmt
	terminateByTokenStmt   *sql.Stmt
	terminateAllExceptStmt *sql.Stmt
	terminateAllByUserStmt *sql.Stmt
	deleteStaleStmt        *sql.Stmt
}

// NewSessionRepository creates a new SessionRepository with prepared statements.
// Returns an error if statement preparation fails.
func NewSessionRepository(db *sql.DB) (*SessionRepository, error) {
	repo := &SessionRepository{db: db}

	statements := []struct {
		name  string
		dest  **sql.Stmt
		query string
	}{
		{"create", &repo.createStmt, `
		INSERT INTO sessions (id, user_id, token, user_agent, ip, browser, os, device_class,
			location, status, last_activity, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`},
		{"getActiveByToken", &repo.getActiveByTokenStmt, `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE token = $1 AND status = 'active' AND expires_at > $2`},
		{"touch", &repo.touchStmt, `
		UPDATE sessions SET last_activity = $2
		WHERE token = $1 AND status = 'active' AND expires_at > $2`},
		{"updateDevice", &repo.updateDeviceStmt, `
		UPDATE sessions
		SET user_agent = $2, ip = $3, browser = $4, os = $5, device_class = $6,
			location = $7, last_activity = $8
		WHERE token = $1 AND status = 'active' AND expires_at > $8`},
		{"listActiveByUser", &repo.listActiveByUserStmt, `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY last_activity DESC`},
		{"terminate", &repo.terminateStmt, `
		UPDATE sessions SET status = 'terminated', terminated_at = $3
		WHERE id = $1 AND user_id = $2 AND status = 'active'`},
		{"terminateByToken", &repo.terminateByTokenStmt, `
		UPDATE sessions SET status = 'terminated', terminated_at = $3
		WHERE user_id = $1 AND token = $2 AND status = 'active'
		RETURNING id`},
		{"terminateAllExcept", &repo.terminateAllExceptStmt, `
		UPDATE sessions SET status = 'terminated', terminated_at = $3
		WHERE user_id = $1 AND token <> $2 AND status = 'active'
		RETURNING id`},
		{"terminateAllByUser", &repo.terminateAllByUserStmt, `
		UPDATE sessions SET status = 'terminated', terminated_at = $2
		WHERE user_id = $1 AND status = 'active'
		RETURNING id`},
		{"deleteStale", &repo.deleteStaleStmt, `
		DELETE FROM sessions WHERE expires_at <= $1 OR last_activity < $2`},
	}

	for _, s := range statements {
		stmt, err := db.Prepare(s.query)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s statement: %w", s.name, err)
		}
		*s.dest = stmt
	}

	return repo, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	location, err := encodeLocation(session.Location)
	if err != nil {
		return err
	}

	_, err = r.createStmt.ExecContext(ctx,
		session.ID,
		session.UserID,
		session.Token,
		session.Device.UserAgent,
		session.Device.IP,
		session.Device.Browser,
		session.Device.OS,
		string(session.Device.Class),
		location,
		string(session.Status),
		session.LastActivity,
		session.CreatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		if IsUniqueViolation(err, constraintSessionToken) {
			return fmt.Errorf("failed to create session: duplicate token: %w", err)
		}
		if IsForeignKeyViolation(err, constraintSessionUser) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetActiveByToken(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	session, err := scanSession(r.getActiveByTokenStmt.QueryRowContext(ctx, token, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) Touch(ctx context.Context, token string, at time.Time) (bool, error) {
	result, err := r.touchStmt.ExecContext(ctx, token, at)
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return affected(result)
}

func (r *SessionRepository) UpdateDevice(ctx context.Context, token string, device domain.DeviceInfo, location *domain.Location, at time.Time) (bool, error) {
	encoded, err := encodeLocation(location)
	if err != nil {
		return false, err
	}

	result, err := r.updateDeviceStmt.ExecContext(ctx,
		token,
		device.UserAgent,
		device.IP,
		device.Browser,
		device.OS,
		string(device.Class),
		encoded,
		at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update session device: %w", err)
	}
	return affected(result)
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.listActiveByUserStmt.QueryContext(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*domain.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Terminate(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	result, err := r.terminateStmt.ExecContext(ctx, sessionID, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	return affected(result)
}

func (r *SessionRepository) TerminateByToken(ctx context.Context, userID, token string, at time.Time) ([]string, error) {
	return collectIDs(r.terminateByTokenStmt.QueryContext(ctx, userID, token, at))
}

func (r *SessionRepository) TerminateAllExcept(ctx context.Context, userID, keepToken string, at time.Time) ([]string, error) {
	return collectIDs(r.terminateAllExceptStmt.QueryContext(ctx, userID, keepToken, at))
}

func (r *SessionRepository) TerminateAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	return collectIDs(r.terminateAllByUserStmt.QueryContext(ctx, userID, at))
}

func (r *SessionRepository) DeleteStale(ctx context.Context, now, inactiveBefore time.Time) (int64, error) {
	result, err := r.deleteStaleStmt.ExecContext(ctx, now, inactiveBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

// Close releases the prepared statements.
func (r *SessionRepository) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		r.createStmt, r.getActiveByTokenStmt, r.touchStmt, r.updateDeviceStmt,
		r.listActiveByUserStmt, r.terminateStmt, r.terminateByTokenStmt,
		r.terminateAllExceptStmt, r.terminateAllByUserStmt, r.deleteStaleStmt,
	} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	return errors.Join(errs...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s            domain.Session
		deviceClass  string
		status       string
		location     []byte
		terminatedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Token,
		&s.Device.UserAgent,
		&s.Device.IP,
		&s.Device.Browser,
		&s.Device.OS,
		&deviceClass,
		&location,
		&status,
		&s.LastActivity,
		&s.CreatedAt,
		&s.ExpiresAt,
		&terminatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Device.Class = domain.DeviceClass(deviceClass)
	s.Status = domain.SessionStatus(status)
	if terminatedAt.Valid {
		t := terminatedAt.Time
		s.TerminatedAt = &t
	}
	if len(location) > 0 {
		s.Location = &domain.Location{}
		if err := json.Unmarshal(location, s.Location); err != nil {
			return nil, fmt.Errorf("failed to decode session location: %w", err)
		}
	}
	return &s, nil
}

// encodeLocation returns a JSON string for the jsonb column, or nil for NULL.
// A string is used because lib/pq sends []byte as bytea.
func encodeLocation(loc *domain.Location) (any, error) {
	if loc == nil {
		return nil, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session location: %w", err)
	}
	return string(b), nil
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
