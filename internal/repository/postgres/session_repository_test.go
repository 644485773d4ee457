package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-core/internal/domain"
)

var sessionRowColumns = []string{
	"id", "user_id", "token", "user_agent", "ip", "browser", "os", "device_class",
	"location", "status", "last_activity", "created_at", "expires_at", "terminated_at",
}

// setupSessionRepositoryMocks expects every prepared statement in the order
// NewSessionRepository prepares them.
func setupSessionRepositoryMocks(mock sqlmock.Sqlmock) {
	for _, q := range []string{
		"INSERT INTO sessions",
		"SELECT id, user_id, token",
		"UPDATE sessions SET last_activity = $2",
		"UPDATE sessions SET user_agent = $2",
		"WHERE user_id = $1 AND status = 'active' AND expires_at > $2 ORDER BY last_activity DESC",
		"WHERE id = $1 AND user_id = $2 AND status = 'active'",
		"WHERE user_id = $1 AND token = $2 AND status = 'active' RETURNING id",
		"WHERE user_id = $1 AND token <> $2 AND status = 'active' RETURNING id",
		"WHERE user_id = $1 AND status = 'active' RETURNING id",
		"DELETE FROM sessions WHERE expires_at <= $1 OR last_activity < $2",
	} {
		mock.ExpectPrepare(regexp.QuoteMeta(q))
	}
}

func newSessionRepo(t *testing.T) (*SessionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	setupSessionRepositoryMocks(mock)
	repo, err := NewSessionRepository(db)
	require.NoError(t, err)
	return repo, mock
}

func TestNewSessionRepository(t *testing.T) {
	t.Run("successful_creation", func(t *testing.T) {
		repo, mock := newSessionRepo(t)
		assert.NotNil(t, repo)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails_when_prepare_fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO sessions")).
			WillReturnError(errors.New("prepare failed"))

		repo, err := NewSessionRepository(db)
		require.Error(t, err)
		assert.Nil(t, repo)
		assert.Contains(t, err.Error(), "failed to prepare create statement")
	})
}

func TestSessionRepository_Create(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &domain.Session{
		ID:     "550e8400-e29b-41d4-a716-446655440000",
		UserID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Token:  "token123",
		Device: domain.DeviceInfo{
			UserAgent: "Mozilla/5.0",
			IP:        "8.8.8.8",
			Browser:   "Chrome",
			OS:        "Windows",
			Class:     domain.DeviceDesktop,
		},
		Location:     &domain.Location{Country: "US", City: "Mountain View", Latitude: 37.4, Longitude: -122.1},
		Status:       domain.SessionActive,
		LastActivity: now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}

	t.Run("successful_creation", func(t *testing.T) {
		repo, mock := newSessionRepo(t)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
			WithArgs(session.ID, session.UserID, "token123", "Mozilla/5.0", "8.8.8.8", "Chrome", "Windows", "desktop",
				`{"country":"US","city":"Mountain View","latitude":37.4,"longitude":-122.1}`,
				"active", now, now, now.Add(time.Hour)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(context.Background(), session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil_location_is_null", func(t *testing.T) {
		repo, mock := newSessionRepo(t)
		noLoc := *session
		noLoc.Location = nil

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), nil,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(context.Background(), &noLoc))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown_user", func(t *testing.T) {
		repo, mock := newSessionRepo(t)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
			WillReturnError(&pq.Error{Code: "23503", Constraint: "sessions_user_id_fkey"})

		err := repo.Create(context.Background(), session)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("database_error", func(t *testing.T) {
		repo, mock := newSessionRepo(t)

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
			WillReturnError(errors.New("database error"))

		err := repo.Create(context.Background(), session)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create session")
	})
}

func TestSessionRepository_GetActiveByToken(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		repo, mock := newSessionRepo(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE token = $1 AND status = 'active' AND expires_at > $2")).
			WithArgs("token123", now).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns).AddRow(
				"s-1", "u-1", "token123", "ua", "8.8.8.8", "Chrome", "Windows", "desktop",
				[]byte(`{"country":"US","city":"X","latitude":1,"longitude":2}`),
				"active", now, now, now.Add(time.Hour), nil,
			))

		session, err := repo.GetActiveByToken(context.Background(), "token123", now)
		require.NoError(t, err)
		assert.Equal(t, "s-1", session.ID)
		assert.Equal(t, domain.SessionActive, session.Status)
		assert.Equal(t, domain.DeviceDesktop, session.Device.Class)
		require.NotNil(t, session.Location)
		assert.Equal(t, "US", session.Location.Country)
		assert.Nil(t, session.TerminatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not_found", func(t *testing.T) {
		repo, mock := newSessionRepo(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE token = $1")).
			WithArgs("missing", now).
			WillReturnRows(sqlmock.NewRows(sessionRowColumns))

		session, err := repo.GetActiveByToken(context.Background(), "missing", now)
		assert.Nil(t, session)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestSessionRepository_Touch(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"matched", 1, true},
		{"no_match_is_not_error", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newSessionRepo(t)

			mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET last_activity = $2")).
				WithArgs("token123", now).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.Touch(context.Background(), "token123", now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSessionRepository_ListActiveByUser(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY last_activity DESC")).
		WithArgs("u-1", now).
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("s-2", "u-1", "t2", "ua", "", "", "", "mobile", nil, "active", now, now, now.Add(time.Hour), nil).
			AddRow("s-1", "u-1", "t1", "ua", "", "", "", "desktop", nil, "active", now.Add(-time.Hour), now, now.Add(time.Hour), nil))

	sessions, err := repo.ListActiveByUser(context.Background(), "u-1", now)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-2", sessions[0].ID)
	assert.Equal(t, domain.DeviceMobile, sessions[0].Device.Class)
	assert.Nil(t, sessions[1].Location)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Terminate_ScopedByUser(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND user_id = $2 AND status = 'active'")).
		WithArgs("s-1", "other-user", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Terminate(context.Background(), "s-1", "other-user", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_TerminateAllExcept(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND token <> $2 AND status = 'active' RETURNING id")).
		WithArgs("u-1", "keep", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1").AddRow("s-3"))

	ids, err := repo.TerminateAllExcept(context.Background(), "u-1", "keep", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1", "s-3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_TerminateByToken_ScopedToUser(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND token = $2 AND status = 'active' RETURNING id")).
		WithArgs("other-user", "token123", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := repo.TerminateByToken(context.Background(), "other-user", "token123", now)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_TerminateAllByUser_Error(t *testing.T) {
	repo, mock := newSessionRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND status = 'active' RETURNING id")).
		WillReturnError(errors.New("connection reset"))

	ids, err := repo.TerminateAllByUser(context.Background(), "u-1", time.Now())
	assert.Nil(t, ids)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to terminate sessions")
}

func TestSessionRepository_DeleteStale(t *testing.T) {
	repo, mock := newSessionRepo(t)
	now := time.Now()
	cutoff := now.Add(-domain.StaleAfter)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at <= $1 OR last_activity < $2")).
		WithArgs(now, cutoff).
		WillReturnResult(driver.RowsAffected(4))

	n, err := repo.DeleteStale(context.Background(), now, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
