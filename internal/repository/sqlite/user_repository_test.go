package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-core/internal/domain"
	"forum-core/internal/testutil"
)

func TestUserRepository_Lifecycle(t *testing.T) {
	repo := NewUserRepository(testutil.NewSQLiteDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	user := &domain.User{
		ID:           "u-1",
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: "hash",
		Role:         domain.RoleModerator,
		CreatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, user))

	dup := *user
	dup.ID = "u-2"
	assert.ErrorIs(t, repo.Create(ctx, &dup), domain.ErrEmailExists)

	got, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, domain.RoleModerator, got.Role)
	assert.Equal(t, now, got.CreatedAt)
	assert.Nil(t, got.LastLoginAt)

	require.NoError(t, repo.UpdateLastLogin(ctx, "u-1", now.Add(time.Minute)))
	require.NoError(t, repo.UpdatePassword(ctx, "u-1", "new-hash"))

	got, err = repo.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, now.Add(time.Minute), *got.LastLoginAt)
	require.NotNil(t, got.LastSeenAt)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.ErrorIs(t, repo.UpdateLastSeen(ctx, "missing", now), domain.ErrUserNotFound)
}
