package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"forum-core/internal/domain"
	"forum-core/internal/security"
	"forum-core/internal/testutil"
)

type authFixture struct {
	svc      *AuthService
	users    *testutil.MockUserRepository
	sessions *testutil.MockSessionRepository
	events   *testutil.MockEventPublisher
	tokens   *security.TokenCodec
}

func newAuthFixture(t *testing.T, users ...*domain.User) *authFixture {
	t.Helper()
	f := &authFixture{
		users:    testutil.NewMockUserRepository(users...),
		sessions: testutil.NewMockSessionRepository(),
		events:   &testutil.MockEventPublisher{},
		tokens:   security.NewTokenCodec([]byte("test-secret-test-secret-test-secret"), "forum-core", "forum-web", time.Hour),
	}
	sessionSvc := NewSessionService(f.sessions, nil, f.events)
	f.svc = NewAuthService(f.users, sessionSvc, f.tokens).WithBcryptCost(bcrypt.MinCost)
	return f
}

func (f *authFixture) login(t *testing.T, email, userAgent string) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), LoginInput{
		Email:     email,
		Password:  testutil.TestPassword,
		UserAgent: userAgent,
		IP:        "8.8.8.8",
	})
	require.NoError(t, err)
	return res
}

func TestAuthService_Register_Success(t *testing.T) {
	f := newAuthFixture(t)

	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "  Alice@Example.com ",
		Name:     "Alice",
		Password: "password123",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("password123")))
}

func TestAuthService_Register_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   RegisterInput
		wantMsg string
	}{
		{"missing email", RegisterInput{Password: "password123"}, "email is required"},
		{"bad email", RegisterInput{Email: "nope", Password: "password123"}, "email must be a valid email address"},
		{"short password", RegisterInput{Email: "a@example.com", Password: "short"}, "password must be at least 8 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			_, err := f.svc.Register(context.Background(), tt.input)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	existing := testutil.NewTestUser(testutil.WithEmail("taken@example.com"))
	f := newAuthFixture(t, existing)

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "taken@example.com", Password: "password123"})
	assert.ErrorIs(t, err, domain.ErrEmailExists)
}

func TestAuthService_Login_Success(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	f := newAuthFixture(t, user)

	res := f.login(t, "ALICE@example.com", iphoneUA)

	assert.NotEmpty(t, res.Token)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, user.ID, res.Session.UserID)
	assert.Equal(t, res.ExpiresAt, res.Session.ExpiresAt)
	assert.Equal(t, domain.DeviceMobile, res.Session.Device.Class)

	claims, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())
	assert.Equal(t, "alice@example.com", claims.Email)

	stored, ok := f.sessions.Get(res.Token)
	require.True(t, ok)
	assert.True(t, stored.IsActive())

	updated, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastLoginAt)
}

func TestAuthService_Login_LastLoginFailureKeepsSession(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	f := newAuthFixture(t, user)
	f.users.UpdateLastLoginFunc = func(context.Context, string, time.Time) error {
		return testutil.ErrMockFailure
	}

	res := f.login(t, "alice@example.com", iphoneUA)

	stored, ok := f.sessions.Get(res.Token)
	require.True(t, ok)
	assert.True(t, stored.IsActive())

	_, session, err := f.svc.Authenticate(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, session.ID)
}

func TestAuthService_Login_InvalidCredentials(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	f := newAuthFixture(t, user)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: testutil.TestPassword})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	assert.Empty(t, f.sessions.Sessions)
}

func TestAuthService_Authenticate(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	f := newAuthFixture(t, user)
	ctx := context.Background()
	res := f.login(t, "alice@example.com", "")

	claims, session, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())
	assert.Equal(t, res.Session.ID, session.ID)

	_, _, err = f.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestAuthService_Authenticate_RequiresLiveSession(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	f := newAuthFixture(t, user)
	ctx := context.Background()

	// A validly signed token that was never recorded as a session.
	token, _, err := f.tokens.Sign(user.ID, user.Email, user.Name)
	require.NoError(t, err)
	_, _, err = f.svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	res := f.login(t, "alice@example.com", "")
	require.NoError(t, f.svc.Logout(ctx, user.ID, res.Token))

	_, _, err = f.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAuthService_Authenticate_SubjectMustOwnSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	token, expiresAt, err := f.tokens.Sign("mallory", "m@example.com", "")
	require.NoError(t, err)
	require.NoError(t, f.sessions.Create(ctx, testutil.NewTestSession(
		testutil.WithToken(token),
		testutil.WithSessionUserID("alice"),
		testutil.WithExpiresAt(expiresAt),
	)))

	_, _, err = f.svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAuthService_ChangePassword(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	f := newAuthFixture(t, user)
	ctx := context.Background()

	current := f.login(t, "alice@example.com", "")
	other1 := f.login(t, "alice@example.com", "")
	other2 := f.login(t, "alice@example.com", "")

	n, err := f.svc.ChangePassword(ctx, user.ID, current.Token, ChangePasswordInput{
		CurrentPassword: testutil.TestPassword,
		NewPassword:     "a-brand-new-password",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{other1.Token, other2.Token} {
		s, _ := f.sessions.Get(tok)
		assert.False(t, s.IsActive())
	}
	s, _ := f.sessions.Get(current.Token)
	assert.True(t, s.IsActive())

	updated, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(updated.PasswordHash), []byte("a-brand-new-password")))

	published := f.events.Published()
	assert.Equal(t, domain.ReasonPasswordChange, published[len(published)-1].Reason)
}

func TestAuthService_ChangePassword_WrongCurrent(t *testing.T) {
	user := testutil.NewTestUser()
	f := newAuthFixture(t, user)

	_, err := f.svc.ChangePassword(context.Background(), user.ID, "tok", ChangePasswordInput{
		CurrentPassword: "not-the-password",
		NewPassword:     "a-brand-new-password",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAuthService_ChangePassword_SamePassword(t *testing.T) {
	user := testutil.NewTestUser()
	f := newAuthFixture(t, user)

	_, err := f.svc.ChangePassword(context.Background(), user.ID, "tok", ChangePasswordInput{
		CurrentPassword: testutil.TestPassword,
		NewPassword:     testutil.TestPassword,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
