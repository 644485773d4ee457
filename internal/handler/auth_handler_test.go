package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-core/internal/domain"
	"forum-core/internal/middleware"
	"forum-core/internal/testutil"
)

func TestAuthHandler_Register(t *testing.T) {
	existing := testutil.NewTestUser(testutil.WithEmail("taken@example.com"))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "created",
			body:       `{"email":"new@example.com","name":"New","password":"password123"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "malformed json",
			body:       `{"email":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "validation",
			body:       `{"password":"password123"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid input: email is required",
		},
		{
			name:       "duplicate email",
			body:       `{"email":"Taken@example.com","password":"password123"}`,
			wantStatus: http.StatusConflict,
			wantError:  "Email already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t, []*domain.User{existing})
			req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := env.do(req)

			if tt.wantError != "" {
				testutil.AssertJSONError(t, w, tt.wantStatus, tt.wantError)
				return
			}
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			body := testutil.DecodeJSON[map[string]any](t, w)
			assert.Equal(t, "new@example.com", body["email"])
			assert.Equal(t, "user", body["role"])
			assert.NotContains(t, body, "password_hash")
		})
	}
}

type loginResponseBody struct {
	User      domain.User    `json:"user"`
	Session   domain.Session `json:"session"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func TestAuthHandler_Login(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	env := newHandlerEnv(t, []*domain.User{user})

	req := testutil.NewJSONRequest(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": testutil.TestPassword,
	})
	req.Header.Set("User-Agent", firefoxUA)
	req.RemoteAddr = "198.51.100.20:4321"

	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cookie := testutil.AssertCookie(t, w, middleware.SessionCookie)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)

	body := testutil.DecodeJSON[loginResponseBody](t, w)
	assert.Equal(t, user.ID, body.User.ID)
	assert.Equal(t, "Firefox", body.Session.Device.Browser)
	assert.Equal(t, "198.51.100.20", body.Session.Device.IP)
	assert.True(t, body.ExpiresAt.After(time.Now()))

	stored, ok := env.repo.Get(cookie.Value)
	require.True(t, ok)
	assert.Equal(t, body.Session.ID, stored.ID)
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("alice@example.com"))
	env := newHandlerEnv(t, []*domain.User{user})

	for _, body := range []map[string]string{
		{"email": "alice@example.com", "password": "wrong-password"},
		{"email": "nobody@example.com", "password": testutil.TestPassword},
	} {
		w := env.do(testutil.NewJSONRequest(t, http.MethodPost, "/auth/login", body))
		testutil.AssertJSONError(t, w, http.StatusUnauthorized, "Invalid credentials")
		assert.Nil(t, testutil.FindCookie(w, middleware.SessionCookie))
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	user := testutil.NewTestUser()
	env := newHandlerEnv(t, []*domain.User{user})
	login := env.login(t, user, firefoxUA)

	w := env.do(withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), login.Token))
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	for _, name := range []string{middleware.SessionCookie, middleware.LegacySessionCookie} {
		c := testutil.AssertCookie(t, w, name)
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	}

	// The token still verifies but its session is gone.
	w = env.do(withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), login.Token))
	testutil.AssertJSONError(t, w, http.StatusUnauthorized, "Not authenticated")
}

func TestAuthHandler_Logout_DeadSessionStillClearsCookies(t *testing.T) {
	user := testutil.NewTestUser()
	env := newHandlerEnv(t, []*domain.User{user})
	mine := env.login(t, user, firefoxUA)
	other := env.login(t, user, firefoxUA)

	_, err := env.sessions.TerminateAllOthers(context.Background(), user.ID, other.Token)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"revoked session", mine.Token},
		{"garbage token", "not-a-jwt"},
		{"no cookie", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			if tt.token != "" {
				req = withSession(req, tt.token)
			}
			w := env.do(req)

			require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
			for _, name := range []string{middleware.SessionCookie, middleware.LegacySessionCookie} {
				assert.Negative(t, testutil.AssertCookie(t, w, name).MaxAge)
			}
		})
	}

	// the surviving device is untouched
	w := env.do(withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), other.Token))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthHandler_Me(t *testing.T) {
	user := testutil.NewTestUser(testutil.WithEmail("me@example.com"))
	env := newHandlerEnv(t, []*domain.User{user})
	login := env.login(t, user, firefoxUA)

	w := env.do(withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), login.Token))
	require.Equal(t, http.StatusOK, w.Code)
	got := testutil.DecodeJSON[domain.User](t, w)
	assert.Equal(t, "me@example.com", got.Email)

	w = env.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	testutil.AssertJSONError(t, w, http.StatusUnauthorized, "Not authenticated")
}

func TestAuthHandler_ChangePassword_SignsOutOtherDevices(t *testing.T) {
	user := testutil.NewTestUser()
	env := newHandlerEnv(t, []*domain.User{user})
	laptop := env.login(t, user, firefoxUA)
	phone := env.login(t, user, "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Safari/604.1")

	req := testutil.NewJSONRequest(t, http.MethodPut, "/auth/password", map[string]string{
		"current_password": testutil.TestPassword,
		"new_password":     "a-brand-new-password",
	})
	w := env.do(withSession(req, laptop.Token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"terminated":1}`, w.Body.String())

	w = env.do(withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), phone.Token))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), laptop.Token))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthHandler_ChangePassword_WrongCurrent(t *testing.T) {
	user := testutil.NewTestUser()
	env := newHandlerEnv(t, []*domain.User{user})
	login := env.login(t, user, firefoxUA)

	req := testutil.NewJSONRequest(t, http.MethodPut, "/auth/password", map[string]string{
		"current_password": "not-my-password",
		"new_password":     "a-brand-new-password",
	})
	w := env.do(withSession(req, login.Token))
	testutil.AssertJSONError(t, w, http.StatusUnauthorized, "Invalid credentials")
}
