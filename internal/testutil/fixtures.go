package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"forum-core/internal/domain"
)

var idCounter atomic.Int64

// TestPassword is the plaintext behind TestPasswordHash.
const TestPassword = "correct-horse-battery"

// TestPasswordHash is a MinCost bcrypt hash of TestPassword.
var TestPasswordHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}()

// UserOptions allows customizing user fixture creation
type UserOptions struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         domain.Role
	CreatedAt    time.Time
}

// NewTestUser creates a test user with sensible defaults.
func NewTestUser(opts ...func(*UserOptions)) *domain.User {
	n := idCounter.Add(1)
	o := &UserOptions{
		ID:           uuid.NewString(),
		Email:        fmt.Sprintf("user%d@example.com", n),
		Name:         fmt.Sprintf("Test User %d", n),
		PasswordHash: TestPasswordHash,
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	for _, opt := range opts {
		opt(o)
	}

	return &domain.User{
		ID:           o.ID,
		Email:        o.Email,
		Name:         o.Name,
		PasswordHash: o.PasswordHash,
		Role:         o.Role,
		CreatedAt:    o.CreatedAt,
	}
}

func WithUserID(id string) func(*UserOptions) {
	return func(o *UserOptions) { o.ID = id }
}

func WithEmail(email string) func(*UserOptions) {
	return func(o *UserOptions) { o.Email = email }
}

func WithRole(role domain.Role) func(*UserOptions) {
	return func(o *UserOptions) { o.Role = role }
}

func WithPasswordHash(hash string) func(*UserOptions) {
	return func(o *UserOptions) { o.PasswordHash = hash }
}

// SessionOptions allows customizing session fixture creation
type SessionOptions struct {
	ID           string
	UserID       string
	Token        string
	Device       domain.DeviceInfo
	Location     *domain.Location
	LastActivity time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// NewTestSession creates an active session that expires in a day.
func NewTestSession(opts ...func(*SessionOptions)) *domain.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	o := &SessionOptions{
		ID:     uuid.NewString(),
		UserID: uuid.NewString(),
		Token:  fmt.Sprintf("token-%d", idCounter.Add(1)),
		Device: domain.DeviceInfo{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0",
			IP:        "203.0.113.10",
			Browser:   "Firefox",
			OS:        "Linux",
			Class:     domain.DeviceDesktop,
		},
		LastActivity: now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(24 * time.Hour),
	}
	for _, opt := range opts {
		opt(o)
	}

	return &domain.Session{
		ID:           o.ID,
		UserID:       o.UserID,
		Token:        o.Token,
		Device:       o.Device,
		Location:     o.Location,
		Status:       domain.SessionActive,
		LastActivity: o.LastActivity,
		CreatedAt:    o.CreatedAt,
		ExpiresAt:    o.ExpiresAt,
	}
}

func WithSessionID(id string) func(*SessionOptions) {
	return func(o *SessionOptions) { o.ID = id }
}

func WithSessionUserID(userID string) func(*SessionOptions) {
	return func(o *SessionOptions) { o.UserID = userID }
}

func WithToken(token string) func(*SessionOptions) {
	return func(o *SessionOptions) { o.Token = token }
}

func WithDeviceIP(ip string) func(*SessionOptions) {
	return func(o *SessionOptions) { o.Device.IP = ip }
}

func WithLocation(loc *domain.Location) func(*SessionOptions) {
	return func(o *SessionOptions) { o.Location = loc }
}

func WithLastActivity(t time.Time) func(*SessionOptions) {
	return func(o *SessionOptions) { o.LastActivity = t }
}

func WithExpiresAt(t time.Time) func(*SessionOptions) {
	return func(o *SessionOptions) { o.ExpiresAt = t }
}

// WithExpired creates a session that expired an hour ago.
func WithExpired() func(*SessionOptions) {
	return func(o *SessionOptions) { o.ExpiresAt = time.Now().Add(-time.Hour) }
}
