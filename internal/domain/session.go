package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// SessionStatus replaces a boolean active flag so terminated rows keep their
// history until the sweep removes them.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionTerminated SessionStatus = "terminated"
)

// StaleAfter is how long a session may go without activity before the sweep
// hard-deletes it.
const StaleAfter = 30 * 24 * time.Hour

type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
)

// DeviceInfo is the fingerprint derived from a request's user agent and IP.
type DeviceInfo struct {
	UserAgent string      `json:"user_agent"`
	IP        string      `json:"ip"`
	Browser   string      `json:"browser,omitempty"`
	OS        string      `json:"os,omitempty"`
	Class     DeviceClass `json:"device_class"`
}

// Location is a coarse, IP-derived geolocation.
type Location struct {
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Session binds an issued auth token to a device. It can be revoked
// independently of the token's signature and expiry.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Token        string        `json:"-"`
	Device       DeviceInfo    `json:"device"`
	Location     *Location     `json:"location,omitempty"`
	Status       SessionStatus `json:"status"`
	LastActivity time.Time     `json:"last_activity"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	TerminatedAt *time.Time    `json:"terminated_at,omitempty"`
}

func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// IsValid reports whether the session is active and not yet expired at now.
func (s *Session) IsValid(now time.Time) bool {
	return s.IsActive() && s.ExpiresAt.After(now)
}

// SessionRepository defines the interface for session data access.
// Every mutation is a single statement filtered by token, or by user id plus
// session id, so concurrent instances never touch another user's rows.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	// GetActiveByToken returns ErrSessionNotFound unless the row is active and
	// expires after now.
	GetActiveByToken(ctx context.Context, token string, now time.Time) (*Session, error)
	Touch(ctx context.Context, token string, at time.Time) (bool, error)
	UpdateDevice(ctx context.Context, token string, device DeviceInfo, location *Location, at time.Time) (bool, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*Session, error)
	Terminate(ctx context.Context, sessionID, userID string, at time.Time) (bool, error)
	TerminateByToken(ctx context.Context, userID, token string, at time.Time) ([]string, error)
	TerminateAllExcept(ctx context.Context, userID, keepToken string, at time.Time) ([]string, error)
	TerminateAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error)
	// DeleteStale hard-deletes rows expired at now or idle since before
	// inactiveBefore.
	DeleteStale(ctx context.Context, now, inactiveBefore time.Time) (int64, error)
}
