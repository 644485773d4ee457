package domain

import "time"

type SessionEventType string

const (
	EventSessionCreated    SessionEventType = "session.created"
	EventSessionTerminated SessionEventType = "session.terminated"
)

// TerminationReason records who or what ended a session.
type TerminationReason string

const (
	ReasonLogout         TerminationReason = "logout"
	ReasonUser           TerminationReason = "user"
	ReasonOthers         TerminationReason = "others"
	ReasonPasswordChange TerminationReason = "password_change"
	ReasonAdmin          TerminationReason = "admin"
)

// SessionEvent is published whenever sessions are created or terminated so
// every server instance can notify the affected user's open connections.
type SessionEvent struct {
	Type       SessionEventType  `json:"type"`
	UserID     string            `json:"user_id"`
	SessionIDs []string          `json:"session_ids"`
	Reason     TerminationReason `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
