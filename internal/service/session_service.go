package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forum-core/internal/device"
	"forum-core/internal/domain"
	"forum-core/internal/observability"
)

// LocationResolver maps a client IP to a coarse location. It returns nil when
// the IP is private or the lookup fails.
type LocationResolver interface {
	Resolve(ctx context.Context, ip string) *domain.Location
}

// EventPublisher fans session events out to every server instance.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event domain.SessionEvent) error
}

// CreateSessionParams describes a new login.
type CreateSessionParams struct {
	UserID    string
	Token     string
	UserAgent string
	IP        string
	ExpiresAt time.Time
	// Location overrides the geo-IP lookup when set.
	Location *domain.Location
}

// SessionService is the multi-device session registry.
type SessionService struct {
	repo     domain.SessionRepository
	resolver LocationResolver
	events   EventPublisher
	now      func() time.Time
}

// NewSessionService creates a session service. resolver and events may be nil.
func NewSessionService(repo domain.SessionRepository, resolver LocationResolver, events EventPublisher) *SessionService {
	return &SessionService{
		repo:     repo,
		resolver: resolver,
		events:   events,
		now:      time.Now,
	}
}

// Create records a session for a fresh login.
func (s *SessionService) Create(ctx context.Context, p CreateSessionParams) (*domain.Session, error) {
	if p.UserID == "" || p.Token == "" {
		return nil, errors.New("session requires a user id and token")
	}

	now := s.now()
	info := device.ParseUserAgent(p.UserAgent)
	info.IP = device.NormalizeIP(p.IP)

	location := p.Location
	if location == nil {
		location = s.resolve(ctx, info.IP)
	}

	session := &domain.Session{
		ID:           uuid.NewString(),
		UserID:       p.UserID,
		Token:        p.Token,
		Device:       info,
		Location:     location,
		Status:       domain.SessionActive,
		LastActivity: now,
		CreatedAt:    now,
		ExpiresAt:    p.ExpiresAt,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	observability.SessionsCreatedTotal.Inc()
	s.publish(ctx, domain.SessionEvent{
		Type:       domain.EventSessionCreated,
		UserID:     session.UserID,
		SessionIDs: []string{session.ID},
		OccurredAt: now,
	})
	return session, nil
}

// Touch bumps last activity on the active session for token. A token with no
// live session is not an error.
func (s *SessionService) Touch(ctx context.Context, token string) error {
	if _, err := s.repo.Touch(ctx, token, s.now()); err != nil {
		return err
	}
	return nil
}

// TouchDetailed is Touch plus a refresh of the device fingerprint. The
// location is replaced by override when given; otherwise it is re-resolved
// only when the IP changed to a public address, and kept when that lookup
// fails.
func (s *SessionService) TouchDetailed(ctx context.Context, token, userAgent, ip string, override *domain.Location) error {
	now := s.now()
	current, err := s.repo.GetActiveByToken(ctx, token, now)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	info := device.ParseUserAgent(userAgent)
	info.IP = device.NormalizeIP(ip)

	location := current.Location
	switch {
	case override != nil:
		location = override
	case info.IP != current.Device.IP && !device.IsPrivateIP(info.IP):
		if resolved := s.resolve(ctx, info.IP); resolved != nil {
			location = resolved
		}
	}

	_, err = s.repo.UpdateDevice(ctx, token, info, location, now)
	return err
}

// ListActive returns the user's live sessions, most recently active first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]*domain.Session, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.now())
}

// Terminate soft-deletes one session if it belongs to userID. False means the
// session does not exist, is not the user's, or is already terminated.
func (s *SessionService) Terminate(ctx context.Context, sessionID, userID string) (bool, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return false, nil
	}

	ok, err := s.repo.Terminate(ctx, sessionID, userID, s.now())
	if err != nil || !ok {
		return false, err
	}

	s.terminated(ctx, userID, []string{sessionID}, domain.ReasonUser)
	return true, nil
}

// TerminateAllOthers soft-deletes every active session of the user except
// the one carrying currentToken.
func (s *SessionService) TerminateAllOthers(ctx context.Context, userID, currentToken string) (int, error) {
	return s.terminateMany(ctx, userID, domain.ReasonOthers, func(at time.Time) ([]string, error) {
		return s.repo.TerminateAllExcept(ctx, userID, currentToken, at)
	})
}

// TerminateAll soft-deletes every active session of the user.
func (s *SessionService) TerminateAll(ctx context.Context, userID string, reason domain.TerminationReason) (int, error) {
	return s.terminateMany(ctx, userID, reason, func(at time.Time) ([]string, error) {
		return s.repo.TerminateAllByUser(ctx, userID, at)
	})
}

// TerminateCurrent ends the session carrying token, used on logout.
func (s *SessionService) TerminateCurrent(ctx context.Context, userID, token string) (bool, error) {
	n, err := s.terminateMany(ctx, userID, domain.ReasonLogout, func(at time.Time) ([]string, error) {
		return s.repo.TerminateByToken(ctx, userID, token, at)
	})
	return n > 0, err
}

// SweepExpired hard-deletes sessions that expired or have been idle longer
// than domain.StaleAfter.
func (s *SessionService) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.repo.DeleteStale(ctx, now, now.Add(-domain.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	observability.SessionsSweptTotal.Add(float64(n))
	return n, nil
}

// Validate returns the active, unexpired session for token and touches it,
// or nil when there is none.
func (s *SessionService) Validate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}

	now := s.now()
	session, err := s.repo.GetActiveByToken(ctx, token, now)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.Touch(ctx, token, now); err != nil {
		return nil, err
	}
	session.LastActivity = now
	return session, nil
}

func (s *SessionService) terminateMany(ctx context.Context, userID string, reason domain.TerminationReason, fn func(at time.Time) ([]string, error)) (int, error) {
	ids, err := fn(s.now())
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.terminated(ctx, userID, ids, reason)
	}
	return len(ids), nil
}

func (s *SessionService) terminated(ctx context.Context, userID string, ids []string, reason domain.TerminationReason) {
	observability.SessionsTerminatedTotal.WithLabelValues(string(reason)).Add(float64(len(ids)))
	observability.FromContext(ctx).Info("sessions terminated",
		"user_id", userID, "count", len(ids), "reason", reason)

	s.publish(ctx, domain.SessionEvent{
		Type:       domain.EventSessionTerminated,
		UserID:     userID,
		SessionIDs: ids,
		Reason:     reason,
		OccurredAt: s.now(),
	})
}

func (s *SessionService) resolve(ctx context.Context, ip string) *domain.Location {
	if s.resolver == nil || device.IsPrivateIP(ip) {
		return nil
	}
	return s.resolver.Resolve(ctx, ip)
}

func (s *SessionService) publish(ctx context.Context, event domain.SessionEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSessionEvent(ctx, event); err != nil {
		observability.FromContext(ctx).Warn("failed to publish session event",
			"type", event.Type, "user_id", event.UserID, "error", err)
	}
}
