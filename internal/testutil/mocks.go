// Package testutil provides shared test utilities, mocks, and fixtures
// for the forum-core packages.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"forum-core/internal/domain"
)

var ErrMockFailure = errors.New("mock: forced failure")

// MockUserRepository implements domain.UserRepository in memory.
type MockUserRepository struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	CreateFunc     func(ctx context.Context, user *domain.User) error
	GetByIDFunc    func(ctx context.Context, id string) (*domain.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*domain.User, error)

	UpdateLastLoginFunc func(ctx context.Context, id string, at time.Time) error

	Users map[string]*domain.User
}

func NewMockUserRepository(users ...*domain.User) *MockUserRepository {
	m := &MockUserRepository{Users: make(map[string]*domain.User)}
	for _, u := range users {
		m.Users[u.ID] = u
	}
	return m
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.Users {
		if u.Email == user.Email {
			return domain.ErrEmailExists
		}
	}
	m.Users[user.ID] = user
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if user, ok := m.Users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.Users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return m.update(id, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (m *MockUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return m.update(id, func(u *domain.User) {
		u.LastLoginAt = &at
		u.LastSeenAt = &at
	})
}

func (m *MockUserRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(u *domain.User) { u.LastSeenAt = &at })
}

func (m *MockUserRepository) update(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.Users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	fn(user)
	return nil
}

// MockSessionRepository implements domain.SessionRepository in memory with
// the same filtering rules as the SQL repositories.
type MockSessionRepository struct {
	mu sync.RWMutex

	CreateFunc           func(ctx context.Context, session *domain.Session) error
	GetActiveByTokenFunc func(ctx context.Context, token string, now time.Time) (*domain.Session, error)
	ListActiveByUserFunc func(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	DeleteStaleFunc      func(ctx context.Context, now, inactiveBefore time.Time) (int64, error)

	// Sessions is keyed by token.
	Sessions map[string]*domain.Session
}

func NewMockSessionRepository(sessions ...*domain.Session) *MockSessionRepository {
	m := &MockSessionRepository{Sessions: make(map[string]*domain.Session)}
	for _, s := range sessions {
		m.Sessions[s.Token] = s
	}
	return m
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Sessions[session.Token]; exists {
		return errors.New("mock: duplicate token")
	}
	cp := *session
	m.Sessions[session.Token] = &cp
	return nil
}

func (m *MockSessionRepository) GetActiveByToken(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	if m.GetActiveByTokenFunc != nil {
		return m.GetActiveByTokenFunc(ctx, token, now)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.Sessions[token]; ok && s.IsValid(now) {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrSessionNotFound
}

func (m *MockSessionRepository) Touch(ctx context.Context, token string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.Sessions[token]
	if !ok || !s.IsValid(at) {
		return false, nil
	}
	s.LastActivity = at
	return true, nil
}

func (m *MockSessionRepository) UpdateDevice(ctx context.Context, token string, device domain.DeviceInfo, location *domain.Location, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.Sessions[token]
	if !ok || !s.IsValid(at) {
		return false, nil
	}
	s.Device = device
	s.Location = location
	s.LastActivity = at
	return true, nil
}

func (m *MockSessionRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	if m.ListActiveByUserFunc != nil {
		return m.ListActiveByUserFunc(ctx, userID, now)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*domain.Session{}
	for _, s := range m.Sessions {
		if s.UserID == userID && s.IsValid(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (m *MockSessionRepository) Terminate(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	ids := m.terminateWhere(at, func(s *domain.Session) bool {
		return s.ID == sessionID && s.UserID == userID
	})
	return len(ids) > 0, nil
}

func (m *MockSessionRepository) TerminateByToken(ctx context.Context, userID, token string, at time.Time) ([]string, error) {
	return m.terminateWhere(at, func(s *domain.Session) bool { return s.UserID == userID && s.Token == token }), nil
}

func (m *MockSessionRepository) TerminateAllExcept(ctx context.Context, userID, keepToken string, at time.Time) ([]string, error) {
	return m.terminateWhere(at, func(s *domain.Session) bool {
		return s.UserID == userID && s.Token != keepToken
	}), nil
}

func (m *MockSessionRepository) TerminateAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	return m.terminateWhere(at, func(s *domain.Session) bool { return s.UserID == userID }), nil
}

func (m *MockSessionRepository) DeleteStale(ctx context.Context, now, inactiveBefore time.Time) (int64, error) {
	if m.DeleteStaleFunc != nil {
		return m.DeleteStaleFunc(ctx, now, inactiveBefore)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for token, s := range m.Sessions {
		if !s.ExpiresAt.After(now) || s.LastActivity.Before(inactiveBefore) {
			delete(m.Sessions, token)
			count++
		}
	}
	return count, nil
}

// Get returns the stored session for token regardless of status.
func (m *MockSessionRepository) Get(token string) (*domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.Sessions[token]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

func (m *MockSessionRepository) terminateWhere(at time.Time, match func(*domain.Session) bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := []string{}
	for _, s := range m.Sessions {
		if s.IsActive() && match(s) {
			s.Status = domain.SessionTerminated
			s.TerminatedAt = &at
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// MockLocationResolver returns a fixed location and records every lookup.
type MockLocationResolver struct {
	mu       sync.Mutex
	Location *domain.Location
	Calls    []string
}

func (m *MockLocationResolver) Resolve(ctx context.Context, ip string) *domain.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, ip)
	if m.Location == nil {
		return nil
	}
	loc := *m.Location
	return &loc
}

func (m *MockLocationResolver) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockEventPublisher records published session events.
type MockEventPublisher struct {
	mu     sync.Mutex
	Err    error
	Events []domain.SessionEvent
}

func (m *MockEventPublisher) PublishSessionEvent(ctx context.Context, event domain.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, event)
	return nil
}

// Published returns a copy of the recorded events.
func (m *MockEventPublisher) Published() []domain.SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SessionEvent(nil), m.Events...)
}
