package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"forum-core/internal/domain"
	"forum-core/internal/observability"
	"forum-core/internal/security"
)

const defaultBcryptCost = 12

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"max=100"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	UserAgent string `json:"-"`
	IP        string `json:"-"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

// LoginResult is everything the handler needs to set the session cookie.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Session   *domain.Session
	User      *domain.User
}

type AuthService struct {
	users      domain.UserRepository
	sessions   *SessionService
	tokens     *security.TokenCodec
	validator  *validator.Validate
	bcryptCost int
	now        func() time.Time
}

func NewAuthService(users domain.UserRepository, sessions *SessionService, tokens *security.TokenCodec) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		validator:  validator.New(),
		bcryptCost: defaultBcryptCost,
		now:        time.Now,
	}
}

// WithBcryptCost overrides the hashing cost, mainly for tests.
func (s *AuthService) WithBcryptCost(cost int) *AuthService {
	s.bcryptCost = cost
	return s
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(input); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		Name:         input.Name,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks the credentials, signs a token and records a session for it.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := s.validate(input); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Sign(user.ID, user.Email, user.Name)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, CreateSessionParams{
		UserID:    user.ID,
		Token:     token,
		UserAgent: input.UserAgent,
		IP:        input.IP,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}

	// best effort: the session already exists
	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		observability.FromContext(ctx).Warn("failed to record last login",
			"user_id", user.ID, "error", err)
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, Session: session, User: user}, nil
}

// Logout ends the session carrying token. A token without a live session is
// not an error.
func (s *AuthService) Logout(ctx context.Context, userID, token string) error {
	_, err := s.sessions.TerminateCurrent(ctx, userID, token)
	return err
}

// ChangePassword stores a new hash and terminates every other session of the
// user. It returns how many sessions were ended.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentToken string, input ChangePasswordInput) (int, error) {
	if err := s.validate(input); err != nil {
		return 0, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.CurrentPassword)); err != nil {
		return 0, domain.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return 0, err
	}

	return s.sessions.terminateMany(ctx, userID, domain.ReasonPasswordChange, func(at time.Time) ([]string, error) {
		return s.sessions.repo.TerminateAllExcept(ctx, userID, currentToken, at)
	})
}

// Authenticate runs both checks: the token must verify and a live session
// owned by the token's subject must exist. Any failure returns an error.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*security.Claims, *domain.Session, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if session == nil || session.UserID != claims.UserID() {
		return nil, nil, domain.ErrSessionNotFound
	}
	return claims, session, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// MarkSeen updates the user's last-seen timestamp.
func (s *AuthService) MarkSeen(ctx context.Context, userID string) error {
	return s.users.UpdateLastSeen(ctx, userID, s.now().UTC())
}

func (s *AuthService) validate(input any) error {
	if err := s.validator.Struct(input); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, formatValidationErrors(err))
	}
	return nil
}

func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		field := strings.ToLower(fieldError.Field())
		switch fieldError.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "email":
			messages = append(messages, field+" must be a valid email address")
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field, fieldError.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, fieldError.Param()))
		case "nefield":
			messages = append(messages, field+" must differ from the current password")
		default:
			messages = append(messages, field+" is invalid")
		}
	}
	return strings.Join(messages, "; ")
}
