// Package identity provides user registration, login, token handling and
// self-service user management.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/recipe-garden/internal/authz"
	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/pkg/ctxlog"
	"github.com/bissquit/recipe-garden/internal/pkg/metrics"
	"golang.org/x/crypto/bcrypt"
)

// Repository defines the interface for user and refresh token storage.
type Repository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, id int64) error

	SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error
	ConsumeRefreshToken(ctx context.Context, id string) (*domain.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, id string) error
	DeleteUserRefreshTokens(ctx context.Context, userID int64) error
}

// Authenticator issues and validates tokens.
type Authenticator interface {
	GenerateTokens(ctx context.Context, user *domain.User) (*TokenPair, error)
	ValidateAccessToken(ctx context.Context, token string) (int64, domain.Role, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error)
	RevokeRefreshToken(ctx context.Context, refreshToken string) error
}

// UserCreatedHandler is called after a user registers.
type UserCreatedHandler interface {
	OnUserCreated(ctx context.Context, user *domain.User) error
}

// UserCreatedFunc adapts a function to UserCreatedHandler.
type UserCreatedFunc func(ctx context.Context, user *domain.User) error

// OnUserCreated calls f.
func (f UserCreatedFunc) OnUserCreated(ctx context.Context, user *domain.User) error {
	return f(ctx, user)
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// RegisterInput contains data for user registration.
type RegisterInput struct {
	Username string
	Password string
}

// LoginInput contains login credentials.
type LoginInput struct {
	Username string
	Password string
}

// UpdateUserInput contains fields to change on a user. Nil fields stay as is.
type UpdateUserInput struct {
	Password *string
	Role     *domain.Role
}

// Service implements identity business logic.
type Service struct {
	repo          Repository
	auth          Authenticator
	onUserCreated UserCreatedHandler
}

// NewService creates a new identity service. onUserCreated may be nil.
func NewService(repo Repository, auth Authenticator, onUserCreated UserCreatedHandler) *Service {
	return &Service{
		repo:          repo,
		auth:          auth,
		onUserCreated: onUserCreated,
	}
}

// Register creates a new user with the user role.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	username := domain.NormalizeName(input.Username)

	_, err := s.repo.GetUserByUsername(ctx, username)
	if err == nil {
		return nil, ErrUsernameExists
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.onUserCreated != nil {
		if err := s.onUserCreated.OnUserCreated(ctx, user); err != nil {
			ctxlog.FromContext(ctx).Warn("user created hook failed",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return user, nil
}

// Login checks credentials and issues tokens.
func (s *Service) Login(ctx context.Context, input LoginInput) (*domain.User, *TokenPair, error) {
	user, err := s.repo.GetUserByUsername(ctx, domain.NormalizeName(input.Username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	tokens, err := s.auth.GenerateTokens(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("generate tokens: %w", err)
	}

	return user, tokens, nil
}

// RefreshTokens exchanges a refresh token for a new token pair.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.auth.RefreshTokens(ctx, refreshToken)
}

// Logout revokes the refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.auth.RevokeRefreshToken(ctx, refreshToken)
}

// ValidateToken decodes an access token into the caller's identity.
func (s *Service) ValidateToken(ctx context.Context, token string) (*authz.Identity, error) {
	userID, role, err := s.auth.ValidateAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &authz.Identity{ActorID: userID, Role: role}, nil
}

// GetUser returns the user with id. Callers may only read themselves unless
// they are admins.
func (s *Service) GetUser(ctx context.Context, caller *authz.Identity, id int64) (*domain.User, error) {
	if err := authorizeSelf("get_user", caller, id); err != nil {
		return nil, err
	}
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUser changes a user's password or role. Only admins may change a
// role. A password change revokes the user's refresh tokens.
func (s *Service) UpdateUser(ctx context.Context, caller *authz.Identity, id int64, input UpdateUserInput) (*domain.User, error) {
	if err := authorizeSelf("update_user", caller, id); err != nil {
		return nil, err
	}
	if input.Role != nil && !caller.IsAdmin() {
		metrics.AuthzDecisions.WithLabelValues("change_role", metrics.DecisionForbidden).Inc()
		return nil, authz.ErrForbidden
	}

	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Role != nil {
		user.Role = *input.Role
	}
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if input.Password != nil {
		if err := s.repo.DeleteUserRefreshTokens(ctx, id); err != nil {
			return nil, fmt.Errorf("revoke refresh tokens: %w", err)
		}
	}

	return user, nil
}

// DeleteUser removes a user. Recipes the user owned become unowned.
func (s *Service) DeleteUser(ctx context.Context, caller *authz.Identity, id int64) error {
	if err := authorizeSelf("delete_user", caller, id); err != nil {
		return err
	}
	return s.repo.DeleteUser(ctx, id)
}

func authorizeSelf(operation string, caller *authz.Identity, userID int64) error {
	err := authz.AuthorizeSelf(caller, userID)
	decision := metrics.DecisionAllow
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		decision = metrics.DecisionUnauthenticated
	case errors.Is(err, authz.ErrForbidden):
		decision = metrics.DecisionForbidden
	}
	metrics.AuthzDecisions.WithLabelValues(operation, decision).Inc()
	return err
}
