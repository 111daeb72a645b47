// Package jwt implements identity.Authenticator with HS256 access tokens and
// opaque refresh tokens stored in the database.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config contains token settings.
type Config struct {
	SecretKey            string
	Issuer               string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

// TokenStore persists refresh tokens and resolves their users.
type TokenStore interface {
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error
	// ConsumeRefreshToken deletes the token and returns it in one step, so
	// concurrent uses of the same token cannot both succeed.
	ConsumeRefreshToken(ctx context.Context, id string) (*domain.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, id string) error
}

// Claims are the access token claims. Subject holds the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Role domain.Role `json:"role"`
}

// Authenticator issues and validates tokens.
type Authenticator struct {
	config Config
	store  TokenStore
	now    func() time.Time
}

// NewAuthenticator creates a new JWT authenticator.
func NewAuthenticator(config Config, store TokenStore) *Authenticator {
	return &Authenticator{
		config: config,
		store:  store,
		now:    time.Now,
	}
}

// GenerateTokens issues an access token and stores a new refresh token.
func (a *Authenticator) GenerateTokens(ctx context.Context, user *domain.User) (*identity.TokenPair, error) {
	now := a.now().UTC()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.AccessTokenDuration)),
		},
		Role: user.Role,
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(a.config.RefreshTokenDuration),
		CreatedAt: now,
	}
	if err := a.store.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &identity.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refresh.ID,
		ExpiresIn:    int(a.config.AccessTokenDuration.Seconds()),
	}, nil
}

// ValidateAccessToken verifies the signature, issuer and expiry of an access
// token and returns the user ID and role it carries.
func (a *Authenticator) ValidateAccessToken(_ context.Context, tokenString string) (int64, domain.Role, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(a.config.SecretKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.config.Issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return 0, "", identity.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, "", identity.ErrInvalidToken
	}
	if !claims.Role.IsValid() {
		return 0, "", identity.ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", identity.ErrInvalidToken
	}

	return userID, claims.Role, nil
}

// RefreshTokens rotates a refresh token: the old one is consumed and a new
// pair is issued with the user's current role. A token is usable once.
func (a *Authenticator) RefreshTokens(ctx context.Context, refreshToken string) (*identity.TokenPair, error) {
	if _, err := uuid.Parse(refreshToken); err != nil {
		return nil, identity.ErrInvalidToken
	}

	stored, err := a.store.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if stored.IsExpired(a.now()) {
		return nil, identity.ErrInvalidToken
	}

	user, err := a.store.GetUserByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, identity.ErrInvalidToken
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return a.GenerateTokens(ctx, user)
}

// RevokeRefreshToken deletes a refresh token. Unknown tokens are ignored.
func (a *Authenticator) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	if _, err := uuid.Parse(refreshToken); err != nil {
		return nil
	}
	return a.store.DeleteRefreshToken(ctx, refreshToken)
}
