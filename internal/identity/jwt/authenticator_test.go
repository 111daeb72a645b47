package jwt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu     sync.Mutex
	users  map[int64]*domain.User
	tokens map[string]*domain.RefreshToken
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users: map[int64]*domain.User{
			7: {ID: 7, Username: "alice", Role: domain.RoleUser},
		},
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (m *memoryStore) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (m *memoryStore) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.ID] = token
	return nil
}

func (m *memoryStore) ConsumeRefreshToken(_ context.Context, id string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		delete(m.tokens, id)
		return t, nil
	}
	return nil, identity.ErrInvalidToken
}

func (m *memoryStore) DeleteRefreshToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func newTestAuthenticator(store TokenStore) *Authenticator {
	return NewAuthenticator(Config{
		SecretKey:            "test-secret-key-at-least-32-bytes!!",
		Issuer:               "recipe-garden",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 24 * time.Hour,
	}, store)
}

func TestGenerateAndValidate(t *testing.T) {
	store := newMemoryStore()
	auth := newTestAuthenticator(store)

	tokens, err := auth.GenerateTokens(context.Background(), store.users[7])
	require.NoError(t, err)
	assert.Equal(t, 900, tokens.ExpiresIn)
	assert.Contains(t, store.tokens, tokens.RefreshToken)

	userID, role, err := auth.ValidateAccessToken(context.Background(), tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
	assert.Equal(t, domain.RoleUser, role)
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	store := newMemoryStore()
	auth := newTestAuthenticator(store)

	tokens, err := auth.GenerateTokens(context.Background(), store.users[7])
	require.NoError(t, err)

	other := NewAuthenticator(Config{SecretKey: "another-secret", Issuer: "recipe-garden"}, store)
	expired := newTestAuthenticator(store)
	expired.now = func() time.Time { return time.Now().Add(time.Hour) }

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			Issuer:    "recipe-garden",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: "guest",
	}).SignedString([]byte("test-secret-key-at-least-32-bytes!!"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		auth  *Authenticator
		token string
	}{
		{name: "garbage", auth: auth, token: "not-a-token"},
		{name: "wrong key", auth: other, token: tokens.AccessToken},
		{name: "expired", auth: expired, token: tokens.AccessToken},
		{name: "unknown role", auth: auth, token: badRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.auth.ValidateAccessToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, identity.ErrInvalidToken)
		})
	}
}

func TestRefreshTokens_Rotates(t *testing.T) {
	store := newMemoryStore()
	auth := newTestAuthenticator(store)

	first, err := auth.GenerateTokens(context.Background(), store.users[7])
	require.NoError(t, err)

	// Role changed since the first login.
	store.users[7].Role = domain.RoleAdmin

	second, err := auth.RefreshTokens(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotContains(t, store.tokens, first.RefreshToken)

	_, role, err := auth.ValidateAccessToken(context.Background(), second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, role)

	_, err = auth.RefreshTokens(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestRefreshTokens_ConcurrentReuseIssuesOnePair(t *testing.T) {
	store := newMemoryStore()
	auth := newTestAuthenticator(store)

	tokens, err := auth.GenerateTokens(context.Background(), store.users[7])
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := auth.RefreshTokens(context.Background(), tokens.RefreshToken)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, identity.ErrInvalidToken):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())
	assert.Len(t, store.tokens, 1)
}

func TestRefreshTokens_Expired(t *testing.T) {
	store := newMemoryStore()
	auth := newTestAuthenticator(store)

	tokens, err := auth.GenerateTokens(context.Background(), store.users[7])
	require.NoError(t, err)

	auth.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	_, err = auth.RefreshTokens(context.Background(), tokens.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
	assert.Empty(t, store.tokens)
}

func TestRefreshTokens_Malformed(t *testing.T) {
	auth := newTestAuthenticator(newMemoryStore())

	_, err := auth.RefreshTokens(context.Background(), "nope")

	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestRevokeRefreshToken(t *testing.T) {
	store := newMemoryStore()
	auth := newTestAuthenticator(store)

	tokens, err := auth.GenerateTokens(context.Background(), store.users[7])
	require.NoError(t, err)

	require.NoError(t, auth.RevokeRefreshToken(context.Background(), tokens.RefreshToken))
	assert.Empty(t, store.tokens)
	assert.NoError(t, auth.RevokeRefreshToken(context.Background(), "garbage"))
}
