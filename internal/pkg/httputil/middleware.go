package httputil

import (
	"context"
	"net/http"
	"strings"

	"github.com/bissquit/recipe-garden/internal/authz"
	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/pkg/ctxlog"
)

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			if originsSet[origin] || originsSet["*"] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CSRFTokenHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

// Context keys for storing the caller.
const (
	IdentityKey contextKey = "identity"
	// authSourceKey records whether the identity came from a cookie.
	authSourceKey contextKey = "auth_source"
)

const authSourceCookie = "cookie"

// TokenValidator interface for validating tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*authz.Identity, error)
}

// AuthMiddleware creates authentication middleware. Requests without a valid
// token are rejected with 401.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source, err := extractToken(r)
			if err != nil {
				Error(w, http.StatusUnauthorized, err.Error())
				return
			}
			if token == "" {
				Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			identity, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity, source)))
		})
	}
}

// OptionalAuthMiddleware decodes the caller if a valid token is present.
// A missing, malformed or invalid token leaves the request anonymous; the
// handler decides whether that is acceptable.
func OptionalAuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source, err := extractToken(r)
			if err != nil || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity, source)))
		})
	}
}

// RequireRole creates RBAC middleware. It must run after AuthMiddleware.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == nil {
				Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if identity.Role != role {
				Error(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetIdentity extracts the caller from context. Returns nil for anonymous
// requests.
func GetIdentity(ctx context.Context) *authz.Identity {
	if identity, ok := ctx.Value(IdentityKey).(*authz.Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity returns a context carrying identity. Used by tests and by
// the auth middleware.
func WithIdentity(ctx context.Context, identity *authz.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

func withIdentity(ctx context.Context, identity *authz.Identity, source string) context.Context {
	ctx = WithIdentity(ctx, identity)
	ctx = ctxlog.With(ctx, "user_id", identity.ActorID, "role", string(identity.Role))
	return context.WithValue(ctx, authSourceKey, source)
}

func authenticatedByCookie(ctx context.Context) bool {
	source, _ := ctx.Value(authSourceKey).(string)
	return source == authSourceCookie
}

// extractToken reads a bearer token from the Authorization header, falling
// back to the access token cookie.
func extractToken(r *http.Request) (token, source string, err error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", "", errInvalidAuthHeader
		}
		return parts[1], "header", nil
	}

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, authSourceCookie, nil
	}

	return "", "", nil
}
