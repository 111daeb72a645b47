package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/recipe-garden/internal/authz"
	"github.com/bissquit/recipe-garden/internal/domain"
	"github.com/bissquit/recipe-garden/internal/pkg/ctxlog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockValidator accepts "user-token" and "admin-token".
type mockValidator struct{}

func (mockValidator) ValidateToken(_ context.Context, token string) (*authz.Identity, error) {
	switch token {
	case "user-token":
		return &authz.Identity{ActorID: 5, Role: domain.RoleUser}, nil
	case "admin-token":
		return &authz.Identity{ActorID: 1, Role: domain.RoleAdmin}, nil
	}
	return nil, errors.New("invalid token")
}

// captureIdentity records the identity seen by the final handler.
func captureIdentity(got **authz.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetIdentity(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestOptionalAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		cookie   string
		wantID   int64
		wantAnon bool
	}{
		{name: "no credentials", wantAnon: true},
		{name: "bearer token", header: "Bearer user-token", wantID: 5},
		{name: "cookie token", cookie: "admin-token", wantID: 1},
		{name: "invalid token", header: "Bearer nope", wantAnon: true},
		{name: "malformed header", header: "Basic abc", wantAnon: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *authz.Identity
			handler := OptionalAuthMiddleware(mockValidator{})(captureIdentity(&got))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			if tt.wantAnon {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ActorID)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	var got *authz.Identity
	handler := AuthMiddleware(mockValidator{})(captureIdentity(&got))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.ActorID)
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireRole(domain.RoleAdmin)(next)

	tests := []struct {
		name     string
		identity *authz.Identity
		want     int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"user", &authz.Identity{ActorID: 5, Role: domain.RoleUser}, http.StatusForbidden},
		{"admin", &authz.Identity{ActorID: 1, Role: domain.RoleAdmin}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), tt.identity))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCSRFMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := OptionalAuthMiddleware(mockValidator{})(CSRFMiddleware(next))

	cookieRequest := func(method, csrfHeader string) *http.Request {
		req := httptest.NewRequest(method, "/", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "user-token"})
		req.AddCookie(&http.Cookie{Name: CSRFTokenCookie, Value: "csrf-value"})
		if csrfHeader != "" {
			req.Header.Set(CSRFTokenHeader, csrfHeader)
		}
		return req
	}

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"cookie auth GET needs no token", cookieRequest(http.MethodGet, ""), http.StatusOK},
		{"cookie auth POST without header", cookieRequest(http.MethodPost, ""), http.StatusForbidden},
		{"cookie auth POST with wrong header", cookieRequest(http.MethodPost, "other"), http.StatusForbidden},
		{"cookie auth POST with matching header", cookieRequest(http.MethodPost, "csrf-value"), http.StatusOK},
	}

	bearer := httptest.NewRequest(http.MethodDelete, "/", nil)
	bearer.Header.Set("Authorization", "Bearer user-token")
	tests = append(tests, struct {
		name string
		req  *http.Request
		want int
	}{"bearer auth skips csrf", bearer, http.StatusOK})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLoginRateLimit(t *testing.T) {
	handler := LoginRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1:1234").Code)
	assert.Equal(t, http.StatusOK, send("192.0.2.1:5678").Code, "port is not part of the key")

	rec := send("192.0.2.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many requests")

	assert.Equal(t, http.StatusOK, send("192.0.2.2:1234").Code, "limits are per IP")
}

func TestHandleError(t *testing.T) {
	sentinel := errors.New("thing not found")
	mappings := []ErrorMapping{{Error: sentinel, Status: http.StatusNotFound}}

	rec := httptest.NewRecorder()
	HandleError(context.Background(), rec, errors.Join(errors.New("wrap"), sentinel), mappings)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	HandleError(context.Background(), rec, errors.New("boom"), mappings)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestHandleError_DeadlineExceeded(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(context.Background(), rec, fmt.Errorf("list recipes: %w", context.DeadlineExceeded), nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timed out")
}

func TestAccessLogLevel(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusNoContent, slog.LevelInfo},
		{http.StatusForbidden, slog.LevelWarn},
		{http.StatusNotFound, slog.LevelWarn},
		{http.StatusInternalServerError, slog.LevelError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, accessLogLevel(tt.status), "status %d", tt.status)
	}
}

func TestRequestLoggerMiddleware_WritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(RequestLoggerMiddleware(logger))
	r.Get("/recipes/{id}", func(w http.ResponseWriter, r *http.Request) {
		ctxlog.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recipes/42", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var access map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &access))
	assert.Equal(t, "http request", access["msg"])
	assert.Equal(t, "WARN", access["level"])
	assert.Equal(t, float64(http.StatusNotFound), access["status"])
	assert.Equal(t, "/recipes/{id}", access["route"])
}

func TestAuthMiddleware_TagsLoggerWithUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := AuthMiddleware(mockValidator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxlog.FromContext(r.Context()).Info("inside handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	req = req.WithContext(ctxlog.WithLogger(req.Context(), logger))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, float64(5), line["user_id"])
	assert.Equal(t, "user", line["role"])
}

func TestDecodeJSON(t *testing.T) {
	handler := middleware.RequestSize(32)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if !DecodeJSON(w, r, &body) {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "fits", body: `{"name": "soup"}`, want: http.StatusOK},
		{name: "malformed", body: `{"name":`, want: http.StatusBadRequest},
		{name: "over limit", body: `{"name": "` + strings.Repeat("x", 64) + `"}`, want: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/recipes", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
