package httputil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/recipe-garden/internal/pkg/metrics"
	"github.com/go-chi/httprate"
)

// LoginRateLimit allows limit requests per client IP within window and
// answers 429 beyond that. The IP is taken from RemoteAddr, which chi's
// RealIP middleware has already rewritten from proxy headers.
func LoginRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			metrics.LoginThrottled.Inc()
			w.Header().Set("Retry-After", retryAfter)
			Error(w, http.StatusTooManyRequests, "too many requests")
		}),
	)
}
