package handlers

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/providentiaww/mcp-oauth-gateway/internal/cache"
)

// idle limiters are forgotten after this long
const limiterIdleTTL = 10 * time.Minute

// RateLimiter throttles requests per client IP with a token bucket each.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.SimpleCache[*rate.Limiter]
	logger   *zap.Logger
}

// NewRateLimiter allows rps requests per second per IP with the given burst.
// A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache.NewSimpleCache[*rate.Limiter](limiterIdleTTL),
		logger:   logger.Named("ratelimit"),
	}
}

// Handler wraps next with the limiter.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	if l.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		limiter := l.limiters.GetOrCreate(ip, func() *rate.Limiter {
			return rate.NewLimiter(l.limit, l.burst)
		})
		if !limiter.Allow() {
			l.logger.Info("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "temporarily_unavailable",
				"error_description": "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RemoteAddr is already rewritten by the RealIP middleware when the server
// runs behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
