package handler

import (
	"net"
	"net/http"
	"sync"
	"time"

	chathandler "github.com/boddenberg/suraksha-advisor-go/internal/chat/handler"
	"github.com/boddenberg/suraksha-advisor-go/internal/infra/observability"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ============================================================
// Per-session rate limiting
// ============================================================

const limiterIdleTTL = 30 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per session id (client IP when the
// request carries no session).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter allows perMinute requests per key with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		now:      time.Now,
	}
}

// getLimiter returns the limiter for key, creating one if needed. Idle
// entries are swept on the way.
func (l *RateLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.limiters, k)
		}
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(route string, metrics *observability.Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := chathandler.SessionKey(r)
			if key == "" {
				key = clientIP(r)
			}

			if !l.getLimiter(key).Allow() {
				metrics.IncrRateLimited(route)
				logger.Warn("rate limit exceeded",
					zap.String("route", route),
					zap.String("session_id", chathandler.SessionKey(r)),
				)
				w.Header().Set("Retry-After", "2")
				writeError(w, http.StatusTooManyRequests, "too many messages, please slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
