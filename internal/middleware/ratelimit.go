package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Niiaks/Chainpaye/internal/redis"
)

// Limiter is satisfied by *redis.Client.
type Limiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
}

type RateLimiter struct {
	limiter Limiter
	limit   int64
	window  time.Duration
}

func NewRateLimiter(limiter Limiter, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		limit:   limit,
		window:  window,
	}
}

// Limit counts requests per client ip under name. Redis failures let the
// request through.
func (rl *RateLimiter) Limit(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			logger := GetLogger(r.Context())
			res, err := rl.limiter.CheckRateLimit(r.Context(), name+":"+ClientIP(r), rl.limit, rl.window)
			if err != nil {
				logger.Warn().Err(err).Str("limit", name).Msg("rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				logger.Warn().Str("limit", name).Msg("rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				http.Error(w, "Too many requests. Please wait a moment and try again.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
