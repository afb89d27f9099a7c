package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// RateCounter increments a windowed counter. *database.RedisDB implements it.
type RateCounter interface {
	IncrementRateLimit(ctx context.Context, key, endpoint string, window time.Duration) (int64, error)
}

// RateLimiter implements distributed fixed-window rate limiting in Redis.
//
// Authenticated callers are counted per user, anonymous ones per client IP,
// so a phone moving between networks keeps its budget and two users behind
// one NAT do not share one.
//
// Redis key pattern: "ratelimit:{caller}:{endpoint}" with TTL equal to window.
type RateLimiter struct {
	counter RateCounter
	limit   int
	window  time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
//
// Example:
//
//	disarmLimiter := middleware.NewRateLimiter(redisDB, cfg.RateLimit.DisarmAttempts, cfg.RateLimit.WindowDuration)
//	r.With(disarmLimiter.Limit("disarm")).Post("/sessions/{id}/disarm", h.Disarm)
func NewRateLimiter(counter RateCounter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
	}
}

// Limit returns middleware counting requests under endpoint. When Redis is
// unavailable requests are let through.
func (rl *RateLimiter) Limit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerKey(r)

			count, err := rl.counter.IncrementRateLimit(r.Context(), caller, endpoint, rl.window)
			if err != nil {
				log.Error().Err(err).Str("caller", caller).Msg("Failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))

			if count > int64(rl.limit) {
				log.Warn().
					Str("caller", caller).
					Str("endpoint", endpoint).
					Int64("count", count).
					Msg("Rate limit exceeded")

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				utils.RespondWithError(w, r, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.limit-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if id, ok := GetUserID(r.Context()); ok {
		return "user:" + id.String()
	}
	return "ip:" + utils.ExtractClientIP(r)
}
