package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"zkdpp/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "zkdpp:ratelimit:"

// RateLimiter counts requests per caller in fixed Redis windows.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    logger.Logger
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, log logger.Logger) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window, log: log}
}

// bucket keys authenticated callers by key id and anonymous ones by remote host.
func bucket(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return rateLimitPrefix + "key:" + caller.KeyID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return rateLimitPrefix + host
}

// hit increments the bucket and arms its expiry on the first request of a window.
func (rl *RateLimiter) hit(ctx context.Context, key string) (int64, error) {
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Limit rejects callers over the window budget with 429. Redis failures fail open.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := rl.hit(r.Context(), bucket(r))
		if err != nil {
			rl.log.Warn("Rate limiter unavailable", map[string]interface{}{
				"error":      err.Error(),
				"request_id": RequestIDFromContext(r.Context()),
			})
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(rl.limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > int64(rl.limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
