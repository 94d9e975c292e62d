package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"retouch/internal/cache"
)

// Counter counts hits in a fixed window. cache.RedisCache and
// cache.MemoryCache both satisfy it.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RateLimit allows limit requests per caller in each window of length per.
// Counter failures let the request through.
func RateLimit(counter Counter, limit int, per time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 || counter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateKey(r)
			n, err := counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(key), per)
			if err != nil {
				logger.Warn().Err(err).Str("client", key).Msg("ratelimit: counter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if n > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(per.Seconds())))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateKey buckets authenticated callers by user and everyone else by IP.
func rateKey(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + ClientIP(r)
}
