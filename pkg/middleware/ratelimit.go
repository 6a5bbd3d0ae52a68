package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ngoyal88/pricedash/pkg/logger"
)

// Limiter decides whether the caller identified by key may proceed.
// retryAfter is a hint for the Retry-After header when denied.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// LocalLimiter is a single process-wide token bucket.
type LocalLimiter struct {
	limiter *rate.Limiter
}

func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *LocalLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	r := l.limiter.Reserve()
	if !r.OK() {
		return false, time.Second, nil
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}

// RedisLimiter shares a GCRA limit per client across instances.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

func NewRedisLimiter(rdb *redis.Client, rps float64, burst int) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   perSecond(rps, burst),
		prefix:  "pricedash:ratelimit:",
	}
}

// perSecond maps a fractional rate onto redis_rate's integer rate/period.
func perSecond(rps float64, burst int) redis_rate.Limit {
	if rps >= 1 {
		return redis_rate.Limit{Rate: int(math.Round(rps)), Burst: burst, Period: time.Second}
	}
	period := time.Duration(float64(time.Second) / rps)
	return redis_rate.Limit{Rate: 1, Burst: burst, Period: period}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	return res.Allowed > 0, res.RetryAfter, nil
}

// RateLimit rejects requests over the limit with 429. Limiter errors are
// logged and the request is let through.
func RateLimit(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter, err := l.Allow(r.Context(), clientKey(r))
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				}
				respondError(w, http.StatusTooManyRequests, "Too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
