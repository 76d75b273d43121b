package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// rateWindow is the fixed window the command limit applies to.
const rateWindow = time.Minute

// Limiter decides whether a caller may issue another command.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every instance pointing
// at the same Redis.
type RedisLimiter struct {
	rdb    goredis.UniversalClient
	prefix string
	limit  int
	now    func() time.Time
}

// NewRedisLimiter allows limit calls per key per minute.
func NewRedisLimiter(rdb goredis.UniversalClient, prefix string, limit int) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		now:    time.Now,
	}
}

// Allow counts one call against key's current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().Unix() / int64(rateWindow/time.Second)
	k := fmt.Sprintf("%s:ratelimit:%s:%d", l.prefix, key, window)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*rateWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(l.limit), nil
}

// rateLimitMiddleware limits commands per authenticated principal. It is a
// no-op when no limiter is configured.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := s.limiter.Allow(r.Context(), principal(r))
		if err != nil {
			// Commands keep flowing when Redis is down.
			s.logger.Warn("rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow/time.Second)))
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
