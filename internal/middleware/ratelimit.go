package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/clipexam-backend/internal/response"
)

// RateLimiter limits requests per client IP in fixed windows. With Redis the
// counters are shared by every instance; without it they are per process.
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
	log    zerolog.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count   int64
	resetAt time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute).
func NewRateLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		prefix:   prefix,
		limit:    int64(limit),
		window:   window,
		log:      log.With().Str("component", "ratelimit").Str("scope", prefix).Logger(),
		visitors: make(map[string]*visitor),
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.Request.Context(), c.ClientIP()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

// Allow counts one request for key and reports whether it is within the limit.
// A Redis failure admits the request.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.rdb == nil {
		return rl.allowLocal(key, time.Now())
	}

	rkey := "ratelimit:" + rl.prefix + ":" + key
	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	pipe.ExpireNX(ctx, rkey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Warn().Err(err).Msg("Rate limit counter unavailable")
		return true
	}
	return incr.Val() <= rl.limit
}

func (rl *RateLimiter) allowLocal(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok || !now.Before(v.resetAt) {
		v = &visitor{resetAt: now.Add(rl.window)}
		rl.visitors[key] = v
	}
	v.count++
	return v.count <= rl.limit
}

// RunCleanup drops expired local windows until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if !now.Before(v.resetAt) {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
