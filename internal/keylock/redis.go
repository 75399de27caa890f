package keylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const retryInterval = 25 * time.Millisecond

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance pointed at the same Redis.
// A lock expires after ttl so a crashed holder cannot block a key forever;
// work under the lock must finish well within ttl.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewRedis creates a Redis locker.
func NewRedis(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Redis {
	return &Redis{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "redis_lock").Logger(),
	}
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-time.After(retryInterval):
		}
	}

	return func() {
		// Release must not depend on the caller's context, which may be done.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.rdb, []string{key}, token).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("Lock release failed, waiting for expiry")
		}
	}, nil
}
