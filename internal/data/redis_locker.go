package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/consultaflow/dispatcher/internal/core"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements core.Locker with SET NX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

var _ core.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker. prefix is prepended to every key.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) key(k string) string { return l.prefix + k }

// TryAcquire takes key for ttl without waiting. The returned token must be
// passed to Release.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("key cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	token := uuid.NewString()

	// SETNX followed by EXPIRE is not atomic; SET NX PX is.
	status, err := l.client.SetArgs(ctx, l.key(key), token, redis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis SET NX: %w", err)
	}
	if status != "OK" {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees key if token still owns it. An expired or stolen lock yields
// core.ErrLockNotHeld.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return core.ErrLockNotHeld
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if n == 0 {
		return core.ErrLockNotHeld
	}
	return nil
}

// Health checks the health of the Redis connection.
func (l *RedisLocker) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
