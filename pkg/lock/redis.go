package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "plugbot:lock:"
	defaultRetryPeriod = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process using the same Redis.
// Locks expire after ttl so a crashed holder cannot block a key forever.
type RedisLocker struct {
	client      *redis.Client
	ttl         time.Duration
	retryPeriod time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retryPeriod: defaultRetryPeriod}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryPeriod)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be done; release regardless.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		})
	}, nil
}
