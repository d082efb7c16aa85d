package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// unlockScript deletes the key only if it still carries our token, so a lock that
// expired and was taken by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisAccountLocker serialises writers to one escrow account across processes.
type RedisAccountLocker struct {
	client   *redis.Client
	prefix   string
	lease    time.Duration
	pollWait time.Duration
}

func NewRedisAccountLocker(client *redis.Client, lease time.Duration) *RedisAccountLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisAccountLocker{client: client, prefix: "escrow-ledger:lock:", lease: lease, pollWait: 20 * time.Millisecond}
}

// Lock blocks until the key is free or ctx is done.
func (l *RedisAccountLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.pollWait)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.lease).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if ok {
			return func() {
				// The caller's context may already be gone; the release still has to happen.
				unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := unlockScript.Run(unlockCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
					slog.Default().Warn("redis unlock failed",
						"module", "cache",
						"layer", "adapter",
						"operation", "unlock",
						"outcome", "failure",
						"key", key,
						"error", err,
					)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ ports.AccountLocker = (*RedisAccountLocker)(nil)
