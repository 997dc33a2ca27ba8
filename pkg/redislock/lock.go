// Package redislock provides a Redis-backed ledger.Locker so several API
// processes can share one strict attempt section.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
)

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-key mutex with a lease. The lease bounds how long a
// crashed holder can block others.
type Locker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	retry  time.Duration
}

var _ ledger.Locker = (*Locker)(nil)

func New(client redis.Cmdable, key string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{
		client: client,
		key:    key,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
	}
}

// Lock blocks until the lock is held or ctx is done.
func (l *Locker) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", l.key, err)
		}
		if ok {
			return func() { l.release(token) }, nil
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Error().Err(err).Str("key", l.key).Msg("Failed to release redis lock")
		return
	}
	if n == 0 {
		log.Warn().Str("key", l.key).Msg("Redis lock lease expired before release")
	}
}
