package tinify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Limiter throttles outgoing provider requests.
type Limiter interface {
	Wait(ctx context.Context) error
	SetLimit(perMinute int)
}

// RedisLimiter is a fixed one-minute window shared by every process that
// points at the same Redis and base key. A limit of zero or less disables it.
type RedisLimiter struct {
	client  redis.Cmdable
	limit   atomic.Int64
	window  time.Duration
	baseKey string
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a RedisLimiter allowing perMinute requests per window.
func NewRedisLimiter(client redis.Cmdable, perMinute int, baseKey string) *RedisLimiter {
	l := &RedisLimiter{
		client:  client,
		window:  time.Minute,
		baseKey: baseKey,
	}
	l.limit.Store(int64(perMinute))
	return l
}

// ConnectRedis parses redisURL and verifies the connection.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// SetLimit updates the rate limit dynamically
func (r *RedisLimiter) SetLimit(perMinute int) {
	r.limit.Store(int64(perMinute))
}

func (r *RedisLimiter) windowKey(now time.Time) string {
	return fmt.Sprintf("%s:%d", r.baseKey, now.Unix()/int64(r.window/time.Second))
}

// Wait blocks until a request is allowed
func (r *RedisLimiter) Wait(ctx context.Context) error {
	now := time.Now()
	key := r.windowKey(now)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		limit := r.limit.Load()
		if limit <= 0 {
			// Same as LocalLimiter: no positive limit means unthrottled.
			return nil
		}

		count, err := r.client.Incr(ctx, key).Result()
		if err != nil {
			log.Error().Err(err).Msg("RateLimiter: Redis error")
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		if count == 1 {
			r.client.Expire(ctx, key, 2*r.window)
		}

		if count <= limit {
			return nil
		}

		log.Warn().
			Int64("count", count).
			Int64("limit", limit).
			Msg("Provider rate limit exceeded, waiting...")

		next := now.Truncate(r.window).Add(r.window).Add(100 * time.Millisecond)
		wait := time.Until(next)
		if wait < 0 {
			wait = time.Second
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
		now = time.Now()
		key = r.windowKey(now)
	}
}

// LocalLimiter is the in-process fallback used when Redis is not configured.
type LocalLimiter struct {
	limiter *rate.Limiter
}

var _ Limiter = (*LocalLimiter)(nil)

// NewLocalLimiter allows perMinute requests, bursting up to a tenth of that.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	l := &LocalLimiter{limiter: rate.NewLimiter(perMinuteLimit(perMinute), burst(perMinute))}
	return l
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *LocalLimiter) SetLimit(perMinute int) {
	l.limiter.SetLimit(perMinuteLimit(perMinute))
	l.limiter.SetBurst(burst(perMinute))
}

func perMinuteLimit(perMinute int) rate.Limit {
	if perMinute <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(perMinute))
}

func burst(perMinute int) int {
	if b := perMinute / 10; b > 1 {
		return b
	}
	return 1
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
