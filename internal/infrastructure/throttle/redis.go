// Package throttle caps how often one-time tokens are issued per account.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	usecase "quizportal/backend/internal/usecase/auth"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures so callers can fail open.
var ErrRedisUnavailable = errors.New("issue limiter redis unavailable")

const keyPrefix = "quizportal:issue:"

// Config is the fixed-window budget.
type Config struct {
	Limit  int
	Window time.Duration
}

// RedisLimiter counts issuances in a fixed window with INCR and EXPIRE.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
}

var _ usecase.IssueLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{redis: client, config: cfg}
}

// Allow records one issuance for key and reports whether it fits in the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.config.Limit <= 0 {
		return true, nil
	}
	k := keyPrefix + key

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// TTL is set on the first hit only so the window does not slide.
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count <= int64(l.config.Limit), nil
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
