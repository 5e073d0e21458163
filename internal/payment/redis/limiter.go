package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "landpay:webhook:"

// WindowLimiter is a fixed-window counter per key.
type WindowLimiter struct {
	client goredis.Cmdable
	limit  int64
	window time.Duration
}

func NewWindowLimiter(client goredis.Cmdable, limit int, window time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{client: client, limit: int64(limit), window: window}
}

// Allow counts one hit for key and reports whether it is within the limit.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := keyPrefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("webhook limiter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("webhook limiter: %w", err)
		}
	}
	return count <= l.limit, nil
}
