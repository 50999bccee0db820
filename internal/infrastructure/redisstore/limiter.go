package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/notification-gateway/internal/domain"
)

// limiterClient is the slice of the Redis API the limiter uses.
type limiterClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimiter is a fixed-window counter over Redis. This is advisory admission
// control, not a token bucket: bursts inside a window are unconstrained up to
// the limit.
type RateLimiter struct {
	client limiterClient
}

// NewRateLimiter creates a RateLimiter on the given Redis client.
func NewRateLimiter(client limiterClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Check increments the counter for (clientKey, routeKey) and rejects the call
// when the post-increment count exceeds limit. The expiry is set only by the
// call that opens the window (post-increment count 1), so a slow increment
// never resets an active window. Rejected calls still count and there is no
// rollback, which keeps the limiter resistant to retry storms.
func (l *RateLimiter) Check(ctx context.Context, clientKey, routeKey string, limit int, window time.Duration) error {
	key := rateKey(clientKey, routeKey)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: incr %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return fmt.Errorf("%w: expire %s: %v", domain.ErrStoreUnavailable, key, err)
		}
	}
	if count > int64(limit) {
		return domain.ErrRateLimited
	}
	return nil
}
