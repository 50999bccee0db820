package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/notification-gateway/internal/domain"
)

// statusRetention bounds the lifetime of a status record regardless of its
// terminal state. The TTL is refreshed on every write.
const statusRetention = 7 * 24 * time.Hour

// statusClient is the slice of the Redis API the tracker uses.
type statusClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// StatusTracker stores the last-known delivery status per notification in a
// Redis hash. Writes are last-write-wins: a late or duplicate worker update
// overwrites whatever is there. Workers are expected to send a final status at
// most once per notification; monotonic progression is not enforced.
type StatusTracker struct {
	client statusClient
}

// NewStatusTracker creates a StatusTracker on the given Redis client.
func NewStatusTracker(client statusClient) *StatusTracker {
	return &StatusTracker{client: client}
}

// SetStatus overwrites the status fields and refreshes the retention TTL.
// The error field is written only when errMsg is non-empty.
func (t *StatusTracker) SetStatus(ctx context.Context, notificationID string, status domain.Status, errMsg string) error {
	key := statusKey(notificationID)

	fields := []any{
		"status", string(status),
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	}
	if errMsg != "" {
		fields = append(fields, "error", errMsg)
	}

	if err := t.client.HSet(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if err := t.client.Expire(ctx, key, statusRetention).Err(); err != nil {
		return fmt.Errorf("%w: expire %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Get returns the current status record, or ErrStatusNotFound when the id is
// unknown or the record has expired.
func (t *StatusTracker) Get(ctx context.Context, notificationID string) (*domain.StatusRecord, error) {
	key := statusKey(notificationID)

	vals, err := t.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrStatusNotFound
	}

	rec := &domain.StatusRecord{
		NotificationID: notificationID,
		Status:         domain.Status(vals["status"]),
		Error:          vals["error"],
	}
	if ts, err := time.Parse(time.RFC3339, vals["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}
