package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/notification-gateway/internal/domain"
)

// idemClient is the slice of the Redis API the idempotency store uses.
type idemClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// IdempotencyStore maps request ids to notification ids through a
// reserve/finalize protocol. At most one concurrent Reserve per request id
// wins ownership; every other caller observes the winner's current value.
//
// A request that crashes between Reserve and Finalize leaves its key pinned at
// the sentinel until TTL expiry, making that request_id unusable for the
// duration. There is deliberately no sweep for such keys: a long-lived
// sentinel cannot be told apart from a publish stuck on a slow broker, and
// freeing a live reservation would allow a second enqueue.
type IdempotencyStore struct {
	client idemClient
}

// NewIdempotencyStore creates an IdempotencyStore on the given Redis client.
func NewIdempotencyStore(client idemClient) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// Reserve attempts an atomic create-if-absent of the reservation sentinel.
// On success the caller owns the key. On loss it returns whatever value the
// winning request holds at read time.
func (s *IdempotencyStore) Reserve(ctx context.Context, requestID string, ttl time.Duration) (string, bool, error) {
	key := idemKey(requestID)

	won, err := s.client.SetNX(ctx, key, domain.ReservationSentinel, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: setnx %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if won {
		return "", false, nil
	}

	prior, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// The racing reservation expired between our SETNX and this read.
		// Report the reservation we lost to; the caller treats it as in flight.
		return domain.ReservationSentinel, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return prior, true, nil
}

// Finalize overwrites the key with the notification id. Once written, the
// mapping is stable for the remainder of its TTL. Must only be called by the
// reservation owner.
func (s *IdempotencyStore) Finalize(ctx context.Context, requestID, notificationID string, ttl time.Duration) error {
	key := idemKey(requestID)
	if err := s.client.Set(ctx, key, notificationID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}
