package domain

import (
	"context"
	"time"
)

// ReservationSentinel marks an idempotency key as claimed with the result
// still pending.
const ReservationSentinel = "__reserved__"

// RateLimiter enforces a fixed-window request budget per (client, route) pair.
// Implementations live in infrastructure/redisstore.
type RateLimiter interface {
	// Check admits or rejects one request. Rejections return ErrRateLimited.
	// The window counter advances even for rejected requests.
	Check(ctx context.Context, clientKey, routeKey string, limit int, window time.Duration) error
}

// IdempotencyStore implements the reserve/finalize protocol that guarantees
// at most one enqueue per request_id under concurrent duplicate submissions.
type IdempotencyStore interface {
	// Reserve claims requestID. existing=false means the caller owns the key
	// and must eventually Finalize or let the reservation expire.
	// existing=true means another request got there first; prior is the value
	// observed at call time, either ReservationSentinel or a finalized
	// notification id.
	Reserve(ctx context.Context, requestID string, ttl time.Duration) (prior string, existing bool, err error)

	// Finalize overwrites requestID with notificationID for the given TTL.
	// Only the reservation owner may call it.
	Finalize(ctx context.Context, requestID, notificationID string, ttl time.Duration) error
}

// StatusTracker records the last-known delivery status per notification.
// Writes are last-write-wins; no ordering is enforced between a late or
// duplicate worker update and an earlier one.
type StatusTracker interface {
	SetStatus(ctx context.Context, notificationID string, status Status, errMsg string) error
	Get(ctx context.Context, notificationID string) (*StatusRecord, error)
}

// Publisher hands envelopes to the message broker. A nil error means the
// broker confirmed the message.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}
