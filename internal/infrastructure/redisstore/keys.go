// Package redisstore implements the gateway's shared-state ports over Redis:
// the fixed-window rate limiter, the reserve/finalize idempotency store and
// the per-notification status tracker. All cross-request coordination lives
// here; request handlers share no in-process mutable state.
package redisstore

import "fmt"

// Key patterns for gateway state in Redis.
const (
	// keyPatternRateWindow holds the fixed-window counter.
	// Format: rate:{client}:{route}
	keyPatternRateWindow = "rate:%s:%s"
	// keyPatternIdempotency maps a caller-supplied request id to the
	// reservation sentinel or a finalized notification id.
	// Format: idem:{request_id}
	keyPatternIdempotency = "idem:%s"
	// keyPatternStatus is a hash of status/updated_at/error per notification.
	// Format: notif:{notification_id}
	keyPatternStatus = "notif:%s"
)

func rateKey(clientKey, routeKey string) string {
	return fmt.Sprintf(keyPatternRateWindow, clientKey, routeKey)
}

func idemKey(requestID string) string {
	return fmt.Sprintf(keyPatternIdempotency, requestID)
}

func statusKey(notificationID string) string {
	return fmt.Sprintf(keyPatternStatus, notificationID)
}
