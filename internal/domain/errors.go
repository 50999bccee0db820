package domain

import "errors"

// Error taxonomy for the gateway. Every failure on the request path maps to
// exactly one of these; there are no internal retries, so each error reaches
// the caller on first occurrence.
var (
	// ErrRateLimited rejects a request that exceeded its fixed-window budget.
	// Retryable by the caller after the window rolls over.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInFlight marks a duplicate request_id whose original request has not
	// finished yet (the idempotency key still holds the reservation sentinel).
	ErrInFlight = errors.New("request already in flight")

	// ErrStoreUnavailable wraps failures of the shared key/value store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBrokerUnavailable wraps publish and confirm failures of the broker.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrUpstreamUnavailable wraps failures reaching the user/template services.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrStatusNotFound reports an unknown or expired notification id.
	ErrStatusNotFound = errors.New("notification status not found")
)
