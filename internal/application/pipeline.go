// Package application orchestrates the notification ingestion pipeline.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/notification-gateway/internal/domain"
)

// ingestRoute names the ingestion route in rate-limit keys.
const ingestRoute = "create_notification"

// IngestRequest is the validated inbound payload for one notification.
type IngestRequest struct {
	NotificationType domain.NotificationType
	UserID           string
	TemplateCode     string
	Variables        domain.Variables
	Priority         int
	Metadata         map[string]any
	RequestID        string
}

// Limits carries the admission-control settings for the ingestion route.
type Limits struct {
	RequestsPerWindow int
	Window            time.Duration
	IdempotencyTTL    time.Duration
}

// Pipeline runs one inbound notification request through admission control,
// duplicate suppression, enqueue and initial status. All coordination is
// externalized to the shared store and the broker; the pipeline itself holds
// no mutable state, so any number of requests may run it concurrently.
type Pipeline struct {
	limiter   domain.RateLimiter
	idem      domain.IdempotencyStore
	publisher domain.Publisher
	status    domain.StatusTracker
	limits    Limits
}

// NewPipeline wires the pipeline's collaborators. Handles are injected here
// rather than read from package state so the process owns their lifecycle.
func NewPipeline(
	limiter domain.RateLimiter,
	idem domain.IdempotencyStore,
	publisher domain.Publisher,
	status domain.StatusTracker,
	limits Limits,
) *Pipeline {
	return &Pipeline{
		limiter:   limiter,
		idem:      idem,
		publisher: publisher,
		status:    status,
		limits:    limits,
	}
}

// Ingest runs the fixed sequence for one request: rate check, idempotency
// reserve, id generation, publish, finalize, initial status write. No step is
// skipped and no failure is retried. It returns the notification id, freshly
// generated or, for a finalized duplicate, the id recorded by the earlier
// request (duplicate=true).
//
// A failure after the reservation but before Finalize leaves the idempotency
// key pinned at the sentinel for its TTL: duplicate prevention is preferred
// over retryability inside that window.
func (p *Pipeline) Ingest(ctx context.Context, clientKey string, req IngestRequest) (notificationID string, duplicate bool, err error) {
	if err := p.limiter.Check(ctx, clientKey, ingestRoute, p.limits.RequestsPerWindow, p.limits.Window); err != nil {
		return "", false, err
	}

	prior, existing, err := p.idem.Reserve(ctx, req.RequestID, p.limits.IdempotencyTTL)
	if err != nil {
		return "", false, err
	}
	if existing {
		if prior == domain.ReservationSentinel {
			return "", false, fmt.Errorf("%w: request_id %s", domain.ErrInFlight, req.RequestID)
		}
		log.Debug().
			Str("request_id", req.RequestID).
			Str("notification_id", prior).
			Msg("duplicate request, returning previous notification id")
		return prior, true, nil
	}

	env := domain.Envelope{
		NotificationID:   uuid.NewString(),
		NotificationType: req.NotificationType,
		UserID:           req.UserID,
		TemplateCode:     req.TemplateCode,
		Variables:        req.Variables,
		Priority:         req.Priority,
		Metadata:         req.Metadata,
		RequestID:        req.RequestID,
		EnqueuedAt:       time.Now().UTC(),
	}

	if err := p.publisher.Publish(ctx, env); err != nil {
		// The reservation stays pinned until its TTL expires; the caller's
		// request_id is unusable for that window. See redisstore docs.
		return "", false, err
	}

	if err := p.idem.Finalize(ctx, req.RequestID, env.NotificationID, p.limits.IdempotencyTTL); err != nil {
		return "", false, err
	}

	if err := p.status.SetStatus(ctx, env.NotificationID, domain.StatusPending, ""); err != nil {
		return "", false, err
	}

	log.Info().
		Str("notification_id", env.NotificationID).
		Str("type", string(env.NotificationType)).
		Str("request_id", req.RequestID).
		Msg("notification enqueued")

	return env.NotificationID, false, nil
}
