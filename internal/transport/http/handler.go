package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/notification-gateway/internal/application"
	"github.com/relaypoint/notification-gateway/internal/domain"
)

// Handler holds the HTTP handler methods for the gateway-owned endpoints.
type Handler struct {
	pipeline *application.Pipeline
	status   domain.StatusTracker
}

// NewHandler creates a new Handler.
func NewHandler(pipeline *application.Pipeline, status domain.StatusTracker) *Handler {
	return &Handler{pipeline: pipeline, status: status}
}

// createNotificationRequest is the ingress body of POST /notifications.
type createNotificationRequest struct {
	NotificationType domain.NotificationType `json:"notification_type"`
	UserID           string                  `json:"user_id"`
	TemplateCode     string                  `json:"template_code"`
	Variables        domain.Variables        `json:"variables"`
	RequestID        string                  `json:"request_id"`
	Priority         int                     `json:"priority"`
	Metadata         map[string]any          `json:"metadata,omitempty"`
}

type notificationEnqueued struct {
	NotificationID string `json:"notification_id"`
}

// CreateNotification POST /notifications
func (h *Handler) CreateNotification(c echo.Context) error {
	var req createNotificationRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, http.StatusBadRequest, "invalid request body")
	}
	if !req.NotificationType.Valid() {
		return respondErr(c, http.StatusBadRequest, "notification_type must be email or push")
	}
	if req.UserID == "" || req.TemplateCode == "" || req.RequestID == "" {
		return respondErr(c, http.StatusBadRequest, "user_id, template_code and request_id are required")
	}

	id, duplicate, err := h.pipeline.Ingest(c.Request().Context(), c.RealIP(), application.IngestRequest{
		NotificationType: req.NotificationType,
		UserID:           req.UserID,
		TemplateCode:     req.TemplateCode,
		Variables:        req.Variables,
		Priority:         req.Priority,
		Metadata:         req.Metadata,
		RequestID:        req.RequestID,
	})
	if err != nil {
		return respondIngestErr(c, err)
	}

	message := "enqueued"
	if duplicate {
		message = "duplicate request_id; returning previous notification_id"
	}
	return respondOK(c, notificationEnqueued{NotificationID: id}, message)
}

// respondIngestErr maps the pipeline error taxonomy to HTTP statuses.
func respondIngestErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return respondErr(c, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, domain.ErrInFlight):
		return respondErr(c, http.StatusConflict, "request_id is already being processed")
	case errors.Is(err, domain.ErrBrokerUnavailable):
		return respondErr(c, http.StatusBadGateway, "queue publish failed: "+err.Error())
	default:
		log.Error().Err(err).Msg("notification ingestion failed")
		return respondErr(c, http.StatusInternalServerError, err.Error())
	}
}

// statusUpdateRequest is the body delivery workers post back.
type statusUpdateRequest struct {
	NotificationID string        `json:"notification_id"`
	Status         domain.Status `json:"status"`
	Timestamp      string        `json:"timestamp,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// UpdateStatus POST /:channel/status. Delivery workers report outcomes here.
// The channel segment is accepted for symmetry with the worker queues but does
// not branch behavior.
func (h *Handler) UpdateStatus(c echo.Context) error {
	var req statusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return respondErr(c, http.StatusBadRequest, "invalid request body")
	}
	if req.NotificationID == "" {
		return respondErr(c, http.StatusBadRequest, "notification_id is required")
	}
	if !req.Status.Valid() {
		return respondErr(c, http.StatusBadRequest, "status must be pending, delivered or failed")
	}

	if err := h.status.SetStatus(c.Request().Context(), req.NotificationID, req.Status, req.Error); err != nil {
		log.Error().Err(err).Str("notification_id", req.NotificationID).Msg("status update failed")
		return respondErr(c, http.StatusInternalServerError, err.Error())
	}

	log.Debug().
		Str("channel", c.Param("channel")).
		Str("notification_id", req.NotificationID).
		Str("status", string(req.Status)).
		Msg("status updated")

	return respondOK(c, map[string]string{"notification_id": req.NotificationID}, "status updated")
}

// GetStatus GET /notifications/:id/status
func (h *Handler) GetStatus(c echo.Context) error {
	rec, err := h.status.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrStatusNotFound) {
			return respondErr(c, http.StatusNotFound, "unknown notification_id")
		}
		return respondErr(c, http.StatusInternalServerError, err.Error())
	}
	return respondOK(c, rec, "ok")
}

// Health GET /healthz
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"data":   map[string]string{"health": "Server is active"},
	})
}
