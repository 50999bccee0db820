package domain

import "time"

// NotificationType selects the delivery channel. Its string value doubles as
// the broker routing key.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypePush  NotificationType = "push"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	return t == TypeEmail || t == TypePush
}

// Variables carries the template substitution values supplied by the caller.
type Variables struct {
	Name string         `json:"name"`
	Link string         `json:"link"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Envelope is the message handed to the broker for one accepted request.
// It is immutable once constructed; ownership passes to the broker on publish.
// Consumers must tolerate additive fields.
type Envelope struct {
	NotificationID   string           `json:"notification_id"`
	NotificationType NotificationType `json:"notification_type"`
	UserID           string           `json:"user_id"`
	TemplateCode     string           `json:"template_code"`
	Variables        Variables        `json:"variables"`
	Priority         int              `json:"priority"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	RequestID        string           `json:"request_id"`
	EnqueuedAt       time.Time        `json:"enqueued_at"`
}

// Status is the last reported delivery state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusDelivered || s == StatusFailed
}

// StatusRecord is the last-known delivery status for a notification. It is a
// cache with a fixed retention window, not an audit log.
type StatusRecord struct {
	NotificationID string    `json:"notification_id"`
	Status         Status    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
	Error          string    `json:"error,omitempty"`
}
