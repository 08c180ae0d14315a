// Package notify talks to the external notification service and resolves
// roles to delivery addresses.
package notify

import "context"

// Urgency of a notification.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Message is one notification handed to the delivery service.
type Message struct {
	To         string         `json:"to"`
	Subject    string         `json:"subject"`
	TemplateID string         `json:"template_id"`
	Data       map[string]any `json:"data,omitempty"`
	Urgency    Urgency        `json:"urgency"`
}

// Ack is the delivery acknowledgement returned by the service.
type Ack struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	// Send dispatches msg. Failures are returned as *apperr.TransportError.
	Send(ctx context.Context, msg Message) (*Ack, error)
}

// Directory maps roles to delivery addresses.
type Directory interface {
	Lookup(ctx context.Context, orgID, role string) (string, error)
}
