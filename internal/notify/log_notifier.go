package notify

import (
	"context"

	"github.com/google/uuid"

	"riskflow/backend/internal/logging"
)

// LogNotifier writes notifications to the log instead of delivering them.
// It is used when no notification service is configured.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message and acknowledges it.
func (n *LogNotifier) Send(ctx context.Context, msg Message) (*Ack, error) {
	id := uuid.NewString()
	n.logger.InfoContext(ctx, "notification",
		"to", msg.To,
		"subject", msg.Subject,
		"template_id", msg.TemplateID,
		"urgency", msg.Urgency,
		"message_id", id,
	)
	return &Ack{MessageID: id, Status: "logged"}, nil
}
