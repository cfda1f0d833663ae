// Package notify sends user-facing notifications for dispatch events.
// Delivery is fire-and-forget; a lost notification is never worth failing an
// event for.
package notify

import (
	"context"

	"dispatch-service/internal/util"

	"go.uber.org/zap"
)

// Notification templates.
const (
	TemplatePickupApproved    = "pickup_approved"
	TemplatePickupRejected    = "pickup_rejected"
	TemplateCourierDeparted   = "courier_departed"
	TemplateDeliveryCompleted = "delivery_completed"
	TemplateSessionFenced     = "session_fenced"
)

// Notifier delivers one templated notification to a recipient.
type Notifier interface {
	Send(ctx context.Context, template string, recipientID int64, payload map[string]interface{}) error
}

// LogNotifier writes notifications to the service log. Stands in for the push
// gateway in development and test environments.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.NamedLogger("notify")}
}

// Send implements Notifier.
func (n *LogNotifier) Send(_ context.Context, template string, recipientID int64, payload map[string]interface{}) error {
	n.logger.Info("Notification sent",
		zap.String("template", template),
		zap.Int64("recipient_id", recipientID),
		zap.Any("payload", payload))
	return nil
}
