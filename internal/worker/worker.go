// Package worker runs the background consumers of the dispatch event stream.
package worker

import (
	"context"

	"dispatch-service/internal/broker"
	"dispatch-service/internal/models"
	"dispatch-service/internal/notify"
	"dispatch-service/internal/util"

	"go.uber.org/zap"
)

// EventLog provides consumer idempotency over processed event ids.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// NotificationWorker consumes dispatch events and fans them out as user
// notifications. Events are deduplicated by id, so Kafka redeliveries do not
// double-notify.
type NotificationWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	eventLog EventLog
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewNotificationWorker creates the worker and registers its event handlers.
func NewNotificationWorker(consumer *broker.Consumer, eventLog EventLog, notifier notify.Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		handler:  broker.NewEventHandler(),
		eventLog: eventLog,
		notifier: notifier,
		logger:   util.NamedLogger("worker"),
	}

	w.handler.OnPickupApproved(w.handlePickupApproved)
	w.handler.OnPickupRejected(w.handlePickupRejected)
	w.handler.OnCourierDeparted(w.handleCourierDeparted)
	w.handler.OnDeliveryCompleted(w.handleDeliveryCompleted)
	w.handler.OnSessionFenced(w.handleSessionFenced)

	return w
}

// Start begins consuming. Blocks until ctx is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop closes the underlying consumer.
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handlePickupApproved(ctx context.Context, event *models.PickupApprovedEvent) error {
	return w.notifyOnce(ctx, event.BaseEvent, notify.TemplatePickupApproved, event.CourierID, map[string]interface{}{
		"order_id":   event.OrderID,
		"request_id": event.RequestID,
	})
}

func (w *NotificationWorker) handlePickupRejected(ctx context.Context, event *models.PickupRejectedEvent) error {
	return w.notifyOnce(ctx, event.BaseEvent, notify.TemplatePickupRejected, event.CourierID, map[string]interface{}{
		"order_id":   event.OrderID,
		"request_id": event.RequestID,
	})
}

func (w *NotificationWorker) handleCourierDeparted(ctx context.Context, event *models.CourierDepartedEvent) error {
	return w.notifyOnce(ctx, event.BaseEvent, notify.TemplateCourierDeparted, event.OrderID, map[string]interface{}{
		"order_id":      event.OrderID,
		"courier_name":  event.CourierName,
		"courier_phone": event.CourierPhone,
	})
}

func (w *NotificationWorker) handleDeliveryCompleted(ctx context.Context, event *models.DeliveryCompletedEvent) error {
	return w.notifyOnce(ctx, event.BaseEvent, notify.TemplateDeliveryCompleted, event.OrderID, map[string]interface{}{
		"order_id": event.OrderID,
	})
}

func (w *NotificationWorker) handleSessionFenced(ctx context.Context, event *models.SessionFencedEvent) error {
	return w.notifyOnce(ctx, event.BaseEvent, notify.TemplateSessionFenced, event.CourierID, map[string]interface{}{
		"courier_id": event.CourierID,
	})
}

// notifyOnce sends the notification unless the event was already processed.
// A send failure leaves the event unmarked so the message is redelivered; a
// failure to mark after a successful send only risks a duplicate, which the
// templates tolerate.
func (w *NotificationWorker) notifyOnce(ctx context.Context, base models.BaseEvent, template string, recipientID int64, payload map[string]interface{}) error {
	processed, err := w.eventLog.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}

	if err := w.notifier.Send(ctx, template, recipientID, payload); err != nil {
		w.logger.Warn("Notification delivery failed",
			zap.String("template", template), zap.String("event_id", base.EventID), zap.Error(err))
		return err
	}
	util.NotificationsSentTotal.WithLabelValues(template).Inc()

	if err := w.eventLog.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		w.logger.Warn("Failed to mark event processed",
			zap.String("event_id", base.EventID), zap.Error(err))
	}
	return nil
}
