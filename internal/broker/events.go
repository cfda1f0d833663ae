package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"dispatch-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing dispatch domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishPickupRequested publishes PickupRequested event
func (ep *EventPublisher) PublishPickupRequested(ctx context.Context, event *models.PickupRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPickupApproved publishes PickupApproved event
func (ep *EventPublisher) PublishPickupApproved(ctx context.Context, event *models.PickupApprovedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPickupRejected publishes PickupRejected event
func (ep *EventPublisher) PublishPickupRejected(ctx context.Context, event *models.PickupRejectedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishCourierDeparted publishes CourierDeparted event
func (ep *EventPublisher) PublishCourierDeparted(ctx context.Context, event *models.CourierDepartedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishLocationUpdated publishes LocationUpdated event
func (ep *EventPublisher) PublishLocationUpdated(ctx context.Context, event *models.LocationUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.Sample.OrderID), event)
}

// PublishDeliveryCompleted publishes DeliveryCompleted event
func (ep *EventPublisher) PublishDeliveryCompleted(ctx context.Context, event *models.DeliveryCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishSessionFenced publishes SessionFenced event. Keyed by courier since
// fencing is not tied to a particular order.
func (ep *EventPublisher) PublishSessionFenced(ctx context.Context, event *models.SessionFencedEvent) error {
	key := fmt.Sprintf("courier-%d", event.CourierID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming dispatch events to registered callbacks
type EventHandler struct {
	onPickupRequested   func(context.Context, *models.PickupRequestedEvent) error
	onPickupApproved    func(context.Context, *models.PickupApprovedEvent) error
	onPickupRejected    func(context.Context, *models.PickupRejectedEvent) error
	onCourierDeparted   func(context.Context, *models.CourierDepartedEvent) error
	onDeliveryCompleted func(context.Context, *models.DeliveryCompletedEvent) error
	onSessionFenced     func(context.Context, *models.SessionFencedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPickupRequested registers a handler for PickupRequested events
func (eh *EventHandler) OnPickupRequested(handler func(context.Context, *models.PickupRequestedEvent) error) {
	eh.onPickupRequested = handler
}

// OnPickupApproved registers a handler for PickupApproved events
func (eh *EventHandler) OnPickupApproved(handler func(context.Context, *models.PickupApprovedEvent) error) {
	eh.onPickupApproved = handler
}

// OnPickupRejected registers a handler for PickupRejected events
func (eh *EventHandler) OnPickupRejected(handler func(context.Context, *models.PickupRejectedEvent) error) {
	eh.onPickupRejected = handler
}

// OnCourierDeparted registers a handler for CourierDeparted events
func (eh *EventHandler) OnCourierDeparted(handler func(context.Context, *models.CourierDepartedEvent) error) {
	eh.onCourierDeparted = handler
}

// OnDeliveryCompleted registers a handler for DeliveryCompleted events
func (eh *EventHandler) OnDeliveryCompleted(handler func(context.Context, *models.DeliveryCompletedEvent) error) {
	eh.onDeliveryCompleted = handler
}

// OnSessionFenced registers a handler for SessionFenced events
func (eh *EventHandler) OnSessionFenced(handler func(context.Context, *models.SessionFencedEvent) error) {
	eh.onSessionFenced = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePickupRequested:
		if eh.onPickupRequested != nil {
			var event models.PickupRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PickupRequested event: %w", err)
			}
			return eh.onPickupRequested(ctx, &event)
		}

	case models.EventTypePickupApproved:
		if eh.onPickupApproved != nil {
			var event models.PickupApprovedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PickupApproved event: %w", err)
			}
			return eh.onPickupApproved(ctx, &event)
		}

	case models.EventTypePickupRejected:
		if eh.onPickupRejected != nil {
			var event models.PickupRejectedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PickupRejected event: %w", err)
			}
			return eh.onPickupRejected(ctx, &event)
		}

	case models.EventTypeCourierDeparted:
		if eh.onCourierDeparted != nil {
			var event models.CourierDepartedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CourierDeparted event: %w", err)
			}
			return eh.onCourierDeparted(ctx, &event)
		}

	case models.EventTypeDeliveryCompleted:
		if eh.onDeliveryCompleted != nil {
			var event models.DeliveryCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal DeliveryCompleted event: %w", err)
			}
			return eh.onDeliveryCompleted(ctx, &event)
		}

	case models.EventTypeSessionFenced:
		if eh.onSessionFenced != nil {
			var event models.SessionFencedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SessionFenced event: %w", err)
			}
			return eh.onSessionFenced(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
