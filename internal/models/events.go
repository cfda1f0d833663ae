package models

import "time"

// Event types
const (
	EventTypePickupRequested   = "PICKUP_REQUESTED"
	EventTypePickupApproved    = "PICKUP_APPROVED"
	EventTypePickupRejected    = "PICKUP_REJECTED"
	EventTypeCourierDeparted   = "COURIER_DEPARTED"
	EventTypeLocationUpdated   = "LOCATION_UPDATED"
	EventTypeDeliveryCompleted = "DELIVERY_COMPLETED"
	EventTypeSessionFenced     = "SESSION_FENCED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PickupRequestedEvent published when a courier claims an order
type PickupRequestedEvent struct {
	BaseEvent
	RequestID int64 `json:"request_id"`
	OrderID   int64 `json:"order_id"`
	CourierID int64 `json:"courier_id"`
}

// PickupApprovedEvent published when an approver accepts a pickup request
type PickupApprovedEvent struct {
	BaseEvent
	RequestID int64 `json:"request_id"`
	OrderID   int64 `json:"order_id"`
	CourierID int64 `json:"courier_id"`
}

// PickupRejectedEvent published when an approver declines a pickup request
type PickupRejectedEvent struct {
	BaseEvent
	RequestID int64 `json:"request_id"`
	OrderID   int64 `json:"order_id"`
	CourierID int64 `json:"courier_id"`
}

// CourierDepartedEvent published when the courier leaves with the order
type CourierDepartedEvent struct {
	BaseEvent
	RequestID    int64  `json:"request_id"`
	OrderID      int64  `json:"order_id"`
	CourierID    int64  `json:"courier_id"`
	CourierName  string `json:"courier_name"`
	CourierPhone string `json:"courier_phone"`
}

// LocationUpdatedEvent published on each telemetry cadence tick
type LocationUpdatedEvent struct {
	BaseEvent
	Sample LocationSample `json:"sample"`
}

// DeliveryCompletedEvent published when the delivery code is verified
type DeliveryCompletedEvent struct {
	BaseEvent
	RequestID int64  `json:"request_id"`
	OrderID   int64  `json:"order_id"`
	CourierID int64  `json:"courier_id"`
	ProofRef  string `json:"proof_ref,omitempty"`
}

// SessionFencedEvent published when a superseded courier session is fenced
type SessionFencedEvent struct {
	BaseEvent
	CourierID      int64  `json:"courier_id"`
	StaleSessionID string `json:"stale_session_id"`
}
