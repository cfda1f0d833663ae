// Package dispatch implements the rider dispatch core: the pickup assignment
// state machine, the delivery confirmation gate, the location telemetry
// publisher, and the session guard. All shared mutable state lives behind the
// ledger and claim interfaces; nothing here assumes cross-client ordering.
package dispatch

import (
	"context"
	"time"

	"dispatch-service/internal/models"
)

// Ledger is the persistent dispatch ledger. Implemented by store.Store. Every
// status mutation is a conditional patch keyed on the expected current status.
type Ledger interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	MarkOrderOutForDelivery(ctx context.Context, orderID int64, courierName, courierPhone string) error
	CompleteOrder(ctx context.Context, orderID int64, proofRef string) error
	SetTrackingInactive(ctx context.Context, orderID int64) error
	SetOrderCoordinates(ctx context.Context, orderID int64, lat, lng float64) error

	CreatePickupRequest(ctx context.Context, orderID, courierID int64) (*models.PickupRequest, error)
	GetPickupRequestByID(ctx context.Context, id int64) (*models.PickupRequest, error)
	GetPickupRequestsByOrderID(ctx context.Context, orderID int64) ([]models.PickupRequest, error)
	TransitionPickupRequest(ctx context.Context, id int64, expected, next string) error
	ApprovePickupRequestTx(ctx context.Context, id int64) error

	UpsertCourierSession(ctx context.Context, courierID int64, sessionID string) error
	MarkSessionFenced(ctx context.Context, courierID int64, sessionID string) error
}

// Claimer is the atomic per-order assignment claim. Implemented by
// redisclient.Client; the claim is the fast-path guard for the
// one-active-courier-per-order bound, the ledger transaction the authority.
type Claimer interface {
	ClaimOrder(ctx context.Context, orderID, requestID int64) (bool, error)
	ReleaseOrder(ctx context.Context, orderID, requestID int64) error
}

// SessionSource exposes the authoritative session id per courier.
type SessionSource interface {
	GetActiveSession(ctx context.Context, courierID int64) (string, error)
	SetActiveSession(ctx context.Context, courierID int64, sessionID string, ttl time.Duration) error
}

// SampleStore holds the latest location sample per order.
type SampleStore interface {
	SetLatestSample(ctx context.Context, sample *models.LocationSample) error
	GetLatestSample(ctx context.Context, orderID int64) (*models.LocationSample, error)
	ClearLatestSample(ctx context.Context, orderID int64) error
}

// Events publishes dispatch domain events. Implemented by
// broker.EventPublisher.
type Events interface {
	PublishPickupRequested(ctx context.Context, event *models.PickupRequestedEvent) error
	PublishPickupApproved(ctx context.Context, event *models.PickupApprovedEvent) error
	PublishPickupRejected(ctx context.Context, event *models.PickupRejectedEvent) error
	PublishCourierDeparted(ctx context.Context, event *models.CourierDepartedEvent) error
	PublishLocationUpdated(ctx context.Context, event *models.LocationUpdatedEvent) error
	PublishDeliveryCompleted(ctx context.Context, event *models.DeliveryCompletedEvent) error
	PublishSessionFenced(ctx context.Context, event *models.SessionFencedEvent) error
}

// Tracker starts and stops live delivery tracking for a courier. Implemented
// by the session registry, which owns the per-courier telemetry publishers.
type Tracker interface {
	StartTracking(ctx context.Context, orderID, courierID int64, sessionID string) error
	StopTracking(ctx context.Context, orderID, courierID int64)
}

// TickerFactory abstracts timer creation so poll and publish cadences can be
// driven manually in tests. The returned stop function releases the ticker.
type TickerFactory func(d time.Duration) (<-chan time.Time, func())

// WallClockTicker is the production TickerFactory backed by time.Ticker.
func WallClockTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
