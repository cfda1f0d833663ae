package dispatch

import (
	"context"
	"fmt"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"
	"dispatch-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AssignmentService drives the pickup request lifecycle:
// PENDING -> APPROVED -> OUT_FOR_DELIVERY -> COMPLETED, or PENDING -> REJECTED.
// Transitions never move backward and terminal states admit no further
// writes. State violations surface as ConflictError; nothing retries
// automatically.
type AssignmentService struct {
	ledger  Ledger
	claims  Claimer
	events  Events
	tracker Tracker
	logger  *zap.Logger
}

// NewAssignmentService creates a new assignment service
func NewAssignmentService(ledger Ledger, claims Claimer, events Events, tracker Tracker) *AssignmentService {
	return &AssignmentService{
		ledger:  ledger,
		claims:  claims,
		events:  events,
		tracker: tracker,
		logger:  util.GetLogger(),
	}
}

// RequestPickup creates a PENDING pickup request for (order, courier). Fails
// with ConflictError when another courier already holds the order or this
// courier already has a pending request for it.
func (s *AssignmentService) RequestPickup(ctx context.Context, orderID, courierID int64) (*models.PickupRequest, error) {
	ctx, span := util.StartSpan(ctx, "AssignmentService.RequestPickup")
	defer span.End()

	order, err := s.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusDelivered {
		return nil, apperr.Conflict(fmt.Sprintf("order %d already delivered", orderID))
	}

	req, err := s.ledger.CreatePickupRequest(ctx, orderID, courierID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			util.PickupConflictsTotal.WithLabelValues("request").Inc()
		}
		return nil, err
	}

	util.PickupsRequestedTotal.Inc()
	s.logger.Info("Pickup requested",
		zap.Int64("request_id", req.ID),
		zap.Int64("order_id", orderID),
		zap.Int64("courier_id", courierID))

	event := &models.PickupRequestedEvent{
		BaseEvent: newBaseEvent(models.EventTypePickupRequested),
		RequestID: req.ID,
		OrderID:   orderID,
		CourierID: courierID,
	}
	if err := s.events.PublishPickupRequested(ctx, event); err != nil {
		s.logger.Error("Failed to publish PickupRequested event", zap.Error(err))
	}

	return req, nil
}

// Approve transitions a request PENDING -> APPROVED. The Redis claim is taken
// first so two approvers racing on the same order resolve before the ledger
// write; the ledger transaction then re-checks the single-assignment bound.
// First write wins: the loser gets ConflictError.
func (s *AssignmentService) Approve(ctx context.Context, requestID int64) error {
	ctx, span := util.StartSpan(ctx, "AssignmentService.Approve")
	defer span.End()

	req, err := s.ledger.GetPickupRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != models.PickupStatusPending {
		return apperr.Conflict(fmt.Sprintf("pickup request %d is %s, not %s", requestID, req.Status, models.PickupStatusPending))
	}

	claimed, err := s.claims.ClaimOrder(ctx, req.OrderID, requestID)
	if err != nil {
		return fmt.Errorf("failed to claim order %d: %w", req.OrderID, err)
	}
	if !claimed {
		util.PickupConflictsTotal.WithLabelValues("approve").Inc()
		return apperr.Conflict(fmt.Sprintf("order %d claimed by a concurrent approval", req.OrderID))
	}

	if err := s.ledger.ApprovePickupRequestTx(ctx, requestID); err != nil {
		if relErr := s.claims.ReleaseOrder(ctx, req.OrderID, requestID); relErr != nil {
			s.logger.Error("Failed to release claim after lost approval",
				zap.Int64("order_id", req.OrderID), zap.Error(relErr))
		}
		if apperr.IsKind(err, apperr.KindConflict) {
			util.PickupConflictsTotal.WithLabelValues("approve").Inc()
		}
		return err
	}

	util.PickupsApprovedTotal.Inc()
	s.logger.Info("Pickup approved",
		zap.Int64("request_id", requestID),
		zap.Int64("order_id", req.OrderID))

	event := &models.PickupApprovedEvent{
		BaseEvent: newBaseEvent(models.EventTypePickupApproved),
		RequestID: requestID,
		OrderID:   req.OrderID,
		CourierID: req.CourierID,
	}
	if err := s.events.PublishPickupApproved(ctx, event); err != nil {
		s.logger.Error("Failed to publish PickupApproved event", zap.Error(err))
	}

	return nil
}

// Reject transitions a request PENDING -> REJECTED, terminally.
func (s *AssignmentService) Reject(ctx context.Context, requestID int64) error {
	ctx, span := util.StartSpan(ctx, "AssignmentService.Reject")
	defer span.End()

	req, err := s.ledger.GetPickupRequestByID(ctx, requestID)
	if err != nil {
		return err
	}

	if err := s.ledger.TransitionPickupRequest(ctx, requestID,
		models.PickupStatusPending, models.PickupStatusRejected); err != nil {
		return err
	}

	util.PickupsRejectedTotal.Inc()
	s.logger.Info("Pickup rejected", zap.Int64("request_id", requestID))

	event := &models.PickupRejectedEvent{
		BaseEvent: newBaseEvent(models.EventTypePickupRejected),
		RequestID: requestID,
		OrderID:   req.OrderID,
		CourierID: req.CourierID,
	}
	if err := s.events.PublishPickupRejected(ctx, event); err != nil {
		s.logger.Error("Failed to publish PickupRejected event", zap.Error(err))
	}

	return nil
}

// MarkDeparted transitions a request APPROVED -> OUT_FOR_DELIVERY, patches
// the order's public status with the courier contact snapshot, and starts
// live tracking for the order.
func (s *AssignmentService) MarkDeparted(ctx context.Context, requestID int64, courierName, courierPhone, sessionID string) error {
	ctx, span := util.StartSpan(ctx, "AssignmentService.MarkDeparted")
	defer span.End()

	req, err := s.ledger.GetPickupRequestByID(ctx, requestID)
	if err != nil {
		return err
	}

	if err := s.ledger.TransitionPickupRequest(ctx, requestID,
		models.PickupStatusApproved, models.PickupStatusOutForDelivery); err != nil {
		return err
	}

	if err := s.ledger.MarkOrderOutForDelivery(ctx, req.OrderID, courierName, courierPhone); err != nil {
		s.logger.Error("Failed to patch order after departure",
			zap.Int64("order_id", req.OrderID), zap.Error(err))
		return err
	}

	if err := s.tracker.StartTracking(ctx, req.OrderID, req.CourierID, sessionID); err != nil {
		// Tracking failure degrades the live map, not the delivery.
		s.logger.Warn("Failed to start tracking",
			zap.Int64("order_id", req.OrderID), zap.Error(err))
	}

	util.DeparturesTotal.Inc()
	s.logger.Info("Courier departed",
		zap.Int64("request_id", requestID),
		zap.Int64("order_id", req.OrderID),
		zap.Int64("courier_id", req.CourierID))

	event := &models.CourierDepartedEvent{
		BaseEvent:    newBaseEvent(models.EventTypeCourierDeparted),
		RequestID:    requestID,
		OrderID:      req.OrderID,
		CourierID:    req.CourierID,
		CourierName:  courierName,
		CourierPhone: courierPhone,
	}
	if err := s.events.PublishCourierDeparted(ctx, event); err != nil {
		s.logger.Error("Failed to publish CourierDeparted event", zap.Error(err))
	}

	return nil
}

// CompleteRequest transitions a request OUT_FOR_DELIVERY -> COMPLETED and
// releases the order claim. Called by the confirmation gate after the
// delivery code verified.
func (s *AssignmentService) CompleteRequest(ctx context.Context, requestID int64) error {
	req, err := s.ledger.GetPickupRequestByID(ctx, requestID)
	if err != nil {
		return err
	}

	if err := s.ledger.TransitionPickupRequest(ctx, requestID,
		models.PickupStatusOutForDelivery, models.PickupStatusCompleted); err != nil {
		return err
	}

	if err := s.claims.ReleaseOrder(ctx, req.OrderID, requestID); err != nil {
		s.logger.Error("Failed to release order claim after completion",
			zap.Int64("order_id", req.OrderID), zap.Error(err))
	}
	return nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
