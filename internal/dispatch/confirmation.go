package dispatch

import (
	"context"
	"fmt"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"
	"dispatch-service/internal/util"

	"go.uber.org/zap"
)

// ConfirmationService gates order completion on the one-time delivery code
// exchanged out of band with the customer. The submitted code is compared to
// the order's expected code exactly: no trimming, no case folding.
type ConfirmationService struct {
	ledger           Ledger
	assignment       *AssignmentService
	events           Events
	tracker          Tracker
	maxProofRefBytes int
	logger           *zap.Logger
}

// NewConfirmationService creates a new confirmation gate
func NewConfirmationService(ledger Ledger, assignment *AssignmentService, events Events, tracker Tracker, maxProofRefBytes int) *ConfirmationService {
	if maxProofRefBytes <= 0 {
		maxProofRefBytes = 512
	}
	return &ConfirmationService{
		ledger:           ledger,
		assignment:       assignment,
		events:           events,
		tracker:          tracker,
		maxProofRefBytes: maxProofRefBytes,
		logger:           util.GetLogger(),
	}
}

// ConfirmDelivery verifies the submitted code against the order's expected
// code and, on an exact match, completes the order and its pickup request and
// stops telemetry. A mismatch is retryable and leaves all state unchanged.
// The proof photo reference is optional; absence is not an error.
func (s *ConfirmationService) ConfirmDelivery(ctx context.Context, orderID int64, submittedCode, proofRef string) error {
	ctx, span := util.StartSpan(ctx, "ConfirmationService.ConfirmDelivery")
	defer span.End()

	if len(proofRef) > s.maxProofRefBytes {
		util.DeliveryCodeFailuresTotal.WithLabelValues("proof_too_large").Inc()
		return apperr.Validation("proof reference too large")
	}

	order, err := s.ledger.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !order.DeliveryCode.Valid || order.DeliveryCode.String == "" {
		util.DeliveryCodeFailuresTotal.WithLabelValues("code_not_issued").Inc()
		return apperr.Validation("code not yet issued")
	}

	if submittedCode != order.DeliveryCode.String {
		util.DeliveryCodeFailuresTotal.WithLabelValues("incorrect_code").Inc()
		s.logger.Info("Delivery code mismatch", zap.Int64("order_id", orderID))
		return apperr.Validation("incorrect code")
	}

	req, err := s.activeRequest(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.ledger.CompleteOrder(ctx, orderID, proofRef); err != nil {
		return err
	}

	if err := s.assignment.CompleteRequest(ctx, req.ID); err != nil {
		// The order is already completed; surface the inconsistency rather
		// than coercing state.
		s.logger.Error("Order completed but pickup request transition failed",
			zap.Int64("order_id", orderID),
			zap.Int64("request_id", req.ID),
			zap.Error(err))
		return err
	}

	s.tracker.StopTracking(ctx, orderID, req.CourierID)

	util.DeliveriesCompletedTotal.Inc()
	s.logger.Info("Delivery confirmed",
		zap.Int64("order_id", orderID),
		zap.Int64("request_id", req.ID))

	event := &models.DeliveryCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeDeliveryCompleted),
		RequestID: req.ID,
		OrderID:   orderID,
		CourierID: req.CourierID,
		ProofRef:  proofRef,
	}
	if err := s.events.PublishDeliveryCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish DeliveryCompleted event", zap.Error(err))
	}

	return nil
}

// activeRequest finds the order's single OUT_FOR_DELIVERY request.
func (s *ConfirmationService) activeRequest(ctx context.Context, orderID int64) (*models.PickupRequest, error) {
	reqs, err := s.ledger.GetPickupRequestsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if reqs[i].Status == models.PickupStatusOutForDelivery {
			return &reqs[i], nil
		}
	}
	return nil, apperr.Conflict(fmt.Sprintf("order %d has no courier out for delivery", orderID))
}
