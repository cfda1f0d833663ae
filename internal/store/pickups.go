package store

import (
	"context"
	"database/sql"
	"fmt"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"
)

// CreatePickupRequest inserts a PENDING request for (order, courier). The
// order's existing requests are locked for the duration of the transaction so
// two couriers racing on the same order serialize here: the insert is refused
// when another request already holds an active status, or when this courier
// already has a pending row for the order.
func (s *Store) CreatePickupRequest(ctx context.Context, orderID, courierID int64) (*models.PickupRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing []models.PickupRequest
	err = tx.SelectContext(ctx, &existing,
		"SELECT * FROM pickup_requests WHERE order_id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock pickup requests: %w", err)
	}

	for _, req := range existing {
		if models.PickupStatusActive(req.Status) {
			return nil, apperr.Conflict(fmt.Sprintf("order %d already assigned to courier %d", orderID, req.CourierID))
		}
		if req.Status == models.PickupStatusPending && req.CourierID == courierID {
			return nil, apperr.Conflict(fmt.Sprintf("courier %d already has a pending request for order %d", courierID, orderID))
		}
	}

	var created models.PickupRequest
	err = tx.GetContext(ctx, &created, `
		INSERT INTO pickup_requests (order_id, courier_id, status)
		VALUES ($1, $2, $3)
		RETURNING *`,
		orderID, courierID, models.PickupStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to create pickup request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetPickupRequestByID retrieves a pickup request by ID
func (s *Store) GetPickupRequestByID(ctx context.Context, id int64) (*models.PickupRequest, error) {
	var req models.PickupRequest
	err := s.db.GetContext(ctx, &req, "SELECT * FROM pickup_requests WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(fmt.Sprintf("pickup request %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// GetPickupRequestsByOrderID retrieves all requests for an order
func (s *Store) GetPickupRequestsByOrderID(ctx context.Context, orderID int64) ([]models.PickupRequest, error) {
	var reqs []models.PickupRequest
	err := s.db.SelectContext(ctx, &reqs,
		"SELECT * FROM pickup_requests WHERE order_id = $1 ORDER BY requested_at", orderID)
	return reqs, err
}

// TransitionPickupRequest performs a compare-and-set status patch: the row
// moves from expected to next only if it still holds expected. A lost race
// surfaces as ConflictError, a vanished row as NotFoundError.
func (s *Store) TransitionPickupRequest(ctx context.Context, id int64, expected, next string) error {
	query := "UPDATE pickup_requests SET status = $1 WHERE id = $2 AND status = $3"
	if models.PickupStatusTerminal(next) {
		query = "UPDATE pickup_requests SET status = $1, resolved_at = NOW() WHERE id = $2 AND status = $3"
	}

	res, err := s.db.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM pickup_requests WHERE id = $1)", id); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound(fmt.Sprintf("pickup request %d", id))
	}
	return apperr.Conflict(fmt.Sprintf("pickup request %d not in status %s", id, expected))
}

// ApprovePickupRequestTx approves a request while holding a lock over the
// order's full request set, so concurrent approvers for different couriers on
// the same order cannot both succeed.
func (s *Store) ApprovePickupRequestTx(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var req models.PickupRequest
	err = tx.GetContext(ctx, &req, "SELECT * FROM pickup_requests WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return apperr.NotFound(fmt.Sprintf("pickup request %d", id))
	}
	if err != nil {
		return err
	}
	if req.Status != models.PickupStatusPending {
		return apperr.Conflict(fmt.Sprintf("pickup request %d is %s, not %s", id, req.Status, models.PickupStatusPending))
	}

	var siblings []models.PickupRequest
	err = tx.SelectContext(ctx, &siblings,
		"SELECT * FROM pickup_requests WHERE order_id = $1 AND id <> $2 FOR UPDATE", req.OrderID, id)
	if err != nil {
		return fmt.Errorf("failed to lock sibling requests: %w", err)
	}
	for _, sib := range siblings {
		if models.PickupStatusActive(sib.Status) {
			return apperr.Conflict(fmt.Sprintf("order %d already assigned to courier %d", req.OrderID, sib.CourierID))
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE pickup_requests SET status = $1 WHERE id = $2",
		models.PickupStatusApproved, id)
	if err != nil {
		return fmt.Errorf("failed to approve pickup request: %w", err)
	}

	return tx.Commit()
}

// UpsertCourierSession records a freshly issued session, unconditionally
// superseding the previous one for the courier.
func (s *Store) UpsertCourierSession(ctx context.Context, courierID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courier_sessions (courier_id, session_id, issued_at, fenced_at)
		VALUES ($1, $2, NOW(), NULL)
		ON CONFLICT (courier_id)
		DO UPDATE SET session_id = EXCLUDED.session_id, issued_at = NOW(), fenced_at = NULL`,
		courierID, sessionID)
	return err
}

// GetCourierSession retrieves the audit row for a courier's session
func (s *Store) GetCourierSession(ctx context.Context, courierID int64) (*models.CourierSession, error) {
	var sess models.CourierSession
	err := s.db.GetContext(ctx, &sess,
		"SELECT * FROM courier_sessions WHERE courier_id = $1", courierID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(fmt.Sprintf("session for courier %d", courierID))
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// MarkSessionFenced stamps the fencing time on the stale session's audit row.
// Only the named session is touched; a newer login's row is left alone.
func (s *Store) MarkSessionFenced(ctx context.Context, courierID int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE courier_sessions SET fenced_at = NOW() WHERE courier_id = $1 AND session_id = $2 AND fenced_at IS NULL",
		courierID, sessionID)
	return err
}
