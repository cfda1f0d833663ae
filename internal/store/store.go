package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the dispatch ledger client. All order and pickup-request state is
// owned by the database; every status change goes through a conditional patch
// (expected current status in the WHERE clause), never a blind overwrite.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new ledger store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound(fmt.Sprintf("order %d", id))
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkOrderOutForDelivery patches the order's public status and snapshots the
// courier's contact info. Conditional on the order still being PLACED.
func (s *Store) MarkOrderOutForDelivery(ctx context.Context, orderID int64, courierName, courierPhone string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, courier_name = $2, courier_phone = $3, tracking_active = TRUE, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		models.OrderStatusOutForDelivery, courierName, courierPhone, orderID, models.OrderStatusPlaced)
	if err != nil {
		return err
	}
	return s.checkOrderPatch(ctx, res, orderID)
}

// CompleteOrder marks the order delivered with the verified code flag and an
// optional proof-of-delivery reference. Conditional on OUT_FOR_DELIVERY.
func (s *Store) CompleteOrder(ctx context.Context, orderID int64, proofRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, otp_verified = TRUE, proof_ref = NULLIF($2, ''), tracking_active = FALSE, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.OrderStatusDelivered, proofRef, orderID, models.OrderStatusOutForDelivery)
	if err != nil {
		return err
	}
	return s.checkOrderPatch(ctx, res, orderID)
}

// SetTrackingInactive clears the tracking flag without touching order status.
// Used on telemetry shutdown paths.
func (s *Store) SetTrackingInactive(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET tracking_active = FALSE, updated_at = NOW() WHERE id = $1", orderID)
	return err
}

// SetOrderCoordinates caches geocoded destination coordinates on the order.
func (s *Store) SetOrderCoordinates(ctx context.Context, orderID int64, lat, lng float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET dest_lat = $1, dest_lng = $2, updated_at = NOW() WHERE id = $3",
		lat, lng, orderID)
	return err
}

// checkOrderPatch distinguishes a missing order from a lost conditional
// update when zero rows were touched.
func (s *Store) checkOrderPatch(ctx context.Context, res sql.Result, orderID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", orderID); err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound(fmt.Sprintf("order %d", orderID))
	}
	return apperr.Conflict(fmt.Sprintf("order %d not in expected status", orderID))
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
