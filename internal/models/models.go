package models

import (
	"database/sql"
	"time"
)

// Order represents a confirmed storefront order from the fulfillment side.
// Catalog and payment fields live in the storefront service; only the
// delivery-relevant columns are mapped here.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	CustomerID     int64           `db:"customer_id" json:"customer_id"`
	Status         string          `db:"status" json:"status"`
	DeliveryCode   sql.NullString  `db:"delivery_code" json:"-"`
	OTPVerified    bool            `db:"otp_verified" json:"otp_verified"`
	ProofRef       sql.NullString  `db:"proof_ref" json:"proof_ref,omitempty"`
	CourierName    sql.NullString  `db:"courier_name" json:"courier_name,omitempty"`
	CourierPhone   sql.NullString  `db:"courier_phone" json:"courier_phone,omitempty"`
	AddressText    string          `db:"address_text" json:"address_text"`
	DestLat        sql.NullFloat64 `db:"dest_lat" json:"dest_lat,omitempty"`
	DestLng        sql.NullFloat64 `db:"dest_lng" json:"dest_lng,omitempty"`
	TrackingActive bool            `db:"tracking_active" json:"tracking_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// PickupRequest is a courier's claim to deliver a specific order.
type PickupRequest struct {
	ID          int64        `db:"id" json:"id"`
	OrderID     int64        `db:"order_id" json:"order_id"`
	CourierID   int64        `db:"courier_id" json:"courier_id"`
	Status      string       `db:"status" json:"status"`
	RequestedAt time.Time    `db:"requested_at" json:"requested_at"`
	ResolvedAt  sql.NullTime `db:"resolved_at" json:"resolved_at,omitempty"`
}

// CourierSession is the audit row for a courier login. The authoritative
// session id lives in Redis; this row records issuance and fencing times.
type CourierSession struct {
	CourierID int64        `db:"courier_id" json:"courier_id"`
	SessionID string       `db:"session_id" json:"session_id"`
	IssuedAt  time.Time    `db:"issued_at" json:"issued_at"`
	FencedAt  sql.NullTime `db:"fenced_at" json:"fenced_at,omitempty"`
}

// LocationSample is a single position fix. Only the most recent sample per
// order is retained; consumers never see history.
type LocationSample struct {
	CourierID  int64     `json:"courier_id"`
	OrderID    int64     `json:"order_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	SessionID  string    `json:"session_id"`
}

// Coordinate is a geographic point used by routing and geocoding.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Pickup request statuses
const (
	PickupStatusPending        = "PENDING"
	PickupStatusApproved       = "APPROVED"
	PickupStatusOutForDelivery = "OUT_FOR_DELIVERY"
	PickupStatusCompleted      = "COMPLETED"
	PickupStatusRejected       = "REJECTED"
)

// Order fulfillment statuses (public, shown to the customer)
const (
	OrderStatusPlaced         = "PLACED"
	OrderStatusOutForDelivery = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      = "DELIVERED"
)

// PickupStatusTerminal reports whether a pickup request status admits no
// further transitions.
func PickupStatusTerminal(status string) bool {
	return status == PickupStatusCompleted || status == PickupStatusRejected
}

// PickupStatusActive reports whether a status counts against the
// one-active-courier-per-order bound.
func PickupStatusActive(status string) bool {
	return status == PickupStatusApproved || status == PickupStatusOutForDelivery
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
