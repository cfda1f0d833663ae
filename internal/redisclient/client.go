package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"dispatch-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_order.lua
var claimOrderScript string

//go:embed scripts/release_order.lua
var releaseOrderScript string

// Client wraps Redis for the three hot-path concerns of dispatch: the atomic
// per-order courier claim, the authoritative session id per courier, and the
// latest location sample per order (only the most recent value is retained).
type Client struct {
	rdb           *redis.Client
	claimScript   *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		claimScript:   redis.NewScript(claimOrderScript),
		releaseScript: redis.NewScript(releaseOrderScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimOrder atomically claims an order for a pickup request. Returns true
// when this request holds the claim (idempotent for the same request id),
// false when another request already does.
func (c *Client) ClaimOrder(ctx context.Context, orderID, requestID int64) (bool, error) {
	key := fmt.Sprintf("assignment:%d", orderID)

	result, err := c.claimScript.Run(ctx, c.rdb, []string{key}, requestID).Result()
	if err != nil {
		return false, fmt.Errorf("claim order script failed: %w", err)
	}

	claimed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return claimed == 1, nil
}

// ReleaseOrder releases an order claim held by the given request. Releasing a
// claim held by someone else is a no-op.
func (c *Client) ReleaseOrder(ctx context.Context, orderID, requestID int64) error {
	key := fmt.Sprintf("assignment:%d", orderID)

	_, err := c.releaseScript.Run(ctx, c.rdb, []string{key}, requestID).Result()
	if err != nil {
		return fmt.Errorf("release order script failed: %w", err)
	}
	return nil
}

// SetActiveSession overwrites the authoritative session id for a courier.
// A later login strictly supersedes an earlier one.
func (c *Client) SetActiveSession(ctx context.Context, courierID int64, sessionID string, ttl time.Duration) error {
	key := fmt.Sprintf("session:%d", courierID)
	return c.rdb.Set(ctx, key, sessionID, ttl).Err()
}

// GetActiveSession returns the authoritative session id for a courier, or ""
// when no session is active.
func (c *Client) GetActiveSession(ctx context.Context, courierID int64) (string, error) {
	key := fmt.Sprintf("session:%d", courierID)

	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetLatestSample stores the most recent location sample for an order,
// replacing whatever was there. History is deliberately not kept.
func (c *Client) SetLatestSample(ctx context.Context, sample *models.LocationSample) error {
	key := fmt.Sprintf("latest_location:%d", sample.OrderID)

	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal location sample: %w", err)
	}
	return c.rdb.Set(ctx, key, payload, 24*time.Hour).Err()
}

// GetLatestSample returns the most recent location sample for an order, or
// nil when none has been published.
func (c *Client) GetLatestSample(ctx context.Context, orderID int64) (*models.LocationSample, error) {
	key := fmt.Sprintf("latest_location:%d", orderID)

	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sample models.LocationSample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location sample: %w", err)
	}
	return &sample, nil
}

// ClearLatestSample drops the cached sample for an order after delivery.
func (c *Client) ClearLatestSample(ctx context.Context, orderID int64) error {
	key := fmt.Sprintf("latest_location:%d", orderID)
	return c.rdb.Del(ctx, key).Err()
}
