package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/sensor"
	"dispatch-service/internal/util"

	"go.uber.org/zap"
)

// CourierRuntime is the server-side counterpart of one signed-in courier
// device: one position feed, one telemetry publisher, one session guard.
// At most one runtime exists per courier; a newer attach replaces it.
type CourierRuntime struct {
	CourierID int64
	SessionID string

	feed      *sensor.Feed
	publisher *TelemetryPublisher
	guard     *SessionGuard
}

// Registry owns the courier runtimes and implements Tracker.
type Registry struct {
	ledger       Ledger
	sessions     SessionSource
	samples      SampleStore
	events       Events
	telemetryCfg TelemetryConfig
	guardCfg     GuardConfig
	sessionTTL   time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	runtimes map[int64]*CourierRuntime
}

// NewRegistry creates an empty courier runtime registry.
func NewRegistry(ledger Ledger, sessions SessionSource, samples SampleStore, events Events, telemetryCfg TelemetryConfig, guardCfg GuardConfig, sessionTTL time.Duration) *Registry {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Registry{
		ledger:       ledger,
		sessions:     sessions,
		samples:      samples,
		events:       events,
		telemetryCfg: telemetryCfg,
		guardCfg:     guardCfg,
		sessionTTL:   sessionTTL,
		logger:       util.NamedLogger("registry"),
	}
}

// Attach registers a courier device session. The session id becomes the
// courier's authoritative one, superseding any earlier login; the previous
// device's guard will detect the mismatch on its next poll and fence itself.
func (r *Registry) Attach(ctx context.Context, courierID int64, sessionID string) error {
	if err := r.sessions.SetActiveSession(ctx, courierID, sessionID, r.sessionTTL); err != nil {
		return fmt.Errorf("failed to set active session: %w", err)
	}
	if err := r.ledger.UpsertCourierSession(ctx, courierID, sessionID); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	feed := sensor.NewFeed()
	publisher := NewTelemetryPublisher(
		feed,
		NewSamplePublisher(r.samples, r.events),
		r.deactivate,
		r.telemetryCfg,
	)
	guard := NewSessionGuard(courierID, sessionID, r.sessions, r.ledger, r.events, r.guardCfg,
		publisher.Disable,
		func() { r.remove(courierID, sessionID) },
	)

	rt := &CourierRuntime{
		CourierID: courierID,
		SessionID: sessionID,
		feed:      feed,
		publisher: publisher,
		guard:     guard,
	}

	r.mu.Lock()
	if r.runtimes == nil {
		r.runtimes = make(map[int64]*CourierRuntime)
	}
	prev := r.runtimes[courierID]
	r.runtimes[courierID] = rt
	r.mu.Unlock()

	if prev != nil {
		prev.publisher.Stop()
		prev.guard.Stop()
	}

	guard.Start()

	r.logger.Info("Courier session attached", zap.Int64("courier_id", courierID))
	return nil
}

// Ingest feeds a raw position fix into the courier's runtime. A fix from a
// stale or fenced session is refused.
func (r *Registry) Ingest(courierID int64, sessionID string, fix sensor.Fix) error {
	rt, err := r.runtime(courierID, sessionID)
	if err != nil {
		return err
	}
	rt.feed.Push(fix)
	return nil
}

// StartTracking implements Tracker.
func (r *Registry) StartTracking(_ context.Context, orderID, courierID int64, sessionID string) error {
	rt, err := r.runtime(courierID, sessionID)
	if err != nil {
		return err
	}
	return rt.publisher.Start(orderID, courierID, sessionID)
}

// StopTracking implements Tracker. Works even when the courier's runtime is
// gone (fenced mid-delivery): the ledger and sample cache are cleaned up
// directly in that case.
func (r *Registry) StopTracking(ctx context.Context, orderID, courierID int64) {
	r.mu.Lock()
	rt := r.runtimes[courierID]
	r.mu.Unlock()

	if rt != nil {
		if tracked, running := rt.publisher.Tracking(); running && tracked == orderID {
			rt.publisher.StopForDelivery(ctx)
			return
		}
	}
	if err := r.deactivate(ctx, orderID); err != nil {
		r.logger.Warn("Failed to deactivate tracking", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// Logout ends a courier session voluntarily. During a fencing grace period
// this is the manual way out; otherwise it is a clean detach.
func (r *Registry) Logout(courierID int64, sessionID string) error {
	r.mu.Lock()
	rt := r.runtimes[courierID]
	r.mu.Unlock()

	if rt == nil || rt.SessionID != sessionID {
		return apperr.NotFound(fmt.Sprintf("session for courier %d", courierID))
	}

	rt.publisher.Stop()
	rt.guard.Logout()
	return nil
}

// Fenced reports whether the given courier session has been fenced.
func (r *Registry) Fenced(courierID int64, sessionID string) bool {
	r.mu.Lock()
	rt := r.runtimes[courierID]
	r.mu.Unlock()
	return rt != nil && rt.SessionID == sessionID && rt.guard.Fenced()
}

func (r *Registry) runtime(courierID int64, sessionID string) (*CourierRuntime, error) {
	r.mu.Lock()
	rt := r.runtimes[courierID]
	r.mu.Unlock()

	if rt == nil {
		return nil, apperr.NotFound(fmt.Sprintf("no active session for courier %d", courierID))
	}
	if rt.SessionID != sessionID || rt.guard.Fenced() {
		return nil, apperr.SessionFenced(sessionID)
	}
	return rt, nil
}

// remove drops a runtime after logout, leaving a newer session's runtime
// untouched.
func (r *Registry) remove(courierID int64, sessionID string) {
	r.mu.Lock()
	rt := r.runtimes[courierID]
	if rt != nil && rt.SessionID == sessionID {
		delete(r.runtimes, courierID)
	}
	r.mu.Unlock()

	if rt != nil && rt.SessionID == sessionID {
		rt.publisher.Stop()
		r.logger.Info("Courier session detached", zap.Int64("courier_id", courierID))
	}
}

func (r *Registry) deactivate(ctx context.Context, orderID int64) error {
	if err := r.samples.ClearLatestSample(ctx, orderID); err != nil {
		r.logger.Warn("Failed to clear latest sample", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return r.ledger.SetTrackingInactive(ctx, orderID)
}
