package dispatch

import (
	"context"
	"sync"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"
	"dispatch-service/internal/sensor"
	"dispatch-service/internal/util"

	"go.uber.org/zap"
)

// PublishFunc delivers one location sample to the ledger.
type PublishFunc func(ctx context.Context, sample *models.LocationSample) error

// DeactivateFunc marks telemetry inactive for an order in the ledger.
type DeactivateFunc func(ctx context.Context, orderID int64) error

// TelemetryConfig holds the publisher's timing knobs.
type TelemetryConfig struct {
	Cadence   time.Duration
	NewTicker TickerFactory
}

// TelemetryPublisher is a session-scoped controller owning one sensor
// subscription and one publish timer. The sensor drives sampling at its own
// rate; the timer publishes the latest sample on a fixed cadence, so sensor
// jitter never translates into network load. At most one order is tracked at
// a time.
type TelemetryPublisher struct {
	sensors    sensor.Sensor
	publish    PublishFunc
	deactivate DeactivateFunc
	cadence    time.Duration
	newTicker  TickerFactory
	logger     *zap.Logger

	mu        sync.Mutex
	running   bool
	disabled  bool
	orderID   int64
	courierID int64
	sessionID string
	latest    *sensor.Fix
	sub       sensor.Subscription
	stopLoop  context.CancelFunc
	loopDone  chan struct{}
	errOnce   *sync.Once
}

// NewTelemetryPublisher creates a telemetry publisher over the given sensor.
func NewTelemetryPublisher(sensors sensor.Sensor, publish PublishFunc, deactivate DeactivateFunc, cfg TelemetryConfig) *TelemetryPublisher {
	if cfg.NewTicker == nil {
		cfg.NewTicker = WallClockTicker
	}
	if cfg.Cadence <= 0 {
		cfg.Cadence = 10 * time.Second
	}
	return &TelemetryPublisher{
		sensors:    sensors,
		publish:    publish,
		deactivate: deactivate,
		cadence:    cfg.Cadence,
		newTicker:  cfg.NewTicker,
		logger:     util.NamedLogger("telemetry"),
	}
}

// Start begins tracking an order. Calling Start again for the same order is a
// no-op; starting a different order stops the previous one first. A disabled
// (fenced) publisher refuses to start.
func (p *TelemetryPublisher) Start(orderID, courierID int64, sessionID string) error {
	p.mu.Lock()

	if p.disabled {
		p.mu.Unlock()
		return apperr.SessionFenced(sessionID)
	}
	if p.running && p.orderID == orderID {
		p.mu.Unlock()
		return nil
	}
	if p.running {
		p.stopLocked()
	}

	sub, err := p.sensors.Subscribe(p.onFix, p.onSensorErr)
	if err != nil {
		p.mu.Unlock()
		return apperr.SensorUnavailable(err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.orderID = orderID
	p.courierID = courierID
	p.sessionID = sessionID
	p.latest = nil
	p.sub = sub
	p.stopLoop = cancel
	p.loopDone = make(chan struct{})
	p.errOnce = new(sync.Once)
	p.mu.Unlock()

	// First fix, if one is already known, goes out immediately so trackers
	// are not blank for a full cadence period.
	expired, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if fix, err := p.sensors.Once(expired); err == nil {
		p.onFix(fix)
		p.publishLatest(context.Background())
	}

	go p.loop(loopCtx, p.loopDone)

	p.logger.Info("Telemetry started",
		zap.Int64("order_id", orderID),
		zap.Int64("courier_id", courierID))
	return nil
}

// Stop halts sampling and publishing locally without touching the ledger.
// Safe to call any number of times.
func (p *TelemetryPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Disable stops the publisher and refuses all future starts. Used when the
// session is fenced; a fenced session must never resume publishing.
func (p *TelemetryPublisher) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = true
	p.stopLocked()
}

// StopForDelivery performs a local stop and then marks telemetry inactive in
// the ledger. The ledger call failing leaves local timers stopped regardless.
func (p *TelemetryPublisher) StopForDelivery(ctx context.Context) {
	p.mu.Lock()
	orderID := p.orderID
	wasRunning := p.running
	p.stopLocked()
	p.mu.Unlock()

	if !wasRunning {
		return
	}
	if p.deactivate != nil {
		if err := p.deactivate(ctx, orderID); err != nil {
			p.logger.Warn("Failed to mark telemetry inactive in ledger",
				zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
}

// Tracking reports the order currently being tracked, if any.
func (p *TelemetryPublisher) Tracking() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderID, p.running
}

func (p *TelemetryPublisher) stopLocked() {
	if !p.running {
		return
	}
	p.running = false
	if p.sub != nil {
		p.sub.Unsubscribe()
		p.sub = nil
	}
	if p.stopLoop != nil {
		p.stopLoop()
		p.stopLoop = nil
	}
}

func (p *TelemetryPublisher) onFix(fix sensor.Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.latest = &fix
}

func (p *TelemetryPublisher) onSensorErr(err error) {
	p.mu.Lock()
	once := p.errOnce
	p.mu.Unlock()
	if once == nil {
		return
	}
	// Surfaced once per start; sampling continues if the sensor recovers.
	once.Do(func() {
		p.logger.Warn("Position sensor error", zap.Error(err))
	})
}

func (p *TelemetryPublisher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	tickC, stopTick := p.newTicker(p.cadence)
	defer stopTick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickC:
			p.publishLatest(ctx)
		}
	}
}

// publishLatest sends the most recent fix, if any, to the ledger. Last-value
// semantics: samples arriving between ticks overwrite each other.
func (p *TelemetryPublisher) publishLatest(ctx context.Context) {
	p.mu.Lock()
	if !p.running || p.latest == nil {
		p.mu.Unlock()
		return
	}
	fix := *p.latest
	sample := &models.LocationSample{
		CourierID:  p.courierID,
		OrderID:    p.orderID,
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		Accuracy:   fix.Accuracy,
		Heading:    fix.Heading,
		Speed:      fix.Speed,
		CapturedAt: fix.CapturedAt,
		SessionID:  p.sessionID,
	}
	p.mu.Unlock()

	start := time.Now()
	if err := p.publish(ctx, sample); err != nil {
		util.TelemetryPublishFailuresTotal.Inc()
		p.logger.Warn("Failed to publish location sample",
			zap.Int64("order_id", sample.OrderID), zap.Error(err))
		return
	}
	util.TelemetryPublishLatency.Observe(time.Since(start).Seconds())
	util.TelemetryPublishedTotal.Inc()
}

// NewSamplePublisher composes the production PublishFunc: latest-value write
// to the sample store plus a LocationUpdated event.
func NewSamplePublisher(samples SampleStore, events Events) PublishFunc {
	return func(ctx context.Context, sample *models.LocationSample) error {
		if err := samples.SetLatestSample(ctx, sample); err != nil {
			return err
		}
		event := &models.LocationUpdatedEvent{
			BaseEvent: newBaseEvent(models.EventTypeLocationUpdated),
			Sample:    *sample,
		}
		return events.PublishLocationUpdated(ctx, event)
	}
}
