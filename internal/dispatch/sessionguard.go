package dispatch

import (
	"context"
	"sync"
	"time"

	"dispatch-service/internal/models"
	"dispatch-service/internal/util"

	"go.uber.org/zap"
)

// GuardConfig holds the session guard's timing knobs.
type GuardConfig struct {
	PollInterval time.Duration
	GracePeriod  time.Duration
	NewTicker    TickerFactory
}

// SessionGuard watches whether the session it was created with is still the
// courier's authoritative session. Detection is by polling, so a stale
// session may survive up to one poll interval; once a mismatch is seen the
// guard fences permanently — a later poll that happens to look consistent
// never unfences it.
type SessionGuard struct {
	courierID int64
	sessionID string
	source    SessionSource
	ledger    Ledger
	events    Events
	cfg       GuardConfig
	logger    *zap.Logger

	onFenced func()
	onLogout func()

	mu         sync.Mutex
	fenced     bool
	loggedOut  bool
	cancel     context.CancelFunc
	done       chan struct{}
	logoutOnce sync.Once
	logoutC    chan struct{}
}

// NewSessionGuard creates a guard for one courier session. onFenced runs the
// instant a superseding login is detected (telemetry stop); onLogout runs
// exactly once, either at the end of the grace countdown or on manual logout.
func NewSessionGuard(courierID int64, sessionID string, source SessionSource, ledger Ledger, events Events, cfg GuardConfig, onFenced, onLogout func()) *SessionGuard {
	if cfg.NewTicker == nil {
		cfg.NewTicker = WallClockTicker
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 180 * time.Second
	}
	return &SessionGuard{
		courierID: courierID,
		sessionID: sessionID,
		source:    source,
		ledger:    ledger,
		events:    events,
		cfg:       cfg,
		logger:    util.NamedLogger("sessionguard"),
		onFenced:  onFenced,
		onLogout:  onLogout,
		logoutC:   make(chan struct{}),
	}
}

// Start launches the polling loop. Idempotent; a second Start is a no-op.
func (g *SessionGuard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil || g.fenced || g.loggedOut {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.poll(ctx)
}

// Stop halts polling without fencing. Used on clean detach.
func (g *SessionGuard) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Fenced reports whether a superseding login has been detected.
func (g *SessionGuard) Fenced() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fenced
}

// Logout triggers the logout callback. During the fencing grace period the
// user may log out manually; after that the countdown forces it. Either way
// it fires exactly once.
func (g *SessionGuard) Logout() {
	g.Stop()
	g.logoutOnce.Do(func() {
		g.mu.Lock()
		g.loggedOut = true
		g.mu.Unlock()
		close(g.logoutC)
		if g.onLogout != nil {
			g.onLogout()
		}
	})
}

func (g *SessionGuard) poll(ctx context.Context) {
	defer close(g.done)

	tickC, stopTick := g.cfg.NewTicker(g.cfg.PollInterval)
	defer stopTick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickC:
			if g.checkOnce(ctx) {
				g.fence(ctx)
				return
			}
		}
	}
}

// checkOnce returns true when the held session is no longer authoritative.
// Lookup errors are treated as transient and do not fence.
func (g *SessionGuard) checkOnce(ctx context.Context) bool {
	current, err := g.source.GetActiveSession(ctx, g.courierID)
	if err != nil {
		g.logger.Warn("Session poll failed", zap.Int64("courier_id", g.courierID), zap.Error(err))
		return false
	}
	return current != g.sessionID
}

func (g *SessionGuard) fence(ctx context.Context) {
	g.mu.Lock()
	if g.fenced {
		g.mu.Unlock()
		return
	}
	g.fenced = true
	g.mu.Unlock()

	util.SessionsFencedTotal.Inc()
	g.logger.Warn("Session fenced: superseded by a newer login",
		zap.Int64("courier_id", g.courierID))

	// Telemetry must stop before anything else; a fenced session may not
	// produce another sample regardless of network state.
	if g.onFenced != nil {
		g.onFenced()
	}

	if err := g.ledger.MarkSessionFenced(ctx, g.courierID, g.sessionID); err != nil {
		g.logger.Error("Failed to record session fencing", zap.Error(err))
	}

	event := &models.SessionFencedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeSessionFenced),
		CourierID:      g.courierID,
		StaleSessionID: g.sessionID,
	}
	if err := g.events.PublishSessionFenced(ctx, event); err != nil {
		g.logger.Error("Failed to publish SessionFenced event", zap.Error(err))
	}

	go g.countdown()
}

// countdown waits out the grace period and then forces the logout. The timer
// is modeled as a single tick of the grace duration.
func (g *SessionGuard) countdown() {
	tickC, stopTick := g.cfg.NewTicker(g.cfg.GracePeriod)
	defer stopTick()

	select {
	case <-tickC:
	case <-g.logoutC:
		// Manual logout during the grace period.
		return
	}

	util.ForcedLogoutsTotal.Inc()
	g.logger.Warn("Fencing grace period elapsed, forcing logout",
		zap.Int64("courier_id", g.courierID))
	g.Logout()
}
