package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"
)

// fakeLedger is an in-memory Ledger with the same compare-and-set semantics
// as the real store.
type fakeLedger struct {
	mu        sync.Mutex
	orders    map[int64]*models.Order
	requests  map[int64]*models.PickupRequest
	sessions  map[int64]*models.CourierSession
	nextReqID int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		orders:   make(map[int64]*models.Order),
		requests: make(map[int64]*models.PickupRequest),
		sessions: make(map[int64]*models.CourierSession),
	}
}

func (l *fakeLedger) addOrder(id int64, status, code string) *models.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := &models.Order{ID: id, Status: status, AddressText: "1 Main St"}
	if code != "" {
		o.DeliveryCode = sql.NullString{String: code, Valid: true}
	}
	l.orders[id] = o
	return o
}

func (l *fakeLedger) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("order %d", id))
	}
	cp := *o
	return &cp, nil
}

func (l *fakeLedger) MarkOrderOutForDelivery(_ context.Context, orderID int64, name, phone string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return apperr.NotFound(fmt.Sprintf("order %d", orderID))
	}
	if o.Status != models.OrderStatusPlaced {
		return apperr.Conflict(fmt.Sprintf("order %d not in expected status", orderID))
	}
	o.Status = models.OrderStatusOutForDelivery
	o.CourierName = sql.NullString{String: name, Valid: true}
	o.CourierPhone = sql.NullString{String: phone, Valid: true}
	o.TrackingActive = true
	return nil
}

func (l *fakeLedger) CompleteOrder(_ context.Context, orderID int64, proofRef string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return apperr.NotFound(fmt.Sprintf("order %d", orderID))
	}
	if o.Status != models.OrderStatusOutForDelivery {
		return apperr.Conflict(fmt.Sprintf("order %d not in expected status", orderID))
	}
	o.Status = models.OrderStatusDelivered
	o.OTPVerified = true
	if proofRef != "" {
		o.ProofRef = sql.NullString{String: proofRef, Valid: true}
	}
	o.TrackingActive = false
	return nil
}

func (l *fakeLedger) SetTrackingInactive(_ context.Context, orderID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orders[orderID]; ok {
		o.TrackingActive = false
	}
	return nil
}

func (l *fakeLedger) SetOrderCoordinates(_ context.Context, orderID int64, lat, lng float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orders[orderID]; ok {
		o.DestLat = sql.NullFloat64{Float64: lat, Valid: true}
		o.DestLng = sql.NullFloat64{Float64: lng, Valid: true}
	}
	return nil
}

func (l *fakeLedger) CreatePickupRequest(_ context.Context, orderID, courierID int64) (*models.PickupRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.requests {
		if r.OrderID != orderID {
			continue
		}
		if models.PickupStatusActive(r.Status) {
			return nil, apperr.Conflict(fmt.Sprintf("order %d already assigned to courier %d", orderID, r.CourierID))
		}
		if r.Status == models.PickupStatusPending && r.CourierID == courierID {
			return nil, apperr.Conflict(fmt.Sprintf("courier %d already has a pending request for order %d", courierID, orderID))
		}
	}
	l.nextReqID++
	req := &models.PickupRequest{
		ID:          l.nextReqID,
		OrderID:     orderID,
		CourierID:   courierID,
		Status:      models.PickupStatusPending,
		RequestedAt: time.Now(),
	}
	l.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

func (l *fakeLedger) GetPickupRequestByID(_ context.Context, id int64) (*models.PickupRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[id]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("pickup request %d", id))
	}
	cp := *r
	return &cp, nil
}

func (l *fakeLedger) GetPickupRequestsByOrderID(_ context.Context, orderID int64) ([]models.PickupRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.PickupRequest
	for _, r := range l.requests {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *fakeLedger) TransitionPickupRequest(_ context.Context, id int64, expected, next string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[id]
	if !ok {
		return apperr.NotFound(fmt.Sprintf("pickup request %d", id))
	}
	if r.Status != expected {
		return apperr.Conflict(fmt.Sprintf("pickup request %d not in status %s", id, expected))
	}
	r.Status = next
	if models.PickupStatusTerminal(next) {
		r.ResolvedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return nil
}

func (l *fakeLedger) ApprovePickupRequestTx(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.requests[id]
	if !ok {
		return apperr.NotFound(fmt.Sprintf("pickup request %d", id))
	}
	if r.Status != models.PickupStatusPending {
		return apperr.Conflict(fmt.Sprintf("pickup request %d is %s", id, r.Status))
	}
	for _, sib := range l.requests {
		if sib.OrderID == r.OrderID && sib.ID != id && models.PickupStatusActive(sib.Status) {
			return apperr.Conflict(fmt.Sprintf("order %d already assigned", r.OrderID))
		}
	}
	r.Status = models.PickupStatusApproved
	return nil
}

func (l *fakeLedger) UpsertCourierSession(_ context.Context, courierID int64, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[courierID] = &models.CourierSession{CourierID: courierID, SessionID: sessionID, IssuedAt: time.Now()}
	return nil
}

func (l *fakeLedger) MarkSessionFenced(_ context.Context, courierID int64, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sessions[courierID]; ok && s.SessionID == sessionID {
		s.FencedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}
	return nil
}

func (l *fakeLedger) requestStatus(id int64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.requests[id]; ok {
		return r.Status
	}
	return ""
}

func (l *fakeLedger) orderSnapshot(id int64) models.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.orders[id]
}

// fakeClaimer mirrors the Redis claim script's semantics.
type fakeClaimer struct {
	mu     sync.Mutex
	claims map[int64]int64
	fail   error
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{claims: make(map[int64]int64)}
}

func (c *fakeClaimer) ClaimOrder(_ context.Context, orderID, requestID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return false, c.fail
	}
	holder, ok := c.claims[orderID]
	if !ok {
		c.claims[orderID] = requestID
		return true, nil
	}
	return holder == requestID, nil
}

func (c *fakeClaimer) ReleaseOrder(_ context.Context, orderID, requestID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims[orderID] == requestID {
		delete(c.claims, orderID)
	}
	return nil
}

// fakeEvents records every published event.
type fakeEvents struct {
	mu     sync.Mutex
	types  []string
	fenced []*models.SessionFencedEvent
}

func (e *fakeEvents) record(t string) {
	e.mu.Lock()
	e.types = append(e.types, t)
	e.mu.Unlock()
}

func (e *fakeEvents) published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.types...)
}

func (e *fakeEvents) PublishPickupRequested(_ context.Context, ev *models.PickupRequestedEvent) error {
	e.record(ev.EventType)
	return nil
}

func (e *fakeEvents) PublishPickupApproved(_ context.Context, ev *models.PickupApprovedEvent) error {
	e.record(ev.EventType)
	return nil
}

func (e *fakeEvents) PublishPickupRejected(_ context.Context, ev *models.PickupRejectedEvent) error {
	e.record(ev.EventType)
	return nil
}

func (e *fakeEvents) PublishCourierDeparted(_ context.Context, ev *models.CourierDepartedEvent) error {
	e.record(ev.EventType)
	return nil
}

func (e *fakeEvents) PublishLocationUpdated(_ context.Context, ev *models.LocationUpdatedEvent) error {
	e.record(ev.EventType)
	return nil
}

func (e *fakeEvents) PublishDeliveryCompleted(_ context.Context, ev *models.DeliveryCompletedEvent) error {
	e.record(ev.EventType)
	return nil
}

func (e *fakeEvents) PublishSessionFenced(_ context.Context, ev *models.SessionFencedEvent) error {
	e.mu.Lock()
	e.fenced = append(e.fenced, ev)
	e.mu.Unlock()
	e.record(ev.EventType)
	return nil
}

// fakeTracker records tracking starts and stops.
type fakeTracker struct {
	mu      sync.Mutex
	started []int64
	stopped []int64
	err     error
}

func (t *fakeTracker) StartTracking(_ context.Context, orderID, _ int64, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.started = append(t.started, orderID)
	return nil
}

func (t *fakeTracker) StopTracking(_ context.Context, orderID, _ int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = append(t.stopped, orderID)
}

// fakeSessions is an in-memory authoritative session source.
type fakeSessions struct {
	mu      sync.Mutex
	active  map[int64]string
	pollErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{active: make(map[int64]string)}
}

func (s *fakeSessions) GetActiveSession(_ context.Context, courierID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		return "", s.pollErr
	}
	return s.active[courierID], nil
}

func (s *fakeSessions) SetActiveSession(_ context.Context, courierID int64, sessionID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[courierID] = sessionID
	return nil
}

// fakeSamples stores the latest sample per order.
type fakeSamples struct {
	mu      sync.Mutex
	latest  map[int64]*models.LocationSample
	writes  int
	fails   int
	failSet error
}

func newFakeSamples() *fakeSamples {
	return &fakeSamples{latest: make(map[int64]*models.LocationSample)}
}

func (s *fakeSamples) SetLatestSample(_ context.Context, sample *models.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		s.fails++
		return s.failSet
	}
	cp := *sample
	s.latest[sample.OrderID] = &cp
	s.writes++
	return nil
}

func (s *fakeSamples) GetLatestSample(_ context.Context, orderID int64) (*models.LocationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sample, ok := s.latest[orderID]; ok {
		cp := *sample
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeSamples) ClearLatestSample(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, orderID)
	return nil
}

func (s *fakeSamples) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeSamples) failCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fails
}

func (s *fakeSamples) sampleFor(orderID int64) *models.LocationSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[orderID]
}

// manualTickers hands out one channel per requested duration so tests can
// drive poll, publish, and countdown timers independently.
type manualTickers struct {
	mu    sync.Mutex
	chans map[time.Duration]chan time.Time
}

func newManualTickers() *manualTickers {
	return &manualTickers{chans: make(map[time.Duration]chan time.Time)}
}

func (m *manualTickers) factory(d time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chans[d]
	if !ok {
		ch = make(chan time.Time)
		m.chans[d] = ch
	}
	return ch, func() {}
}

// tick fires the timer for d, creating it on demand, and blocks until the
// receiver picks it up (unbuffered channel). Sending before the loop under
// test has requested its ticker is therefore safe: the send completes once
// the loop is listening.
func (m *manualTickers) tick(d time.Duration) {
	m.mu.Lock()
	ch, ok := m.chans[d]
	if !ok {
		ch = make(chan time.Time)
		m.chans[d] = ch
	}
	m.mu.Unlock()
	ch <- time.Now()
}
