// Package sensor defines the position sensor consumed by the telemetry
// publisher. The service itself has no GPS hardware; fixes arrive pushed from
// the courier's device and are fanned out to subscribers through a Feed.
package sensor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable indicates the device has no usable position source.
var ErrUnavailable = errors.New("position sensor unavailable")

// Fix is a single raw position reading.
type Fix struct {
	Lat        float64
	Lng        float64
	Accuracy   float64
	Heading    *float64
	Speed      *float64
	CapturedAt time.Time
}

// Sensor is a continuous position source.
type Sensor interface {
	// Subscribe registers callbacks for fixes and sensor errors. The
	// returned subscription must be unsubscribed when no longer needed.
	Subscribe(onFix func(Fix), onErr func(error)) (Subscription, error)
	// Once returns a single fix, waiting for one if none is known yet.
	Once(ctx context.Context) (Fix, error)
}

// Subscription is a handle on an active sensor subscription.
type Subscription interface {
	Unsubscribe()
}

// Feed is a push-based Sensor implementation. Device position ingests call
// Push; telemetry publishers subscribe.
type Feed struct {
	mu       sync.Mutex
	nextID   int
	subs     map[int]feedSub
	last     *Fix
	waiters  []chan Fix
	disabled bool
}

type feedSub struct {
	onFix func(Fix)
	onErr func(error)
}

// NewFeed creates an empty position feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]feedSub)}
}

// Push delivers a fix to all subscribers and anyone blocked in Once.
func (f *Feed) Push(fix Fix) {
	f.mu.Lock()
	f.last = &fix
	subs := make([]feedSub, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, s := range subs {
		s.onFix(fix)
	}
	for _, w := range waiters {
		w <- fix
	}
}

// Fail reports a sensor failure to all subscribers.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	subs := make([]feedSub, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		if s.onErr != nil {
			s.onErr(err)
		}
	}
}

// Disable marks the feed as having no position source. Subsequent Subscribe
// and Once calls fail with ErrUnavailable.
func (f *Feed) Disable() {
	f.mu.Lock()
	f.disabled = true
	f.mu.Unlock()
}

// Subscribe implements Sensor.
func (f *Feed) Subscribe(onFix func(Fix), onErr func(error)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.disabled {
		return nil, ErrUnavailable
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = feedSub{onFix: onFix, onErr: onErr}
	return &feedSubscription{feed: f, id: id}, nil
}

// Once implements Sensor. It returns the last known fix immediately, or
// blocks until the next Push or context cancellation.
func (f *Feed) Once(ctx context.Context) (Fix, error) {
	f.mu.Lock()
	if f.disabled {
		f.mu.Unlock()
		return Fix{}, ErrUnavailable
	}
	if f.last != nil {
		fix := *f.last
		f.mu.Unlock()
		return fix, nil
	}
	ch := make(chan Fix, 1)
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	select {
	case fix := <-ch:
		return fix, nil
	case <-ctx.Done():
		return Fix{}, ErrUnavailable
	}
}

// SubscriberCount returns the number of active subscriptions.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Last returns the most recent fix pushed to the feed, if any.
func (f *Feed) Last() (Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Fix{}, false
	}
	return *f.last, true
}

type feedSubscription struct {
	feed *Feed
	id   int
	once sync.Once
}

func (s *feedSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
	})
}
