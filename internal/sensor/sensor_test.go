package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedFanOut(t *testing.T) {
	feed := NewFeed()

	var got []Fix
	sub, err := feed.Subscribe(func(f Fix) { got = append(got, f) }, nil)
	require.NoError(t, err)

	feed.Push(Fix{Lat: 1, Lng: 2})
	feed.Push(Fix{Lat: 3, Lng: 4})
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[1].Lat)

	sub.Unsubscribe()
	feed.Push(Fix{Lat: 5, Lng: 6})
	assert.Len(t, got, 2)
}

func TestFeedOnceReturnsLastFix(t *testing.T) {
	feed := NewFeed()
	feed.Push(Fix{Lat: 10, Lng: 20})

	fix, err := feed.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, fix.Lat)
}

func TestFeedOnceWaitsForFirstFix(t *testing.T) {
	feed := NewFeed()

	go func() {
		time.Sleep(10 * time.Millisecond)
		feed.Push(Fix{Lat: 7})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fix, err := feed.Once(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, fix.Lat)
}

func TestFeedDisabled(t *testing.T) {
	feed := NewFeed()
	feed.Disable()

	_, err := feed.Subscribe(func(Fix) {}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = feed.Once(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFeedOnceCancelled(t *testing.T) {
	feed := NewFeed()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := feed.Once(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}
