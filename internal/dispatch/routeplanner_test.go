package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"dispatch-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRouter) Route(_ context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.calls++
	return []models.Coordinate{from, to}, nil
}

func (r *fakeRouter) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	coord models.Coordinate
	err   error
}

func (g *fakeGeocoder) Geocode(_ context.Context, _ string) (models.Coordinate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return models.Coordinate{}, g.err
	}
	return g.coord, nil
}

func orderWithCoords(id int64, lat, lng float64) *models.Order {
	return &models.Order{
		ID:          id,
		AddressText: "1 Main St",
		DestLat:     sql.NullFloat64{Float64: lat, Valid: true},
		DestLng:     sql.NullFloat64{Float64: lng, Valid: true},
	}
}

func TestRouteForComputesOnFirstCall(t *testing.T) {
	router := &fakeRouter{}
	planner := NewRoutePlanner(router, &fakeGeocoder{}, newFakeLedger(), 75)
	order := orderWithCoords(1, -6.2, 106.8)

	route := planner.RouteFor(context.Background(), order, models.Coordinate{Lat: -6.21, Lng: 106.81})
	require.Len(t, route, 2)
	assert.Equal(t, 1, router.callCount())
}

func TestRouteForReusesWithinThreshold(t *testing.T) {
	router := &fakeRouter{}
	planner := NewRoutePlanner(router, &fakeGeocoder{}, newFakeLedger(), 75)
	order := orderWithCoords(1, -6.2, 106.8)
	ctx := context.Background()

	origin := models.Coordinate{Lat: -6.21, Lng: 106.81}
	first := planner.RouteFor(ctx, order, origin)
	require.Len(t, first, 2)

	// ~11m north of the origin stays well inside a 75m threshold.
	nearby := models.Coordinate{Lat: origin.Lat + 0.0001, Lng: origin.Lng}
	second := planner.RouteFor(ctx, order, nearby)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, router.callCount())
}

func TestRouteForRecomputesBeyondThreshold(t *testing.T) {
	router := &fakeRouter{}
	planner := NewRoutePlanner(router, &fakeGeocoder{}, newFakeLedger(), 75)
	order := orderWithCoords(1, -6.2, 106.8)
	ctx := context.Background()

	origin := models.Coordinate{Lat: -6.21, Lng: 106.81}
	planner.RouteFor(ctx, order, origin)

	// ~1.1km away forces a recompute.
	far := models.Coordinate{Lat: origin.Lat + 0.01, Lng: origin.Lng}
	route := planner.RouteFor(ctx, order, far)

	require.Len(t, route, 2)
	assert.Equal(t, far, route[0])
	assert.Equal(t, 2, router.callCount())
}

func TestRouteForFailureReturnsStaleRoute(t *testing.T) {
	router := &fakeRouter{}
	planner := NewRoutePlanner(router, &fakeGeocoder{}, newFakeLedger(), 75)
	order := orderWithCoords(1, -6.2, 106.8)
	ctx := context.Background()

	origin := models.Coordinate{Lat: -6.21, Lng: 106.81}
	first := planner.RouteFor(ctx, order, origin)
	require.Len(t, first, 2)

	router.mu.Lock()
	router.err = errors.New("routing service down")
	router.mu.Unlock()

	far := models.Coordinate{Lat: origin.Lat + 0.01, Lng: origin.Lng}
	stale := planner.RouteFor(ctx, order, far)

	// Degrades to the last known route rather than erroring out.
	assert.Equal(t, first, stale)
}

func TestRouteForFailureWithNoHistory(t *testing.T) {
	router := &fakeRouter{err: errors.New("routing service down")}
	planner := NewRoutePlanner(router, &fakeGeocoder{}, newFakeLedger(), 75)
	order := orderWithCoords(1, -6.2, 106.8)

	route := planner.RouteFor(context.Background(), order, models.Coordinate{Lat: -6.21, Lng: 106.81})
	assert.Nil(t, route)
}

func TestDestinationGeocodedOnce(t *testing.T) {
	geocoder := &fakeGeocoder{coord: models.Coordinate{Lat: -6.2, Lng: 106.8}}
	ledger := newFakeLedger()
	ledger.addOrder(1, models.OrderStatusOutForDelivery, "")
	planner := NewRoutePlanner(&fakeRouter{}, geocoder, ledger, 75)
	ctx := context.Background()

	// Order has address text only; coordinates come from the geocoder.
	order := &models.Order{ID: 1, AddressText: "1 Main St"}

	route := planner.RouteFor(ctx, order, models.Coordinate{Lat: -6.21, Lng: 106.81})
	require.Len(t, route, 2)
	assert.Equal(t, models.Coordinate{Lat: -6.2, Lng: 106.8}, route[1])

	// Resolved coordinates are written back to the order record.
	stored := ledger.orderSnapshot(1)
	assert.Equal(t, -6.2, stored.DestLat.Float64)

	// Recompute far away reuses the cached destination.
	planner.RouteFor(ctx, order, models.Coordinate{Lat: -6.25, Lng: 106.85})
	assert.Equal(t, 1, geocoder.calls)
}

func TestDestinationGeocodeFailure(t *testing.T) {
	geocoder := &fakeGeocoder{err: errors.New("no match")}
	planner := NewRoutePlanner(&fakeRouter{}, geocoder, newFakeLedger(), 75)

	order := &models.Order{ID: 1, AddressText: "nowhere"}
	route := planner.RouteFor(context.Background(), order, models.Coordinate{Lat: -6.21, Lng: 106.81})
	assert.Nil(t, route)
}
