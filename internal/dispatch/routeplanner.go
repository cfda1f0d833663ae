package dispatch

import (
	"context"
	"sync"

	"dispatch-service/internal/geo"
	"dispatch-service/internal/models"
	"dispatch-service/internal/util"

	"go.uber.org/zap"
)

// Router computes an ordered waypoint path between two coordinates.
type Router interface {
	Route(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error)
}

// Geocoder resolves free-form address text to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Coordinate, error)
}

// RoutePlanner maintains the courier-to-destination route for one delivery.
// The route is recomputed only when the courier has moved beyond a distance
// threshold from the origin of the last computation, bounding calls to the
// routing service. Routing and geocoding failures degrade silently: the
// caller gets the stale route (or none) and no error.
type RoutePlanner struct {
	router     Router
	geocoder   Geocoder
	ledger     Ledger
	thresholdM float64
	logger     *zap.Logger

	mu         sync.Mutex
	dest       *models.Coordinate
	lastOrigin *models.Coordinate
	lastRoute  []models.Coordinate
}

// NewRoutePlanner creates a planner for a single delivery.
func NewRoutePlanner(router Router, geocoder Geocoder, ledger Ledger, thresholdM float64) *RoutePlanner {
	if thresholdM <= 0 {
		thresholdM = 75
	}
	return &RoutePlanner{
		router:     router,
		geocoder:   geocoder,
		ledger:     ledger,
		thresholdM: thresholdM,
		logger:     util.NamedLogger("routeplanner"),
	}
}

// RouteFor returns the waypoints from the courier's position to the order's
// destination, reusing the previous route while the courier remains within
// the recompute threshold of its origin.
func (rp *RoutePlanner) RouteFor(ctx context.Context, order *models.Order, courier models.Coordinate) []models.Coordinate {
	dest, ok := rp.destination(ctx, order)
	if !ok {
		return nil
	}

	rp.mu.Lock()
	if rp.lastOrigin != nil &&
		geo.IsWithinRadius(courier.Lat, courier.Lng, rp.lastOrigin.Lat, rp.lastOrigin.Lng, rp.thresholdM) {
		route := rp.lastRoute
		rp.mu.Unlock()
		return route
	}
	rp.mu.Unlock()

	route, err := rp.router.Route(ctx, courier, dest)
	if err != nil {
		util.RouteComputationsTotal.WithLabelValues("failure").Inc()
		rp.logger.Warn("Route computation failed", zap.Int64("order_id", order.ID), zap.Error(err))
		rp.mu.Lock()
		stale := rp.lastRoute
		rp.mu.Unlock()
		return stale
	}

	util.RouteComputationsTotal.WithLabelValues("success").Inc()
	rp.mu.Lock()
	origin := courier
	rp.lastOrigin = &origin
	rp.lastRoute = route
	rp.mu.Unlock()
	return route
}

// destination resolves the order's coordinates, geocoding the address text
// once when the order has none stored and caching the result on the order.
func (rp *RoutePlanner) destination(ctx context.Context, order *models.Order) (models.Coordinate, bool) {
	rp.mu.Lock()
	if rp.dest != nil {
		dest := *rp.dest
		rp.mu.Unlock()
		return dest, true
	}
	rp.mu.Unlock()

	if order.DestLat.Valid && order.DestLng.Valid {
		dest := models.Coordinate{Lat: order.DestLat.Float64, Lng: order.DestLng.Float64}
		rp.mu.Lock()
		rp.dest = &dest
		rp.mu.Unlock()
		return dest, true
	}

	coord, err := rp.geocoder.Geocode(ctx, order.AddressText)
	if err != nil {
		rp.logger.Warn("Geocoding failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return models.Coordinate{}, false
	}

	if err := rp.ledger.SetOrderCoordinates(ctx, order.ID, coord.Lat, coord.Lng); err != nil {
		rp.logger.Warn("Failed to cache geocoded coordinates", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	rp.mu.Lock()
	rp.dest = &coord
	rp.mu.Unlock()
	return coord, true
}
