package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"waypoints":[{"lat":-6.21,"lng":106.81},{"lat":-6.2,"lng":106.8}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	route, err := client.Route(context.Background(),
		models.Coordinate{Lat: -6.21, Lng: 106.81},
		models.Coordinate{Lat: -6.2, Lng: 106.8})
	require.NoError(t, err)
	require.Len(t, route, 2)
	assert.Equal(t, -6.2, route[1].Lat)
}

func TestRouteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	_, err := client.Route(context.Background(), models.Coordinate{}, models.Coordinate{})
	assert.True(t, apperr.IsKind(err, apperr.KindTransientService))
}

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1 Main St", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"lat":-6.2,"lng":106.8}]}`))
	}))
	defer srv.Close()

	client := NewClient("", srv.URL, time.Second)
	coord, err := client.Geocode(context.Background(), "1 Main St")
	require.NoError(t, err)
	assert.Equal(t, models.Coordinate{Lat: -6.2, Lng: 106.8}, coord)
}

func TestGeocodeNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewClient("", srv.URL, time.Second)
	_, err := client.Geocode(context.Background(), "nowhere")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
