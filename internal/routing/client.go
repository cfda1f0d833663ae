// Package routing talks to the external routing and geocoding services.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dispatch-service/internal/apperr"
	"dispatch-service/internal/models"
)

// Client implements route computation and address geocoding over the HTTP
// APIs configured for the deployment.
type Client struct {
	routeEndpoint   string
	geocodeEndpoint string
	httpClient      *http.Client
}

// NewClient creates a routing client.
func NewClient(routeEndpoint, geocodeEndpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		routeEndpoint:   routeEndpoint,
		geocodeEndpoint: geocodeEndpoint,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

type routeRequest struct {
	From models.Coordinate `json:"from"`
	To   models.Coordinate `json:"to"`
}

type routeResponse struct {
	Waypoints []models.Coordinate `json:"waypoints"`
}

// Route computes an ordered waypoint path between two coordinates.
func (c *Client) Route(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	body, err := json.Marshal(routeRequest{From: from, To: to})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.routeEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.TransientService(fmt.Errorf("routing request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, apperr.TransientService(fmt.Errorf("routing service returned %d", resp.StatusCode))
	}

	var out routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.TransientService(fmt.Errorf("malformed routing response: %w", err))
	}
	return out.Waypoints, nil
}

type geocodeResponse struct {
	Results []models.Coordinate `json:"results"`
}

// Geocode resolves address text to a coordinate, taking the top match.
func (c *Client) Geocode(ctx context.Context, address string) (models.Coordinate, error) {
	endpoint := fmt.Sprintf("%s?q=%s", c.geocodeEndpoint, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Coordinate{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Coordinate{}, apperr.TransientService(fmt.Errorf("geocoding request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return models.Coordinate{}, apperr.TransientService(fmt.Errorf("geocoding service returned %d", resp.StatusCode))
	}

	var out geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Coordinate{}, apperr.TransientService(fmt.Errorf("malformed geocoding response: %w", err))
	}
	if len(out.Results) == 0 {
		return models.Coordinate{}, apperr.NotFound(fmt.Sprintf("no geocoding match for %q", address))
	}
	return out.Results[0], nil
}
