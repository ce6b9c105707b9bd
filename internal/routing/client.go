// internal/routing/client.go
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"copperline/internal/geometry"
)

// PathRequest asks the pathfinding service for a collision-free path.
type PathRequest struct {
	From  geometry.Point `json:"from"`
	To    geometry.Point `json:"to"`
	Layer string         `json:"layer"`
	Width float64        `json:"width"`
	NetID string         `json:"net_id,omitempty"`
}

// PathResult is the service's answer. A failed or empty result is not
// an error, it means "no preview to show right now".
type PathResult struct {
	OK     bool             `json:"ok"`
	Path   []geometry.Point `json:"path,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// ViaRequest asks the service whether a via may be placed.
type ViaRequest struct {
	At        geometry.Point `json:"at"`
	PadSize   float64        `json:"pad_size"`
	DrillSize float64        `json:"drill_size"`
	NetID     string         `json:"net_id,omitempty"`
}

// ViaResult reports via placement validity.
type ViaResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// AutoRouteRequest asks the service for a complete pad-to-pad route,
// used when a click on a same-net endpoint auto-finalizes the session.
type AutoRouteRequest struct {
	From    geometry.Point `json:"from"`
	To      geometry.Point `json:"to"`
	Layer   string         `json:"layer"`
	Width   float64        `json:"width"`
	NetID   string         `json:"net_id"`
	ViaSize float64        `json:"via_size"`
}

// AutoRouteSegment is one per-layer piece of an auto-routed path.
type AutoRouteSegment struct {
	Path  []geometry.Point `json:"path"`
	Layer string           `json:"layer"`
}

// AutoRouteResult is the service's answer to an AutoRouteRequest.
type AutoRouteResult struct {
	OK       bool               `json:"ok"`
	Segments []AutoRouteSegment `json:"segments,omitempty"`
	Vias     []geometry.Point   `json:"vias,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

// Service is the contract with the external pathfinding service. The
// controller never computes a path itself.
type Service interface {
	FindPath(ctx context.Context, req PathRequest) (PathResult, error)
	ValidateVia(ctx context.Context, req ViaRequest) (ViaResult, error)
	AutoRoute(ctx context.Context, req AutoRouteRequest) (AutoRouteResult, error)
}

// httpClient is the HTTP client for making requests
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// HTTPClient talks JSON over HTTP to the pathfinding service.
type HTTPClient struct {
	baseURL string
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL}
}

// FindPath requests a collision-free path.
func (c *HTTPClient) FindPath(ctx context.Context, req PathRequest) (PathResult, error) {
	var result PathResult
	if err := c.post(ctx, "/route", req, &result); err != nil {
		return PathResult{}, err
	}
	return result, nil
}

// ValidateVia checks a via placement against clearance rules.
func (c *HTTPClient) ValidateVia(ctx context.Context, req ViaRequest) (ViaResult, error) {
	var result ViaResult
	if err := c.post(ctx, "/via/validate", req, &result); err != nil {
		return ViaResult{}, err
	}
	return result, nil
}

// AutoRoute requests a complete pad-to-pad route.
func (c *HTTPClient) AutoRoute(ctx context.Context, req AutoRouteRequest) (AutoRouteResult, error) {
	var result AutoRouteResult
	if err := c.post(ctx, "/autoroute", req, &result); err != nil {
		return AutoRouteResult{}, err
	}
	return result, nil
}

// post sends a JSON request and decodes the JSON response.
func (c *HTTPClient) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("routing service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("routing service HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
