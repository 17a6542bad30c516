// Package listings provides the client for the hot-zone / dwell-area check
// service. Checks are fail-soft: any transport error, non-2xx status, or
// non-JSON body degrades to a negative result so a flaky backend can never
// stall movement detection.
package listings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Candidate is one listing returned by a zone check. Candidates are
// ephemeral — they exist only for the duration of one matching pass.
type Candidate struct {
	ID           string  `json:"id"`
	Price        float64 `json:"price"`
	Bedrooms     int     `json:"bedrooms"`
	Bathrooms    int     `json:"bathrooms"`
	PropertyType string  `json:"propertyType"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	ListingDate  string  `json:"listingDate"` // RFC 3339; empty = unknown
	ViewCount    int     `json:"viewCount"`
	SavedCount   int     `json:"savedCount"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
}

// ListedAt parses the listing date. The zero time means no date is known.
func (c Candidate) ListedAt() time.Time {
	if c.ListingDate == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.ListingDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CheckRequest is the zone-check request payload.
type CheckRequest struct {
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	RadiusMeters float64  `json:"radius"`
	LastKnown    *LatLng  `json:"lastKnownLocation,omitempty"`
}

// LatLng is a bare coordinate pair for request payloads.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CheckResult is the decoded zone-check response. The zero value is the
// negative result used for every failure path.
type CheckResult struct {
	ShouldNotify bool        `json:"shouldNotify"`
	Listings     []Candidate `json:"listings"`
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client calls the listings backend's location check endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a zone-check client. An empty baseURL yields a client
// whose checks always return the negative result (service not configured).
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CheckHotZone asks whether the area just entered contains matching listings.
func (c *Client) CheckHotZone(ctx context.Context, req CheckRequest) CheckResult {
	return c.check(ctx, "/location/check-hot-zone", req)
}

// CheckDwellArea asks whether the area the user is dwelling in contains
// matching listings.
func (c *Client) CheckDwellArea(ctx context.Context, req CheckRequest) CheckResult {
	return c.check(ctx, "/location/check-dwell", req)
}

func (c *Client) check(ctx context.Context, path string, req CheckRequest) CheckResult {
	if c.baseURL == "" {
		return CheckResult{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		c.logger.Warn("zone check: encode request failed", "path", path, "error", err)
		return CheckResult{}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("zone check: build request failed", "path", path, "error", err)
		return CheckResult{}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("zone check: request failed", "path", path, "error", err)
		return CheckResult{}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("zone check: unexpected status", "path", path, "status", resp.StatusCode)
		return CheckResult{}
	}

	// Guard against HTML error pages and other non-JSON bodies before decoding.
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		c.logger.Warn("zone check: non-JSON response", "path", path, "content_type", ct)
		return CheckResult{}
	}

	var result CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Warn("zone check: malformed JSON response", "path", path, "error", err)
		return CheckResult{}
	}
	return result
}

// String implements fmt.Stringer for log context.
func (r CheckRequest) String() string {
	return fmt.Sprintf("(%.5f, %.5f) r=%.0fm", r.Latitude, r.Longitude, r.RadiusMeters)
}
