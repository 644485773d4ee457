package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"forum-core/internal/domain"
	"forum-core/internal/observability"
)

// GeoIPClient resolves public IPs to a coarse location using an
// ip-api.com compatible JSON endpoint.
type GeoIPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGeoIPClient creates a new geo-IP client. Every lookup is bounded by
// timeout.
func NewGeoIPClient(baseURL string, timeout time.Duration) *GeoIPClient {
	return &GeoIPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type geoIPResponse struct {
	Status  string  `json:"status"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Resolve returns the location of ip, or nil. Private addresses never reach
// the network and failures of any kind degrade to nil.
func (c *GeoIPClient) Resolve(ctx context.Context, ip string) *domain.Location {
	ip = NormalizeIP(ip)
	if IsPrivateIP(ip) {
		observability.GeoIPLookupsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	loc, err := c.lookup(ctx, ip)
	if err != nil {
		observability.GeoIPLookupsTotal.WithLabelValues("error").Inc()
		observability.FromContext(ctx).Debug("geo-ip lookup failed", "ip", ip, "error", err)
		return nil
	}
	observability.GeoIPLookupsTotal.WithLabelValues("ok").Inc()
	return loc
}

func (c *GeoIPClient) lookup(ctx context.Context, ip string) (*domain.Location, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=status,country,city,lat,lon", c.baseURL, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body geoIPResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("lookup status %q", body.Status)
	}

	return &domain.Location{
		Country:   body.Country,
		City:      body.City,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}
