package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/logging"
)

// Center is a retail or service center.
type Center struct {
	Code         string  `json:"code,omitempty"`
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	City         string  `json:"city"`
	Phone        string  `json:"phone,omitempty"`
	WorkingHours string  `json:"workingHours,omitempty"`
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
}

type centersResponse struct {
	Success bool     `json:"Success"`
	Data    []Center `json:"Data"`
}

// RetailClient calls the REST retail center service.
type RetailClient struct {
	url  string
	http *retryablehttp.Client
	log  *logging.Logger
}

// NewRetailClient creates a retail center client from config.
func NewRetailClient(cfg config.RetailBackend, log *logging.Logger) *RetailClient {
	l := log.Sub("retail-backend")
	return &RetailClient{
		url:  cfg.URL,
		http: newHTTPClient(cfg.Timeout, l),
		log:  l,
	}
}

// Centers lists the centers in city.
func (c *RetailClient) Centers(ctx context.Context, city string) ([]Center, error) {
	if c.url == "" {
		return nil, fmt.Errorf("retail: %w", ErrNotConfigured)
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("retail: bad url: %w", err)
	}
	q := u.Query()
	q.Set("city", city)
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("retail: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retail: request failed: %w", err)
	}
	body, err := readBody("retail", resp)
	if err != nil {
		return nil, err
	}

	var out centersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("retail: parse response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("retail: lookup rejected for %q", city)
	}
	c.log.Debug().Str("city", city).Int("centers", len(out.Data)).Msg("center lookup")
	return out.Data, nil
}
