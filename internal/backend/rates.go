package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/logging"
)

// ErrInquiryRejected is returned when the rates service answers Success=false.
var ErrInquiryRejected = errors.New("rates: inquiry rejected")

// RateInquiry is the rates service request body. The weight is sent as a
// string, and the passkey travels in the body.
type RateInquiry struct {
	FromCountry     string `json:"fromCountry"`
	FromCity        string `json:"fromCity"`
	ToCountry       string `json:"toCountry"`
	ToCity          string `json:"toCity"`
	Documents       string `json:"documents"`
	ProductCategory string `json:"productcategory"`
	Weight          string `json:"weight"`
	Passkey         string `json:"passkey,omitempty"`
	Language        string `json:"language"`
}

// RateOption is one priced service.
type RateOption struct {
	Product       string  `json:"Product"`
	Amount        float64 `json:"Amount"`
	Currency      string  `json:"Currency"`
	VatAmount     float64 `json:"VatAmount"`
	ProductCode   string  `json:"ProductCode"`
	TotalAmount   float64 `json:"TotalAmount"`
	VatPercentage string  `json:"VatPercentage"`
}

type rateResponse struct {
	Success bool         `json:"Success"`
	Data    []RateOption `json:"Data"`
}

// RatesClient calls the REST rate inquiry service.
type RatesClient struct {
	url     string
	passkey string
	http    *retryablehttp.Client
	log     *logging.Logger
}

// NewRatesClient creates a rates client from config.
func NewRatesClient(cfg config.RatesBackend, log *logging.Logger) *RatesClient {
	l := log.Sub("rates-backend")
	return &RatesClient{
		url:     cfg.URL,
		passkey: cfg.Passkey,
		http:    newHTTPClient(cfg.Timeout, l),
		log:     l,
	}
}

// Quote prices inquiry. Missing defaults are filled in.
func (c *RatesClient) Quote(ctx context.Context, inquiry RateInquiry) ([]RateOption, error) {
	if c.url == "" {
		return nil, fmt.Errorf("rates: %w", ErrNotConfigured)
	}
	if inquiry.Documents == "" {
		inquiry.Documents = "documents"
	}
	if inquiry.ProductCategory == "" {
		inquiry.ProductCategory = "Parcel"
	}
	if inquiry.Language == "" {
		inquiry.Language = "En"
	}
	inquiry.Passkey = c.passkey

	payload, err := json.Marshal(inquiry)
	if err != nil {
		return nil, fmt.Errorf("rates: marshal: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", c.url, payload)
	if err != nil {
		return nil, fmt.Errorf("rates: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rates: request failed: %w", err)
	}
	body, err := readBody("rates", resp)
	if err != nil {
		return nil, err
	}

	var out rateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("rates: parse response: %w", err)
	}
	if !out.Success {
		return nil, ErrInquiryRejected
	}
	c.log.Debug().
		Str("from", inquiry.FromCity).
		Str("to", inquiry.ToCity).
		Int("options", len(out.Data)).
		Msg("rate inquiry")
	return out.Data, nil
}
