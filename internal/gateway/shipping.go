package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/averix/go-order-api/internal/config"
)

// Rate is a carrier quote for one origin/destination/weight triple.
type Rate struct {
	Cost    int64 // minor currency units
	ETADays int
}

type ShippingGateway interface {
	LookupRate(ctx context.Context, originCode, destinationCode string, weightGrams int) (*Rate, error)
}

type shippingClient struct {
	http        *http.Client
	baseURL     string
	apiKey      string
	maxAttempts int
}

func NewShippingGateway(cfg config.ShippingConfig) ShippingGateway {
	return &shippingClient{
		http:        &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		maxAttempts: cfg.MaxAttempts,
	}
}

type rateRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	WeightGrams int    `json:"weight"`
}

type rateResponse struct {
	Cost    int64 `json:"cost"`
	ETADays int   `json:"eta_days"`
}

func (c *shippingClient) LookupRate(ctx context.Context, originCode, destinationCode string, weightGrams int) (*Rate, error) {
	payload, err := json.Marshal(rateRequest{
		Origin:      originCode,
		Destination: destinationCode,
		WeightGrams: weightGrams,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rate request: %w", err)
	}

	headers := map[string]string{"X-Api-Key": c.apiKey}
	body, err := postJSON(ctx, c.http, "shipping", c.baseURL+"/v1/rates", headers, payload, c.maxAttempts)
	if err != nil {
		return nil, err
	}

	var resp rateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode rate response: %w", err)
	}
	return &Rate{Cost: resp.Cost, ETADays: resp.ETADays}, nil
}
