package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averix/go-order-api/internal/config"
	"github.com/averix/go-order-api/internal/gateway"
)

type countingShippingGateway struct {
	calls    int
	lastDest string
	lastW    int
	rate     gateway.Rate
	failWith error
}

func (m *countingShippingGateway) LookupRate(_ context.Context, _, dest string, weightGrams int) (*gateway.Rate, error) {
	m.calls++
	m.lastDest = dest
	m.lastW = weightGrams
	if m.failWith != nil {
		return nil, m.failWith
	}
	rate := m.rate
	return &rate, nil
}

func TestWeightBucket(t *testing.T) {
	tests := []struct {
		grams, want int
	}{
		{0, 250},
		{1, 250},
		{250, 250},
		{251, 500},
		{900, 1000},
		{1000, 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, weightBucket(tt.grams), "grams=%d", tt.grams)
	}
}

func TestShippingService_Quote(t *testing.T) {
	gw := &countingShippingGateway{rate: gateway.Rate{Cost: 12000, ETADays: 2}}
	svc := NewShippingService(gw, nil, config.ShippingConfig{OriginCode: "501", CacheTTL: 5 * time.Minute})

	rate, err := svc.Quote(context.Background(), "502", 900)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), rate.Cost)
	assert.Equal(t, 2, rate.ETADays)

	// The carrier sees the bucketed weight, not the raw grams.
	assert.Equal(t, "502", gw.lastDest)
	assert.Equal(t, 1000, gw.lastW)
}

func TestShippingService_Quote_GatewayError(t *testing.T) {
	gw := &countingShippingGateway{failWith: gateway.ErrUpstreamTimeout}
	svc := NewShippingService(gw, nil, config.ShippingConfig{OriginCode: "501", CacheTTL: 5 * time.Minute})

	_, err := svc.Quote(context.Background(), "502", 500)
	assert.ErrorIs(t, err, gateway.ErrUpstreamTimeout)

	// Without redis every quote goes to the carrier.
	_, _ = svc.Quote(context.Background(), "502", 500)
	assert.Equal(t, 2, gw.calls)
}
