package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/averix/go-order-api/internal/config"
	"github.com/averix/go-order-api/internal/gateway"
)

// weightBucketGrams groups nearby weights onto one cache key; carriers
// price in steps anyway, and it keeps the key space small.
const weightBucketGrams = 250

// ShippingService answers rate quotes through a short-lived redis cache in
// front of the carrier API. Rate tables change infrequently, so staleness
// is bounded by the cache TTL.
type ShippingService struct {
	gw          gateway.ShippingGateway
	redisClient *redis.Client
	origin      string
	cacheTTL    time.Duration
}

func NewShippingService(gw gateway.ShippingGateway, redisClient *redis.Client, cfg config.ShippingConfig) *ShippingService {
	return &ShippingService{gw: gw, redisClient: redisClient, origin: cfg.OriginCode, cacheTTL: cfg.CacheTTL}
}

// Quote returns the shipping cost from the warehouse origin to the given
// destination area code for the given parcel weight.
func (s *ShippingService) Quote(ctx context.Context, destinationCode string, weightGrams int) (*gateway.Rate, error) {
	bucket := weightBucket(weightGrams)
	cacheKey := fmt.Sprintf("rate:%s:%s:%d", s.origin, destinationCode, bucket)

	if s.redisClient != nil {
		if cached, err := s.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var rate gateway.Rate
			if json.Unmarshal([]byte(cached), &rate) == nil {
				return &rate, nil
			}
		}
	}

	rate, err := s.gw.LookupRate(ctx, s.origin, destinationCode, bucket)
	if err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(rate); err == nil {
			s.redisClient.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}
	return rate, nil
}

// weightBucket rounds a parcel weight up to the next bucket boundary.
func weightBucket(weightGrams int) int {
	if weightGrams <= 0 {
		return weightBucketGrams
	}
	return ((weightGrams + weightBucketGrams - 1) / weightBucketGrams) * weightBucketGrams
}
