// Package cache provides fast-path caches in front of the document store:
// a Redis-backed cache when a Redis URL is configured and an in-process
// LRU fallback for suggestions when it is not.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/suggest"
)

const (
	offersKeyPrefix  = "deals:offers:"
	suggestKeyPrefix = "deals:suggest:"
)

// Redis caches first-page offer sets and autocomplete suggestions.
// All failures degrade to cache misses; the caller never sees Redis errors.
type Redis struct {
	client     *redis.Client
	offerTTL   time.Duration
	suggestTTL time.Duration
}

// NewRedis connects to the given Redis URL.
func NewRedis(url string, offerTTL, suggestTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{
		client:     redis.NewClient(opts),
		offerTTL:   offerTTL,
		suggestTTL: suggestTTL,
	}, nil
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// GetOffers returns the cached first-page offer set for a product, if any.
func (r *Redis) GetOffers(ctx context.Context, productID string) ([]offer.Offer, bool) {
	raw, err := r.client.Get(ctx, offersKeyPrefix+productID).Bytes()
	if err != nil {
		if err != redis.Nil {
			zctx.From(ctx).Debug("Redis offers get failed", zap.Error(err))
		}
		return nil, false
	}
	var offers []offer.Offer
	if err := json.Unmarshal(raw, &offers); err != nil {
		zctx.From(ctx).Debug("Redis offers decode failed", zap.Error(err))
		return nil, false
	}
	return offers, true
}

// SetOffers stores the first-page offer set for a product.
func (r *Redis) SetOffers(ctx context.Context, productID string, offers []offer.Offer) {
	raw, err := json.Marshal(offers)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, offersKeyPrefix+productID, raw, r.offerTTL).Err(); err != nil {
		zctx.From(ctx).Debug("Redis offers set failed", zap.Error(err))
	}
}

// GetSuggestions returns cached suggestions for a normalized query, if any.
func (r *Redis) GetSuggestions(ctx context.Context, query string) ([]suggest.Suggestion, bool) {
	raw, err := r.client.Get(ctx, suggestKeyPrefix+query).Bytes()
	if err != nil {
		if err != redis.Nil {
			zctx.From(ctx).Debug("Redis suggestions get failed", zap.Error(err))
		}
		return nil, false
	}
	var s []suggest.Suggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return s, true
}

// SetSuggestions stores suggestions for a normalized query.
func (r *Redis) SetSuggestions(ctx context.Context, query string, s []suggest.Suggestion) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, suggestKeyPrefix+query, raw, r.suggestTTL).Err(); err != nil {
		zctx.From(ctx).Debug("Redis suggestions set failed", zap.Error(err))
	}
}
