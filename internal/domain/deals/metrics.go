package deals

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds resolution pipeline counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	fetches       metric.Int64Counter
	fetchFailures metric.Int64Counter
	fetchedOffers metric.Int64Counter
}

// NewMetrics registers the pipeline counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.cacheHits, err = meter.Int64Counter("deals.cache.hits",
		metric.WithDescription("Deal requests served from cache"),
	); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("deals.cache.misses",
		metric.WithDescription("Deal requests requiring a provider fetch"),
	); err != nil {
		return nil, err
	}
	if m.fetches, err = meter.Int64Counter("deals.provider.fetches",
		metric.WithDescription("Provider fetch attempts"),
	); err != nil {
		return nil, err
	}
	if m.fetchFailures, err = meter.Int64Counter("deals.provider.failures",
		metric.WithDescription("Failed provider fetches"),
	); err != nil {
		return nil, err
	}
	if m.fetchedOffers, err = meter.Int64Counter("deals.provider.offers",
		metric.WithDescription("Offers returned by provider fetches, post filtering"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// CacheHit records a request served from cache. Layer is "fast" or "db".
func (m *Metrics) CacheHit(ctx context.Context, layer string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// CacheMiss records a request that required a provider fetch.
func (m *Metrics) CacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1)
}

// Fetched records a successful provider fetch and its offer count.
func (m *Metrics) Fetched(ctx context.Context, offers int) {
	if m == nil {
		return
	}
	m.fetches.Add(ctx, 1)
	m.fetchedOffers.Add(ctx, int64(offers))
}

// FetchFailed records a failed provider fetch.
func (m *Metrics) FetchFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.fetches.Add(ctx, 1)
	m.fetchFailures.Add(ctx, 1)
}
