package deals

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/product"
)

// Limits holds the per-caller batch size limits.
type Limits struct {
	Anonymous     int
	Authenticated int
}

// Service coordinates product resolution, cache lookups, freshness checks,
// provider fetches, and cache writes for batch deal requests.
type Service struct {
	resolver  *product.Resolver
	cache     CacheRepository
	history   HistoryRepository
	fetcher   Fetcher
	freshness *offer.Freshness
	limits    Limits
	entryTTL  time.Duration

	// Optional capabilities; nil disables them without changing behavior
	// beyond a guaranteed miss / no-op.
	fast    FastCache
	events  EventSink
	metrics *Metrics

	featuredLimit int
	tracer        trace.Tracer
	now           func() time.Time
}

// Option configures optional Service capabilities.
type Option func(*Service)

// WithFastCache attaches a secondary fast-path cache.
func WithFastCache(fc FastCache) Option {
	return func(s *Service) { s.fast = fc }
}

// WithEvents attaches a search event sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithMetrics attaches resolution metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer attaches a tracer for per-product resolution spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithEntryTTL overrides how long a saved cache entry stays valid.
func WithEntryTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.entryTTL = ttl
		}
	}
}

// WithFeaturedLimit sets the default size of the best-deals listing.
func WithFeaturedLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.featuredLimit = n
		}
	}
}

// NewService creates the deal resolution Service.
func NewService(
	resolver *product.Resolver,
	cache CacheRepository,
	history HistoryRepository,
	fetcher Fetcher,
	freshness *offer.Freshness,
	limits Limits,
	opts ...Option,
) *Service {
	s := &Service{
		resolver:      resolver,
		cache:         cache,
		history:       history,
		fetcher:       fetcher,
		freshness:     freshness,
		limits:        limits,
		entryTTL:      DefaultEntryTTL,
		featuredLimit: 3,
		tracer:        noop.NewTracerProvider().Tracer("deals"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveDeals handles one batch request. Batch-level validation failures
// (empty batch, batch too large, nothing resolvable) reject the whole
// request before any per-product work; everything else degrades per product
// so one bad product never blocks its siblings.
func (s *Service) ResolveDeals(ctx context.Context, req Request) ([]Result, error) {
	if len(req.Products) == 0 {
		return nil, ErrNoProducts
	}
	limit := s.limits.Anonymous
	if req.Authenticated {
		limit = s.limits.Authenticated
	}
	if limit > 0 && len(req.Products) > limit {
		return nil, &BatchLimitError{Limit: limit, Authenticated: req.Authenticated}
	}
	if req.PageOffset < 0 {
		req.PageOffset = 0
	}

	resolved := s.resolveAll(ctx, req.Products)
	if len(resolved) == 0 {
		return nil, ErrNoValidProducts
	}

	s.recordSearch(ctx, resolved)

	// Per-product pipelines are independent: run them concurrently so batch
	// latency approaches the slowest provider round trip.
	results := make([]Result, len(resolved))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range resolved {
		g.Go(func() error {
			results[i] = s.resolveProduct(gctx, p, req.PageOffset)
			return nil
		})
	}
	// Pipelines never return errors; failures degrade to empty deals.
	_ = g.Wait()

	return results, nil
}

// resolveAll maps refs to products concurrently, dropping references that
// fail to resolve. Order of surviving products follows the request.
func (s *Service) resolveAll(ctx context.Context, refs []product.Ref) []*product.Product {
	lg := zctx.From(ctx)

	slots := make([]*product.Product, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			p, err := s.resolver.Resolve(gctx, ref)
			if err != nil {
				lg.Warn("Dropping unresolvable product reference",
					zap.String("id", ref.ID),
					zap.String("name", ref.Name),
					zap.Error(err),
				)
				return nil
			}
			slots[i] = p
			return nil
		})
	}
	_ = g.Wait()

	resolved := make([]*product.Product, 0, len(slots))
	for _, p := range slots {
		if p != nil {
			resolved = append(resolved, p)
		}
	}
	return resolved
}

// recordSearch writes the batch to search history and mirrors it to the
// event sink. Both are best effort; resolution proceeds on failure.
func (s *Service) recordSearch(ctx context.Context, resolved []*product.Product) {
	ids := make([]string, len(resolved))
	names := make([]string, len(resolved))
	for i, p := range resolved {
		ids[i] = p.ID
		names[i] = p.Name
	}

	if err := s.history.Record(ctx, ids); err != nil {
		zctx.From(ctx).Warn("Recording search history failed", zap.Error(err))
	}
	if s.events != nil {
		s.events.SearchPerformed(ctx, ids, names)
	}
}

// resolveProduct runs the per-product state machine: cache lookup, freshness
// check, conditional provider fetch, cache write, pagination slice.
func (s *Service) resolveProduct(ctx context.Context, p *product.Product, pageOffset int) Result {
	ctx, span := s.tracer.Start(ctx, "deals.ResolveProduct",
		trace.WithAttributes(
			attribute.String("product.id", p.ID),
			attribute.Int("page.offset", pageOffset),
		),
	)
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("product", p.Name))
	info := ProductInfo{ID: p.ID, Name: p.Name}

	// Fast-path cache first: only ever holds a first-page snapshot, so it is
	// consulted for first-page reads alone, and only when fresh.
	if pageOffset == 0 && s.fast != nil {
		if offers, ok := s.fast.GetOffers(ctx, p.ID); ok && !s.freshness.AnyStale(offers) {
			s.metrics.CacheHit(ctx, "fast")
			return Result{Product: info, Deals: pageWindow(offers, pageOffset), Source: SourceCache}
		}
	}

	entry, err := s.cache.Find(ctx, p.ID)
	if err != nil && !errors.Is(err, ErrNoEntry) {
		lg.Warn("Deal cache lookup failed", zap.Error(err))
		entry = nil
	}
	// Belt over the store's read-time expiry filter: an entry past its hard
	// expiry is absent here too, so it is neither served nor merged into.
	if entry != nil && entry.Expired(s.now()) {
		entry = nil
	}

	// The cache only ever holds a first-page-equivalent snapshot, so deeper
	// pages always go to the provider.
	needFetch := entry == nil || pageOffset > 0 || s.freshness.AnyStale(entry.Offers)
	if !needFetch {
		s.metrics.CacheHit(ctx, "db")
		return Result{Product: info, Deals: pageWindow(entry.Offers, pageOffset), Source: SourceCache}
	}
	s.metrics.CacheMiss(ctx)

	fetched, err := s.fetcher.Fetch(ctx, SanitizeQuery(p.Name), pageOffset)
	if err != nil {
		s.metrics.FetchFailed(ctx)
		if errors.Is(err, ErrNoCredential) {
			lg.Error("Provider credential missing; serving degraded result", zap.Error(err))
		} else {
			lg.Warn("Provider fetch failed", zap.Error(err))
		}
		// Stale-if-available: a failed refresh serves the old snapshot
		// rather than zeroing out a product that had data.
		if entry != nil && len(entry.Offers) > 0 {
			return Result{Product: info, Deals: pageWindow(entry.Offers, pageOffset), Source: SourceCache}
		}
		return Result{Product: info, Deals: nil, Source: SourceLive}
	}
	s.metrics.Fetched(ctx, len(fetched))

	offers := fetched
	if pageOffset == 0 {
		offers = s.persistFirstPage(ctx, p, entry, fetched)
	}

	// Deep pages apply the offset twice on purpose: the provider query
	// starts at pageOffset AND the fetched list is sliced at pageOffset
	// again, so page N serves results ranked 2*pageOffset onward of the
	// filtered stream. Dropping either offset changes what every existing
	// deep page shows.
	return Result{Product: info, Deals: pageWindow(offers, pageOffset), Source: SourceLive}
}

// persistFirstPage merges fetched offers into the product's snapshot and
// saves it. The merged offer list is returned; on save failure the merge
// result is still served, only the snapshot is lost.
func (s *Service) persistFirstPage(ctx context.Context, p *product.Product, entry *CacheEntry, fetched []offer.Offer) []offer.Offer {
	var existing []offer.Offer
	if entry != nil {
		existing = entry.Offers
	}
	merged := MergeOffers(existing, fetched)

	now := s.now()
	next := &CacheEntry{
		ID:          uuid.New().String(),
		ProductID:   p.ID,
		ProductName: p.Name,
		Offers:      merged,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.entryTTL),
	}
	if entry != nil {
		// Updates stay within the original validity window.
		next.ID = entry.ID
		next.CreatedAt = entry.CreatedAt
		next.ExpiresAt = entry.ExpiresAt
	}
	if best, ok := offer.Cheapest(merged); ok {
		next.BestPrice = &best
	}

	if err := s.cache.Save(ctx, next); err != nil {
		zctx.From(ctx).Warn("Saving deal cache entry failed",
			zap.String("product", p.Name),
			zap.Error(err),
		)
	} else if s.fast != nil {
		s.fast.SetOffers(ctx, p.ID, merged)
	}

	return merged
}

// pageWindow slices offers to the requested page of PageSize.
func pageWindow(offers []offer.Offer, start int) []offer.Offer {
	if start >= len(offers) {
		return nil
	}
	end := start + PageSize
	if end > len(offers) {
		end = len(offers)
	}
	return offers[start:end]
}
