package deals

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealhound/dealhound/internal/domain/offer"
)

// BestDeals returns the cheapest offers across the most recently searched
// products. Fresh cache snapshots are used where available; the remaining
// product names are fetched live, concurrently. All collected offers are
// sorted by price, unparseable prices last, before truncation.
func (s *Service) BestDeals(ctx context.Context, limit int) ([]offer.Offer, error) {
	if limit <= 0 {
		limit = s.featuredLimit
	}

	names, err := s.history.RecentProductNames(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent product names")
	}
	if len(names) == 0 {
		return []offer.Offer{}, nil
	}

	var (
		cached  []*CacheEntry
		toFetch []string
	)
	for _, name := range names {
		entry, err := s.cache.FindByName(ctx, name)
		if err == nil && !entry.Expired(s.now()) && !s.freshness.AnyStale(entry.Offers) {
			cached = append(cached, entry)
			continue
		}
		if err != nil && !errors.Is(err, ErrNoEntry) {
			zctx.From(ctx).Warn("Deal cache lookup failed",
				zap.String("product", name), zap.Error(err))
		}
		toFetch = append(toFetch, name)
	}

	var all []offer.Offer
	for _, e := range cached {
		all = append(all, e.Offers...)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range toFetch {
		g.Go(func() error {
			offers, err := s.fetcher.Fetch(gctx, SanitizeQuery(name), 0)
			if err != nil {
				zctx.From(gctx).Warn("Provider fetch failed",
					zap.String("product", name), zap.Error(err))
				return nil
			}
			mu.Lock()
			all = append(all, offers...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	offer.SortByPrice(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
