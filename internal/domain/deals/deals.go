// Package deals implements the deal resolution pipeline: given a batch of
// product references it decides, per product, whether to serve cached offers
// or fetch fresh ones from the shopping-search provider, and keeps the
// per-product cache snapshot up to date.
package deals

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/product"
)

// PageSize is the fixed number of deals returned per product per page.
const PageSize = 10

// DefaultEntryTTL is the document-level hard expiry for cache entries.
const DefaultEntryTTL = 24 * time.Hour

// Provenance flags where a product's deals came from.
type Provenance string

const (
	// SourceCache marks deals served from the stored snapshot.
	SourceCache Provenance = "db"
	// SourceLive marks deals fetched from the provider for this request.
	SourceLive Provenance = "api"
)

// Sentinel errors for batch validation.
var (
	ErrNoProducts      = errors.New("products are required")
	ErrNoValidProducts = errors.New("no valid products found")
)

// ErrNoEntry is returned by CacheRepository when no live entry exists.
var ErrNoEntry = errors.New("no cache entry")

// Provider failure classes returned by Fetcher implementations. A missing
// credential is an operational misconfiguration and is logged loudly;
// transient provider failures degrade to empty deals for the one product.
var (
	ErrNoCredential        = errors.New("provider credential not configured")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// BatchLimitError indicates the batch exceeded the caller's product limit.
type BatchLimitError struct {
	Limit         int
	Authenticated bool
}

func (e *BatchLimitError) Error() string {
	if e.Authenticated {
		return fmt.Sprintf("only %d products can be checked at a time", e.Limit)
	}
	return fmt.Sprintf("only %d products can be checked at a time for guests; log in to check more", e.Limit)
}

// CacheEntry is the current snapshot of a product's known offers. An entry at
// or past ExpiresAt is treated as absent regardless of offer-level freshness.
type CacheEntry struct {
	ID          string
	ProductID   string
	ProductName string
	Offers      []offer.Offer
	// BestPrice is the cheapest parseable price across Offers, nil when no
	// offer carries one.
	BestPrice *decimal.Decimal
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry's hard expiry has passed. An expired
// entry is treated as absent regardless of offer-level freshness.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// CacheRepository stores per-product deal snapshots. Entries are independent;
// no cross-entry transactionality is expected.
type CacheRepository interface {
	// Find returns the non-expired entry for a product, or ErrNoEntry.
	Find(ctx context.Context, productID string) (*CacheEntry, error)
	// FindByName returns the non-expired entry matching a denormalized
	// product name, or ErrNoEntry.
	FindByName(ctx context.Context, productName string) (*CacheEntry, error)
	// Save inserts the entry or replaces the existing one for its product.
	Save(ctx context.Context, e *CacheEntry) error
}

// HistoryRepository records which products were resolved together.
type HistoryRepository interface {
	Record(ctx context.Context, productIDs []string) error
	// RecentProductNames returns distinct names of the most recently
	// searched products, newest first.
	RecentProductNames(ctx context.Context, limit int) ([]string, error)
}

// Fetcher issues one query to the external shopping-search provider.
type Fetcher interface {
	Fetch(ctx context.Context, query string, offset int) ([]offer.Offer, error)
}

// FastCache is an optional secondary cache consulted before the document
// store for first-page reads. A nil FastCache and a miss behave identically.
type FastCache interface {
	GetOffers(ctx context.Context, productID string) ([]offer.Offer, bool)
	SetOffers(ctx context.Context, productID string, offers []offer.Offer)
}

// EventSink receives search events for downstream analytics. Implementations
// must not block the resolution path.
type EventSink interface {
	SearchPerformed(ctx context.Context, productIDs, productNames []string)
}

// MergeOffers appends to existing every incoming offer not already present,
// deduplicating by equal title or equal link. Existing offers keep their
// original order and fetch timestamps, so the result never shrinks and
// repeated merges of the same offers are idempotent.
func MergeOffers(existing, incoming []offer.Offer) []offer.Offer {
	titles := make(map[string]struct{}, len(existing))
	links := make(map[string]struct{}, len(existing))
	for _, o := range existing {
		titles[o.Title] = struct{}{}
		links[o.Link] = struct{}{}
	}

	merged := make([]offer.Offer, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	for _, o := range incoming {
		_, dupTitle := titles[o.Title]
		_, dupLink := links[o.Link]
		if dupTitle || dupLink {
			continue
		}
		merged = append(merged, o)
		titles[o.Title] = struct{}{}
		links[o.Link] = struct{}{}
	}
	return merged
}

// SanitizeQuery strips punctuation from a product name before it is used as
// a provider query, keeping letters (in any script, so accented names stay
// intact), digits, and single spaces.
func SanitizeQuery(name string) string {
	var b []rune
	lastSpace := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b = append(b, r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && len(b) > 0 {
				b = append(b, ' ')
				lastSpace = true
			}
		}
	}
	for len(b) > 0 && b[len(b)-1] == ' ' {
		b = b[:len(b)-1]
	}
	return string(b)
}

// ProductInfo identifies the resolved product in a result.
type ProductInfo struct {
	ID   string
	Name string
}

// Result is one per-product resolution outcome.
type Result struct {
	Product ProductInfo
	Deals   []offer.Offer
	Source  Provenance
}

// Request is one inbound batch: product references plus a pagination offset.
// Authenticated selects the larger batch limit and is supplied by the auth
// layer, never by the client payload.
type Request struct {
	Products      []product.Ref
	PageOffset    int
	Authenticated bool
}
