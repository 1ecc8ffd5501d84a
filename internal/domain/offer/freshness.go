package offer

import (
	"strings"
	"time"
)

// MaxOfferAge is the hard staleness ceiling. An offer older than this is
// stale no matter what cadence its source is configured with, which bounds
// worst-case staleness for misconfigured sources.
const MaxOfferAge = 7 * 24 * time.Hour

// Freshness decides whether cached offers can still be served, based on
// per-source update cadences (days between expected data refreshes).
type Freshness struct {
	cadences map[string]int // sanitized source key -> cadence in days
	now      func() time.Time
}

// NewFreshness builds a Freshness evaluator from a source->days cadence map.
// Keys are sanitized, so "Woolworths" and "woolworths" configure the same
// source. Non-positive cadences are dropped.
func NewFreshness(cadences map[string]int) *Freshness {
	m := make(map[string]int, len(cadences))
	for k, days := range cadences {
		key := Sanitize(k)
		if key == "" || days <= 0 {
			continue
		}
		m[key] = days
	}
	return &Freshness{cadences: m, now: time.Now}
}

// cadenceFor matches the offer source against configured cadence keys using
// the same substring rule as the source filter.
func (f *Freshness) cadenceFor(source string) (int, bool) {
	src := Sanitize(source)
	if src == "" {
		return 0, false
	}
	for key, days := range f.cadences {
		if strings.Contains(src, key) {
			return days, true
		}
	}
	return 0, false
}

// IsStale reports whether o must be refetched. Unknown sources, missing fetch
// timestamps, ages beyond MaxOfferAge, and ages that crossed the source's
// next configured update day all count as stale: unknown data is never
// trusted indefinitely.
func (f *Freshness) IsStale(o Offer) bool {
	if o.FetchedAt.IsZero() {
		return true
	}
	age := f.now().Sub(o.FetchedAt)
	if age > MaxOfferAge {
		return true
	}
	days, ok := f.cadenceFor(o.Source)
	if !ok {
		return true
	}
	return age >= time.Duration(days)*24*time.Hour
}

// AnyStale reports whether a cached offer set must be refreshed as a whole.
// A set is reusable only when every offer is fresh; an empty set is treated
// as stale so an empty snapshot never pins a product to zero deals.
func (f *Freshness) AnyStale(offers []Offer) bool {
	if len(offers) == 0 {
		return true
	}
	for _, o := range offers {
		if f.IsStale(o) {
			return true
		}
	}
	return false
}
