// Package offer holds the canonical shopping offer shape and the pure
// decision logic applied to offers: source allow-listing, price ordering,
// and per-source freshness evaluation.
package offer

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Offer is one normalized shopping result for a product from one source.
// Price is a display string as returned by the provider; use PriceValue for
// numeric comparisons.
type Offer struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Image     string    `json:"image,omitempty"`
	Price     string    `json:"price"`
	Source    string    `json:"source"`
	Rating    float64   `json:"rating,omitempty"`
	Reviews   int       `json:"reviews,omitempty"`
	Shipping  string    `json:"shipping,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// PriceValue extracts a numeric value from the display price. The second
// return is false when the string holds no parseable number; such offers must
// sort as the most expensive, never cause an error.
func (o Offer) PriceValue() (decimal.Decimal, bool) {
	var b strings.Builder
	dotSeen := false
	for _, r := range o.Price {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !dotSeen:
			dotSeen = true
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// SortByPrice orders offers cheapest first, in place. Offers without a
// parseable price sort last. The sort is stable so provider order breaks ties.
func SortByPrice(offers []Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		pi, oki := offers[i].PriceValue()
		pj, okj := offers[j].PriceValue()
		switch {
		case oki && okj:
			return pi.LessThan(pj)
		case oki:
			return true
		default:
			return false
		}
	})
}

// Cheapest returns the lowest parseable price across offers. The second
// return is false when no offer carries a parseable price.
func Cheapest(offers []Offer) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, o := range offers {
		p, ok := o.PriceValue()
		if !ok {
			continue
		}
		if !found || p.LessThan(best) {
			best = p
			found = true
		}
	}
	return best, found
}
