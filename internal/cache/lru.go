package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dealhound/dealhound/internal/domain/suggest"
)

const suggestLRUSize = 512

// SuggestLRU is an in-process suggestion cache used when Redis is not
// configured. Entries expire after the configured TTL.
type SuggestLRU struct {
	lru *expirable.LRU[string, []suggest.Suggestion]
}

// NewSuggestLRU returns a SuggestLRU with the given entry TTL.
func NewSuggestLRU(ttl time.Duration) *SuggestLRU {
	return &SuggestLRU{
		lru: expirable.NewLRU[string, []suggest.Suggestion](suggestLRUSize, nil, ttl),
	}
}

// GetSuggestions returns cached suggestions for a normalized query, if any.
func (c *SuggestLRU) GetSuggestions(_ context.Context, query string) ([]suggest.Suggestion, bool) {
	return c.lru.Get(query)
}

// SetSuggestions stores suggestions for a normalized query.
func (c *SuggestLRU) SetSuggestions(_ context.Context, query string, s []suggest.Suggestion) {
	c.lru.Add(query, s)
}
