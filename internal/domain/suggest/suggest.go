// Package suggest provides product name autocompletion over previously
// resolved products, with an optional pluggable result cache.
package suggest

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/dealhound/dealhound/internal/domain/product"
)

// MinQueryLen is the minimum usable query length.
const MinQueryLen = 2

// DefaultLimit caps the number of suggestions returned.
const DefaultLimit = 10

// ErrQueryTooShort rejects queries below MinQueryLen.
var ErrQueryTooShort = errors.New("query must be at least 2 characters")

// Suggestion is one autocomplete candidate. ID is empty for the generic
// fallback suggestion.
type Suggestion struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Cache stores suggestion lists keyed by normalized query. Implementations
// decide TTL; a nil Cache disables caching entirely.
type Cache interface {
	GetSuggestions(ctx context.Context, query string) ([]Suggestion, bool)
	SetSuggestions(ctx context.Context, query string, s []Suggestion)
}

// Service answers autocomplete queries from the product store.
type Service struct {
	repo  product.Repository
	cache Cache // optional
	limit int
}

// NewService creates a suggestion Service. cache may be nil.
func NewService(repo product.Repository, cache Cache) *Service {
	return &Service{repo: repo, cache: cache, limit: DefaultLimit}
}

// Suggest returns up to DefaultLimit products whose names contain the query,
// case-insensitively. When nothing matches, a single generic suggestion
// echoing the query is returned so the client always has a selectable entry.
func (s *Service) Suggest(ctx context.Context, query string) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLen {
		return nil, ErrQueryTooShort
	}
	key := strings.ToLower(query)

	if s.cache != nil {
		if cached, ok := s.cache.GetSuggestions(ctx, key); ok {
			return cached, nil
		}
	}

	products, err := s.repo.SearchByName(ctx, query, s.limit)
	if err != nil {
		return nil, errors.Wrapf(err, "search products %q", query)
	}

	suggestions := make([]Suggestion, 0, len(products)+1)
	for _, p := range products {
		category := p.Category
		if category == "" {
			category = product.DefaultCategory
		}
		suggestions = append(suggestions, Suggestion{
			ID:       p.ID,
			Name:     p.Name,
			Category: category,
		})
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions, Suggestion{
			Name:     query,
			Category: product.DefaultCategory,
		})
	}

	if s.cache != nil {
		s.cache.SetSuggestions(ctx, key, suggestions)
	}

	zctx.From(ctx).Debug("Autocomplete served",
		zap.String("query", query),
		zap.Int("count", len(suggestions)),
	)
	return suggestions, nil
}
