// Package product defines the canonical product record and the resolver that
// finds or creates products from client-supplied references.
package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrEmptyName is returned when a reference carries neither an id nor a
// usable name.
var ErrEmptyName = errors.New("product name is empty")

// DefaultCategory is assigned to products created from a bare name lookup.
const DefaultCategory = "General"

// Product is a canonical product record. Products are created on first
// unmatched lookup by name and never mutated afterwards.
type Product struct {
	ID        string
	Name      string
	Category  string
	CreatedAt time.Time
}

// Ref is a client-supplied product reference: an id, a name, or both.
type Ref struct {
	ID   string
	Name string
}

// Repository defines storage operations for product records.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// FindByName performs a case-insensitive exact-name lookup and returns
	// ErrNotFound when no product matches.
	FindByName(ctx context.Context, name string) (*Product, error)
	Create(ctx context.Context, p *Product) error
	// SearchByName returns products whose name contains q, case-insensitively.
	SearchByName(ctx context.Context, q string, limit int) ([]Product, error)
	// ListNames returns every known product name.
	ListNames(ctx context.Context) ([]string, error)
}
