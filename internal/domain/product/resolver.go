package product

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	knownNamesCapacity = 1_000_000
	knownNamesFPR      = 0.01
)

// Resolver finds or creates products for client-supplied references.
//
// It keeps an optional bloom filter of known (normalized) names: a negative
// test proves the name was never stored, so the lookup query can be skipped
// and the product created directly. A false positive only costs one SELECT.
type Resolver struct {
	repo Repository
	now  func() time.Time

	mu    sync.Mutex
	known *bloom.BloomFilter // nil until WarmKnownNames succeeds
}

// NewResolver creates a Resolver backed by the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// WarmKnownNames seeds the known-name bloom filter from stored products.
// Resolution works without it; warming only removes lookup queries for names
// that are certainly new.
func (r *Resolver) WarmKnownNames(ctx context.Context) error {
	names, err := r.repo.ListNames(ctx)
	if err != nil {
		return errors.Wrap(err, "list product names")
	}

	filter := bloom.NewWithEstimates(knownNamesCapacity, knownNamesFPR)
	for _, name := range names {
		filter.AddString(normalizeName(name))
	}

	r.mu.Lock()
	r.known = filter
	r.mu.Unlock()

	zctx.From(ctx).Debug("Warmed known product names", zap.Int("count", len(names)))
	return nil
}

// Resolve maps a reference to a product record. References with an id load
// that product (ErrNotFound when absent). Name-only references use a
// case-insensitive exact lookup and create the product with the default
// category on miss. Duplicate-name creation races resolve last write wins.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (*Product, error) {
	if ref.ID != "" {
		return r.repo.GetByID(ctx, ref.ID)
	}

	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return nil, ErrEmptyName
	}

	if r.definitelyNew(name) {
		return r.create(ctx, name)
	}

	existing, err := r.repo.FindByName(ctx, name)
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, ErrNotFound):
		return r.create(ctx, name)
	default:
		return nil, errors.Wrapf(err, "find product %q", name)
	}
}

func (r *Resolver) create(ctx context.Context, name string) (*Product, error) {
	p := &Product{
		ID:        uuid.New().String(),
		Name:      name,
		Category:  DefaultCategory,
		CreatedAt: r.now(),
	}
	if err := r.repo.Create(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "create product %q", name)
	}

	r.mu.Lock()
	if r.known != nil {
		r.known.AddString(normalizeName(name))
	}
	r.mu.Unlock()

	zctx.From(ctx).Info("Created product",
		zap.String("id", p.ID),
		zap.String("name", p.Name),
	)
	return p, nil
}

// definitelyNew reports whether the bloom filter proves the name absent.
func (r *Resolver) definitelyNew(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known == nil {
		return false
	}
	return !r.known.TestString(normalizeName(name))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
