package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dealhound/dealhound/internal/domain/deals"
	"github.com/dealhound/dealhound/internal/domain/offer"
)

const (
	findEntrySQL = `SELECT id, product_id, product_name, offers, best_price, created_at, expires_at
		FROM deal_cache_entries WHERE product_id = $1 AND expires_at > now()`

	findEntryByNameSQL = `SELECT id, product_id, product_name, offers, best_price, created_at, expires_at
		FROM deal_cache_entries WHERE lower(product_name) = lower($1) AND expires_at > now()
		LIMIT 1`

	upsertEntrySQL = `INSERT INTO deal_cache_entries
		(id, product_id, product_name, offers, best_price, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			offers       = EXCLUDED.offers,
			best_price   = EXCLUDED.best_price,
			created_at   = EXCLUDED.created_at,
			expires_at   = EXCLUDED.expires_at`
)

var _ deals.CacheRepository = (*DealCacheRepository)(nil)

// DealCacheRepository implements deals.CacheRepository backed by PostgreSQL.
// Offers are stored in a JSONB column; expiry is enforced in the queries so
// expired entries read as absent.
type DealCacheRepository struct {
	pool *pgxpool.Pool
}

// NewDealCacheRepository returns a DealCacheRepository using the given pool.
func NewDealCacheRepository(pool *pgxpool.Pool) *DealCacheRepository {
	return &DealCacheRepository{pool: pool}
}

// Find returns the non-expired entry for a product, or deals.ErrNoEntry.
func (r *DealCacheRepository) Find(ctx context.Context, productID string) (*deals.CacheEntry, error) {
	return r.findOne(ctx, findEntrySQL, productID)
}

// FindByName returns the non-expired entry for a denormalized product name,
// or deals.ErrNoEntry.
func (r *DealCacheRepository) FindByName(ctx context.Context, productName string) (*deals.CacheEntry, error) {
	return r.findOne(ctx, findEntryByNameSQL, productName)
}

func (r *DealCacheRepository) findOne(ctx context.Context, sql, arg string) (*deals.CacheEntry, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("finding deal cache entry %q: %w", arg, err)
	}

	e, err := pgx.CollectExactlyOneRow(rows, scanCacheEntry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, deals.ErrNoEntry
		}
		return nil, fmt.Errorf("finding deal cache entry %q: %w", arg, err)
	}
	return &e, nil
}

// Save upserts the entry for its product. The whole offer list is written in
// one statement, keeping the read-modify-write window as narrow as the
// caller's merge computation; concurrent savers resolve last write wins.
func (r *DealCacheRepository) Save(ctx context.Context, e *deals.CacheEntry) error {
	offersJSON, err := json.Marshal(e.Offers)
	if err != nil {
		return fmt.Errorf("marshaling offers for %q: %w", e.ProductName, err)
	}

	_, err = r.pool.Exec(ctx, upsertEntrySQL,
		e.ID, e.ProductID, e.ProductName, offersJSON, e.BestPrice, e.CreatedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("saving deal cache entry %q: %w", e.ProductName, err)
	}
	return nil
}

func scanCacheEntry(row pgx.CollectableRow) (deals.CacheEntry, error) {
	var (
		e          deals.CacheEntry
		offersJSON []byte
		bestPrice  *decimal.Decimal
	)
	if err := row.Scan(
		&e.ID, &e.ProductID, &e.ProductName, &offersJSON, &bestPrice, &e.CreatedAt, &e.ExpiresAt,
	); err != nil {
		return deals.CacheEntry{}, err
	}

	var offers []offer.Offer
	if err := json.Unmarshal(offersJSON, &offers); err != nil {
		return deals.CacheEntry{}, fmt.Errorf("unmarshaling offers for %q: %w", e.ProductName, err)
	}
	e.Offers = offers
	e.BestPrice = bestPrice
	return e, nil
}
