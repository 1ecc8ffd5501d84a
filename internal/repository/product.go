package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealhound/dealhound/internal/domain/product"
)

const (
	insertProductSQL = `INSERT INTO products (id, name, category, created_at)
		VALUES ($1, $2, $3, $4)`

	getProductByIDSQL = `SELECT id, name, category, created_at
		FROM products WHERE id = $1`

	findProductByNameSQL = `SELECT id, name, category, created_at
		FROM products WHERE lower(name) = lower($1) LIMIT 1`

	searchProductsSQL = `SELECT id, name, category, created_at
		FROM products WHERE name ILIKE '%' || $1 || '%'
		ORDER BY name LIMIT $2`

	listProductNamesSQL = `SELECT name FROM products`

	upsertProductSQL = `INSERT INTO products (id, name, category, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, category = $3`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Create persists a new product record.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	_, err := r.pool.Exec(ctx, insertProductSQL, p.ID, p.Name, p.Category, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.Name, err)
	}
	return nil
}

// Upsert inserts a product or updates its name and category in place.
// Used by the import and seed tools.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Category, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.Name, err)
	}
	return nil
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// FindByName performs a case-insensitive exact-name lookup.
func (r *ProductRepository) FindByName(ctx context.Context, name string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, findProductByNameSQL, name)
	if err != nil {
		return nil, fmt.Errorf("finding product %q: %w", name, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("finding product %q: %w", name, err)
	}
	return &p, nil
}

// SearchByName returns products whose name contains q, case-insensitively.
func (r *ProductRepository) SearchByName(ctx context.Context, q string, limit int) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, searchProductsSQL, q, limit)
	if err != nil {
		return nil, fmt.Errorf("searching products %q: %w", q, err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListNames returns every known product name.
func (r *ProductRepository) ListNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listProductNamesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing product names: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.CreatedAt)
	return p, err
}
