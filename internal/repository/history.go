package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealhound/dealhound/internal/domain/deals"
)

const (
	insertHistorySQL = `INSERT INTO search_history (id, product_ids, searched_at)
		VALUES ($1, $2, now())`

	recentProductNamesSQL = `SELECT p.name
		FROM (
			SELECT unnest(product_ids) AS product_id, searched_at
			FROM search_history
			ORDER BY searched_at DESC
			LIMIT 50
		) h
		JOIN products p ON p.id = h.product_id
		GROUP BY p.name
		ORDER BY max(h.searched_at) DESC
		LIMIT $1`
)

var _ deals.HistoryRepository = (*HistoryRepository)(nil)

// HistoryRepository records search batches in PostgreSQL. The resolution
// path only writes; best-deals reads recent names back.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository returns a HistoryRepository using the given pool.
func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

// Record stores one search batch.
func (r *HistoryRepository) Record(ctx context.Context, productIDs []string) error {
	_, err := r.pool.Exec(ctx, insertHistorySQL, uuid.New().String(), productIDs)
	if err != nil {
		return fmt.Errorf("recording search history: %w", err)
	}
	return nil
}

// RecentProductNames returns distinct names of the most recently searched
// products, newest first.
func (r *HistoryRepository) RecentProductNames(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, recentProductNamesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent product names: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
