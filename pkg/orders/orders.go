// Package orders reads cancelled orders with duplicate payment captures from
// the order database.
package orders

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/payrecon/pkg/metrics"
	"github.com/cuemby/payrecon/pkg/mysql"
	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
)

// sqlTimeLayout is how range bounds are passed to the created_at comparison
const sqlTimeLayout = "2006-01-02 15:04:05"

const cancelledOrdersQuery = `
SELECT sfo.increment_id
FROM sales_flat_order sfo
INNER JOIN sales_flat_order_payment sfop ON sfop.parent_id = sfo.entity_id
WHERE sfo.status = 'canceled'
  AND sfo.created_at >= ?
  AND sfo.created_at < ?
  AND sfop.txn_id IS NOT NULL
  AND sfop.txn_id != ''
GROUP BY sfo.increment_id
HAVING COUNT(sfop.entity_id) > 1
ORDER BY sfo.increment_id`

// Source is a read-only view of the order database
type Source struct {
	db     *sql.DB
	logger zerolog.Logger
	owned  bool
}

// Open connects to the order database
func Open(ctx context.Context, cfg mysql.Config, logger zerolog.Logger) (*Source, error) {
	db, err := mysql.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := New(db, logger)
	s.owned = true
	return s, nil
}

// New wraps an existing connection pool. Close does not close db.
func New(db *sql.DB, logger zerolog.Logger) *Source {
	return &Source{db: db, logger: logger}
}

// FetchCancelledOrders returns the increment IDs of cancelled orders created
// within r that have more than one captured payment, sorted ascending.
func (s *Source) FetchCancelledOrders(ctx context.Context, r types.DateRange) ([]string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SourceQueryDuration, "orders")

	from := r.From.Format(sqlTimeLayout)
	to := r.EndExclusive().Format(sqlTimeLayout)

	rows, err := s.db.QueryContext(ctx, cancelledOrdersQuery, from, to)
	if err != nil {
		return nil, fmt.Errorf("query cancelled orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read cancelled orders: %w", err)
	}

	s.logger.Info().
		Str("date_range", r.String()).
		Int("orders", len(ids)).
		Dur("took", timer.Duration()).
		Msg("Fetched cancelled orders with duplicate payments")
	return ids, nil
}

// Close releases the connection pool if Open created it
func (s *Source) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
