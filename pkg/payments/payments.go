// Package payments looks up payments that have not been cancelled yet in the
// payment database.
package payments

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/cuemby/payrecon/pkg/metrics"
	"github.com/cuemby/payrecon/pkg/mysql"
	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBatchSize bounds the number of order IDs per query
const DefaultBatchSize = 500

const nonCanceledPaymentsQuery = `
SELECT pi.client_order_id, pi.payment_id
FROM payment_information pi
WHERE pi.client_order_id IN (%s)
  AND NOT EXISTS (
    SELECT 1 FROM payment_status_history psh
    WHERE psh.payment_id = pi.payment_id
      AND psh.status = 'canceled'
  )
ORDER BY pi.client_order_id, pi.payment_id`

// Source is a read-only view of the payment database
type Source struct {
	db        *sql.DB
	logger    zerolog.Logger
	batchSize int
	owned     bool
}

// Open connects to the payment database
func Open(ctx context.Context, cfg mysql.Config, batchSize int, logger zerolog.Logger) (*Source, error) {
	db, err := mysql.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := New(db, batchSize, logger)
	s.owned = true
	return s, nil
}

// New wraps an existing connection pool. Close does not close db.
// A batchSize of zero or less selects DefaultBatchSize.
func New(db *sql.DB, batchSize int, logger zerolog.Logger) *Source {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Source{db: db, logger: logger, batchSize: batchSize}
}

// FetchNonCanceledPayments maps each order ID to its payments that have no
// canceled status history entry. Orders without such a payment are absent.
// When an order has several, the highest payment ID is chosen and the rest
// are returned as Others.
func (s *Source) FetchNonCanceledPayments(ctx context.Context, orderIDs []string) (map[string]types.PaymentMatch, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SourceQueryDuration, "payments")

	found := make(map[string][]string)
	for start := 0; start < len(orderIDs); start += s.batchSize {
		end := min(start+s.batchSize, len(orderIDs))
		if err := s.fetchBatch(ctx, orderIDs[start:end], found); err != nil {
			return nil, err
		}
	}

	out := make(map[string]types.PaymentMatch, len(found))
	for orderID, ids := range found {
		slices.SortFunc(ids, func(a, b string) int {
			switch {
			case paymentIDLess(b, a):
				return -1
			case paymentIDLess(a, b):
				return 1
			}
			return 0
		})
		m := types.PaymentMatch{PaymentID: ids[0]}
		if len(ids) > 1 {
			m.Others = ids[1:]
			s.logger.Warn().
				Str("order_id", orderID).
				Str("payment_id", m.PaymentID).
				Strs("pending_payment_ids", m.Others).
				Msg("Order has several uncancelled payments, the rest follow on later runs")
		}
		out[orderID] = m
	}

	s.logger.Info().
		Int("orders", len(orderIDs)).
		Int("with_payment", len(out)).
		Dur("took", timer.Duration()).
		Msg("Fetched uncancelled payments")
	return out, nil
}

func (s *Source) fetchBatch(ctx context.Context, ids []string, found map[string][]string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(nonCanceledPaymentsQuery, placeholders), args...)
	if err != nil {
		return fmt.Errorf("query uncancelled payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, paymentID string
		if err := rows.Scan(&orderID, &paymentID); err != nil {
			return fmt.Errorf("scan payment row: %w", err)
		}
		found[orderID] = append(found[orderID], paymentID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read uncancelled payments: %w", err)
	}
	return nil
}

// paymentIDLess orders numeric IDs numerically and everything else lexically
func paymentIDLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// Close releases the connection pool if Open created it
func (s *Source) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
