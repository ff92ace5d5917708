package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/payrecon/pkg/log"
	"github.com/cuemby/payrecon/pkg/metrics"
	"github.com/cuemby/payrecon/pkg/storage"
	"github.com/cuemby/payrecon/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OrderSource lists cancelled orders with duplicate captures
type OrderSource interface {
	FetchCancelledOrders(ctx context.Context, r types.DateRange) ([]string, error)
}

// PaymentSource maps orders to their uncancelled payments
type PaymentSource interface {
	FetchNonCanceledPayments(ctx context.Context, orderIDs []string) (map[string]types.PaymentMatch, error)
}

// Canceller cancels a single payment
type Canceller interface {
	Cancel(ctx context.Context, paymentID string) types.CancelResult
}

// Options wires a Reconciler to its collaborators
type Options struct {
	Store     storage.Store
	Orders    OrderSource
	Payments  PaymentSource
	Canceller Canceller
	Logger    zerolog.Logger

	// Clock defaults to time.Now
	Clock func() time.Time
	// NewRunID defaults to a random UUID
	NewRunID func() string
}

// Reconciler cancels the leftover payments of cancelled orders, recording
// every outcome in the progress store as soon as it is known.
type Reconciler struct {
	store     storage.Store
	orders    OrderSource
	payments  PaymentSource
	canceller Canceller
	logger    zerolog.Logger
	clock     func() time.Time
	newRunID  func() string
}

// New creates a reconciler
func New(opts Options) *Reconciler {
	r := &Reconciler{
		store:     opts.Store,
		orders:    opts.Orders,
		payments:  opts.Payments,
		canceller: opts.Canceller,
		logger:    opts.Logger,
		clock:     opts.Clock,
		newRunID:  opts.NewRunID,
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.newRunID == nil {
		r.newRunID = uuid.NewString
	}
	return r
}

// match is an order in the working set together with its payment
type match struct {
	orderID   string
	paymentID string
	// others counts the order's uncancelled payments left after this one
	others int
}

// Run performs one reconciliation pass over the orders created in dr.
//
// The returned summary is never nil. Per-order failures are recorded in the
// store and do not make Run fail. Run returns a *types.ComponentError when a
// source database, the progress store or the API credentials are unusable,
// and ctx.Err() when ctx is cancelled; the summary then covers the work done
// so far.
func (r *Reconciler) Run(ctx context.Context, dr types.DateRange) (*Summary, error) {
	start := r.clock()
	timer := metrics.NewTimer()
	summary := &Summary{
		RunID:     r.newRunID(),
		DateRange: dr,
		StorePath: r.store.Path(),
	}
	logger := log.WithRunID(r.logger, summary.RunID)

	err := r.run(ctx, dr, summary, logger)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		summary.Interrupted = true
	}

	summary.Duration = r.clock().Sub(start)
	timer.ObserveDuration(metrics.RunDuration)

	if counts, cerr := r.store.Counts(); cerr != nil {
		logger.Warn().Err(cerr).Msg("Failed to count progress records")
	} else {
		summary.StoreCounts = counts
		metrics.CollectProgress(counts)
	}

	return summary, err
}

func (r *Reconciler) run(ctx context.Context, dr types.DateRange, summary *Summary, logger zerolog.Logger) error {
	logger.Info().Str("date_range", dr.String()).Str("progress_store", summary.StorePath).Msg("Starting reconciliation run")

	// Step 1: discover
	if err := ctx.Err(); err != nil {
		return err
	}
	orderIDs, err := r.orders.FetchCancelledOrders(ctx, dr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.NewComponentError(types.ComponentOrderDB, err)
	}
	summary.Discovered = len(orderIDs)
	metrics.OrdersDiscovered.Add(float64(len(orderIDs)))

	added, err := r.store.BulkInitialize(orderIDs)
	if err != nil {
		return types.NewComponentError(types.ComponentProgressStore, err)
	}
	summary.NewlyTracked = added
	metrics.OrdersTracked.Add(float64(added))
	logger.Info().Int("discovered", len(orderIDs)).Int("newly_tracked", added).Msg("Step 1: discovered cancelled orders")

	// Step 2: filter
	working, err := r.store.RecordsNeeding(types.StepMatchPayments)
	if err != nil {
		return types.NewComponentError(types.ComponentProgressStore, err)
	}
	summary.WorkingSet = len(working)
	for _, rec := range working {
		if rec.Status.IsRetryable() {
			summary.Retried++
		}
	}
	logger.Info().Int("working_set", len(working)).Int("retried", summary.Retried).Msg("Step 2: selected orders needing work")

	if len(working) == 0 {
		logger.Info().Msg("Nothing to do, every tracked order is finished")
		return nil
	}

	// Step 3: match
	if err := ctx.Err(); err != nil {
		return err
	}
	ids := make([]string, len(working))
	for i, rec := range working {
		ids[i] = rec.OrderID
	}
	paymentsByOrder, err := r.payments.FetchNonCanceledPayments(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.NewComponentError(types.ComponentPaymentDB, err)
	}

	var matches []match
	for _, rec := range working {
		pm, ok := paymentsByOrder[rec.OrderID]
		if ok {
			matches = append(matches, match{orderID: rec.OrderID, paymentID: pm.PaymentID, others: len(pm.Others)})
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.record(summary, log.WithOrderID(logger, rec.OrderID), rec.OrderID, types.StatusNoActionNeeded, "", "") {
			summary.NoAction++
		}
	}
	logger.Info().Int("to_cancel", len(matches)).Int("no_action", summary.NoAction).Msg("Step 3: matched uncancelled payments")

	// Step 4: cancel, one order at a time
	for i, m := range matches {
		if err := ctx.Err(); err != nil {
			logger.Warn().Int("remaining", len(matches)-i).Msg("Interrupted, stopping before the next order")
			return err
		}
		if err := r.cancelOne(ctx, summary, logger, m); err != nil {
			return err
		}
	}

	logger.Info().
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("store_write_failures", summary.StoreWriteFailures).
		Msg("Step 4: finished cancelling payments")
	return nil
}

// cancelOne calls the API for one order and records the outcome. The call
// and the write are not interrupted by ctx once started.
func (r *Reconciler) cancelOne(ctx context.Context, summary *Summary, logger zerolog.Logger, m match) error {
	ctx = context.WithoutCancel(ctx)
	orderLogger := log.WithOrderID(logger, m.orderID).With().Str("payment_id", m.paymentID).Logger()

	result := r.canceller.Cancel(ctx, m.paymentID)
	if result.OK() && m.others > 0 {
		// The order stays retryable so the next run cancels the next payment
		detail := fmt.Sprintf("payment %s cancelled; %d more uncancelled payments", m.paymentID, m.others)
		if r.record(summary, orderLogger, m.orderID, types.StatusPaymentCanceledError, m.paymentID, detail) {
			summary.Succeeded++
			summary.MorePayments++
		}
		orderLogger.Warn().Int("remaining_payments", m.others).Msg("Payment cancelled, order has more uncancelled payments")
		return nil
	}
	if result.OK() {
		if r.record(summary, orderLogger, m.orderID, types.StatusPaymentCanceledSuccess, m.paymentID, "") {
			summary.Succeeded++
		}
		orderLogger.Info().Msg("Payment cancelled")
		return nil
	}

	if r.record(summary, orderLogger, m.orderID, types.StatusPaymentCanceledError, m.paymentID, result.Detail) {
		summary.Failed++
		summary.FailedOrders = append(summary.FailedOrders, FailedOrder{
			OrderID:   m.orderID,
			PaymentID: m.paymentID,
			Detail:    result.Detail,
		})
	}
	orderLogger.Error().Str("detail", result.Detail).Int("status_code", result.StatusCode).Msg("Payment cancellation failed")

	if result.AuthFailure() {
		return types.NewComponentError(types.ComponentAPIAuth, fmt.Errorf("cancellation API rejected the credentials: %s", result.Detail))
	}
	return nil
}

// record persists an outcome and reports whether it was written. Write
// failures are logged and counted but never stop the run.
func (r *Reconciler) record(summary *Summary, logger zerolog.Logger, orderID string, status types.Status, paymentID, detail string) bool {
	if err := r.store.Update(orderID, status, paymentID, detail); err != nil {
		summary.StoreWriteFailures++
		metrics.StoreWriteFailures.Inc()
		logger.Error().Err(err).
			Str("status", string(status)).
			Msg("Failed to record outcome in progress store")
		return false
	}
	metrics.RecordOutcome(status)
	return true
}
