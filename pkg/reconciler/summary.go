package reconciler

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
)

// Summary reports what one run did
type Summary struct {
	RunID     string
	DateRange types.DateRange
	StorePath string

	Discovered   int // orders returned by the order database
	NewlyTracked int // of those, orders not tracked before this run
	WorkingSet   int
	Retried      int // working-set orders that had failed before

	NoAction           int
	Succeeded          int
	Failed             int
	StoreWriteFailures int
	// MorePayments counts cancelled orders that still hold uncancelled
	// payments; they stay retryable
	MorePayments int

	Interrupted bool
	Duration    time.Duration

	// StoreCounts holds the records per status after the run
	StoreCounts map[types.Status]int

	FailedOrders []FailedOrder
}

// FailedOrder is a cancellation that failed during this run
type FailedOrder struct {
	OrderID   string
	PaymentID string
	Detail    string
}

const rule = "============================================================"

// Render writes the operator report
func (s *Summary) Render(w io.Writer) error {
	var b strings.Builder

	state := "completed"
	if s.Interrupted {
		state = "interrupted"
	}

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "PAYMENT CANCELLATION SUMMARY")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "%-26s %s\n", "Run ID:", s.RunID)
	fmt.Fprintf(&b, "%-26s %s\n", "Date range:", s.DateRange)
	fmt.Fprintf(&b, "%-26s %s\n", "Result:", state)
	fmt.Fprintf(&b, "%-26s %s\n", "Duration:", s.Duration.Round(time.Millisecond))
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "%-26s %d\n", "Orders discovered:", s.Discovered)
	fmt.Fprintf(&b, "%-26s %d\n", "Newly tracked:", s.NewlyTracked)
	fmt.Fprintf(&b, "%-26s %d\n", "Needing work:", s.WorkingSet)
	fmt.Fprintf(&b, "%-26s %d\n", "  of which retries:", s.Retried)
	fmt.Fprintf(&b, "%-26s %d\n", "No action needed:", s.NoAction)
	fmt.Fprintf(&b, "%-26s %d\n", "Payments cancelled:", s.Succeeded)
	if s.MorePayments > 0 {
		fmt.Fprintf(&b, "%-26s %d\n", "  orders with more left:", s.MorePayments)
	}
	fmt.Fprintf(&b, "%-26s %d\n", "Cancellations failed:", s.Failed)
	fmt.Fprintf(&b, "%-26s %d\n", "Store write failures:", s.StoreWriteFailures)

	if len(s.FailedOrders) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Failed cancellations (retried on the next run):")
		for _, f := range s.FailedOrders {
			fmt.Fprintf(&b, "  order %s, payment %s: %s\n", f.OrderID, f.PaymentID, oneLine(f.Detail))
		}
	}

	if s.StoreCounts != nil {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Progress store %s:\n", s.StorePath)
		for _, status := range types.AllStatuses {
			fmt.Fprintf(&b, "  %-26s %d\n", status, s.StoreCounts[status])
		}
	}
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

// Log emits the summary as a single structured event
func (s *Summary) Log(logger zerolog.Logger) {
	counts := zerolog.Dict()
	for _, status := range types.AllStatuses {
		counts.Int(string(status), s.StoreCounts[status])
	}

	event := logger.Info()
	if s.Interrupted || s.Failed > 0 || s.StoreWriteFailures > 0 {
		event = logger.Warn()
	}
	event.
		Str("run_id", s.RunID).
		Str("date_range", s.DateRange.String()).
		Int("discovered", s.Discovered).
		Int("newly_tracked", s.NewlyTracked).
		Int("working_set", s.WorkingSet).
		Int("retried", s.Retried).
		Int("no_action", s.NoAction).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("store_write_failures", s.StoreWriteFailures).
		Int("more_payments", s.MorePayments).
		Bool("interrupted", s.Interrupted).
		Dur("duration", s.Duration).
		Dict("store_counts", counts).
		Msg("Reconciliation run finished")
}

// oneLine folds multi-line API error bodies for the report
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
