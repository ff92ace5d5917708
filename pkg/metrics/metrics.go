package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Discovery metrics
	OrdersDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payrecon_orders_discovered_total",
			Help: "Total number of cancelled orders returned by the order database",
		},
	)

	OrdersTracked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payrecon_orders_tracked_total",
			Help: "Total number of orders newly added to the progress store",
		},
	)

	// Processing metrics
	OrdersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payrecon_orders_processed_total",
			Help: "Total number of orders moved to an outcome state, by status",
		},
		[]string{"status"},
	)

	StoreWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payrecon_store_write_failures_total",
			Help: "Total number of progress store updates that could not be persisted",
		},
	)

	// Cancellation API metrics
	CancelRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payrecon_cancel_requests_total",
			Help: "Total number of payment cancellation requests by outcome",
		},
		[]string{"outcome"},
	)

	CancelRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payrecon_cancel_request_duration_seconds",
			Help:    "Payment cancellation request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Source database metrics
	SourceQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payrecon_source_query_duration_seconds",
			Help:    "Source database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Run metrics
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payrecon_run_duration_seconds",
			Help:    "Duration of a full reconciliation pass in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	ProgressRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payrecon_progress_records",
			Help: "Number of records in the progress store by status",
		},
		[]string{"status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(OrdersDiscovered)
	prometheus.MustRegister(OrdersTracked)
	prometheus.MustRegister(OrdersProcessed)
	prometheus.MustRegister(StoreWriteFailures)
	prometheus.MustRegister(CancelRequests)
	prometheus.MustRegister(CancelRequestDuration)
	prometheus.MustRegister(SourceQueryDuration)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(ProgressRecords)
}

// WriteTextfile writes every registered metric to path in the text exposition
// format, for pickup by the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
