package metrics

import (
	"github.com/cuemby/payrecon/pkg/types"
)

// CollectProgress publishes the per-status record counts of the progress store.
// Statuses missing from counts are reported as zero.
func CollectProgress(counts map[types.Status]int) {
	for _, status := range types.AllStatuses {
		ProgressRecords.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// RecordOutcome counts an order that reached an outcome state
func RecordOutcome(status types.Status) {
	OrdersProcessed.WithLabelValues(string(status)).Inc()
}
