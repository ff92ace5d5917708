/*
Package metrics defines the Prometheus metrics of a reconciliation run.

All collectors are package-level variables registered with the default
registry in init, so any package can record into them without wiring.

A reconciliation pass is a short batch job, so nothing is scraped. When the
operator configures metrics_file, the CLI calls WriteTextfile after the run
and the node exporter textfile collector picks the file up.

# Metrics Catalog

	payrecon_orders_discovered_total               counter
	payrecon_orders_tracked_total                  counter
	payrecon_orders_processed_total{status}        counter
	payrecon_store_write_failures_total            counter
	payrecon_cancel_requests_total{outcome}        counter
	payrecon_cancel_request_duration_seconds       histogram
	payrecon_source_query_duration_seconds{source} histogram
	payrecon_run_duration_seconds                  histogram
	payrecon_progress_records{status}              gauge

payrecon_progress_records mirrors the progress store after the run (see
CollectProgress) and is the value to alert on: a non-zero
payment_canceled_error series means orders are waiting for a retry.

# Timer

	timer := metrics.NewTimer()
	rows, err := db.QueryContext(ctx, query, args...)
	timer.ObserveDurationVec(metrics.SourceQueryDuration, "orders")
*/
package metrics
