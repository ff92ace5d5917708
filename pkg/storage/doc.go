/*
Package storage provides the durable per-order progress log of a
reconciliation run.

Every order discovered in the order database gets exactly one record, keyed
by its increment ID. The record carries the order's processing status, the
payment it was matched to and the last error seen. A run that crashes or is
interrupted resumes from whatever the store holds on the next start.

# Backends

Two interchangeable implementations of Store exist:

	┌──────────────── CSVStore ────────────────┐   ┌──────────── BoltStore ────────────┐
	│ cancel_payments_progress.csv              │   │ progress.db                       │
	│ order_id,timestamp,status,payment_id,     │   │ bucket "progress"                 │
	│   error_message                           │   │   key:   order id                 │
	│ one row per order, discovery order        │   │   value: JSON ProgressRecord      │
	│ full atomic rewrite per write             │   │ one transaction per write         │
	└───────────────────────────────────────────┘   └───────────────────────────────────┘

The CSV file is the default and stays readable by operators. Each write
renders the complete record set into a temp file in the same directory,
fsyncs it and renames it over the original, so a crash never leaves a torn
row behind. The in-memory view is only updated after the rename.

The BoltDB file holds the same records as JSON. Discovery order comes from
the bucket sequence. Opening a database held by another process fails after
a short timeout instead of blocking forever.

# Status Machine

	fetched ──┬──► no_action_needed            (absorbing)
	          ├──► payment_canceled_success    (absorbing)
	          └──► payment_canceled_error ──┬──► payment_canceled_success
	                                        ├──► payment_canceled_error
	                                        └──► no_action_needed

Update rejects any other change with ErrInvalidTransition, and records that
break the payment/error invariants with ErrInvalidRecord. Updating an order
the store does not track returns ErrRecordNotFound.

# Corruption

A store that cannot be parsed (wrong header, unknown status, bad timestamp,
malformed CSV, invalid BoltDB pages or undecodable values) is renamed to
<path>.corrupt-<timestamp> and the store starts empty. The run then
rediscovers all orders. Payments cancelled before the corruption no longer
show up as uncancelled, so they end as no_action_needed rather than being
cancelled twice.

# Usage

	store, err := storage.Open(storage.BackendCSV, "cancel_payments_progress.csv", logger)
	if err != nil {
		return err
	}
	defer store.Close()

	added, err := store.BulkInitialize([]string{"100001234", "100001235"})

	working, err := store.RecordsNeeding(types.StepMatchPayments)
	for _, rec := range working {
		// ...
		err = store.Update(rec.OrderID, types.StatusPaymentCanceledSuccess, paymentID, "")
	}

Stores are not safe for use by several processes at once. Within one
process all methods are safe for concurrent use.
*/
package storage
