/*
Package reconciler cancels the payments left behind by cancelled orders.

An order cancelled in the shop can keep a captured payment in the payment
system when it was paid more than once. The reconciler finds those orders,
looks up their uncancelled payment and asks the payment API to cancel it.
Every outcome is written to the progress store before the next order is
touched, so a run can stop at any point and the next run continues from
there.

# Pipeline

One run is four steps executed in order:

	┌──────────────────────────────────────────────────────────────┐
	│ 1. Discover                                                  │
	│    OrderSource.FetchCancelledOrders(range)                   │
	│    Store.BulkInitialize(ids)        new orders -> fetched    │
	└──────────────────────────────┬───────────────────────────────┘
	                               ▼
	┌──────────────────────────────────────────────────────────────┐
	│ 2. Filter                                                    │
	│    Store.RecordsNeeding(StepMatchPayments)                   │
	│    working set = fetched + payment_canceled_error            │
	└──────────────────────────────┬───────────────────────────────┘
	                               ▼
	┌──────────────────────────────────────────────────────────────┐
	│ 3. Match                                                     │
	│    PaymentSource.FetchNonCanceledPayments(working set)       │
	│    no payment -> no_action_needed                            │
	└──────────────────────────────┬───────────────────────────────┘
	                               ▼
	┌──────────────────────────────────────────────────────────────┐
	│ 4. Cancel (sequential)                                       │
	│    for each (order, payment):                                │
	│        Canceller.Cancel(payment)                             │
	│        Store.Update(order, success | error)                  │
	└──────────────────────────────────────────────────────────────┘

Orders that reached no_action_needed or payment_canceled_success are never
selected again, which is what prevents a payment from being cancelled twice.
Orders in payment_canceled_error are retried on every run until they reach
one of the other states.

# Failure Handling

  - Order or payment database unavailable: the run stops with a
    *types.ComponentError naming the database. Orders already discovered
    stay tracked.
  - Cancellation failed (non-2xx, timeout, transport error): recorded as
    payment_canceled_error with the detail, and the run continues.
  - 401 or 403 from the API: recorded like any failure, then the run stops
    with an api-auth ComponentError.
  - Progress store write failed: logged and counted in
    Summary.StoreWriteFailures. The order keeps its previous state and is
    picked up again next run.
  - Context cancelled: the order being processed finishes its API call and
    store write, then Run returns ctx.Err() with Summary.Interrupted set.

# Usage

	r := reconciler.New(reconciler.Options{
		Store:     store,
		Orders:    orderSource,
		Payments:  paymentSource,
		Canceller: cancellation.NewClient(cfg.Cancellation(), logger),
		Logger:    log.WithComponent("reconciler"),
	})

	summary, err := r.Run(ctx, dateRange)
	summary.Render(os.Stdout)

Run is not safe for concurrent use against the same store.
*/
package reconciler
