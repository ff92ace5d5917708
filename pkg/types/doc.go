/*
Package types defines the domain model shared by every payrecon package.

# Progress records

A ProgressRecord is the persisted state of one cancelled order. Its Status
moves through a small state machine:

	                 ┌──────────────────────────┐
	                 │         fetched          │  created on discovery
	                 └────────────┬─────────────┘
	          ┌───────────────────┼─────────────────────┐
	          ▼                   ▼                     ▼
	  no_action_needed   payment_canceled_success   payment_canceled_error
	     (absorbing)          (absorbing)            (retried next run)

no_action_needed and payment_canceled_success are never left again. An order
in payment_canceled_error re-enters the working set on the next run and may
move to any of the three outcome states.

Record invariants (checked by ProgressRecord.Validate):
  - ErrorMessage is set if and only if Status is payment_canceled_error
  - PaymentID is set if and only if Status is one of the payment_canceled_* states
  - Seq is the discovery order used to keep reprocessing deterministic

# Steps

Step selects the records a pipeline step works on. StepMatchPayments yields
the working set (fetched plus payment_canceled_error); StepRetryFailed yields
only the previously failed orders.

# Errors

ComponentError tags fatal errors with the component that failed (config,
order-db, payment-db, api-auth, progress-store) so the CLI can report it.
*/
package types
