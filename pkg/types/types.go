package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Status is the processing state of one order in the progress store
type Status string

const (
	// StatusFetched marks an order discovered in the order database and not yet handled
	StatusFetched Status = "fetched"
	// StatusNoActionNeeded marks an order with no outstanding payment
	StatusNoActionNeeded Status = "no_action_needed"
	// StatusPaymentCanceledSuccess marks an order whose payment was cancelled
	StatusPaymentCanceledSuccess Status = "payment_canceled_success"
	// StatusPaymentCanceledError marks an order whose cancellation failed; retried on the next run
	StatusPaymentCanceledError Status = "payment_canceled_error"
)

// AllStatuses lists every status in pipeline order
var AllStatuses = []Status{
	StatusFetched,
	StatusNoActionNeeded,
	StatusPaymentCanceledSuccess,
	StatusPaymentCanceledError,
}

// ParseStatus converts a persisted status name into a Status
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusFetched, StatusNoActionNeeded, StatusPaymentCanceledSuccess, StatusPaymentCanceledError:
		return true
	}
	return false
}

// IsTerminal reports whether the order is finished for good
func (s Status) IsTerminal() bool {
	return s == StatusNoActionNeeded || s == StatusPaymentCanceledSuccess
}

// IsRetryable reports whether a previous attempt failed and may be repeated
func (s Status) IsRetryable() bool {
	return s == StatusPaymentCanceledError
}

// RequiresPayment reports whether records in this status must carry a payment ID
func (s Status) RequiresPayment() bool {
	return s == StatusPaymentCanceledSuccess || s == StatusPaymentCanceledError
}

// CanTransitionTo reports whether moving from s to next is allowed.
// no_action_needed and payment_canceled_success are absorbing.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() || next == StatusFetched {
		return false
	}
	switch s {
	case StatusFetched, StatusPaymentCanceledError:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Step identifies a pipeline step that selects records from the progress store
type Step int

const (
	// StepMatchPayments selects the working set: fresh and previously failed orders
	StepMatchPayments Step = iota
	// StepRetryFailed selects only previously failed orders
	StepRetryFailed
)

// Accepts reports whether a record in status qualifies for the step
func (st Step) Accepts(status Status) bool {
	switch st {
	case StepMatchPayments:
		return status == StatusFetched || status == StatusPaymentCanceledError
	case StepRetryFailed:
		return status == StatusPaymentCanceledError
	}
	return false
}

func (st Step) String() string {
	switch st {
	case StepMatchPayments:
		return "match-payments"
	case StepRetryFailed:
		return "retry-failed"
	}
	return fmt.Sprintf("step(%d)", int(st))
}

// ProgressRecord is the persisted processing state of one order
type ProgressRecord struct {
	OrderID      string    `json:"order_id"`
	Status       Status    `json:"status"`
	PaymentID    string    `json:"payment_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
	Seq          uint64    `json:"seq"`
}

// Validate checks the record invariants
func (r ProgressRecord) Validate() error {
	if r.OrderID == "" {
		return errors.New("empty order id")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("order %s: unknown status %q", r.OrderID, r.Status)
	}
	if r.Status.RequiresPayment() && r.PaymentID == "" {
		return fmt.Errorf("order %s: status %s requires a payment id", r.OrderID, r.Status)
	}
	if !r.Status.RequiresPayment() && r.PaymentID != "" {
		return fmt.Errorf("order %s: status %s must not carry a payment id", r.OrderID, r.Status)
	}
	if r.Status == StatusPaymentCanceledError && r.ErrorMessage == "" {
		return fmt.Errorf("order %s: error status requires an error message", r.OrderID)
	}
	if r.Status != StatusPaymentCanceledError && r.ErrorMessage != "" {
		return fmt.Errorf("order %s: error message set on status %s", r.OrderID, r.Status)
	}
	return nil
}

// DateRange is the inclusive creation-date window of orders to reconcile
type DateRange struct {
	From time.Time
	To   time.Time
}

// DateLayout is the format of configured dates
const DateLayout = "2006-01-02"

// ParseDateRange parses two YYYY-MM-DD dates
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid date_from %q (expected YYYY-MM-DD): %w", from, err)
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid date_to %q (expected YYYY-MM-DD): %w", to, err)
	}
	if t.Before(f) {
		return DateRange{}, fmt.Errorf("date_to %s is before date_from %s", to, from)
	}
	return DateRange{From: f, To: t}, nil
}

// EndExclusive returns midnight after the last included day
func (d DateRange) EndExclusive() time.Time {
	return d.To.AddDate(0, 0, 1)
}

func (d DateRange) String() string {
	return d.From.Format(DateLayout) + ".." + d.To.Format(DateLayout)
}

// PaymentMatch is the uncancelled payment chosen for an order. Others holds
// the order's remaining uncancelled payments, highest first; they are
// cancelled on later runs.
type PaymentMatch struct {
	PaymentID string
	Others    []string
}

// CancelOutcome tags the result of a cancellation call
type CancelOutcome string

const (
	CancelSucceeded CancelOutcome = "success"
	CancelFailed    CancelOutcome = "failure"
)

// CancelResult is the tagged outcome of one cancellation call
type CancelResult struct {
	Outcome    CancelOutcome
	Detail     string
	StatusCode int // 0 when no HTTP response was received
}

// CancelSuccess builds a successful result
func CancelSuccess(statusCode int) CancelResult {
	return CancelResult{Outcome: CancelSucceeded, StatusCode: statusCode}
}

// CancelFailure builds a failed result with a human-readable detail
func CancelFailure(statusCode int, detail string) CancelResult {
	if detail == "" {
		detail = "unknown error"
	}
	return CancelResult{Outcome: CancelFailed, Detail: detail, StatusCode: statusCode}
}

// OK reports whether the payment was cancelled
func (r CancelResult) OK() bool {
	return r.Outcome == CancelSucceeded
}

// AuthFailure reports whether the API rejected our credentials
func (r CancelResult) AuthFailure() bool {
	return r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden
}
