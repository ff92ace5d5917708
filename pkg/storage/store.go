package storage

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrRecordNotFound is returned when updating an order the store does not track
	ErrRecordNotFound = errors.New("progress record not found")
	// ErrInvalidTransition is returned when a status change violates the state machine
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidRecord is returned when a write would break a record invariant
	ErrInvalidRecord = errors.New("invalid progress record")
	// ErrCorrupt marks a persisted store that cannot be parsed. It never escapes Load.
	ErrCorrupt = errors.New("progress store is corrupt")
)

// Store defines the interface for the durable per-order progress log.
// Implementations are used by a single process at a time.
type Store interface {
	// Load re-reads the persisted records. A corrupt medium is moved aside,
	// logged as a warning and reported as an empty store.
	Load() map[string]types.ProgressRecord

	// BulkInitialize adds a fetched record for every order not yet tracked and
	// returns how many were added. All new records are persisted or none are.
	BulkInitialize(orderIDs []string) (int, error)

	// Update overwrites the status of a tracked order. The change is durable
	// when Update returns nil.
	Update(orderID string, status types.Status, paymentID, errorMessage string) error

	// RecordsNeeding returns the records a step works on, in discovery order
	RecordsNeeding(step types.Step) ([]types.ProgressRecord, error)

	// Counts returns the number of records per status
	Counts() (map[types.Status]int, error)

	// Import bulk-writes complete records into an empty or disjoint store
	Import(records []types.ProgressRecord) error

	// Path returns the location of the persisted medium
	Path() string

	Close() error
}

// Backend selects the persisted medium of a Store
type Backend string

const (
	BackendCSV  Backend = "csv"
	BackendBolt Backend = "bolt"
)

// ParseBackend validates a configured backend name
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendCSV, BackendBolt:
		return b, nil
	case "":
		return BackendCSV, nil
	}
	return "", fmt.Errorf("unknown progress store backend %q (want csv or bolt)", s)
}

// Open opens the store at path with the given backend
func Open(backend Backend, path string, logger zerolog.Logger) (Store, error) {
	switch backend {
	case BackendCSV, "":
		return NewCSVStore(path, logger)
	case BackendBolt:
		return NewBoltStore(path, logger)
	}
	return nil, fmt.Errorf("unknown progress store backend %q", backend)
}

// now returns the current time at the precision the stores persist
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// transition builds the record that results from moving cur to status
func transition(cur types.ProgressRecord, status types.Status, paymentID, errorMessage string, at time.Time) (types.ProgressRecord, error) {
	if !cur.Status.CanTransitionTo(status) {
		return types.ProgressRecord{}, fmt.Errorf("%w: order %s: %s -> %s", ErrInvalidTransition, cur.OrderID, cur.Status, status)
	}

	next := cur
	next.Status = status
	next.PaymentID = paymentID
	next.ErrorMessage = errorMessage
	next.LastUpdated = at
	if err := next.Validate(); err != nil {
		return types.ProgressRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return next, nil
}

// newRecord builds the fetched record created on discovery
func newRecord(orderID string, seq uint64, at time.Time) types.ProgressRecord {
	return types.ProgressRecord{
		OrderID:     orderID,
		Status:      types.StatusFetched,
		LastUpdated: at,
		Seq:         seq,
	}
}

// countByStatus tallies records per status
func countByStatus(records []types.ProgressRecord) map[types.Status]int {
	counts := make(map[types.Status]int, len(types.AllStatuses))
	for _, r := range records {
		counts[r.Status]++
	}
	return counts
}

// ReadRecords returns the records of the store at path in discovery order
// without modifying it. Unlike Open, a corrupt store is left in place and
// reported as ErrCorrupt, and a missing file is an error.
func ReadRecords(backend Backend, path string) ([]types.ProgressRecord, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	switch backend {
	case BackendCSV, "":
		records, order, err := readCSV(path)
		if err != nil {
			return nil, err
		}
		out := make([]types.ProgressRecord, 0, len(order))
		for _, id := range order {
			out = append(out, records[id])
		}
		return out, nil
	case BackendBolt:
		return readBoltFile(path)
	}
	return nil, fmt.Errorf("unknown progress store backend %q", backend)
}
