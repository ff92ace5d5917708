package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
)

// CSVHeader is the header row of the progress file
var CSVHeader = []string{"order_id", "timestamp", "status", "payment_id", "error_message"}

// TimestampLayout is ISO 8601 with microseconds and zone offset
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// legacyTimestampLayout accepts zone-less timestamps written by older tooling
const legacyTimestampLayout = "2006-01-02T15:04:05.999999999"

// CSVStore implements Store as a CSV file with one row per order.
//
// The whole file is rewritten atomically on every write, which keeps exactly
// one row per order and makes each write all-or-nothing. The in-memory view
// only changes after the file has been replaced.
type CSVStore struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time

	// persist writes the full record set; replaced in tests
	persist func(rows []types.ProgressRecord) error

	mu      sync.Mutex
	records map[string]types.ProgressRecord
	order   []string
}

// NewCSVStore opens the progress file at path, creating it with a header row
// if it does not exist.
func NewCSVStore(path string, logger zerolog.Logger) (*CSVStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	s := &CSVStore{
		path:    path,
		logger:  logger.With().Str("store", "csv").Logger(),
		now:     now,
		records: make(map[string]types.ProgressRecord),
	}
	s.persist = s.writeFile

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.persist(nil); err != nil {
			return nil, fmt.Errorf("failed to create progress file: %w", err)
		}
		s.logger.Info().Str("path", path).Msg("Created progress file")
	}

	return s, nil
}

// Load re-reads the progress file. A corrupt file is moved aside and an
// empty store is returned; other read errors keep the current view.
func (s *CSVStore) Load() map[string]types.ProgressRecord {
	if err := s.load(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to re-read progress file, keeping current view")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// load replaces the in-memory view with the file contents. It only returns
// errors that are not corruption.
func (s *CSVStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, order, err := readCSV(s.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		records, order = make(map[string]types.ProgressRecord), nil
	case errors.Is(err, ErrCorrupt):
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Progress file is corrupt, treating as a fresh start")
		quarantine(s.path, s.now(), s.logger)
		records, order = make(map[string]types.ProgressRecord), nil
	default:
		return err
	}

	s.records = records
	s.order = order
	s.logger.Debug().Int("records", len(order)).Msg("Loaded progress file")
	return nil
}

// BulkInitialize adds fetched records for orders not yet in the file
func (s *CSVStore) BulkInitialize(orderIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	rows := s.rowsLocked()
	seen := make(map[string]bool, len(orderIDs))
	var added []string
	for _, id := range orderIDs {
		if id == "" {
			return 0, fmt.Errorf("%w: empty order id", ErrInvalidRecord)
		}
		if _, ok := s.records[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		added = append(added, id)
		rows = append(rows, newRecord(id, uint64(len(rows)+1), at))
	}

	if len(added) == 0 {
		return 0, nil
	}

	if err := s.persist(rows); err != nil {
		return 0, fmt.Errorf("bulk initialize: %w", err)
	}

	for _, r := range rows[len(s.order):] {
		s.records[r.OrderID] = r
	}
	s.order = append(s.order, added...)
	return len(added), nil
}

// Update overwrites the status of a tracked order and rewrites the file
func (s *CSVStore) Update(orderID string, status types.Status, paymentID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, orderID)
	}

	next, err := transition(cur, status, paymentID, errorMessage, s.now())
	if err != nil {
		return err
	}

	rows := s.rowsLocked()
	rows[cur.Seq-1] = next
	if err := s.persist(rows); err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}

	s.records[orderID] = next
	return nil
}

// RecordsNeeding returns records qualifying for step in file order
func (s *CSVStore) RecordsNeeding(step types.Step) ([]types.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.ProgressRecord
	for _, id := range s.order {
		if r := s.records[id]; step.Accepts(r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Counts returns the number of records per status
func (s *CSVStore) Counts() (map[types.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countByStatus(s.rowsLocked()), nil
}

// Import appends complete records, keeping their timestamps
func (s *CSVStore) Import(records []types.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rowsLocked()
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		if _, ok := s.records[r.OrderID]; ok || seen[r.OrderID] {
			return fmt.Errorf("%w: duplicate order %s", ErrInvalidRecord, r.OrderID)
		}
		seen[r.OrderID] = true
		r.Seq = uint64(len(rows) + 1)
		rows = append(rows, r)
	}

	if err := s.persist(rows); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	for _, r := range rows[len(s.order):] {
		s.records[r.OrderID] = r
		s.order = append(s.order, r.OrderID)
	}
	return nil
}

// Path returns the progress file location
func (s *CSVStore) Path() string {
	return s.path
}

// Close is a no-op; every write is already on disk
func (s *CSVStore) Close() error {
	return nil
}

// rowsLocked returns a copy of all records in file order
func (s *CSVStore) rowsLocked() []types.ProgressRecord {
	rows := make([]types.ProgressRecord, 0, len(s.order)+1)
	for _, id := range s.order {
		rows = append(rows, s.records[id])
	}
	return rows
}

func (s *CSVStore) snapshotLocked() map[string]types.ProgressRecord {
	out := make(map[string]types.ProgressRecord, len(s.records))
	for id, r := range s.records {
		out[id] = r
	}
	return out
}

func (s *CSVStore) writeFile(rows []types.ProgressRecord) error {
	return writeFileAtomic(s.path, func(w io.Writer) error {
		return encodeCSV(w, rows)
	})
}

// encodeCSV writes the header and one row per record
func encodeCSV(w io.Writer, rows []types.ProgressRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		row := []string{
			r.OrderID,
			r.LastUpdated.UTC().Format(TimestampLayout),
			string(r.Status),
			r.PaymentID,
			r.ErrorMessage,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// readCSV parses the progress file. Structural problems are reported as
// ErrCorrupt; a later row for the same order replaces the earlier one.
func readCSV(path string) (map[string]types.ProgressRecord, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return decodeCSV(f)
}

func decodeCSV(r io.Reader) (map[string]types.ProgressRecord, []string, error) {
	records := make(map[string]types.ProgressRecord)
	var order []string

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)

	header, err := cr.Read()
	if err == io.EOF {
		return records, order, nil
	}
	if err != nil {
		return nil, nil, readError(err)
	}
	if !slices.Equal(header, CSVHeader) {
		return nil, nil, fmt.Errorf("%w: unexpected header %q", ErrCorrupt, header)
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, readError(err)
		}

		line, _ := cr.FieldPos(0)
		rec, err := parseRow(row)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}

		if prev, ok := records[rec.OrderID]; ok {
			rec.Seq = prev.Seq
		} else {
			order = append(order, rec.OrderID)
			rec.Seq = uint64(len(order))
		}
		records[rec.OrderID] = rec
	}

	return records, order, nil
}

// readError marks CSV syntax errors as corruption and passes I/O errors through
func readError(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return err
}

func parseRow(row []string) (types.ProgressRecord, error) {
	status, err := types.ParseStatus(row[2])
	if err != nil {
		return types.ProgressRecord{}, err
	}
	ts, err := parseTimestamp(row[1])
	if err != nil {
		return types.ProgressRecord{}, err
	}

	rec := types.ProgressRecord{
		OrderID:      row[0],
		LastUpdated:  ts,
		Status:       status,
		PaymentID:    row[3],
		ErrorMessage: row[4],
	}
	if err := rec.Validate(); err != nil {
		return types.ProgressRecord{}, err
	}
	return rec, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation(legacyTimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts.UTC(), nil
}
