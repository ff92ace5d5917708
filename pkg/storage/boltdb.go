package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cuemby/payrecon/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var (
	// Bucket names
	bucketProgress = []byte("progress")
)

// openTimeout bounds how long Open waits for the file lock held by another process
const openTimeout = 2 * time.Second

// BoltStore implements Store using BoltDB. Each write is one committed
// transaction, which bbolt fsyncs before returning.
type BoltStore struct {
	db     *bolt.DB
	path   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(path string, logger zerolog.Logger) (*BoltStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	s := &BoltStore{
		path:   path,
		logger: logger.With().Str("store", "bolt").Logger(),
		now:    now,
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	if _, err := s.records(); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) open() error {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: openTimeout})
	if isBoltCorruption(err) {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Progress database is corrupt, treating as a fresh start")
		quarantine(s.path, s.now(), s.logger)
		db, err = bolt.Open(s.path, 0600, &bolt.Options{Timeout: openTimeout})
	}
	if errors.Is(err, berrors.ErrTimeout) {
		return fmt.Errorf("progress database %s is locked by another process: %w", s.path, err)
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketProgress); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketProgress, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}

	s.db = db
	return nil
}

func isBoltCorruption(err error) bool {
	return errors.Is(err, berrors.ErrInvalid) ||
		errors.Is(err, berrors.ErrChecksum) ||
		errors.Is(err, berrors.ErrVersionMismatch) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Load reads every record. Undecodable values mark the database as corrupt:
// it is moved aside, recreated empty, and an empty map is returned.
func (s *BoltStore) Load() map[string]types.ProgressRecord {
	records, err := s.records()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read progress database")
		return map[string]types.ProgressRecord{}
	}

	out := make(map[string]types.ProgressRecord, len(records))
	for _, r := range records {
		out[r.OrderID] = r
	}
	return out
}

// records lists all records, replacing a corrupt database with an empty one
func (s *BoltStore) records() ([]types.ProgressRecord, error) {
	records, err := s.list()
	if !errors.Is(err, ErrCorrupt) {
		return records, err
	}

	s.logger.Warn().Err(err).Str("path", s.path).Msg("Progress database is corrupt, treating as a fresh start")
	if err := s.reset(); err != nil {
		return nil, fmt.Errorf("failed to recreate progress database: %w", err)
	}
	return nil, nil
}

// reset replaces a corrupt database with an empty one
func (s *BoltStore) reset() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	quarantine(s.path, s.now(), s.logger)
	return s.open()
}

// BulkInitialize adds fetched records in a single transaction
func (s *BoltStore) BulkInitialize(orderIDs []string) (int, error) {
	at := s.now()
	added := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		for _, id := range orderIDs {
			if id == "" {
				return fmt.Errorf("%w: empty order id", ErrInvalidRecord)
			}
			if b.Get([]byte(id)) != nil {
				continue
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := putRecord(b, newRecord(id, seq, at)); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk initialize: %w", err)
	}
	return added, nil
}

// Update overwrites the status of a tracked order
func (s *BoltStore) Update(orderID string, status types.Status, paymentID, errorMessage string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		data := b.Get([]byte(orderID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, orderID)
		}

		var cur types.ProgressRecord
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("%w: order %s: %v", ErrCorrupt, orderID, err)
		}

		next, err := transition(cur, status, paymentID, errorMessage, s.now())
		if err != nil {
			return err
		}
		return putRecord(b, next)
	})
}

// RecordsNeeding returns records qualifying for step in discovery order
func (s *BoltStore) RecordsNeeding(step types.Step) ([]types.ProgressRecord, error) {
	records, err := s.records()
	if err != nil {
		return nil, err
	}

	var out []types.ProgressRecord
	for _, r := range records {
		if step.Accepts(r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Counts returns the number of records per status
func (s *BoltStore) Counts() (map[types.Status]int, error) {
	records, err := s.records()
	if err != nil {
		return nil, err
	}
	return countByStatus(records), nil
}

// Import writes complete records in a single transaction
func (s *BoltStore) Import(records []types.ProgressRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		for _, r := range records {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
			}
			if b.Get([]byte(r.OrderID)) != nil {
				return fmt.Errorf("%w: duplicate order %s", ErrInvalidRecord, r.OrderID)
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			r.Seq = seq
			if err := putRecord(b, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// Path returns the database file location
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// list returns all records sorted by discovery order
func (s *BoltStore) list() ([]types.ProgressRecord, error) {
	var records []types.ProgressRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		records, err = readBucket(tx)
		return err
	})
	return records, err
}

// readBucket decodes the progress bucket, sorted by discovery order. A
// missing bucket reads as empty.
func readBucket(tx *bolt.Tx) ([]types.ProgressRecord, error) {
	b := tx.Bucket(bucketProgress)
	if b == nil {
		return nil, nil
	}

	var records []types.ProgressRecord
	err := b.ForEach(func(k, v []byte) error {
		var r types.ProgressRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("%w: key %s: %v", ErrCorrupt, k, err)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: key %s: %v", ErrCorrupt, k, err)
		}
		if r.OrderID != string(k) {
			return fmt.Errorf("%w: key %s holds order %s", ErrCorrupt, k, r.OrderID)
		}
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

// readBoltFile reads a database without writing to it
func readBoltFile(path string) ([]types.ProgressRecord, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true, Timeout: openTimeout})
	if isBoltCorruption(err) {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if errors.Is(err, berrors.ErrTimeout) {
		return nil, fmt.Errorf("progress database %s is locked by another process: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var records []types.ProgressRecord
	err = db.View(func(tx *bolt.Tx) error {
		var err error
		records, err = readBucket(tx)
		return err
	})
	return records, err
}

func putRecord(b *bolt.Bucket, r types.ProgressRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.Put([]byte(r.OrderID), data)
}
