package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/log"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

const (
	recordKeyPrefix = "job:" // job:<id> -> JSON JobRecord
	indexKeyPrefix  = "idx:" // idx:<identity key>:<id> -> empty
)

// BadgerStore implements JobStore using an embedded BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached record count for O(1) RecordCount
}

// NewBadgerStore opens (or creates) the record database at dbPath
func NewBadgerStore(dbPath string, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	logger.Infof("Initializing job record database at: %s", dbPath)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create database directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrStorage, dbPath, err)
	}

	count, err := store.countRecords()
	if err != nil {
		logger.Warnf("Failed to count existing records: %v", err)
	} else {
		store.keyCount.Store(int64(count))
		logger.Infof("Loaded existing record count: %d", count)
	}
	return store, nil
}

// countRecords performs a one-time key scan (used only during initialization).
func (s *BadgerStore) countRecords() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrStorage, maxConflictRetries)
}

func recordKey(id string) []byte { return []byte(recordKeyPrefix + id) }

func indexPrefix(key models.IdentityKey) []byte { return []byte(indexKeyPrefix + string(key) + ":") }

// FindByIdentityKey implements JobStore
func (s *BadgerStore) FindByIdentityKey(ctx context.Context, key models.IdentityKey) ([]*models.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrStorage, err)
	}
	var records []*models.JobRecord
	prefix := indexPrefix(key)

	errView := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id := string(it.Item().KeyCopy(nil)[len(prefix):])
			item, errGet := txn.Get(recordKey(id))
			if errors.Is(errGet, badger.ErrKeyNotFound) {
				s.log.Warnf("Index entry for identity key '%s' points to missing record '%s'", key, id)
				continue
			}
			if errGet != nil {
				return errGet
			}
			var rec models.JobRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return fmt.Errorf("%w: decoding record '%s' as JSON: %w", utils.ErrParsing, id, err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	if errView != nil {
		s.log.Errorf("DB View error in FindByIdentityKey for key '%s': %v", key, errView)
		return nil, fmt.Errorf("%w: finding identity key '%s': %w", utils.ErrStorage, key, errView)
	}
	return records, nil
}

// CreateRecord implements JobStore
func (s *BadgerStore) CreateRecord(ctx context.Context, rec *models.JobRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record has no id", utils.ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrStorage, err)
	}
	val, errJSON := json.Marshal(rec)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal JobRecord '%s' as JSON: %w", utils.ErrParsing, rec.ID, errJSON)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(recordKey(rec.ID))
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			isNew = true
		case errGet != nil:
			return errGet
		default:
			return fmt.Errorf("record '%s' already exists", rec.ID)
		}
		if err := txn.SetEntry(badger.NewEntry(recordKey(rec.ID), val)); err != nil {
			return err
		}
		idx := append(indexPrefix(rec.IdentityKey), rec.ID...)
		return txn.SetEntry(badger.NewEntry(idx, nil))
	})
	if err != nil {
		s.log.WithField("id", rec.ID).Errorf("DB Update error in CreateRecord: %v", err)
		return fmt.Errorf("%w: creating record '%s': %w", utils.ErrStorage, rec.ID, err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// UpdateRecord implements JobStore. The identity key index is rewritten when
// the key of the stored record differs.
func (s *BadgerStore) UpdateRecord(ctx context.Context, rec *models.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrStorage, err)
	}
	val, errJSON := json.Marshal(rec)
	if errJSON != nil {
		return fmt.Errorf("%w: failed to marshal JobRecord '%s' as JSON: %w", utils.ErrParsing, rec.ID, errJSON)
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		item, errGet := txn.Get(recordKey(rec.ID))
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return ErrRecordNotFound
		}
		if errGet != nil {
			return errGet
		}
		var prev models.JobRecord
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &prev) }); err == nil && prev.IdentityKey != rec.IdentityKey {
			if err := txn.Delete(append(indexPrefix(prev.IdentityKey), rec.ID...)); err != nil {
				return err
			}
			if err := txn.SetEntry(badger.NewEntry(append(indexPrefix(rec.IdentityKey), rec.ID...), nil)); err != nil {
				return err
			}
		}
		return txn.SetEntry(badger.NewEntry(recordKey(rec.ID), val))
	})
	if err != nil {
		s.log.WithField("id", rec.ID).Errorf("DB Update error in UpdateRecord: %v", err)
		return fmt.Errorf("%w: updating record '%s': %w", utils.ErrStorage, rec.ID, err)
	}
	return nil
}

// RecordCount implements StoreAdmin.
// Returns the cached record count maintained by atomic increments on creates.
func (s *BadgerStore) RecordCount(context.Context) (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			s.log.Debug("Running BadgerDB value log garbage collection...")
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// ExportRecords implements StoreAdmin
func (s *BadgerStore) ExportRecords(ctx context.Context, w io.Writer) (int, error) {
	writer := bufio.NewWriter(w)
	var writeErr error
	written := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				s.log.Warnf("Record export interrupted by context cancellation: %v", ctx.Err())
				return ctx.Err()
			default:
			}

			errValue := it.Item().Value(func(val []byte) error {
				if _, err := writer.Write(val); err != nil {
					return err
				}
				return writer.WriteByte('\n')
			})
			if errValue != nil {
				writeErr = errValue
				return errValue
			}
			written++
			if written%5000 == 0 {
				if err := writer.Flush(); err != nil {
					writeErr = err
					return err
				}
			}
		}
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if errors.Is(iterErr, context.Canceled) || errors.Is(iterErr, context.DeadlineExceeded) {
		return written, iterErr
	}
	if writeErr != nil {
		return written, fmt.Errorf("%w: writing record export: %w", utils.ErrFilesystem, writeErr)
	}
	if iterErr != nil {
		return written, fmt.Errorf("%w: iterating records: %w", utils.ErrStorage, iterErr)
	}
	s.log.Infof("Exported %d records", written)
	return written, nil
}

// Close implements JobStore
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing job record DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing job record DB: %v", err)
			return err
		}
		s.log.Info("Job record DB closed.")
		return nil
	}
	s.log.Debug("Job record DB already closed or was not initialized.")
	return nil
}
