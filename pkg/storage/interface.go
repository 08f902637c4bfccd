package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jobscan/jobscan/pkg/models"
)

// ErrRecordNotFound is returned by UpdateRecord when no record has the given id.
var ErrRecordNotFound = errors.New("record not found")

// JobStore persists reconciled job records. Implementations must be safe for
// concurrent use; identity key serialization is the caller's concern.
type JobStore interface {
	// FindByIdentityKey returns every record stored under key. An empty result is not an error.
	FindByIdentityKey(ctx context.Context, key models.IdentityKey) ([]*models.JobRecord, error)

	// CreateRecord stores a new record. rec.ID must be set.
	CreateRecord(ctx context.Context, rec *models.JobRecord) error

	// UpdateRecord replaces the stored record with the same ID.
	// Returns an error wrapping ErrRecordNotFound when it does not exist.
	UpdateRecord(ctx context.Context, rec *models.JobRecord) error

	// Close releases the underlying connection or database files
	Close() error
}

// StoreAdmin handles administrative operations that not every backend supports
type StoreAdmin interface {
	// RecordCount returns the number of stored records
	RecordCount(ctx context.Context) (int, error)

	// ExportRecords writes every record to w as JSON lines and returns how many were written
	ExportRecords(ctx context.Context, w io.Writer) (int, error)
}

// GarbageCollector is implemented by stores that need periodic compaction.
type GarbageCollector interface {
	// RunGC runs periodic garbage collection until ctx is done. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)
}
