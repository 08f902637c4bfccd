package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

// MemoryStore keeps records in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.JobRecord
	byKey   map[models.IdentityKey][]string
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]models.JobRecord),
		byKey:   make(map[models.IdentityKey][]string),
	}
}

// FindByIdentityKey implements JobStore
func (s *MemoryStore) FindByIdentityKey(ctx context.Context, key models.IdentityKey) ([]*models.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrStorage, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byKey[key]
	out := make([]*models.JobRecord, 0, len(ids))
	for _, id := range ids {
		rec := s.records[id]
		out = append(out, &rec)
	}
	return out, nil
}

// CreateRecord implements JobStore
func (s *MemoryStore) CreateRecord(ctx context.Context, rec *models.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		return fmt.Errorf("%w: record has no id", utils.ErrStorage)
	}
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("%w: record '%s' already exists", utils.ErrStorage, rec.ID)
	}
	s.records[rec.ID] = *rec
	s.byKey[rec.IdentityKey] = append(s.byKey[rec.IdentityKey], rec.ID)
	return nil
}

// UpdateRecord implements JobStore
func (s *MemoryStore) UpdateRecord(ctx context.Context, rec *models.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrStorage, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: update record %s: %w", utils.ErrStorage, rec.ID, ErrRecordNotFound)
	}
	if prev.IdentityKey != rec.IdentityKey {
		ids := s.byKey[prev.IdentityKey]
		for i, id := range ids {
			if id == rec.ID {
				s.byKey[prev.IdentityKey] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
		s.byKey[rec.IdentityKey] = append(s.byKey[rec.IdentityKey], rec.ID)
	}
	s.records[rec.ID] = *rec
	return nil
}

// RecordCount implements StoreAdmin
func (s *MemoryStore) RecordCount(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Records returns a snapshot of all records ordered by creation time, then id.
func (s *MemoryStore) Records() []models.JobRecord {
	s.mu.RLock()
	out := make([]models.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ExportRecords implements StoreAdmin
func (s *MemoryStore) ExportRecords(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	written := 0
	for _, rec := range s.Records() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := enc.Encode(rec); err != nil {
			return written, fmt.Errorf("%w: writing record export: %w", utils.ErrFilesystem, err)
		}
		written++
	}
	return written, nil
}

// Close implements JobStore
func (s *MemoryStore) Close() error { return nil }
