package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingTimeout     = 5 * time.Second
)

const createJobsTable = `
	CREATE TABLE IF NOT EXISTS jobs (
		id             TEXT PRIMARY KEY,
		identity_key   TEXT NOT NULL,
		source_id      TEXT NOT NULL,
		content_digest TEXT NOT NULL,
		record         JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS jobs_identity_key_idx ON jobs (identity_key);`

// PostgresStore implements JobStore on a PostgreSQL "jobs" table. The full
// record is kept as JSONB next to the columns used for lookups.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewPostgresStore connects to dsn, verifies the connection and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Entry) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", utils.ErrStorage, err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", utils.ErrStorage, pingErr)
	}

	store := NewPostgresStoreFromDB(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Connected to PostgreSQL job store")
	return store, nil
}

// NewPostgresStoreFromDB wraps an open connection pool
func NewPostgresStoreFromDB(db *sql.DB, logger *logrus.Entry) *PostgresStore {
	return &PostgresStore{db: db, log: logger}
}

// EnsureSchema creates the jobs table when it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("%w: ensure schema: %w", utils.ErrStorage, err)
	}
	return nil
}

// FindByIdentityKey implements JobStore
func (s *PostgresStore) FindByIdentityKey(ctx context.Context, key models.IdentityKey) ([]*models.JobRecord, error) {
	query := `SELECT record FROM jobs WHERE identity_key = $1 ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, string(key))
	if err != nil {
		return nil, fmt.Errorf("%w: find by identity key: %w", utils.ErrStorage, err)
	}
	defer rows.Close()

	var records []*models.JobRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: scan record: %w", utils.ErrStorage, err)
		}
		var rec models.JobRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: decoding stored record as JSON: %w", utils.ErrParsing, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %w", utils.ErrStorage, err)
	}
	return records, nil
}

// CreateRecord implements JobStore
func (s *PostgresStore) CreateRecord(ctx context.Context, rec *models.JobRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal JobRecord as JSON: %w", utils.ErrParsing, err)
	}
	query := `
		INSERT INTO jobs (id, identity_key, source_id, content_digest, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, string(rec.IdentityKey), rec.SourceID, rec.ContentDigest, raw, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: create record %s: %w", utils.ErrStorage, rec.ID, err)
	}
	return nil
}

// UpdateRecord implements JobStore
func (s *PostgresStore) UpdateRecord(ctx context.Context, rec *models.JobRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal JobRecord as JSON: %w", utils.ErrParsing, err)
	}
	query := `
		UPDATE jobs
		SET identity_key = $2,
		    content_digest = $3,
		    record = $4,
		    updated_at = $5
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, rec.ID, string(rec.IdentityKey), rec.ContentDigest, raw, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: update record %s: %w", utils.ErrStorage, rec.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: get affected rows: %w", utils.ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: update record %s: %w", utils.ErrStorage, rec.ID, ErrRecordNotFound)
	}
	return nil
}

// RecordCount implements StoreAdmin
func (s *PostgresStore) RecordCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count records: %w", utils.ErrStorage, err)
	}
	return count, nil
}

// ExportRecords implements StoreAdmin
func (s *PostgresStore) ExportRecords(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return 0, fmt.Errorf("%w: export records: %w", utils.ErrStorage, err)
	}
	defer rows.Close()

	written := 0
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return written, fmt.Errorf("%w: scan record: %w", utils.ErrStorage, err)
		}
		if _, err := w.Write(append(raw, '\n')); err != nil {
			return written, fmt.Errorf("%w: writing record export: %w", utils.ErrFilesystem, err)
		}
		written++
	}
	if err := rows.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return written, fmt.Errorf("%w: iterate records: %w", utils.ErrStorage, err)
	}
	return written, nil
}

// Close implements JobStore
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
