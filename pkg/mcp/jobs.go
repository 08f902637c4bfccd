package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobscan/jobscan/pkg/models"
)

// AllSources is the job target of a full scan
const AllSources = "*"

// JobStatus represents the current state of a scan job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a background scan job
type Job struct {
	ID           string              `json:"id"`
	SourceID     string              `json:"source_id"` // AllSources for a full scan
	Status       JobStatus           `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Outcome      *models.ScanOutcome `json:"outcome,omitempty"`
	Report       *models.ScanReport  `json:"report,omitempty"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

func (j *Job) active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// JobManager manages background scan jobs. At most one job per target is active.
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	bySource map[string]string // target -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:     make(map[string]*Job),
		bySource: make(map[string]string),
	}
}

// CreateJob creates a new job for a target, or returns the active one.
// The boolean reports whether the job is new.
func (m *JobManager) CreateJob(sourceID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingJobID, exists := m.bySource[sourceID]; exists {
		if existing := m.jobs[existingJobID]; existing != nil && existing.active() {
			snapshot := *existing
			return &snapshot, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.jobs[job.ID] = job
	m.bySource[sourceID] = job.ID

	snapshot := *job
	return &snapshot, true
}

// GetJob returns a snapshot of a job by ID, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

// IsRunning checks if a job is currently active for a target
func (m *JobManager) IsRunning(sourceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bySource[sourceID]; exists {
		job := m.jobs[jobID]
		return job != nil && job.active()
	}
	return false
}

// UpdateStatus updates the status of a job. Finished jobs keep their status.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || !job.active() {
		return
	}
	job.Status = status
	if !job.active() {
		job.CompletedAt = time.Now()
		delete(m.bySource, job.SourceID)
		job.cancel()
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// SetOutcome attaches a single-source result and completes the job
func (m *JobManager) SetOutcome(jobID string, outcome *models.ScanOutcome) {
	m.mu.Lock()
	if job, exists := m.jobs[jobID]; exists {
		job.Outcome = outcome
	}
	m.mu.Unlock()
	m.UpdateStatus(jobID, JobStatusCompleted, "")
}

// SetReport attaches a full scan result and completes the job
func (m *JobManager) SetReport(jobID string, report *models.ScanReport) {
	m.mu.Lock()
	if job, exists := m.jobs[jobID]; exists {
		job.Report = report
	}
	m.mu.Unlock()
	m.UpdateStatus(jobID, JobStatusCompleted, "")
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.active() {
		job.cancel()
		job.Status = JobStatusCancelled
		job.CompletedAt = time.Now()
		delete(m.bySource, job.SourceID)
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.bySource = make(map[string]string)
}

// ListJobs returns snapshots of all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	return jobs
}

// GetContext returns the context for a job, cancelled when the job ends
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
