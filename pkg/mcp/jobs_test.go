package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobscan/jobscan/pkg/models"
)

func createTestJob(t *testing.T, jm *JobManager, sourceID string) *Job {
	t.Helper()
	job, created := jm.CreateJob(sourceID)
	require.NotNil(t, job)
	require.True(t, created)
	return job
}

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()
	require.NotNil(t, jm)
	assert.Empty(t, jm.ListJobs())
}

func TestCreateJob(t *testing.T) {
	t.Run("new job fields correct", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "ssc", job.SourceID)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		assert.True(t, job.CompletedAt.IsZero())
		assert.Nil(t, job.Outcome)
		assert.Nil(t, job.Report)
		assert.Empty(t, job.ErrorMessage)
	})

	t.Run("duplicate active target returns same job", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, "ssc")
		job2, created := jm.CreateJob("ssc")
		assert.False(t, created)
		assert.Equal(t, job1.ID, job2.ID)
	})

	t.Run("new job allowed after completion", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, "ssc")
		jm.UpdateStatus(job1.ID, JobStatusCompleted, "")

		job2 := createTestJob(t, jm, "ssc")
		assert.NotEqual(t, job1.ID, job2.ID)
	})

	t.Run("full scan and single source independent", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, AllSources)
		job2 := createTestJob(t, jm, "ssc")
		assert.NotEqual(t, job1.ID, job2.ID)
	})
}

func TestGetJob(t *testing.T) {
	jm := NewJobManager()

	t.Run("exists returns job", func(t *testing.T) {
		job := createTestJob(t, jm, "ssc")
		got := jm.GetJob(job.ID)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
	})

	t.Run("missing returns nil", func(t *testing.T) {
		assert.Nil(t, jm.GetJob("nonexistent-id"))
	})

	t.Run("snapshot is detached", func(t *testing.T) {
		job := createTestJob(t, jm, "upsc")
		got := jm.GetJob(job.ID)
		got.Status = JobStatusFailed
		assert.Equal(t, JobStatusPending, jm.GetJob(job.ID).Status)
	})
}

func TestIsRunning(t *testing.T) {
	jm := NewJobManager()

	t.Run("true for pending", func(t *testing.T) {
		createTestJob(t, jm, "pending-source")
		assert.True(t, jm.IsRunning("pending-source"))
	})

	t.Run("true for running", func(t *testing.T) {
		job := createTestJob(t, jm, "running-source")
		jm.UpdateStatus(job.ID, JobStatusRunning, "")
		assert.True(t, jm.IsRunning("running-source"))
	})

	t.Run("false for completed", func(t *testing.T) {
		job := createTestJob(t, jm, "completed-source")
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.False(t, jm.IsRunning("completed-source"))
	})

	t.Run("false for failed", func(t *testing.T) {
		job := createTestJob(t, jm, "failed-source")
		jm.UpdateStatus(job.ID, JobStatusFailed, "something broke")
		assert.False(t, jm.IsRunning("failed-source"))
	})

	t.Run("false for cancelled", func(t *testing.T) {
		job := createTestJob(t, jm, "cancelled-source")
		jm.CancelJob(job.ID)
		assert.False(t, jm.IsRunning("cancelled-source"))
	})

	t.Run("false for nonexistent", func(t *testing.T) {
		assert.False(t, jm.IsRunning("ghost"))
	})
}

func TestUpdateStatus(t *testing.T) {
	t.Run("to running", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		jm.UpdateStatus(job.ID, JobStatusRunning, "")
		assert.Equal(t, JobStatusRunning, jm.GetJob(job.ID).Status)
	})

	t.Run("to completed sets CompletedAt and releases the job context", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		ctx := jm.GetContext(job.ID)
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCompleted, got.Status)
		assert.False(t, got.CompletedAt.IsZero())
		assert.False(t, jm.IsRunning("ssc"))
		assert.Error(t, ctx.Err())
	})

	t.Run("to failed sets ErrorMessage", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		jm.UpdateStatus(job.ID, JobStatusFailed, "unknown or disabled source")

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusFailed, got.Status)
		assert.Equal(t, "unknown or disabled source", got.ErrorMessage)
		assert.False(t, got.CompletedAt.IsZero())
	})

	t.Run("cancelled job stays cancelled", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		jm.CancelJob(job.ID)
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.Equal(t, JobStatusCancelled, jm.GetJob(job.ID).Status)
	})

	t.Run("nonexistent is no-op", func(t *testing.T) {
		jm := NewJobManager()
		// Should not panic
		jm.UpdateStatus("fake-id", JobStatusRunning, "")
	})
}

func TestSetResults(t *testing.T) {
	t.Run("outcome completes the job", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		outcome := models.NewScanOutcome("ssc", job.StartedAt)
		outcome.Created = 3
		jm.SetOutcome(job.ID, outcome)

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCompleted, got.Status)
		require.NotNil(t, got.Outcome)
		assert.Equal(t, 3, got.Outcome.Created)
	})

	t.Run("report completes the job", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, AllSources)
		jm.SetReport(job.ID, models.NewScanReport(job.StartedAt))

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCompleted, got.Status)
		assert.NotNil(t, got.Report)
	})
}

func TestCancelJob(t *testing.T) {
	t.Run("running job cancelled", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		jm.UpdateStatus(job.ID, JobStatusRunning, "")

		assert.True(t, jm.CancelJob(job.ID))

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCancelled, got.Status)
		assert.False(t, got.CompletedAt.IsZero())

		// Context should be done
		assert.Error(t, jm.GetContext(job.ID).Err())
	})

	t.Run("completed job not cancellable", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.False(t, jm.CancelJob(job.ID))
	})

	t.Run("nonexistent returns false", func(t *testing.T) {
		jm := NewJobManager()
		assert.False(t, jm.CancelJob("nope"))
	})
}

func TestCancelAll(t *testing.T) {
	jm := NewJobManager()
	job1 := createTestJob(t, jm, "source-a")
	job2 := createTestJob(t, jm, AllSources)
	job3 := createTestJob(t, jm, "source-c")
	jm.UpdateStatus(job3.ID, JobStatusCompleted, "")

	jm.CancelAll()

	assert.Equal(t, JobStatusCancelled, jm.GetJob(job1.ID).Status)
	assert.Equal(t, JobStatusCancelled, jm.GetJob(job2.ID).Status)
	assert.Equal(t, JobStatusCompleted, jm.GetJob(job3.ID).Status) // completed stays completed

	// New jobs allowed for cancelled targets
	newJob, created := jm.CreateJob("source-a")
	assert.True(t, created)
	assert.NotEqual(t, job1.ID, newJob.ID)
}

func TestListJobs(t *testing.T) {
	jm := NewJobManager()
	job1 := createTestJob(t, jm, "a")
	job2 := createTestJob(t, jm, "b")
	job3 := createTestJob(t, jm, "c")

	jobs := jm.ListJobs()
	assert.Len(t, jobs, 3)

	// Order-independent: collect IDs into a set
	ids := make(map[string]bool)
	for _, j := range jobs {
		ids[j.ID] = true
	}
	assert.True(t, ids[job1.ID])
	assert.True(t, ids[job2.ID])
	assert.True(t, ids[job3.ID])
}

func TestGetContext(t *testing.T) {
	t.Run("valid job returns non-cancelled context", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, "ssc")
		assert.NoError(t, jm.GetContext(job.ID).Err())
	})

	t.Run("nonexistent returns background context", func(t *testing.T) {
		jm := NewJobManager()
		ctx := jm.GetContext("nope")
		require.NoError(t, ctx.Err())
		assert.Equal(t, context.Background(), ctx)
	})
}
