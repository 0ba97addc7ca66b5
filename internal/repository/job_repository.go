package repository

import (
	"context"
	"time"

	"airsenal-control/internal/models"
)

// JobRepository defines the interface for job persistence
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error

	// GetJobByID returns the job with its persisted logs, or nil when no
	// such job exists.
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Job, error)

	// NextPending returns the oldest pending job, or nil when none exists.
	NextPending(ctx context.Context) (*models.Job, error)

	// MarkRunning transitions pending -> running and sets started_at. It
	// reports false when the job was no longer pending (e.g. cancelled in
	// the meantime).
	MarkRunning(ctx context.Context, id string, startedAt time.Time) (bool, error)

	// MarkCancelling transitions running -> cancelling. It reports false
	// when the job was not running.
	MarkCancelling(ctx context.Context, id string) (bool, error)

	// CancelPending transitions pending -> cancelled directly, leaving
	// started_at unset. It reports false when the job was not pending.
	CancelPending(ctx context.Context, id string, completedAt time.Time) (bool, error)

	// MarkCompleted stores the output and transitions running -> completed.
	// It reports false when the job was no longer running, which means a
	// cancel landed after the process finished.
	MarkCompleted(ctx context.Context, id string, output *models.Output, completedAt time.Time) (bool, error)

	// MarkFailed transitions running -> failed. It reports false when the
	// job was no longer running.
	MarkFailed(ctx context.Context, id string, errMsg string, completedAt time.Time) (bool, error)

	// MarkCancelled transitions running or cancelling -> cancelled. It
	// reports false when the job was already terminal.
	MarkCancelled(ctx context.Context, id string, completedAt time.Time) (bool, error)

	// RequeueForRetry resets a running job to pending, increments
	// retry_count and clears started_at. created_at is untouched so the job
	// stays at the head of the FIFO. It reports false when the job was no
	// longer running.
	RequeueForRetry(ctx context.Context, id string) (bool, error)

	// ResetInterrupted fails every job left in running or cancelling state
	// by a previous process. It returns the number of jobs affected.
	ResetInterrupted(ctx context.Context, completedAt time.Time) (int, error)

	// AppendLog appends one line to the job's log, evicting the oldest
	// lines beyond the configured cap.
	AppendLog(ctx context.Context, id, line string) error
	GetLogs(ctx context.Context, id string) ([]string, error)
	ClearLogs(ctx context.Context, id string) (bool, error)
	ClearAllLogs(ctx context.Context) (int, error)
}
