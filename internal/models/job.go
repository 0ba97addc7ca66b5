package models

import "time"

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusRunning    JobStatus = "running"
	StatusCancelling JobStatus = "cancelling"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether a job in this status owns the working database.
func (s JobStatus) Active() bool {
	return s == StatusRunning || s == StatusCancelling
}

// Job represents one durable execution of an AIrsenal command
type Job struct {
	ID          string     `json:"id"`
	Command     Command    `json:"command"`
	Parameters  Parameters `json:"parameters"`
	Status      JobStatus  `json:"status"`
	Logs        []string   `json:"logs"`
	Output      *Output    `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateJobRequest represents a request to create a job. Command is the
// wire-level name, validated against the closed set on submission.
type CreateJobRequest struct {
	Command    string     `json:"command"`
	Parameters Parameters `json:"parameters"`
	MaxRetries *int       `json:"max_retries,omitempty"`
}
