package service

import (
	"context"
	"sync"
	"time"

	"airsenal-control/internal/config"
	"airsenal-control/internal/hub"
	"airsenal-control/internal/metrics"
	"airsenal-control/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// mockRepository is an in-memory JobRepository for service tests.
type mockRepository struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	logs map[string][]string

	createErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		jobs: make(map[string]*models.Job),
		logs: make(map[string][]string),
	}
}

func (m *mockRepository) snapshot(job *models.Job) *models.Job {
	clone := *job
	clone.Logs = append([]string{}, m.logs[job.ID]...)
	return &clone
}

func (m *mockRepository) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *mockRepository) GetJobByID(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return m.snapshot(job), nil
}

func (m *mockRepository) ListRecent(_ context.Context, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []*models.Job
	for _, job := range m.jobs {
		jobs = append(jobs, m.snapshot(job))
	}
	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].CreatedAt.After(jobs[i].CreatedAt) {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *mockRepository) NextPending(_ context.Context) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *models.Job
	for _, job := range m.jobs {
		if job.Status != models.StatusPending {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	return m.snapshot(next), nil
}

func (m *mockRepository) MarkRunning(_ context.Context, id string, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusPending {
		return false, nil
	}
	job.Status = models.StatusRunning
	job.StartedAt = &startedAt
	return true, nil
}

func (m *mockRepository) MarkCancelling(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusRunning {
		return false, nil
	}
	job.Status = models.StatusCancelling
	return true, nil
}

func (m *mockRepository) CancelPending(_ context.Context, id string, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusPending {
		return false, nil
	}
	job.Status = models.StatusCancelled
	job.CompletedAt = &completedAt
	return true, nil
}

func (m *mockRepository) MarkCompleted(_ context.Context, id string, output *models.Output, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusRunning {
		return false, nil
	}
	job.Status = models.StatusCompleted
	job.Output = output
	job.CompletedAt = &completedAt
	return true, nil
}

func (m *mockRepository) MarkFailed(_ context.Context, id string, errMsg string, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusRunning {
		return false, nil
	}
	job.Status = models.StatusFailed
	job.Error = errMsg
	job.CompletedAt = &completedAt
	return true, nil
}

func (m *mockRepository) MarkCancelled(_ context.Context, id string, completedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || (job.Status != models.StatusRunning && job.Status != models.StatusCancelling) {
		return false, nil
	}
	job.Status = models.StatusCancelled
	job.CompletedAt = &completedAt
	return true, nil
}

func (m *mockRepository) RequeueForRetry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusRunning {
		return false, nil
	}
	job.Status = models.StatusPending
	job.RetryCount++
	job.StartedAt = nil
	return true, nil
}

func (m *mockRepository) ResetInterrupted(_ context.Context, completedAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, job := range m.jobs {
		if job.Status == models.StatusRunning || job.Status == models.StatusCancelling {
			job.Status = models.StatusFailed
			job.Error = "interrupted by restart"
			job.CompletedAt = &completedAt
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) AppendLog(_ context.Context, id, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[id] = append(m.logs[id], line)
	return nil
}

func (m *mockRepository) GetLogs(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.logs[id]...), nil
}

func (m *mockRepository) ClearLogs(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return false, nil
	}
	delete(m.logs, id)
	return true, nil
}

func (m *mockRepository) ClearAllLogs(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.logs)
	m.logs = make(map[string][]string)
	return n, nil
}

func (m *mockRepository) status(id string) models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

func testConfig() *config.Config {
	return &config.Config{
		MaxLogLines: 100,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		Backoff:     config.BackoffFixed,
		CancelGrace: 100 * time.Millisecond,
	}
}

func newTestQueue(repo *mockRepository) (*QueueService, *hub.Hub) {
	h := hub.New(nil)
	m := metrics.New(prometheus.NewRegistry())
	return NewQueueService(repo, h, testConfig(), m, nil), h
}
