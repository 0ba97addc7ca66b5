package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"airsenal-control/internal/config"
	"airsenal-control/internal/hub"
	"airsenal-control/internal/metrics"
	"airsenal-control/internal/models"
	"airsenal-control/internal/repository"
)

var (
	// ErrJobNotFound is returned when no job exists with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState is returned when an operation is not legal in the
	// job's current state, for example cancelling a completed job.
	ErrInvalidState = errors.New("job is not in a cancellable state")
)

const defaultListLimit = 50

// QueueService owns job admission, queries and cancellation. Execution is
// the worker's business; the two coordinate through the repository and the
// active-run registry held here.
type QueueService struct {
	repo    repository.JobRepository
	hub     *hub.Hub
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu           sync.Mutex
	activeID     string
	cancelActive context.CancelFunc

	wake chan struct{}
}

func NewQueueService(repo repository.JobRepository, h *hub.Hub, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *QueueService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueService{
		repo:    repo,
		hub:     h,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Submit validates the request, persists a new pending job and returns it
// immediately. Execution happens asynchronously in FIFO order.
func (s *QueueService) Submit(ctx context.Context, req *models.CreateJobRequest) (*models.Job, error) {
	command, err := models.ParseCommand(req.Command)
	if err != nil {
		return nil, err
	}
	if _, err := models.NewSpec(command, req.Parameters); err != nil {
		return nil, err
	}

	maxRetries := s.cfg.MaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, &models.ValidationError{Field: "max_retries", Reason: "must not be negative"}
		}
		maxRetries = *req.MaxRetries
	}

	job := &models.Job{
		ID:         uuid.New().String(),
		Command:    command,
		Parameters: req.Parameters,
		Status:     models.StatusPending,
		Logs:       []string{},
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.metrics.JobsSubmitted.Inc()
	s.logger.Info("job submitted", "job_id", job.ID, "command", string(command))
	s.notifyWorker()
	return job, nil
}

// ListRecent returns the most recently created jobs, newest first.
func (s *QueueService) ListRecent(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

// Get returns the job with its persisted logs.
func (s *QueueService) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetJobByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel stops a job. A pending job is cancelled in place without ever
// running; a running job is moved to cancelling and its process is signalled,
// with the worker reporting the final cancelled state once the process is
// gone. Cancelling a terminal job fails with ErrInvalidState.
func (s *QueueService) Cancel(ctx context.Context, id string) error {
	job, err := s.repo.GetJobByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}

	switch job.Status {
	case models.StatusPending:
		ok, err := s.repo.CancelPending(ctx, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if ok {
			if err := s.appendLog(ctx, id, "Job cancelled by user"); err != nil {
				return err
			}
			s.hub.PublishStatus(id, models.StatusCancelled, "")
			s.metrics.JobsCancelled.Inc()
			s.logger.Info("pending job cancelled", "job_id", id)
			return nil
		}
		// Lost the race with the worker; the job is running now.
		return s.cancelRunning(ctx, id)

	case models.StatusRunning:
		return s.cancelRunning(ctx, id)

	case models.StatusCancelling:
		// Already being cancelled; nothing more to do.
		return nil

	default:
		return ErrInvalidState
	}
}

func (s *QueueService) cancelRunning(ctx context.Context, id string) error {
	ok, err := s.repo.MarkCancelling(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		job, err := s.repo.GetJobByID(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrJobNotFound
		}
		if job.Status == models.StatusCancelling {
			return nil
		}
		return ErrInvalidState
	}

	if err := s.appendLog(ctx, id, "Cancellation requested by user. Attempting to terminate process..."); err != nil {
		return err
	}
	s.hub.PublishStatus(id, models.StatusCancelling, "")
	s.logger.Info("cancelling running job", "job_id", id)

	s.mu.Lock()
	if s.activeID == id && s.cancelActive != nil {
		s.cancelActive()
	}
	s.mu.Unlock()
	return nil
}

// ClearLogs removes the persisted logs of one job.
func (s *QueueService) ClearLogs(ctx context.Context, id string) error {
	ok, err := s.repo.ClearLogs(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotFound
	}
	return nil
}

// ClearAllLogs removes the persisted logs of every job and reports how many
// jobs were affected.
func (s *QueueService) ClearAllLogs(ctx context.Context) (int, error) {
	return s.repo.ClearAllLogs(ctx)
}

// Subscribe attaches a live event stream for the job and returns a snapshot
// of its persisted state taken after the subscription was registered. The
// snapshot therefore reflects anything that happened before the first live
// event, so a subscriber joining after the job finished still sees the
// terminal status and log tail. Events published between registration and
// the snapshot read appear in both, so consumers must treat replayed lines
// as harmless duplicates.
func (s *QueueService) Subscribe(ctx context.Context, id string) (*models.Job, *hub.Subscriber, error) {
	sub := s.hub.Subscribe(id)
	job, err := s.Get(ctx, id)
	if err != nil {
		sub.Unsubscribe()
		return nil, nil, err
	}
	return job, sub, nil
}

// appendLog persists one log line and mirrors it to live subscribers.
func (s *QueueService) appendLog(ctx context.Context, id, line string) error {
	if err := s.repo.AppendLog(ctx, id, line); err != nil {
		return err
	}
	s.hub.PublishLog(id, line)
	return nil
}

func (s *QueueService) notifyWorker() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *QueueService) beginRun(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.activeID = id
	s.cancelActive = cancel
	s.mu.Unlock()
}

func (s *QueueService) endRun(id string) {
	s.mu.Lock()
	if s.activeID == id {
		s.activeID = ""
		s.cancelActive = nil
	}
	s.mu.Unlock()
}

// ActiveJobID reports the id of the job currently executing, or "".
func (s *QueueService) ActiveJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}
