package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"airsenal-control/internal/config"
	"airsenal-control/internal/executor"
	"airsenal-control/internal/hub"
	"airsenal-control/internal/metrics"
	"airsenal-control/internal/models"
	"airsenal-control/internal/repository"
)

const defaultPollInterval = 2 * time.Second

// Runner executes a single command to completion.
type Runner interface {
	Run(ctx context.Context, jobID string, spec models.Spec, emit func(line string)) (*models.Output, error)
}

// WorkerService drains the queue one job at a time in FIFO order. At most
// one job is ever executing; everything else waits in pending.
type WorkerService struct {
	repo    repository.JobRepository
	queue   *QueueService
	runner  Runner
	hub     *hub.Hub
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	pollInterval time.Duration
}

func NewWorkerService(repo repository.JobRepository, queue *QueueService, runner Runner, h *hub.Hub, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *WorkerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerService{
		repo:         repo,
		queue:        queue,
		runner:       runner,
		hub:          h,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Run processes jobs until ctx is cancelled. Jobs left mid-flight by a
// previous process are failed up front so they cannot shadow the queue.
func (w *WorkerService) Run(ctx context.Context) error {
	if n, err := w.repo.ResetInterrupted(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to reset interrupted jobs: %w", err)
	} else if n > 0 {
		w.logger.Warn("failed jobs interrupted by previous shutdown", "count", n)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}

		job, err := w.repo.NextPending(ctx)
		if err != nil {
			w.logger.Error("failed to poll for pending job", "error", err)
		} else if job != nil {
			w.runJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case <-w.queue.wake:
		case <-ticker.C:
		}
	}
}

func (w *WorkerService) runJob(ctx context.Context, job *models.Job) {
	now := time.Now().UTC()
	ok, err := w.repo.MarkRunning(ctx, job.ID, now)
	if err != nil {
		w.logger.Error("failed to mark job running", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		// Cancelled between poll and pickup.
		return
	}
	w.hub.PublishStatus(job.ID, models.StatusRunning, "")
	w.logger.Info("job started", "job_id", job.ID, "command", string(job.Command),
		"attempt", job.RetryCount+1, "max_attempts", job.MaxRetries+1)

	spec, err := models.NewSpec(job.Command, job.Parameters)
	if err != nil {
		w.finalizeFailed(job.ID, err.Error())
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.queue.beginRun(job.ID, cancel)
	defer w.queue.endRun(job.ID)

	emit := func(line string) {
		if err := w.queue.appendLog(context.Background(), job.ID, line); err != nil {
			w.logger.Error("failed to append job log", "job_id", job.ID, "error", err)
		}
	}

	start := time.Now()
	output, runErr := w.runner.Run(runCtx, job.ID, spec, emit)
	w.metrics.JobDuration.Observe(time.Since(start).Seconds())

	switch {
	case runErr == nil:
		w.finalizeCompleted(job.ID, output)

	case errors.Is(runErr, executor.ErrCancelled):
		if ctx.Err() != nil {
			// Shutdown, not a user cancel. Leave the job for the
			// startup reset.
			w.logger.Warn("job interrupted by shutdown", "job_id", job.ID)
			return
		}
		w.finalizeCancelled(job.ID)

	case executor.Retryable(runErr) && job.RetryCount < job.MaxRetries:
		w.retry(ctx, job, runErr)

	default:
		msg := runErr.Error()
		if executor.Retryable(runErr) {
			emit(fmt.Sprintf("Job failed after %d retries: %s", job.MaxRetries, msg))
		}
		w.finalizeFailed(job.ID, msg)
	}
}

func (w *WorkerService) finalizeCompleted(id string, output *models.Output) {
	ctx, cancel := finalizeContext()
	defer cancel()

	ok, err := w.repo.MarkCompleted(ctx, id, output, time.Now().UTC())
	if err != nil {
		w.logger.Error("failed to mark job completed", "job_id", id, "error", err)
		return
	}
	if !ok {
		// A cancel landed after the process finished; the cancel wins.
		w.finalizeCancelled(id)
		return
	}
	w.hub.PublishOutput(id, output)
	w.hub.PublishStatus(id, models.StatusCompleted, "")
	w.metrics.JobsCompleted.Inc()
	w.logger.Info("job completed", "job_id", id)
}

func (w *WorkerService) finalizeCancelled(id string) {
	ctx, cancel := finalizeContext()
	defer cancel()

	if err := w.queue.appendLog(ctx, id, "Job cancelled by user"); err != nil {
		w.logger.Error("failed to append job log", "job_id", id, "error", err)
	}
	ok, err := w.repo.MarkCancelled(ctx, id, time.Now().UTC())
	if err != nil {
		w.logger.Error("failed to mark job cancelled", "job_id", id, "error", err)
		return
	}
	if !ok {
		w.logger.Warn("job already terminal, cancel dropped", "job_id", id)
		return
	}
	w.hub.PublishStatus(id, models.StatusCancelled, "")
	w.metrics.JobsCancelled.Inc()
	w.logger.Info("job cancelled", "job_id", id)
}

func (w *WorkerService) finalizeFailed(id, msg string) {
	ctx, cancel := finalizeContext()
	defer cancel()

	ok, err := w.repo.MarkFailed(ctx, id, msg, time.Now().UTC())
	if err != nil {
		w.logger.Error("failed to mark job failed", "job_id", id, "error", err)
		return
	}
	if !ok {
		w.finalizeCancelled(id)
		return
	}
	w.hub.PublishStatus(id, models.StatusFailed, msg)
	w.metrics.JobsFailed.Inc()
	w.logger.Warn("job failed", "job_id", id, "error", msg)
}

// retry requeues the job and holds the worker for the backoff delay. The
// requeued job keeps its created_at, so it stays at the head of the queue
// and is the next job picked up.
func (w *WorkerService) retry(ctx context.Context, job *models.Job, runErr error) {
	delay := w.cfg.RetryDelayFor(job.RetryCount)

	line := fmt.Sprintf("Job failed, will retry in %s (attempt %d/%d): %s",
		delay, job.RetryCount+1, job.MaxRetries, runErr)
	if err := w.queue.appendLog(context.Background(), job.ID, line); err != nil {
		w.logger.Error("failed to append job log", "job_id", job.ID, "error", err)
	}

	fctx, cancel := finalizeContext()
	defer cancel()
	ok, err := w.repo.RequeueForRetry(fctx, job.ID)
	if err != nil {
		w.logger.Error("failed to requeue job", "job_id", job.ID, "error", err)
		w.finalizeFailed(job.ID, runErr.Error())
		return
	}
	if !ok {
		// Cancel beat the requeue; do not resurrect the job.
		w.finalizeCancelled(job.ID)
		return
	}
	w.hub.PublishStatus(job.ID, models.StatusPending, "")
	w.metrics.JobsRetried.Inc()
	w.logger.Warn("job requeued for retry", "job_id", job.ID,
		"attempt", job.RetryCount+1, "max_attempts", job.MaxRetries+1, "delay", delay.String())

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// finalizeContext gives terminal status writes a short grace window that
// survives worker shutdown, so a finished process's result is not lost.
func finalizeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
