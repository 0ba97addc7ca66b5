package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"airsenal-control/internal/models"
	"airsenal-control/internal/secrets"
)

// SQLiteRepository implements JobRepository and the secrets repository using SQLite
type SQLiteRepository struct {
	db          *sql.DB
	maxLogLines int
}

// NewSQLiteRepository creates a new SQLite repository. maxLogLines caps the
// number of stored log lines per job.
func NewSQLiteRepository(dbPath string, maxLogLines int) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db, maxLogLines: maxLogLines}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// initSchema initializes the database schema
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		output TEXT,
		error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS job_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		line TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_logs_job_id ON job_logs(job_id);

	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

// CreateJob creates a new job
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO jobs (id, command, parameters, status, retry_count, max_retries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		string(job.Command),
		string(params),
		string(job.Status),
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

const jobColumns = `id, command, parameters, status, output, error, retry_count, max_retries, created_at, started_at, completed_at`

func (r *SQLiteRepository) scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var (
		job                    models.Job
		command, params        string
		status                 string
		output, errMsg         sql.NullString
		createdAt              int64
		startedAt, completedAt sql.NullInt64
	)

	err := row.Scan(
		&job.ID,
		&command,
		&params,
		&status,
		&output,
		&errMsg,
		&job.RetryCount,
		&job.MaxRetries,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Command = models.Command(command)
	job.Status = models.JobStatus(status)
	if err := json.Unmarshal([]byte(params), &job.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if output.Valid && output.String != "" {
		var out models.Output
		if err := json.Unmarshal([]byte(output.String), &out); err != nil {
			return nil, fmt.Errorf("failed to decode output: %w", err)
		}
		job.Output = &out
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64).UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		job.CompletedAt = &t
	}

	return &job, nil
}

// GetJobByID retrieves a job by ID including its log lines
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Logs, err = r.GetLogs(ctx, id)
	if err != nil {
		return nil, err
	}

	return job, nil
}

// ListRecent retrieves the most recently created jobs, newest first
func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	for _, job := range jobs {
		job.Logs, err = r.GetLogs(ctx, job.ID)
		if err != nil {
			return nil, err
		}
	}

	return jobs, nil
}

// NextPending returns the oldest pending job, or nil when the queue is empty
func (r *SQLiteRepository) NextPending(ctx context.Context) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, id ASC LIMIT 1`

	job, err := r.scanJob(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find pending job: %w", err)
	}

	job.Logs, err = r.GetLogs(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	return job, nil
}

// MarkRunning transitions pending -> running
func (r *SQLiteRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'`,
		startedAt.UnixMilli(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	return changed(res)
}

// MarkCancelling transitions running -> cancelling
func (r *SQLiteRepository) MarkCancelling(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelling' WHERE id = ? AND status = 'running'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job cancelling: %w", err)
	}
	return changed(res)
}

// CancelPending transitions pending -> cancelled without ever starting
func (r *SQLiteRepository) CancelPending(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = ? WHERE id = ? AND status = 'pending'`,
		completedAt.UnixMilli(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel pending job: %w", err)
	}
	return changed(res)
}

// MarkCompleted stores the parsed output and transitions running -> completed.
// The status guard keeps a cancel that landed mid-finalization from being
// overwritten; callers see false and finalize as cancelled instead.
func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string, output *models.Output, completedAt time.Time) (bool, error) {
	var encoded sql.NullString
	if output != nil {
		raw, err := json.Marshal(output)
		if err != nil {
			return false, fmt.Errorf("failed to encode output: %w", err)
		}
		encoded = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', output = ?, completed_at = ? WHERE id = ? AND status = 'running'`,
		encoded, completedAt.UnixMilli(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job completed: %w", err)
	}
	return changed(res)
}

// MarkFailed transitions running -> failed with an error message
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, errMsg string, completedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error = ?, completed_at = ? WHERE id = ? AND status = 'running'`,
		errMsg, completedAt.UnixMilli(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	return changed(res)
}

// MarkCancelled transitions running or cancelling -> cancelled
func (r *SQLiteRepository) MarkCancelled(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', completed_at = ? WHERE id = ? AND status IN ('running', 'cancelling')`,
		completedAt.UnixMilli(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job cancelled: %w", err)
	}
	return changed(res)
}

// RequeueForRetry resets a running job to pending for another attempt
func (r *SQLiteRepository) RequeueForRetry(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', retry_count = retry_count + 1, started_at = NULL WHERE id = ? AND status = 'running'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	return changed(res)
}

// ResetInterrupted fails jobs a previous process left mid-flight
func (r *SQLiteRepository) ResetInterrupted(ctx context.Context, completedAt time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error = 'interrupted by restart', completed_at = ? WHERE status IN ('running', 'cancelling')`,
		completedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// AppendLog appends one log line, evicting the oldest lines beyond the cap
func (r *SQLiteRepository) AppendLog(ctx context.Context, id, line string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, line) VALUES (?, ?)`, id, line,
	); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM job_logs
		WHERE job_id = ? AND seq NOT IN (
			SELECT seq FROM job_logs WHERE job_id = ? ORDER BY seq DESC LIMIT ?
		)`, id, id, r.maxLogLines,
	); err != nil {
		return fmt.Errorf("failed to trim logs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetLogs returns the job's log lines in append order
func (r *SQLiteRepository) GetLogs(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT line FROM job_logs WHERE job_id = ? ORDER BY seq ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	logs := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("failed to scan log line: %w", err)
		}
		logs = append(logs, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate logs: %w", err)
	}
	return logs, nil
}

// ClearLogs truncates the stored log lines of one job
func (r *SQLiteRepository) ClearLogs(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check job: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to clear logs: %w", err)
	}
	return true, nil
}

// ClearAllLogs truncates the stored log lines of every job
func (r *SQLiteRepository) ClearAllLogs(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT job_id) FROM job_logs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs with logs: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_logs`); err != nil {
		return 0, fmt.Errorf("failed to clear logs: %w", err)
	}
	return count, nil
}

// GetSecret returns the stored (encrypted) value for key
func (r *SQLiteRepository) GetSecret(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", secrets.ErrNotFound
		}
		return "", fmt.Errorf("failed to get secret: %w", err)
	}
	return value, nil
}

// PutSecret inserts or replaces the stored (encrypted) value for key
func (r *SQLiteRepository) PutSecret(ctx context.Context, key, encryptedValue string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, encryptedValue, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// DeleteSecret removes the stored value for key
func (r *SQLiteRepository) DeleteSecret(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// ListSecretKeys lists the keys that have stored values
func (r *SQLiteRepository) ListSecretKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan secret key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func changed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
