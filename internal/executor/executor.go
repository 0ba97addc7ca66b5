package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"airsenal-control/internal/config"
	"airsenal-control/internal/models"
	"airsenal-control/internal/parser"
	"airsenal-control/internal/secrets"
	"airsenal-control/internal/workdb"
)

// ErrCancelled is returned when the run was stopped by context cancellation.
var ErrCancelled = errors.New("job cancelled")

// StorageError covers working-database hydration and persistence failures.
// These are environment problems, not transient process failures, so they
// are not retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s working database: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError covers secret resolution failures.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("failed to resolve secrets: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SpawnError means the process could not be started at all, for example a
// missing binary.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessError means the process ran but exited nonzero. This is the only
// retryable failure class.
type ProcessError struct {
	ExitCode int
	Diag     string
}

func (e *ProcessError) Error() string {
	if e.Diag != "" {
		return fmt.Sprintf("process exited with code %d: %s", e.ExitCode, e.Diag)
	}
	return fmt.Sprintf("process exited with code %d", e.ExitCode)
}

// Retryable reports whether a failed run may be attempted again.
func Retryable(err error) bool {
	var procErr *ProcessError
	return errors.As(err, &procErr)
}

// Executor runs one command at a time: it hydrates the working database,
// injects secrets into the environment, spawns the process, streams its
// output and, on success, persists the working database and parses the
// captured output.
type Executor struct {
	cfg     *config.Config
	secrets secrets.Provider
	workDB  *workdb.Store
	logger  *slog.Logger
}

func New(cfg *config.Config, provider secrets.Provider, workDB *workdb.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, secrets: provider, workDB: workDB, logger: logger}
}

// Run executes spec to completion, calling emit for every output line
// (breadcrumbs included) as it is produced. On exit code 0 it persists the
// working database and returns the parsed output. The returned error is nil
// only for a successful run; cancellation surfaces as ErrCancelled.
func (e *Executor) Run(ctx context.Context, jobID string, spec models.Spec, emit func(line string)) (*models.Output, error) {
	env, err := e.buildEnv(ctx)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	argv := spec.Args()
	emit("Executing: " + strings.Join(argv, " "))

	found, err := e.workDB.Hydrate()
	if err != nil {
		return nil, &StorageError{Op: "hydrate", Err: err}
	}
	if found {
		emit("Hydrated local DB from persistent storage")
	} else {
		emit("No persisted DB found; starting fresh local DB")
	}

	runCtx := ctx
	if e.cfg.MaxRuntime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxRuntime)
		defer cancel()
	}

	binary := argv[0]
	if e.cfg.BinDir != "" {
		binary = filepath.Join(e.cfg.BinDir, binary)
	}
	grace := e.cfg.CancelGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	cmd := exec.CommandContext(runCtx, binary, argv[1:]...)
	cmd.Env = env
	cmd.WaitDelay = grace
	// Own process group, so termination reaches the whole process tree
	// and not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Binary: binary, Err: err}
	}
	defer pr.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, &SpawnError{Binary: binary, Err: err}
	}
	pw.Close()
	pgid := cmd.Process.Pid
	e.logger.Info("process started", "job_id", jobID, "command", string(spec.Kind()), "pid", pgid)

	// Read concurrently with Wait. EOF arrives only once every process in
	// the tree has released the write end, so a reader running to EOF
	// before Wait would hang on an orphaned child.
	captureCh := make(chan []string, 1)
	go func() { captureCh <- e.streamOutput(pr, emit) }()
	waitErr := cmd.Wait()

	if ctx.Err() == context.Canceled || runCtx.Err() == context.DeadlineExceeded {
		// Sweep any stragglers still in the group.
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}

	var captured []string
	select {
	case captured = <-captureCh:
	case <-time.After(grace):
		// Something in the tree still holds the pipe; cut the reader
		// loose.
		pr.Close()
		captured = <-captureCh
	}

	if ctx.Err() == context.Canceled {
		e.logger.Warn("process cancelled", "job_id", jobID)
		return nil, ErrCancelled
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &ProcessError{ExitCode: cmd.ProcessState.ExitCode(), Diag: "runtime limit exceeded"}
	}
	if waitErr != nil {
		code := cmd.ProcessState.ExitCode()
		e.logger.Warn("process failed", "job_id", jobID, "exit_code", code)
		return nil, &ProcessError{ExitCode: code, Diag: lastDiagnostic(captured)}
	}

	if err := e.workDB.Persist(); err != nil {
		return nil, &StorageError{Op: "persist", Err: err}
	}
	emit("Persisted DB to storage")
	captured = e.capAppend(captured, "Persisted DB to storage")

	e.logger.Info("process completed", "job_id", jobID, "lines", len(captured))
	return parser.Parse(spec.Kind(), captured), nil
}

// buildEnv copies the current environment and layers resolved secrets on
// top. AIRSENAL_HOME gets a default when no secret provides one, and the
// command always runs against the local working database.
func (e *Executor) buildEnv(ctx context.Context) ([]string, error) {
	env := environMap()

	for _, key := range secrets.AllowedKeys() {
		value, err := e.secrets.Get(ctx, key)
		if errors.Is(err, secrets.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		env[key] = value
	}
	if _, ok := env[secrets.KeyAirsenalHome]; !ok {
		env[secrets.KeyAirsenalHome] = "/data/airsenal"
	}
	env["AIRSENAL_DB_FILE"] = e.cfg.LocalDBPath

	flat := make([]string, 0, len(env))
	for k, v := range env {
		flat = append(flat, k+"="+v)
	}
	return flat, nil
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// streamOutput reads combined stdout and stderr line by line, forwarding
// each line to emit and keeping a bounded in-memory copy for parsing. The
// cap matches the persisted log cap so the parsed output cannot reference
// lines the store already evicted.
func (e *Executor) streamOutput(r io.Reader, emit func(line string)) []string {
	var captured []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		captured = e.capAppend(captured, line)
		emit(line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		line := "Output capture stopped: " + err.Error()
		captured = e.capAppend(captured, line)
		emit(line)
		// Keep draining so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	return captured
}

func (e *Executor) capAppend(captured []string, line string) []string {
	captured = append(captured, line)
	if len(captured) > e.cfg.MaxLogLines {
		captured = captured[1:]
	}
	return captured
}

// lastDiagnostic returns the final non-empty output line, which is the most
// useful single-line summary of why the process failed.
func lastDiagnostic(captured []string) string {
	for i := len(captured) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(captured[i]); line != "" {
			return line
		}
	}
	return ""
}
