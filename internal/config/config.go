package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BackoffMode selects how the retry delay grows between attempts
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffExponential BackoffMode = "exponential"
)

// Config holds every runtime knob of the control room
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// StorePath is the SQLite file holding job records and secrets.
	StorePath string `yaml:"store_path"`

	// PersistentDBPath is the durable copy of the AIrsenal working database;
	// LocalDBPath is where it is hydrated to for the duration of a run.
	PersistentDBPath string `yaml:"persistent_db_path"`
	LocalDBPath      string `yaml:"local_db_path"`

	// BinDir, when set, is prepended to command binaries instead of
	// resolving them on PATH.
	BinDir string `yaml:"bin_dir"`

	MaxLogLines int `yaml:"max_log_lines"`
	MaxRetries  int `yaml:"max_retries"`

	RetryDelay time.Duration `yaml:"retry_delay"`
	Backoff    BackoffMode   `yaml:"backoff"`

	// CancelGrace is how long a cancelled process gets between SIGTERM and
	// SIGKILL. MaxRuntime, when positive, bounds a run's wall-clock time.
	CancelGrace time.Duration `yaml:"cancel_grace"`
	MaxRuntime  time.Duration `yaml:"max_runtime"`

	// EncryptionKey protects secret values at rest (hex, 32 bytes).
	EncryptionKey string `yaml:"encryption_key"`

	Verbose bool `yaml:"verbose"`
}

// Load builds the configuration from environment variables with defaults
// matching a single-node deployment.
func Load() Config {
	return Config{
		ListenAddr:       getenv("CONTROL_LISTEN_ADDR", ":8080"),
		StorePath:        getenv("CONTROL_STORE_PATH", "control.db"),
		PersistentDBPath: getenv("PERSISTENT_DB_PATH", "/data/airsenal/data.db"),
		LocalDBPath:      getenv("LOCAL_DB_PATH", "/tmp/airsenal.db"),
		BinDir:           os.Getenv("CONTROL_BIN_DIR"),
		MaxLogLines:      getenvInt("MAX_LOG_LINES", 2000),
		MaxRetries:       getenvInt("MAX_JOB_RETRIES", 3),
		RetryDelay:       getenvDuration("JOB_RETRY_DELAY", 60*time.Second),
		Backoff:          BackoffMode(getenv("JOB_RETRY_BACKOFF", string(BackoffFixed))),
		CancelGrace:      getenvDuration("JOB_CANCEL_GRACE", 5*time.Second),
		MaxRuntime:       getenvDuration("JOB_MAX_RUNTIME", 0),
		EncryptionKey:    os.Getenv("ENCRYPTION_KEY"),
		Verbose:          getenv("LOG_LEVEL", "") == "debug",
	}
}

// LoadFile overlays values from a YAML config file onto cfg. Zero values in
// the file leave the existing setting untouched for strings and numbers that
// already have defaults.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.MaxLogLines <= 0 {
		return fmt.Errorf("max_log_lines must be positive, got %d", c.MaxLogLines)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.Backoff != BackoffFixed && c.Backoff != BackoffExponential {
		return fmt.Errorf("backoff must be %q or %q, got %q", BackoffFixed, BackoffExponential, c.Backoff)
	}
	if c.RetryDelay < 0 || c.CancelGrace < 0 || c.MaxRuntime < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// RetryDelayFor returns the wait before re-enqueueing a job that has already
// failed retryCount times.
func (c Config) RetryDelayFor(retryCount int) time.Duration {
	if c.Backoff != BackoffExponential || retryCount <= 0 {
		return c.RetryDelay
	}
	d := c.RetryDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	return d
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	// plain integers are treated as seconds
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
