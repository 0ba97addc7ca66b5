package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "control.db", cfg.StorePath)
	assert.Equal(t, 2000, cfg.MaxLogLines)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.RetryDelay)
	assert.Equal(t, BackoffFixed, cfg.Backoff)
	assert.Equal(t, 5*time.Second, cfg.CancelGrace)
	assert.Equal(t, time.Duration(0), cfg.MaxRuntime)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONTROL_LISTEN_ADDR", ":9999")
	t.Setenv("MAX_JOB_RETRIES", "1")
	t.Setenv("JOB_RETRY_DELAY", "90")
	t.Setenv("JOB_RETRY_BACKOFF", "exponential")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.RetryDelay)
	assert.Equal(t, BackoffExponential, cfg.Backoff)
	assert.True(t, cfg.Verbose)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":7070\"\nmax_retries: 5\n"), 0o644))

	cfg := Load()
	require.NoError(t, LoadFile(path, &cfg))
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.MaxRetries)
	// untouched settings keep their defaults
	assert.Equal(t, "control.db", cfg.StorePath)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Load()
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), &cfg))
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.MaxLogLines = 0
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Backoff = "fibonacci"
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.MaxRetries = -1
	assert.Error(t, cfg.Validate())
}

func TestRetryDelayFor(t *testing.T) {
	cfg := Config{RetryDelay: 10 * time.Second, Backoff: BackoffFixed}
	assert.Equal(t, 10*time.Second, cfg.RetryDelayFor(0))
	assert.Equal(t, 10*time.Second, cfg.RetryDelayFor(3))

	cfg.Backoff = BackoffExponential
	assert.Equal(t, 10*time.Second, cfg.RetryDelayFor(0))
	assert.Equal(t, 20*time.Second, cfg.RetryDelayFor(1))
	assert.Equal(t, 80*time.Second, cfg.RetryDelayFor(3))
}
