package conn

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.yaml")
	data := `
dialect: sqlite
dsn: ":memory:"
query_timeout: 5s
slow_threshold: 0.5
max_in_flight: 8
statement_cache_size: 32
breaker:
  failure_threshold: 2
  window: 10s
  cool_down: 1m
  half_open_max: 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Dialect)
	assert.Equal(t, ":memory:", cfg.DSN)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout.Std())
	// Bare numbers are seconds.
	assert.Equal(t, 500*time.Millisecond, cfg.SlowThreshold.Std())
	assert.Equal(t, int64(8), cfg.MaxInFlight)
	assert.Equal(t, 32, cfg.StatementCacheSize)
	assert.Equal(t, 2, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.Window.Std())
	assert.Equal(t, time.Minute, cfg.Breaker.CoolDown.Std())
	assert.Equal(t, 3, cfg.Breaker.HalfOpenMax)
	assert.NotNil(t, cfg.Logger)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dialect: sqlite\ndsn: ':memory:'\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.QueryTimeout.Std())
	assert.Equal(t, int64(64), cfg.MaxInFlight)
	assert.Equal(t, 256, cfg.StatementCacheSize)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("query_timeout: [nope]\n"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.QueryTimeout.Std())
	assert.Equal(t, 200*time.Millisecond, cfg.SlowThreshold.Std())
}
