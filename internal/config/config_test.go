package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DEBTDESK_CONFIG", "")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "share", "debtdesk", "debtdesk.db"), c.Database.Path)
	require.Equal(t, 5*time.Second, c.Database.BusyTimeout)
	require.Equal(t, 10*time.Second, c.API.Timeout)
	require.Equal(t, 10000, c.Reconcile.BatchSize)
	require.Equal(t, 1, c.Reconcile.MaxAttemptsPerBatch)
	require.Equal(t, 1000, c.CSV.ChunkRows)
	require.Equal(t, "info", c.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "debtdesk.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[api]
base_url = "https://api.example.com"
timeout = "3s"

[reconcile]
batch_size = 500
max_attempts_per_batch = 3
`), 0o600))
	t.Setenv("DEBTDESK_CONFIG", path)
	t.Setenv("DEBTDESK_LOG_LEVEL", "debug")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com", c.API.BaseURL)
	require.Equal(t, 3*time.Second, c.API.Timeout)
	require.Equal(t, 500, c.Reconcile.BatchSize)
	require.Equal(t, 3, c.Reconcile.MaxAttemptsPerBatch)
	require.Equal(t, "debug", c.Log.Level)
}

func TestValidateBatchSize(t *testing.T) {
	t.Parallel()
	c := Config{
		Database:  DatabaseConfig{Path: "x.db"},
		Reconcile: ReconcileConfig{BatchSize: 10001, MaxAttemptsPerBatch: 1},
		CSV:       CSVConfig{ChunkRows: 10},
	}
	require.ErrorContains(t, c.Validate(), "batch_size")
	c.Reconcile.BatchSize = 0
	require.Error(t, c.Validate())
	c.Reconcile.BatchSize = 10000
	require.NoError(t, c.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "saved.toml")
	t.Setenv("DEBTDESK_CONFIG", path)

	in := Config{
		Database:  DatabaseConfig{Path: filepath.Join(dir, "a.db"), BusyTimeout: time.Second},
		API:       APIConfig{BaseURL: "http://localhost:8080", Timeout: 2 * time.Second, TokenEnv: "TOK"},
		Reconcile: ReconcileConfig{BatchSize: 100, MaxAttemptsPerBatch: 2, InitialBackoff: time.Second},
		CSV:       CSVConfig{ChunkRows: 50},
		Log:       LogConfig{Level: "warn"},
	}
	require.NoError(t, Save(in))
	out, err := Load()
	require.NoError(t, err)
	require.Equal(t, in, out)
}
