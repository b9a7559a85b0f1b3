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
	t.Setenv("ENCRYPTION_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "costlens", cfg.Database.Name)
	assert.Equal(t, 3, cfg.Ingest.Workers)
	assert.Equal(t, 10, cfg.Ingest.RateLimit)
	assert.False(t, cfg.Export.Enabled)
}

func TestLoadRequiresEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "test-key")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("INGEST_WORKERS", "5")
	t.Setenv("EXPORT_BUCKET", "cost-archive")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5, cfg.Ingest.Workers)
	assert.True(t, cfg.Export.Enabled)
	assert.Equal(t, "cost-archive", cfg.Export.Bucket)
}

func TestYAMLOverlayAndEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
database:
  host: yaml-host
  name: yaml-db
ingest:
  workers: 7
  retry_backoff: 2s
`), 0o600))

	t.Setenv("ENCRYPTION_KEY", "test-key")
	t.Setenv("COSTLENS_CONFIG", path)
	t.Setenv("DB_HOST", "env-host")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "yaml-db", cfg.Database.Name)
	assert.Equal(t, 7, cfg.Ingest.Workers)
	assert.Equal(t, 2*time.Second, cfg.Ingest.RetryBackoff)
	// Environment beats the file.
	assert.Equal(t, "env-host", cfg.Database.Host)
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "pw", Name: "costlens", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=pw dbname=costlens sslmode=disable",
		db.DSN(),
	)
}
