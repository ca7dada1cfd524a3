package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocifs/ocifs-go/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ocifs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendOCI, cfg.Backend)
	assert.Equal(t, int64(5<<20), cfg.Upload.BlockSize)
	assert.Equal(t, 5, cfg.Upload.Retries)
	assert.Equal(t, 10, cfg.Upload.FetchAttempts)

	ttl, err := cfg.StatTTL()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	// oci needs a region
	assert.Error(t, cfg.Validate())
	cfg.Region = "us-ashburn-1"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
backend: postgres
region: eu-frankfurt-1
namespace: tenancyns
upload:
  block_size: 10485760
  retries: 3
cache:
  stat_ttl: 1m
postgres:
  conn_str: postgres://localhost/ocifs
log:
  level: debug
  format: json
`)
	t.Setenv("OCIFS_CONFIG", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "tenancyns", cfg.Namespace)
	assert.Equal(t, int64(10<<20), cfg.Upload.BlockSize)
	assert.Equal(t, 3, cfg.Upload.Retries)
	// untouched values keep their defaults
	assert.Equal(t, 10, cfg.Upload.FetchAttempts)
	assert.Equal(t, "objects", cfg.Postgres.Table)
	assert.Equal(t, "json", cfg.Log.Format)

	ttl, err := cfg.StatTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	sc := cfg.StorageConfig()
	assert.Equal(t, storage.BackendTypePostgres, sc.Type)
	assert.Equal(t, "postgres://localhost/ocifs", sc.PostgresConnStr)
}

func TestEnvironmentIsOverriddenByFile(t *testing.T) {
	t.Setenv("OCIFS_REGION", "us-phoenix-1")
	t.Setenv("OCIFS_NAMESPACE", "fromenv")
	t.Setenv("OCIFS_RETRIES", "7")
	t.Setenv("OCIFS_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "us-phoenix-1", cfg.Region)
	assert.Equal(t, "fromenv", cfg.Namespace)
	assert.Equal(t, 7, cfg.Upload.Retries)

	cfg, err = Load(writeConfig(t, "namespace: fromfile\n"))
	require.NoError(t, err)
	assert.Equal(t, "us-phoenix-1", cfg.Region)
	assert.Equal(t, "fromfile", cfg.Namespace)
}

func TestConfigFromEnvironmentPath(t *testing.T) {
	t.Setenv("OCIFS_CONFIG", writeConfig(t, "backend: memory\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("OCIFS_CONFIG", "")
	t.Setenv("OCIFS_BLOCK_SIZE", "lots")
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg := Default()
	cfg.Backend = "tape"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backend = BackendMemory
	cfg.Cache.StatTTL = "soon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backend = BackendMongoDB
	assert.Error(t, cfg.Validate())
}
