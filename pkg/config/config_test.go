package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"FSFS_DATA_DIR", "FSFS_SHARD_SIZE",
		"FSFS_MAX_LINEAR_DELTIFICATION", "FSFS_MAX_DELTIFICATION_WALK",
		"FSFS_REP_SHARING_ENABLED", "FSFS_REP_SHARING_CACHE_BADGER",
		"FSFS_WRITE_LOCK_TIMEOUT", "FSFS_VERIFY_AFTER_COMMIT",
		"FSFS_LOG_LEVEL", "FSFS_LOG_FORMAT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	c := LoadFromEnv()
	assert.Equal(t, "./fsfs-data", c.Storage.DataDir)
	assert.Equal(t, int64(1000), c.Storage.ShardSize)
	assert.Equal(t, 16, c.Delta.MaxLinearDeltification)
	assert.Equal(t, 1024, c.Delta.MaxDeltificationWalk)
	assert.True(t, c.RepSharing.Enabled)
	assert.False(t, c.RepSharing.BadgerInMemory)
	assert.Equal(t, 10*time.Second, c.Locking.WriteLockTimeout)
	assert.False(t, c.Commit.VerifyAfterCommit)
	assert.Equal(t, "info", c.Logging.Level)
	assert.Equal(t, "text", c.Logging.Format)
	require.NoError(t, c.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FSFS_DATA_DIR", "/tmp/repo")
	t.Setenv("FSFS_SHARD_SIZE", "200")
	t.Setenv("FSFS_MAX_LINEAR_DELTIFICATION", "4")
	t.Setenv("FSFS_REP_SHARING_ENABLED", "false")
	t.Setenv("FSFS_VERIFY_AFTER_COMMIT", "1")
	t.Setenv("FSFS_LOG_FORMAT", "json")

	c := LoadFromEnv()
	assert.Equal(t, "/tmp/repo", c.Storage.DataDir)
	assert.Equal(t, int64(200), c.Storage.ShardSize)
	assert.Equal(t, 4, c.Delta.MaxLinearDeltification)
	assert.False(t, c.RepSharing.Enabled)
	assert.True(t, c.Commit.VerifyAfterCommit)
	assert.Equal(t, "json", c.Logging.Format)
	require.NoError(t, c.Validate())
}

func TestLoadFromFileOverlay(t *testing.T) {
	clearEnv(t)
	c := LoadFromEnv()

	path := filepath.Join(t.TempDir(), "fsfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  shard_size: 5000
delta:
  max_linear_deltification: 8
locking:
  write_lock_timeout: 30s
logging:
  format: json
`), 0644))

	require.NoError(t, c.LoadFromFile(path))
	assert.Equal(t, int64(5000), c.Storage.ShardSize)
	assert.Equal(t, 8, c.Delta.MaxLinearDeltification)
	assert.Equal(t, 30*time.Second, c.Locking.WriteLockTimeout)
	assert.Equal(t, "json", c.Logging.Format)
	// Untouched by the overlay, still the env-derived default.
	assert.Equal(t, "./fsfs-data", c.Storage.DataDir)
}

func TestLoadFromFileMissingIsNotAnError(t *testing.T) {
	clearEnv(t)
	c := LoadFromEnv()
	require.NoError(t, c.LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestValidateRejectsBadConfig(t *testing.T) {
	clearEnv(t)
	c := LoadFromEnv()
	c.Storage.DataDir = ""
	assert.Error(t, c.Validate())

	c = LoadFromEnv()
	c.Storage.ShardSize = -1
	assert.Error(t, c.Validate())

	c = LoadFromEnv()
	c.Logging.Format = "xml"
	assert.Error(t, c.Validate())
}

func TestDeltaPolicyMatchesConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("FSFS_MAX_LINEAR_DELTIFICATION", "7")
	t.Setenv("FSFS_MAX_DELTIFICATION_WALK", "64")

	c := LoadFromEnv()
	p := c.DeltaPolicy()
	assert.Equal(t, 7, p.MaxLinearDeltification)
	assert.Equal(t, 64, p.MaxDeltificationWalk)
}
