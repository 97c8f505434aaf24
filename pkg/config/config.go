// Package config loads commit-engine configuration from FSFS_-prefixed
// environment variables, with an optional fsfs.yaml overlay for settings
// better expressed as a file than a one-liner.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hollowmark/fsfs/pkg/deltabase"
)

// Config bundles every tunable the repository needs at Open/Create time.
type Config struct {
	Storage    StorageConfig
	Delta      DeltaConfig
	RepSharing RepSharingConfig
	Locking    LockingConfig
	Commit     CommitConfig
	Logging    LoggingConfig
}

// StorageConfig controls where the repository lives and how revisions
// are laid out on disk.
type StorageConfig struct {
	// DataDir is the repository root (spec §6's on-disk layout).
	DataDir string
	// ShardSize is revisions-per-shard; 0 selects the unsharded layout.
	ShardSize int64
}

// DeltaConfig bounds delta-base selection (spec §4.6).
type DeltaConfig struct {
	MaxLinearDeltification int
	MaxDeltificationWalk   int
}

// RepSharingConfig controls the persistent rep-sharing index (spec §4.8).
type RepSharingConfig struct {
	Enabled bool
	// BadgerInMemory keeps the index in memory instead of persisting it
	// under the repository's rep-cache directory — useful for tests and
	// throwaway repositories.
	BadgerInMemory bool
}

// LockingConfig tunes the cross-process locking protocol (spec §5).
type LockingConfig struct {
	WriteLockTimeout time.Duration
}

// CommitConfig toggles commit-pipeline behavior beyond the spec's
// required steps.
type CommitConfig struct {
	// VerifyAfterCommit re-reads a freshly published revision's root
	// node-revision as a debug-only postcondition (spec §4.9 step 12).
	VerifyAfterCommit bool
}

// LoggingConfig holds the log level and output format. Only pkg/config
// reads and validates them; the other packages log through the
// standard log package.
type LoggingConfig struct {
	Level  string
	Format string
}

// fileOverlay mirrors the subset of Config an fsfs.yaml file may
// override; every field is a pointer so an absent key leaves the
// environment-derived value untouched.
type fileOverlay struct {
	Storage *struct {
		DataDir   *string `yaml:"data_dir"`
		ShardSize *int64  `yaml:"shard_size"`
	} `yaml:"storage"`
	Delta *struct {
		MaxLinearDeltification *int `yaml:"max_linear_deltification"`
		MaxDeltificationWalk   *int `yaml:"max_deltification_walk"`
	} `yaml:"delta"`
	RepSharing *struct {
		Enabled        *bool `yaml:"enabled"`
		BadgerInMemory *bool `yaml:"badger_in_memory"`
	} `yaml:"rep_sharing"`
	Locking *struct {
		WriteLockTimeout *string `yaml:"write_lock_timeout"`
	} `yaml:"locking"`
	Commit *struct {
		VerifyAfterCommit *bool `yaml:"verify_after_commit"`
	} `yaml:"commit"`
	Logging *struct {
		Level  *string `yaml:"level"`
		Format *string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadFromEnv reads configuration from FSFS_-prefixed environment
// variables, applying sensible defaults for anything unset.
func LoadFromEnv() *Config {
	c := &Config{}

	c.Storage.DataDir = getEnv("FSFS_DATA_DIR", "./fsfs-data")
	c.Storage.ShardSize = getEnvInt64("FSFS_SHARD_SIZE", 1000)

	c.Delta.MaxLinearDeltification = getEnvInt("FSFS_MAX_LINEAR_DELTIFICATION", 16)
	c.Delta.MaxDeltificationWalk = getEnvInt("FSFS_MAX_DELTIFICATION_WALK", 1024)

	c.RepSharing.Enabled = getEnvBool("FSFS_REP_SHARING_ENABLED", true)
	c.RepSharing.BadgerInMemory = !getEnvBool("FSFS_REP_SHARING_CACHE_BADGER", true)

	c.Locking.WriteLockTimeout = getEnvDuration("FSFS_WRITE_LOCK_TIMEOUT", 10*time.Second)

	c.Commit.VerifyAfterCommit = getEnvBool("FSFS_VERIFY_AFTER_COMMIT", false)

	c.Logging.Level = getEnv("FSFS_LOG_LEVEL", "info")
	c.Logging.Format = getEnv("FSFS_LOG_FORMAT", "text")

	return c
}

// LoadFromFile applies path's fsfs.yaml overlay on top of c. A missing
// file is not an error — the overlay is optional.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if overlay.Storage != nil {
		if overlay.Storage.DataDir != nil {
			c.Storage.DataDir = *overlay.Storage.DataDir
		}
		if overlay.Storage.ShardSize != nil {
			c.Storage.ShardSize = *overlay.Storage.ShardSize
		}
	}
	if overlay.Delta != nil {
		if overlay.Delta.MaxLinearDeltification != nil {
			c.Delta.MaxLinearDeltification = *overlay.Delta.MaxLinearDeltification
		}
		if overlay.Delta.MaxDeltificationWalk != nil {
			c.Delta.MaxDeltificationWalk = *overlay.Delta.MaxDeltificationWalk
		}
	}
	if overlay.RepSharing != nil {
		if overlay.RepSharing.Enabled != nil {
			c.RepSharing.Enabled = *overlay.RepSharing.Enabled
		}
		if overlay.RepSharing.BadgerInMemory != nil {
			c.RepSharing.BadgerInMemory = *overlay.RepSharing.BadgerInMemory
		}
	}
	if overlay.Locking != nil && overlay.Locking.WriteLockTimeout != nil {
		d, err := time.ParseDuration(*overlay.Locking.WriteLockTimeout)
		if err != nil {
			return fmt.Errorf("config: locking.write_lock_timeout: %w", err)
		}
		c.Locking.WriteLockTimeout = d
	}
	if overlay.Commit != nil && overlay.Commit.VerifyAfterCommit != nil {
		c.Commit.VerifyAfterCommit = *overlay.Commit.VerifyAfterCommit
	}
	if overlay.Logging != nil {
		if overlay.Logging.Level != nil {
			c.Logging.Level = *overlay.Logging.Level
		}
		if overlay.Logging.Format != nil {
			c.Logging.Format = *overlay.Logging.Format
		}
	}

	return nil
}

// Validate rejects configurations the rest of the engine can't act on.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.data_dir must not be empty")
	}
	if c.Storage.ShardSize < 0 {
		return fmt.Errorf("config: storage.shard_size must be >= 0, got %d", c.Storage.ShardSize)
	}
	if c.Delta.MaxLinearDeltification < 0 {
		return fmt.Errorf("config: delta.max_linear_deltification must be >= 0")
	}
	if c.Delta.MaxDeltificationWalk < 0 {
		return fmt.Errorf("config: delta.max_deltification_walk must be >= 0")
	}
	if c.Locking.WriteLockTimeout < 0 {
		return fmt.Errorf("config: locking.write_lock_timeout must be >= 0")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// DeltaPolicy renders the Delta section as a deltabase.Policy.
func (c *Config) DeltaPolicy() deltabase.Policy {
	return deltabase.Policy{
		MaxLinearDeltification: c.Delta.MaxLinearDeltification,
		MaxDeltificationWalk:   c.Delta.MaxDeltificationWalk,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{DataDir: %s, ShardSize: %d, RepSharing: %v}",
		c.Storage.DataDir, c.Storage.ShardSize, c.RepSharing.Enabled)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
