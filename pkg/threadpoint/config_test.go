package threadpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threadpoint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("DefaultsWithoutFile", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)

		assert.Equal(t, "memory", cfg.Storage.Backend)
		assert.Equal(t, "msgpack", cfg.Serialization.Codec)
		assert.Equal(t, "zstd", cfg.Serialization.Compression)
		assert.Equal(t, 100, cfg.Limits.MaxCheckpointsPerThread)
		assert.Equal(t, 24*time.Hour, cfg.Limits.DefaultExpiration)
		assert.True(t, cfg.Cleanup.Enabled)
		assert.Equal(t, 10*time.Minute, cfg.Cleanup.Interval)
	})

	t.Run("FileOverlaysDefaults", func(t *testing.T) {
		path := writeConfigFile(t, `
storage:
  backend: sqlite
  path: /tmp/checkpoints.db
serialization:
  codec: json
  compression: none
limits:
  max_checkpoints_per_thread: 25
  default_expiration: 48h
  max_checkpoint_size_mb: 10
  min_cleanup_age: 30m
cleanup:
  enabled: false
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.Storage.Backend)
		require.NotNil(t, cfg.Storage.Path)
		assert.Equal(t, "/tmp/checkpoints.db", *cfg.Storage.Path)
		assert.Equal(t, "json", cfg.Serialization.Codec)
		assert.Equal(t, "none", cfg.Serialization.Compression)
		assert.Equal(t, 25, cfg.Limits.MaxCheckpointsPerThread)
		assert.Equal(t, 48*time.Hour, cfg.Limits.DefaultExpiration)
		assert.EqualValues(t, 10, cfg.Limits.MaxCheckpointSizeMB)
		assert.Equal(t, 30*time.Minute, cfg.Limits.MinCleanupAge)
		assert.False(t, cfg.Cleanup.Enabled)
		// Fields the file never names keep their defaults.
		assert.Equal(t, 10*time.Minute, cfg.Cleanup.Interval)
	})

	t.Run("EnvironmentBeatsFile", func(t *testing.T) {
		path := writeConfigFile(t, `
storage:
  backend: sqlite
  path: /tmp/checkpoints.db
`)
		t.Setenv("THREADPOINT_STORAGE_BACKEND", "memory")
		t.Setenv("THREADPOINT_MAX_CHECKPOINTS", "7")
		t.Setenv("THREADPOINT_CLEANUP_INTERVAL", "90s")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "memory", cfg.Storage.Backend)
		assert.Equal(t, 7, cfg.Limits.MaxCheckpointsPerThread)
		assert.Equal(t, 90*time.Second, cfg.Cleanup.Interval)
	})

	t.Run("RejectsUnparsableDuration", func(t *testing.T) {
		path := writeConfigFile(t, `
limits:
  default_expiration: tomorrow
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse limits.default_expiration")
	})

	t.Run("RejectsUnknownBackend", func(t *testing.T) {
		t.Setenv("THREADPOINT_STORAGE_BACKEND", "redis")

		_, err := LoadConfig("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("RejectsSQLiteWithoutPath", func(t *testing.T) {
		path := writeConfigFile(t, `
storage:
  backend: sqlite
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a path")
	})

	t.Run("RejectsMalformedYAML", func(t *testing.T) {
		path := writeConfigFile(t, "storage: [backend")

		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestNewRuntimeFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("NilSelectsDefaults", func(t *testing.T) {
		rt, err := NewRuntimeFromConfig(ctx, nil, discardLogger())
		require.NoError(t, err)
		t.Cleanup(func() { rt.Close() })

		cp, err := rt.CreateAutoCheckpoint(ctx, "thread-cfg", map[string]interface{}{"ok": true})
		require.NoError(t, err)
		got, err := rt.GetCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		assert.Equal(t, true, got.StateData["ok"])
	})

	t.Run("OpensSQLiteBackend", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "checkpoints.db")
		cfg := DefaultRuntimeConfig()
		cfg.Storage.Backend = "sqlite"
		cfg.Storage.Path = &dbPath
		cfg.Cleanup.Enabled = false

		rt, err := NewRuntimeFromConfig(ctx, cfg, discardLogger())
		require.NoError(t, err)
		t.Cleanup(func() { rt.Close() })

		cp, err := rt.CreateManualCheckpoint(ctx, "thread-db", map[string]interface{}{"n": 1}, "saved", "")
		require.NoError(t, err)
		got, err := rt.GetCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.StateData["n"])
		assert.FileExists(t, dbPath)
	})

	t.Run("OpensFileBackend", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultRuntimeConfig()
		cfg.Storage.Backend = "file"
		cfg.Storage.Path = &dir
		cfg.Cleanup.Enabled = false

		rt, err := NewRuntimeFromConfig(ctx, cfg, discardLogger())
		require.NoError(t, err)
		t.Cleanup(func() { rt.Close() })

		cp, err := rt.CreateManualCheckpoint(ctx, "thread-file", map[string]interface{}{"n": 2}, "saved", "")
		require.NoError(t, err)
		got, err := rt.GetCheckpoint(ctx, cp.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.StateData["n"])
	})

	t.Run("RejectsUnknownCodec", func(t *testing.T) {
		cfg := DefaultRuntimeConfig()
		cfg.Serialization.Codec = "xml"

		_, err := NewRuntimeFromConfig(ctx, cfg, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown codec")
	})

	t.Run("RejectsMissingDSN", func(t *testing.T) {
		cfg := DefaultRuntimeConfig()
		cfg.Storage.Backend = "postgres"

		_, err := NewRuntimeFromConfig(ctx, cfg, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a DSN")
	})
}
