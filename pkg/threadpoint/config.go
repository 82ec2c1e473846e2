package threadpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/threadpoint/threadpoint/internal/adapters/storage/file"
	"github.com/threadpoint/threadpoint/internal/adapters/storage/memory"
	"github.com/threadpoint/threadpoint/internal/adapters/storage/postgres"
	"github.com/threadpoint/threadpoint/internal/adapters/storage/sqlite"
	"github.com/threadpoint/threadpoint/internal/core/storage"
	"github.com/threadpoint/threadpoint/pkg/serialization"
	"github.com/threadpoint/threadpoint/pkg/validation"
)

// The on-disk configuration mirrors validation.RuntimeConfig but keeps
// durations as strings ("24h", "90s"); YAML has no duration scalar.
type fileConfig struct {
	Storage       fileStorage        `yaml:"storage"`
	Serialization *fileSerialization `yaml:"serialization"`
	Limits        *fileLimits        `yaml:"limits"`
	Cleanup       *fileCleanup       `yaml:"cleanup"`
}

type fileStorage struct {
	Backend   string  `yaml:"backend"`
	Path      *string `yaml:"path"`
	DSN       *string `yaml:"dsn"`
	TableName *string `yaml:"table_name"`
}

type fileSerialization struct {
	Codec       string `yaml:"codec"`
	Compression string `yaml:"compression"`
}

type fileLimits struct {
	MaxCheckpointsPerThread int    `yaml:"max_checkpoints_per_thread"`
	DefaultExpiration       string `yaml:"default_expiration"`
	MaxCheckpointSizeMB     int64  `yaml:"max_checkpoint_size_mb"`
	MinCleanupAge           string `yaml:"min_cleanup_age"`
}

type fileCleanup struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// DefaultRuntimeConfig returns the stock configuration: in-memory
// storage, msgpack with zstd at rest, stock limits, and a sweep every
// ten minutes.
func DefaultRuntimeConfig() *validation.RuntimeConfig {
	return &validation.RuntimeConfig{
		Storage: validation.StorageConfig{Backend: "memory"},
		Serialization: &validation.SerializationConfig{
			Codec:       "msgpack",
			Compression: "zstd",
		},
		Limits: &validation.LimitsConfig{
			MaxCheckpointsPerThread: 100,
			DefaultExpiration:       24 * time.Hour,
			MaxCheckpointSizeMB:     100,
			MinCleanupAge:           time.Hour,
		},
		Cleanup: &validation.CleanupConfig{
			Enabled:  true,
			Interval: 10 * time.Minute,
		},
	}
}

// LoadConfig builds the runtime configuration from three layers: stock
// defaults, an optional YAML file, and THREADPOINT_* environment
// variables (strongest). A .env file in the working directory is folded
// into the environment first when present.
func LoadConfig(path string) (*validation.RuntimeConfig, error) {
	// A missing .env is the common case, not an error.
	_ = godotenv.Load()

	cfg := DefaultRuntimeConfig()
	if path != "" {
		if err := mergeConfigFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validation.ValidateWithPlayground(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mergeConfigFile overlays the file's settings onto cfg. Only fields the
// file names are touched.
func mergeConfigFile(cfg *validation.RuntimeConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Storage.Backend != "" {
		cfg.Storage.Backend = fc.Storage.Backend
	}
	if fc.Storage.Path != nil {
		cfg.Storage.Path = fc.Storage.Path
	}
	if fc.Storage.DSN != nil {
		cfg.Storage.DSN = fc.Storage.DSN
	}
	if fc.Storage.TableName != nil {
		cfg.Storage.TableName = fc.Storage.TableName
	}

	if fc.Serialization != nil {
		s := ensureSerialization(cfg)
		if fc.Serialization.Codec != "" {
			s.Codec = fc.Serialization.Codec
		}
		if fc.Serialization.Compression != "" {
			s.Compression = fc.Serialization.Compression
		}
	}

	if fc.Limits != nil {
		l := ensureLimits(cfg)
		if fc.Limits.MaxCheckpointsPerThread > 0 {
			l.MaxCheckpointsPerThread = fc.Limits.MaxCheckpointsPerThread
		}
		if fc.Limits.MaxCheckpointSizeMB > 0 {
			l.MaxCheckpointSizeMB = fc.Limits.MaxCheckpointSizeMB
		}
		if fc.Limits.DefaultExpiration != "" {
			d, err := parseConfigDuration("limits.default_expiration", fc.Limits.DefaultExpiration)
			if err != nil {
				return err
			}
			l.DefaultExpiration = d
		}
		if fc.Limits.MinCleanupAge != "" {
			d, err := parseConfigDuration("limits.min_cleanup_age", fc.Limits.MinCleanupAge)
			if err != nil {
				return err
			}
			l.MinCleanupAge = d
		}
	}

	if fc.Cleanup != nil {
		c := ensureCleanup(cfg)
		if fc.Cleanup.Enabled != nil {
			c.Enabled = *fc.Cleanup.Enabled
		}
		if fc.Cleanup.Interval != "" {
			d, err := parseConfigDuration("cleanup.interval", fc.Cleanup.Interval)
			if err != nil {
				return err
			}
			c.Interval = d
		}
	}
	return nil
}

// applyEnvOverrides overlays THREADPOINT_* variables onto cfg.
func applyEnvOverrides(cfg *validation.RuntimeConfig) error {
	if v, ok := os.LookupEnv("THREADPOINT_STORAGE_BACKEND"); ok {
		cfg.Storage.Backend = v
	}
	if v, ok := os.LookupEnv("THREADPOINT_STORAGE_PATH"); ok {
		cfg.Storage.Path = &v
	}
	if v, ok := os.LookupEnv("THREADPOINT_STORAGE_DSN"); ok {
		cfg.Storage.DSN = &v
	}
	if v, ok := os.LookupEnv("THREADPOINT_STORAGE_TABLE"); ok {
		cfg.Storage.TableName = &v
	}
	if v, ok := os.LookupEnv("THREADPOINT_CODEC"); ok {
		ensureSerialization(cfg).Codec = v
	}
	if v, ok := os.LookupEnv("THREADPOINT_COMPRESSION"); ok {
		ensureSerialization(cfg).Compression = v
	}
	if v, ok := os.LookupEnv("THREADPOINT_MAX_CHECKPOINTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse THREADPOINT_MAX_CHECKPOINTS %q: %w", v, err)
		}
		ensureLimits(cfg).MaxCheckpointsPerThread = n
	}
	if v, ok := os.LookupEnv("THREADPOINT_MAX_SIZE_MB"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse THREADPOINT_MAX_SIZE_MB %q: %w", v, err)
		}
		ensureLimits(cfg).MaxCheckpointSizeMB = n
	}
	if v, ok := os.LookupEnv("THREADPOINT_DEFAULT_EXPIRATION"); ok {
		d, err := parseConfigDuration("THREADPOINT_DEFAULT_EXPIRATION", v)
		if err != nil {
			return err
		}
		ensureLimits(cfg).DefaultExpiration = d
	}
	if v, ok := os.LookupEnv("THREADPOINT_MIN_CLEANUP_AGE"); ok {
		d, err := parseConfigDuration("THREADPOINT_MIN_CLEANUP_AGE", v)
		if err != nil {
			return err
		}
		ensureLimits(cfg).MinCleanupAge = d
	}
	if v, ok := os.LookupEnv("THREADPOINT_CLEANUP_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("failed to parse THREADPOINT_CLEANUP_ENABLED %q: %w", v, err)
		}
		ensureCleanup(cfg).Enabled = b
	}
	if v, ok := os.LookupEnv("THREADPOINT_CLEANUP_INTERVAL"); ok {
		d, err := parseConfigDuration("THREADPOINT_CLEANUP_INTERVAL", v)
		if err != nil {
			return err
		}
		ensureCleanup(cfg).Interval = d
	}
	return nil
}

func ensureSerialization(cfg *validation.RuntimeConfig) *validation.SerializationConfig {
	if cfg.Serialization == nil {
		cfg.Serialization = &validation.SerializationConfig{}
	}
	return cfg.Serialization
}

func ensureLimits(cfg *validation.RuntimeConfig) *validation.LimitsConfig {
	if cfg.Limits == nil {
		cfg.Limits = &validation.LimitsConfig{}
	}
	return cfg.Limits
}

func ensureCleanup(cfg *validation.RuntimeConfig) *validation.CleanupConfig {
	if cfg.Cleanup == nil {
		cfg.Cleanup = &validation.CleanupConfig{}
	}
	return cfg.Cleanup
}

func parseConfigDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s %q: %w", field, raw, err)
	}
	return d, nil
}

// NewRuntimeFromConfig opens the configured storage backend and wires a
// runtime around it. The configuration usually comes from LoadConfig;
// nil selects the defaults. ctx bounds backend connection setup only.
func NewRuntimeFromConfig(ctx context.Context, cfg *validation.RuntimeConfig, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultRuntimeConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	opts := Options{Logger: logger}
	if cfg.Serialization != nil {
		s, err := buildSerializer(cfg.Serialization)
		if err != nil {
			backend.Close()
			return nil, err
		}
		opts.Serializer = s
	}
	if cfg.Limits != nil {
		opts.Service = &ServiceConfig{
			MaxCheckpointsPerThread: cfg.Limits.MaxCheckpointsPerThread,
			DefaultExpiration:       cfg.Limits.DefaultExpiration,
			MaxCheckpointSize:       cfg.Limits.MaxCheckpointSizeMB * 1024 * 1024,
			MinCleanupAge:           cfg.Limits.MinCleanupAge,
		}
	}
	if cfg.Cleanup != nil && cfg.Cleanup.Enabled {
		opts.CleanupInterval = cfg.Cleanup.Interval
	}

	rt, err := NewRuntimeWithBackend(backend, opts)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return rt, nil
}

// openBackend maps a storage section onto a live backend. The table
// override applies to SQLite only; the Postgres backend uses its fixed
// table.
func openBackend(ctx context.Context, sc validation.StorageConfig) (storage.Backend, error) {
	switch sc.Backend {
	case "memory":
		return memory.NewBackend(), nil
	case "sqlite":
		b, err := sqlite.Open(*sc.Path)
		if err != nil {
			return nil, err
		}
		if sc.TableName != nil {
			if err := b.WithTableName(*sc.TableName).CreateTables(ctx); err != nil {
				b.Close()
				return nil, err
			}
		}
		return b, nil
	case "file":
		return file.NewBackend(file.Config{DataDir: *sc.Path, SyncWrites: true})
	case "postgres":
		return postgres.Connect(ctx, *sc.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

// buildSerializer maps codec and compression names onto a serializer.
func buildSerializer(sc *validation.SerializationConfig) (*serialization.Serializer, error) {
	var codec serialization.Codec
	switch sc.Codec {
	case "json":
		codec = serialization.NewJSONCodec()
	case "msgpack":
		codec = serialization.NewMsgPackCodec()
	default:
		return nil, fmt.Errorf("unknown codec %q", sc.Codec)
	}

	var compression serialization.CompressionType
	switch sc.Compression {
	case "none":
		compression = serialization.CompressionNone
	case "gzip":
		compression = serialization.CompressionGzip
	case "zstd":
		compression = serialization.CompressionZstd
	default:
		return nil, fmt.Errorf("unknown compression %q", sc.Compression)
	}

	return serialization.NewSerializer(serialization.SerializationConfig{
		Codec:       codec,
		Compression: compression,
	}), nil
}
