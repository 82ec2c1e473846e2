// Package validation provides model definitions with validation tags
package validation

import (
	"time"
)

// StorageConfig describes which backend persists checkpoint records
// PRINCIPLES:
// - Single Responsibility: Storage selection only
// - Validation: Comprehensive validation tags
type StorageConfig struct {
	Backend   string  `json:"backend" validate:"required,storage_backend" yaml:"backend"`
	Path      *string `json:"path,omitempty" validate:"omitempty,min=1" yaml:"path,omitempty"`
	DSN       *string `json:"dsn,omitempty" validate:"omitempty,min=1" yaml:"dsn,omitempty"`
	TableName *string `json:"table_name,omitempty" validate:"omitempty,min=1,max=64" yaml:"table_name,omitempty"`
}

// Validate implements custom validation for StorageConfig
func (sc *StorageConfig) Validate() error {
	var errors ValidationErrors

	switch sc.Backend {
	case "sqlite", "file":
		if sc.Path == nil || *sc.Path == "" {
			errors = append(errors, ValidationError{
				Field:   "path",
				Value:   sc.Path,
				Message: sc.Backend + " backend requires a path",
			})
		}
	case "postgres":
		if sc.DSN == nil || *sc.DSN == "" {
			errors = append(errors, ValidationError{
				Field:   "dsn",
				Value:   sc.DSN,
				Message: "postgres backend requires a DSN",
			})
		}
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// SerializationConfig describes how checkpoint payloads are encoded at rest
type SerializationConfig struct {
	Codec       string `json:"codec" validate:"required,codec" yaml:"codec"`
	Compression string `json:"compression" validate:"required,compression" yaml:"compression"`
}

// LimitsConfig carries the business limits of the checkpoint service
type LimitsConfig struct {
	MaxCheckpointsPerThread int           `json:"max_checkpoints_per_thread" validate:"min=1,max=10000" yaml:"max_checkpoints_per_thread"`
	DefaultExpiration       time.Duration `json:"default_expiration" validate:"min=0" yaml:"default_expiration"`
	MaxCheckpointSizeMB     int64         `json:"max_checkpoint_size_mb" validate:"min=1,max=1024" yaml:"max_checkpoint_size_mb"`
	MinCleanupAge           time.Duration `json:"min_cleanup_age" validate:"min=0" yaml:"min_cleanup_age"`
}

// CleanupConfig controls the background retention sweep
type CleanupConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" validate:"omitempty,min=1s,max=24h" yaml:"interval"`
}

// RuntimeConfig is the complete configuration for a checkpoint runtime
type RuntimeConfig struct {
	Storage       StorageConfig        `json:"storage" validate:"required" yaml:"storage"`
	Serialization *SerializationConfig `json:"serialization,omitempty" validate:"omitempty" yaml:"serialization,omitempty"`
	Limits        *LimitsConfig        `json:"limits,omitempty" validate:"omitempty" yaml:"limits,omitempty"`
	Cleanup       *CleanupConfig       `json:"cleanup,omitempty" validate:"omitempty" yaml:"cleanup,omitempty"`
}

// Validate implements custom validation for RuntimeConfig
func (rc *RuntimeConfig) Validate() error {
	var errors ValidationErrors

	if err := rc.Storage.Validate(); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			errors = append(errors, ve...)
		}
	}

	// A cleanup floor above the default retention window means Auto
	// checkpoints expire long before the sweep may touch them.
	if rc.Limits != nil && rc.Limits.DefaultExpiration > 0 &&
		rc.Limits.MinCleanupAge > rc.Limits.DefaultExpiration {
		errors = append(errors, ValidationError{
			Field:   "min_cleanup_age",
			Value:   rc.Limits.MinCleanupAge,
			Message: "cleanup floor exceeds the default retention window",
		})
	}

	if rc.Cleanup != nil && rc.Cleanup.Enabled && rc.Cleanup.Interval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "interval",
			Value:   rc.Cleanup.Interval,
			Message: "enabled cleanup requires a positive interval",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// CreateCheckpointRequest is the wire shape for checkpoint creation
type CreateCheckpointRequest struct {
	ThreadID     string                 `json:"thread_id" validate:"required,thread_id" yaml:"thread_id"`
	Type         string                 `json:"type" validate:"omitempty,checkpoint_type" yaml:"type,omitempty"`
	State        map[string]interface{} `json:"state" validate:"required,min=1" yaml:"state"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	TTLSeconds   *int64                 `json:"ttl_seconds,omitempty" validate:"omitempty,min=0" yaml:"ttl_seconds,omitempty"`
	NeverExpires bool                   `json:"never_expires" yaml:"never_expires"`
}

// Validate implements custom validation for CreateCheckpointRequest
func (cr *CreateCheckpointRequest) Validate() error {
	if cr.TTLSeconds != nil && cr.NeverExpires {
		return ValidationErrors{{
			Field:   "ttl_seconds",
			Value:   cr.TTLSeconds,
			Message: "ttl_seconds and never_expires are mutually exclusive",
		}}
	}

	return nil
}

// RestoreCheckpointRequest is the wire shape for restore operations
type RestoreCheckpointRequest struct {
	CheckpointID string `json:"checkpoint_id" validate:"required,checkpoint_id" yaml:"checkpoint_id"`
}
