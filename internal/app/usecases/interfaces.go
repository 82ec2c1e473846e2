package usecases

import (
	"context"
	"time"

	"github.com/threadpoint/threadpoint/internal/app/dto"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
)

// CheckpointAuthority is the slice of the domain service the composite
// workflows consume.
// PRINCIPLES:
// - ISP: Only the operations the workflows actually call
// - DIP: Workflows depend on this abstraction, not the concrete service
type CheckpointAuthority interface {
	// CreateCheckpoint persists a new checkpoint under the thread's quota.
	CreateCheckpoint(ctx context.Context, input dto.CreateCheckpointInput) (*checkpoint.Checkpoint, error)

	// CreateMilestoneCheckpoint persists a named long-retention checkpoint.
	CreateMilestoneCheckpoint(ctx context.Context, threadID string, state map[string]interface{}, milestoneName string) (*checkpoint.Checkpoint, error)

	// GetCheckpoint loads one checkpoint by id.
	GetCheckpoint(ctx context.Context, id string) (*checkpoint.Checkpoint, error)

	// ListCheckpoints returns a thread's full history, newest first.
	ListCheckpoints(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error)

	// ListCheckpointsByStatus returns every checkpoint in one lifecycle
	// state, across all threads.
	ListCheckpointsByStatus(ctx context.Context, status checkpoint.Status) ([]*checkpoint.Checkpoint, error)

	// RestoreFromCheckpoint replays a checkpoint's state and records the restore.
	RestoreFromCheckpoint(ctx context.Context, id string) (*dto.RestoreResult, error)

	// DeleteCheckpoint removes one checkpoint.
	DeleteCheckpoint(ctx context.Context, id string) error

	// CleanupExpiredCheckpoints sweeps one thread, or all threads when
	// threadID is empty, and reports how many checkpoints were removed.
	CleanupExpiredCheckpoints(ctx context.Context, threadID string) (int, error)

	// ArchiveOldCheckpoints moves aged Active checkpoints to Archived.
	ArchiveOldCheckpoints(ctx context.Context, threadID string, olderThan time.Duration) (int, error)

	// Statistics aggregates one thread, or every thread when threadID is empty.
	Statistics(ctx context.Context, threadID string) (*checkpoint.Statistics, error)
}

// BackupAuthority provides backup lineage operations on top of the
// checkpoint authority.
type BackupAuthority interface {
	// CreateBackup copies a checkpoint into a non-expiring backup.
	CreateBackup(ctx context.Context, checkpointID string) (*checkpoint.Checkpoint, error)

	// RestoreFromBackup replays a backup's state.
	RestoreFromBackup(ctx context.Context, backupID string) (*dto.RestoreResult, error)

	// BackupChain lists a checkpoint's backups, newest first.
	BackupChain(ctx context.Context, checkpointID string) ([]*checkpoint.Checkpoint, error)
}

// ThreadStateStore is the host-owned collaborator that receives restored
// state. The store is opaque to the workflows beyond pass/fail.
type ThreadStateStore interface {
	// ValidateThread checks thread-level preconditions before a restore.
	ValidateThread(ctx context.Context, threadID string) error

	// ApplyRestoredState hands a restored payload to the host thread.
	ApplyRestoredState(ctx context.Context, threadID string, state map[string]interface{}) error

	// ThreadState returns the last applied payload for a thread.
	ThreadState(threadID string) (map[string]interface{}, bool)
}
