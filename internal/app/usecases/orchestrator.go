package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/threadpoint/threadpoint/internal/app/dto"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	"github.com/threadpoint/threadpoint/internal/core/event"
)

// Milestone names written by the thread lifecycle operations.
const (
	milestoneInitialization = "initialization"
	milestoneFinalization   = "finalization"
)

// StorageOrchestrator is the outermost façade for thread-level storage
// lifecycle: opening and closing a thread's checkpoint history, bulk
// protection, and cross-thread snapshots.
// PRINCIPLES:
// - SRP: Thread lifecycle choreography only; no persisted state of its own
// - DIP: Composes the same authorities as the workflow manager
//
// Like the workflow manager, its sagas never roll back: callers must treat
// multi-step operations as possibly partially applied.
type StorageOrchestrator struct {
	manager     *ThreadCheckpointManager
	checkpoints CheckpointAuthority
	backups     BackupAuthority
	events      event.Sink
	logger      *slog.Logger
}

// NewStorageOrchestrator wires the thread lifecycle façade. A nil sink
// discards events.
func NewStorageOrchestrator(
	manager *ThreadCheckpointManager,
	checkpoints CheckpointAuthority,
	backups BackupAuthority,
	events event.Sink,
	logger *slog.Logger,
) *StorageOrchestrator {
	if events == nil {
		events = event.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageOrchestrator{
		manager:     manager,
		checkpoints: checkpoints,
		backups:     backups,
		events:      events,
		logger:      logger,
	}
}

// InitializeThreadStorage opens a thread's checkpoint history with an
// initialization milestone. An empty initial state is replaced with a
// minimal one so the milestone can persist.
func (o *StorageOrchestrator) InitializeThreadStorage(ctx context.Context, threadID string, initialState map[string]interface{}) (*checkpoint.Checkpoint, error) {
	if threadID == "" {
		return nil, dto.ErrMissingThreadID
	}
	if len(initialState) == 0 {
		initialState = map[string]interface{}{"thread_id": threadID}
	}

	cp, err := o.checkpoints.CreateMilestoneCheckpoint(ctx, threadID, initialState, milestoneInitialization)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize thread storage: %w", err)
	}

	publishEvent(ctx, o.events, o.logger, event.New(event.TypeThreadInitialized, threadID, cp.ID))

	o.logger.InfoContext(ctx, "thread storage initialized",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", cp.ID))
	return cp, nil
}

// FinalizeThreadStorage closes a thread's checkpoint history: a
// finalization milestone followed by an expired-checkpoint sweep. When the
// sweep fails the milestone stays in place and is returned with the error.
func (o *StorageOrchestrator) FinalizeThreadStorage(ctx context.Context, threadID string, finalState map[string]interface{}) (*checkpoint.Checkpoint, int, error) {
	if threadID == "" {
		return nil, 0, dto.ErrMissingThreadID
	}
	if len(finalState) == 0 {
		finalState = map[string]interface{}{"thread_id": threadID}
	}

	cp, err := o.checkpoints.CreateMilestoneCheckpoint(ctx, threadID, finalState, milestoneFinalization)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to finalize thread storage: %w", err)
	}

	removed, err := o.checkpoints.CleanupExpiredCheckpoints(ctx, threadID)
	if err != nil {
		return cp, removed, fmt.Errorf("finalization sweep failed: %w", err)
	}

	ev := event.New(event.TypeThreadFinalized, threadID, cp.ID)
	ev.Detail = map[string]string{"removed": strconv.Itoa(removed)}
	publishEvent(ctx, o.events, o.logger, ev)

	o.logger.InfoContext(ctx, "thread storage finalized",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", cp.ID),
		slog.Int("removed", removed))
	return cp, removed, nil
}

// BackupThreadStorage backs up every Manual and Milestone original in the
// thread, tolerating individual failures, and reports how many backups
// were created.
func (o *StorageOrchestrator) BackupThreadStorage(ctx context.Context, threadID string) (int, error) {
	if threadID == "" {
		return 0, dto.ErrMissingThreadID
	}

	cps, err := o.checkpoints.ListCheckpoints(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to list thread checkpoints: %w", err)
	}

	backedUp := 0
	for _, cp := range cps {
		if cp.Type != checkpoint.TypeManual && cp.Type != checkpoint.TypeMilestone {
			continue
		}
		if cp.Metadata.Has(checkpoint.MetaBackupOf) {
			continue
		}
		if _, err := o.backups.CreateBackup(ctx, cp.ID); err != nil {
			o.logger.WarnContext(ctx, "thread backup pass skipped a checkpoint",
				slog.String("checkpoint_id", cp.ID),
				slog.String("error", err.Error()))
			continue
		}
		backedUp++
	}

	o.logger.InfoContext(ctx, "thread storage backed up",
		slog.String("thread_id", threadID),
		slog.Int("backed_up", backedUp))
	return backedUp, nil
}

// SnapshotToThread copies a checkpoint's state into another thread as a
// Manual checkpoint carrying provenance metadata. The source is untouched.
func (o *StorageOrchestrator) SnapshotToThread(ctx context.Context, sourceCheckpointID, targetThreadID string) (*checkpoint.Checkpoint, error) {
	if sourceCheckpointID == "" {
		return nil, dto.ErrMissingCheckpointID
	}
	if targetThreadID == "" {
		return nil, dto.ErrMissingThreadID
	}

	source, err := o.checkpoints.GetCheckpoint(ctx, sourceCheckpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot source: %w", err)
	}

	meta := source.Metadata.Clone()
	if err := meta.Set(checkpoint.MetaSnapshotOfCheckpoint, source.ID); err != nil {
		return nil, fmt.Errorf("failed to record snapshot provenance: %w", err)
	}
	if err := meta.Set(checkpoint.MetaSnapshotOfThread, source.ThreadID); err != nil {
		return nil, fmt.Errorf("failed to record snapshot provenance: %w", err)
	}

	cp, err := o.checkpoints.CreateCheckpoint(ctx, dto.CreateCheckpointInput{
		ThreadID:  targetThreadID,
		StateData: source.StateData,
		Metadata:  meta,
		Type:      checkpoint.TypeManual,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot into thread %s: %w", targetThreadID, err)
	}

	ev := event.New(event.TypeCheckpointCreated, targetThreadID, cp.ID)
	ev.Detail = map[string]string{
		checkpoint.MetaSnapshotOfCheckpoint: source.ID,
		checkpoint.MetaSnapshotOfThread:     source.ThreadID,
	}
	publishEvent(ctx, o.events, o.logger, ev)

	o.logger.InfoContext(ctx, "checkpoint snapshot created",
		slog.String("source_checkpoint_id", source.ID),
		slog.String("source_thread_id", source.ThreadID),
		slog.String("thread_id", targetThreadID),
		slog.String("checkpoint_id", cp.ID))
	return cp, nil
}

// RestoreThreadStorage restores a checkpoint into a thread with full
// validation. The checkpoint may belong to another thread.
func (o *StorageOrchestrator) RestoreThreadStorage(ctx context.Context, threadID, checkpointID string) (*dto.RestoreResult, error) {
	return o.manager.RestoreWithValidation(ctx, threadID, checkpointID, true)
}
