package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/threadpoint/threadpoint/internal/app/dto"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	imetrics "github.com/threadpoint/threadpoint/internal/infrastructure/metrics"
)

// BackupManager copies checkpoints into never-expiring duplicates and
// walks backup lineage
// PRINCIPLES:
// - SRP: Backup lineage only; creation policy stays in CheckpointService
// - DIP: Reads through the repository, writes through the service
type BackupManager struct {
	service *CheckpointService
	repo    checkpoint.Repository
	logger  *slog.Logger
}

// NewBackupManager creates a backup manager. A nil logger falls back to
// slog.Default().
func NewBackupManager(service *CheckpointService, repo checkpoint.Repository, logger *slog.Logger) *BackupManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &BackupManager{
		service: service,
		repo:    repo,
		logger:  logger,
	}
}

// CreateBackup duplicates a checkpoint's state and type into a new
// checkpoint on the same thread. The backup never expires and carries the
// source's metadata plus its lineage keys, so backups of expiring
// checkpoints outlive their source.
func (bm *BackupManager) CreateBackup(ctx context.Context, checkpointID string) (*checkpoint.Checkpoint, error) {
	source, err := bm.repo.FindByID(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source checkpoint: %w", err)
	}

	meta := source.Metadata.Clone()
	if meta == nil {
		meta = checkpoint.Metadata{}
	}
	if err := meta.Set(checkpoint.MetaBackupOf, source.ID); err != nil {
		return nil, fmt.Errorf("failed to record backup lineage: %w", err)
	}
	if err := meta.SetTime(checkpoint.MetaBackupTimestamp, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to record backup lineage: %w", err)
	}
	if err := meta.SetTime(checkpoint.MetaOriginalCreatedAt, source.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to record backup lineage: %w", err)
	}

	backup, err := bm.service.CreateCheckpoint(ctx, dto.CreateCheckpointInput{
		ThreadID:     source.ThreadID,
		StateData:    source.StateData,
		Metadata:     meta,
		Type:         source.Type,
		NeverExpires: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}

	imetrics.BackupCreated()
	bm.logger.InfoContext(ctx, "backup created",
		slog.String("backup_id", backup.ID),
		slog.String("source_id", source.ID),
		slog.String("thread_id", source.ThreadID))
	return backup, nil
}

// RestoreFromBackup replays a backup checkpoint. Backups restore like any
// other checkpoint.
func (bm *BackupManager) RestoreFromBackup(ctx context.Context, backupID string) (*dto.RestoreResult, error) {
	return bm.service.RestoreFromCheckpoint(ctx, backupID)
}

// BackupChain lists a checkpoint's backups, newest backup first. A missing
// source yields an empty chain, not an error.
func (bm *BackupManager) BackupChain(ctx context.Context, checkpointID string) ([]*checkpoint.Checkpoint, error) {
	source, err := bm.repo.FindByID(ctx, checkpointID)
	if err != nil {
		if checkpoint.IsNotFound(err) {
			return []*checkpoint.Checkpoint{}, nil
		}
		return nil, fmt.Errorf("failed to load source checkpoint: %w", err)
	}

	cps, err := bm.repo.FindByThread(ctx, source.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread checkpoints: %w", err)
	}

	backups := make([]*checkpoint.Checkpoint, 0)
	for _, cp := range cps {
		if cp.Metadata.StringValue(checkpoint.MetaBackupOf) == checkpointID {
			backups = append(backups, cp)
		}
	}

	sort.SliceStable(backups, func(i, j int) bool {
		ti, _ := backups[i].Metadata.TimeValue(checkpoint.MetaBackupTimestamp)
		tj, _ := backups[j].Metadata.TimeValue(checkpoint.MetaBackupTimestamp)
		if ti.Equal(tj) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return ti.After(tj)
	})
	return backups, nil
}
