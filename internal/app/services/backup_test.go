package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
)

func newTestBackupManager(t *testing.T) (*BackupManager, *CheckpointService, checkpoint.Repository) {
	t.Helper()

	svc, repo := newTestService(t, DefaultConfig())
	return NewBackupManager(svc, repo, discardLogger()), svc, repo
}

func TestCreateBackup(t *testing.T) {
	ctx := context.Background()

	t.Run("CopiesStateTypeAndMetadata", func(t *testing.T) {
		bm, svc, _ := newTestBackupManager(t)

		source, err := svc.CreateAutoCheckpoint(ctx, "thread-1",
			map[string]interface{}{"turn": 4, "topic": "renewal"})
		require.NoError(t, err)
		require.NotNil(t, source.ExpiresAt)

		backup, err := bm.CreateBackup(ctx, source.ID)
		require.NoError(t, err)

		assert.NotEqual(t, source.ID, backup.ID)
		assert.Equal(t, source.ThreadID, backup.ThreadID)
		assert.Equal(t, source.Type, backup.Type)
		assert.EqualValues(t, 4, backup.StateData["turn"])
		assert.Equal(t, checkpoint.StatusActive, backup.Status)

		// Backups outlive their source: no retention window.
		assert.Nil(t, backup.ExpiresAt)

		assert.Equal(t, source.ID, backup.Metadata.StringValue(checkpoint.MetaBackupOf))
		ts, ok := backup.Metadata.TimeValue(checkpoint.MetaBackupTimestamp)
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().UTC(), ts, 5*time.Second)
		original, ok := backup.Metadata.TimeValue(checkpoint.MetaOriginalCreatedAt)
		require.True(t, ok)
		assert.WithinDuration(t, source.CreatedAt, original, time.Second)
	})

	t.Run("PreservesSourceMetadata", func(t *testing.T) {
		bm, svc, _ := newTestBackupManager(t)

		source, err := svc.CreateManualCheckpoint(ctx, "thread-1",
			map[string]interface{}{"turn": 1}, "pre-migration", "full history")
		require.NoError(t, err)

		backup, err := bm.CreateBackup(ctx, source.ID)
		require.NoError(t, err)
		assert.Equal(t, "pre-migration", backup.Metadata.StringValue(checkpoint.MetaTitle))

		// The source's own metadata is untouched by the copy.
		reloaded, err := svc.GetCheckpoint(ctx, source.ID)
		require.NoError(t, err)
		assert.False(t, reloaded.Metadata.Has(checkpoint.MetaBackupOf))
	})

	t.Run("MissingSourceIsNotFound", func(t *testing.T) {
		bm, _, _ := newTestBackupManager(t)

		_, err := bm.CreateBackup(ctx, "cp-missing")
		require.Error(t, err)
		assert.True(t, checkpoint.IsNotFound(err))
	})
}

func TestRestoreFromBackup(t *testing.T) {
	ctx := context.Background()
	bm, svc, _ := newTestBackupManager(t)

	source, err := svc.CreateManualCheckpoint(ctx, "thread-1",
		map[string]interface{}{"turn": 2}, "stable", "")
	require.NoError(t, err)

	backup, err := bm.CreateBackup(ctx, source.ID)
	require.NoError(t, err)

	result, err := bm.RestoreFromBackup(ctx, backup.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.ID, result.CheckpointID)
	assert.EqualValues(t, 2, result.StateData["turn"])

	// Restore bookkeeping lands on the backup, not the source.
	reloadedSource, err := svc.GetCheckpoint(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloadedSource.RestoreCount)
}

func TestBackupChain(t *testing.T) {
	ctx := context.Background()

	t.Run("ListsNewestBackupFirst", func(t *testing.T) {
		bm, svc, _ := newTestBackupManager(t)

		source, err := svc.CreateManualCheckpoint(ctx, "thread-1",
			map[string]interface{}{"turn": 1}, "origin", "")
		require.NoError(t, err)

		first, err := bm.CreateBackup(ctx, source.ID)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, err := bm.CreateBackup(ctx, source.ID)
		require.NoError(t, err)

		// Noise: a backup of a different checkpoint on the same thread.
		other, err := svc.CreateAutoCheckpoint(ctx, "thread-1", map[string]interface{}{"turn": 2})
		require.NoError(t, err)
		_, err = bm.CreateBackup(ctx, other.ID)
		require.NoError(t, err)

		chain, err := bm.BackupChain(ctx, source.ID)
		require.NoError(t, err)
		require.Len(t, chain, 2)
		assert.Equal(t, second.ID, chain[0].ID)
		assert.Equal(t, first.ID, chain[1].ID)
	})

	t.Run("MissingSourceYieldsEmptyChain", func(t *testing.T) {
		bm, _, _ := newTestBackupManager(t)

		chain, err := bm.BackupChain(ctx, "cp-missing")
		require.NoError(t, err)
		assert.Empty(t, chain)
	})

	t.Run("SourceWithoutBackupsYieldsEmptyChain", func(t *testing.T) {
		bm, svc, _ := newTestBackupManager(t)

		source, err := svc.CreateAutoCheckpoint(ctx, "thread-1", map[string]interface{}{"turn": 1})
		require.NoError(t, err)

		chain, err := bm.BackupChain(ctx, source.ID)
		require.NoError(t, err)
		assert.Empty(t, chain)
	})
}
