package usecases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/app/dto"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	"github.com/threadpoint/threadpoint/internal/core/event"
)

func newOrchestratorEnv(t *testing.T) (*managerEnv, *StorageOrchestrator) {
	t.Helper()
	env := newManagerEnv(t)
	orch := NewStorageOrchestrator(env.manager, env.service, env.backups, env.sink, discardLogger())
	return env, orch
}

func TestInitializeThreadStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesInitializationMilestone", func(t *testing.T) {
		env, orch := newOrchestratorEnv(t)

		cp, err := orch.InitializeThreadStorage(ctx, "thread-1", map[string]interface{}{"goal": "triage"})
		require.NoError(t, err)
		assert.Equal(t, checkpoint.TypeMilestone, cp.Type)
		assert.Equal(t, checkpoint.StatusActive, cp.Status)
		assert.Equal(t, "initialization", cp.Metadata.StringValue(checkpoint.MetaMilestoneName))

		events := env.sink.Drain()
		require.Len(t, events, 1)
		assert.Equal(t, event.TypeThreadInitialized, events[0].Type)
		assert.Equal(t, cp.ID, events[0].CheckpointID)
	})

	t.Run("SynthesizesEmptyState", func(t *testing.T) {
		_, orch := newOrchestratorEnv(t)

		cp, err := orch.InitializeThreadStorage(ctx, "thread-bare", nil)
		require.NoError(t, err)
		assert.Equal(t, "thread-bare", cp.StateData["thread_id"])
	})

	t.Run("RequiresThread", func(t *testing.T) {
		_, orch := newOrchestratorEnv(t)

		_, err := orch.InitializeThreadStorage(ctx, "", nil)
		assert.ErrorIs(t, err, dto.ErrMissingThreadID)
	})
}

func TestFinalizeThreadStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("WritesMilestoneThenSweeps", func(t *testing.T) {
		env, orch := newOrchestratorEnv(t)
		const thread = "thread-closing"

		aged := seedAged(t, env.repo, "cp-aged-auto", thread, checkpoint.TypeAuto, 26*time.Hour)
		_, err := env.service.CreateManualCheckpoint(ctx, thread, map[string]interface{}{"v": 1}, "keep", "")
		require.NoError(t, err)

		cp, removed, err := orch.FinalizeThreadStorage(ctx, thread, map[string]interface{}{"outcome": "resolved"})
		require.NoError(t, err)
		assert.Equal(t, checkpoint.TypeMilestone, cp.Type)
		assert.Equal(t, "finalization", cp.Metadata.StringValue(checkpoint.MetaMilestoneName))
		assert.Equal(t, 1, removed)

		_, err = env.service.GetCheckpoint(ctx, aged.ID)
		assert.True(t, checkpoint.IsNotFound(err))

		events := env.sink.Drain()
		require.Len(t, events, 1)
		assert.Equal(t, event.TypeThreadFinalized, events[0].Type)
		assert.Equal(t, "1", events[0].Detail["removed"])
	})

	t.Run("RequiresThread", func(t *testing.T) {
		_, orch := newOrchestratorEnv(t)

		_, _, err := orch.FinalizeThreadStorage(ctx, "", nil)
		assert.ErrorIs(t, err, dto.ErrMissingThreadID)
	})
}

func TestBackupThreadStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("BacksUpImportantCheckpoints", func(t *testing.T) {
		env, orch := newOrchestratorEnv(t)
		const thread = "thread-backup"

		manual, err := env.service.CreateManualCheckpoint(ctx, thread, map[string]interface{}{"v": 1}, "keep", "")
		require.NoError(t, err)
		milestone, err := env.service.CreateMilestoneCheckpoint(ctx, thread, map[string]interface{}{"v": 2}, "phase-1")
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			_, err := env.service.CreateAutoCheckpoint(ctx, thread, map[string]interface{}{"v": i})
			require.NoError(t, err)
		}

		count, err := orch.BackupThreadStorage(ctx, thread)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		for _, id := range []string{manual.ID, milestone.ID} {
			chain, err := env.backups.BackupChain(ctx, id)
			require.NoError(t, err)
			assert.Len(t, chain, 1)
		}
	})

	t.Run("BacksUpOriginalsEachPass", func(t *testing.T) {
		env, orch := newOrchestratorEnv(t)
		const thread = "thread-repeat"

		manual, err := env.service.CreateManualCheckpoint(ctx, thread, map[string]interface{}{"v": 1}, "keep", "")
		require.NoError(t, err)

		for pass := 0; pass < 2; pass++ {
			count, err := orch.BackupThreadStorage(ctx, thread)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		}

		// Backup copies are never treated as sources, so the chain grows
		// by exactly one per pass.
		chain, err := env.backups.BackupChain(ctx, manual.ID)
		require.NoError(t, err)
		assert.Len(t, chain, 2)
	})

	t.Run("ToleratesItemFailures", func(t *testing.T) {
		env, _ := newOrchestratorEnv(t)
		const thread = "thread-partial"

		manual, err := env.service.CreateManualCheckpoint(ctx, thread, map[string]interface{}{"v": 1}, "a", "")
		require.NoError(t, err)
		_, err = env.service.CreateMilestoneCheckpoint(ctx, thread, map[string]interface{}{"v": 2}, "b")
		require.NoError(t, err)

		orch := NewStorageOrchestrator(env.manager, env.service,
			&selectiveBackups{BackupAuthority: env.backups, failOn: manual.ID}, nil, discardLogger())

		count, err := orch.BackupThreadStorage(ctx, thread)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("RequiresThread", func(t *testing.T) {
		_, orch := newOrchestratorEnv(t)

		_, err := orch.BackupThreadStorage(ctx, "")
		assert.ErrorIs(t, err, dto.ErrMissingThreadID)
	})
}

func TestSnapshotToThread(t *testing.T) {
	ctx := context.Background()

	t.Run("CopiesStateWithProvenance", func(t *testing.T) {
		env, orch := newOrchestratorEnv(t)

		source, err := env.service.CreateManualCheckpoint(ctx, "thread-a",
			map[string]interface{}{"v": 1, "stage": "review"}, "before-merge", "")
		require.NoError(t, err)

		snap, err := orch.SnapshotToThread(ctx, source.ID, "thread-b")
		require.NoError(t, err)
		assert.Equal(t, "thread-b", snap.ThreadID)
		assert.Equal(t, checkpoint.TypeManual, snap.Type)
		assert.Nil(t, snap.ExpiresAt)
		assert.Equal(t, source.ID, snap.Metadata.StringValue(checkpoint.MetaSnapshotOfCheckpoint))
		assert.Equal(t, "thread-a", snap.Metadata.StringValue(checkpoint.MetaSnapshotOfThread))
		assert.Equal(t, "before-merge", snap.Metadata.StringValue(checkpoint.MetaTitle))

		reloaded, err := env.service.GetCheckpoint(ctx, source.ID)
		require.NoError(t, err)
		assert.Equal(t, reloaded.StateData, snap.StateData)
		assert.False(t, reloaded.Metadata.Has(checkpoint.MetaSnapshotOfCheckpoint))

		events := env.sink.Drain()
		require.Len(t, events, 1)
		assert.Equal(t, event.TypeCheckpointCreated, events[0].Type)
		assert.Equal(t, "thread-b", events[0].ThreadID)
		assert.Equal(t, source.ID, events[0].Detail[checkpoint.MetaSnapshotOfCheckpoint])
	})

	t.Run("MissingSource", func(t *testing.T) {
		_, orch := newOrchestratorEnv(t)

		_, err := orch.SnapshotToThread(ctx, "cp-ghost", "thread-b")
		require.Error(t, err)
		assert.True(t, checkpoint.IsNotFound(err))
	})

	t.Run("RequiresIdentifiers", func(t *testing.T) {
		_, orch := newOrchestratorEnv(t)

		_, err := orch.SnapshotToThread(ctx, "", "thread-b")
		assert.ErrorIs(t, err, dto.ErrMissingCheckpointID)

		_, err = orch.SnapshotToThread(ctx, "cp-1", "")
		assert.ErrorIs(t, err, dto.ErrMissingThreadID)
	})
}

func TestRestoreThreadStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("RestoresAcrossThreads", func(t *testing.T) {
		env, orch := newOrchestratorEnv(t)

		source, err := env.service.CreateManualCheckpoint(ctx, "thread-a", map[string]interface{}{"v": 42}, "src", "")
		require.NoError(t, err)

		result, err := orch.RestoreThreadStorage(ctx, "thread-b", source.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, result.RestoreCount)

		applied, ok := env.states.ThreadState("thread-b")
		require.True(t, ok)
		assert.EqualValues(t, 42, applied["v"])

		events := env.sink.Drain()
		require.Len(t, events, 1)
		assert.Equal(t, event.TypeCheckpointRestored, events[0].Type)
		assert.Equal(t, "thread-b", events[0].ThreadID)
	})
}
