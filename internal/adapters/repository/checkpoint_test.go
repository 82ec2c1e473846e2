package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/adapters/storage/memory"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	"github.com/threadpoint/threadpoint/pkg/serialization"
)

func setupRepository(t *testing.T) (*BackendRepository, *memory.Backend) {
	t.Helper()
	backend := memory.NewBackend()
	t.Cleanup(func() { _ = backend.Close() })
	return NewBackendRepository(backend, nil), backend
}

// seedCheckpoint saves a checkpoint with a controlled creation time so
// ordering assertions stay deterministic.
func seedCheckpoint(t *testing.T, repo *BackendRepository, id, threadID string, typ checkpoint.Type, createdAt time.Time) *checkpoint.Checkpoint {
	t.Helper()

	cp, err := checkpoint.New(id, threadID, map[string]interface{}{"step": id}, typ)
	require.NoError(t, err)
	cp.CreatedAt = createdAt
	cp.UpdatedAt = createdAt
	require.NoError(t, repo.Save(context.Background(), cp))
	return cp
}

func TestBackendRepositoryRoundTrip(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	cp, err := checkpoint.New("cp-1", "thread-1", map[string]interface{}{
		"turn":   int64(7),
		"prompt": "summarize the meeting",
		"nested": map[string]interface{}{"temperature": 0.3},
	}, checkpoint.TypeManual)
	require.NoError(t, err)
	require.NoError(t, cp.SetMeta("title", "before summarize"))
	require.NoError(t, repo.Save(ctx, cp))

	got, err := repo.FindByID(ctx, "cp-1")
	require.NoError(t, err)

	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, cp.ThreadID, got.ThreadID)
	assert.Equal(t, cp.Status, got.Status)
	assert.Equal(t, cp.Type, got.Type)
	assert.Equal(t, cp.SizeBytes, got.SizeBytes)
	assert.Equal(t, 0, got.RestoreCount)
	assert.True(t, got.CreatedAt.Equal(cp.CreatedAt))

	// MessagePack keeps integer and float kinds apart.
	assert.Equal(t, int64(7), got.StateData["turn"])
	assert.Equal(t, "summarize the meeting", got.StateData["prompt"])
	nested, ok := got.StateData["nested"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0.3, nested["temperature"])

	assert.Equal(t, "before summarize", got.Metadata.StringValue("title"))
}

func TestBackendRepositorySaveValidation(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	t.Run("NilCheckpoint", func(t *testing.T) {
		err := repo.Save(ctx, nil)
		assert.True(t, checkpoint.IsValidation(err))
		assert.ErrorIs(t, err, checkpoint.ErrNilCheckpoint)
	})

	t.Run("InvalidEntity", func(t *testing.T) {
		err := repo.Save(ctx, &checkpoint.Checkpoint{ID: "cp-1"})
		assert.True(t, checkpoint.IsValidation(err))
		assert.ErrorIs(t, err, checkpoint.ErrEmptyThreadID)
	})
}

func TestBackendRepositoryFindByIDNotFound(t *testing.T) {
	repo, _ := setupRepository(t)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, checkpoint.IsNotFound(err))
}

func TestBackendRepositoryUpdate(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("PersistsChanges", func(t *testing.T) {
		seedCheckpoint(t, repo, "cp-1", "thread-1", checkpoint.TypeAuto, now)

		cp, err := repo.FindByID(ctx, "cp-1")
		require.NoError(t, err)
		cp.MarkRestored(now.Add(time.Minute))
		require.NoError(t, repo.Update(ctx, cp))

		got, err := repo.FindByID(ctx, "cp-1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.RestoreCount)
		require.NotNil(t, got.LastRestoredAt)
		assert.True(t, got.LastRestoredAt.Equal(now.Add(time.Minute)))
	})

	t.Run("NeverSavedIsNotFound", func(t *testing.T) {
		cp, err := checkpoint.New("ghost", "thread-1", map[string]interface{}{"a": 1}, checkpoint.TypeAuto)
		require.NoError(t, err)
		assert.True(t, checkpoint.IsNotFound(repo.Update(ctx, cp)))
	})
}

func TestBackendRepositoryThreadQueries(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedCheckpoint(t, repo, "cp-1", "thread-1", checkpoint.TypeAuto, base)
	seedCheckpoint(t, repo, "cp-2", "thread-1", checkpoint.TypeManual, base.Add(10*time.Minute))
	seedCheckpoint(t, repo, "cp-3", "thread-1", checkpoint.TypeAuto, base.Add(20*time.Minute))
	seedCheckpoint(t, repo, "cp-4", "thread-2", checkpoint.TypeAuto, base.Add(30*time.Minute))

	t.Run("FindByThreadNewestFirst", func(t *testing.T) {
		cps, err := repo.FindByThread(ctx, "thread-1")
		require.NoError(t, err)
		require.Len(t, cps, 3)
		assert.Equal(t, "cp-3", cps[0].ID)
		assert.Equal(t, "cp-2", cps[1].ID)
		assert.Equal(t, "cp-1", cps[2].ID)
	})

	t.Run("FindActiveByThread", func(t *testing.T) {
		cp, err := repo.FindByID(ctx, "cp-1")
		require.NoError(t, err)
		require.NoError(t, cp.Archive())
		require.NoError(t, repo.Update(ctx, cp))

		active, err := repo.FindActiveByThread(ctx, "thread-1")
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, "cp-3", active[0].ID)
		assert.Equal(t, "cp-2", active[1].ID)
	})

	t.Run("LatestAndOldest", func(t *testing.T) {
		latest, err := repo.FindLatestByThread(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, "cp-3", latest.ID)

		oldest, err := repo.FindOldestByThread(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, "cp-1", oldest.ID)
	})

	t.Run("EmptyThreadIsNotFound", func(t *testing.T) {
		_, err := repo.FindLatestByThread(ctx, "thread-void")
		assert.True(t, checkpoint.IsNotFound(err))

		_, err = repo.FindOldestByThread(ctx, "thread-void")
		assert.True(t, checkpoint.IsNotFound(err))
	})

	t.Run("Counts", func(t *testing.T) {
		count, err := repo.CountByThread(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		archived, err := repo.CountByStatus(ctx, checkpoint.StatusArchived)
		require.NoError(t, err)
		assert.Equal(t, 1, archived)
	})
}

func TestBackendRepositoryStatusAndTypeQueries(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedCheckpoint(t, repo, "cp-1", "thread-1", checkpoint.TypeAuto, base)
	seedCheckpoint(t, repo, "cp-2", "thread-2", checkpoint.TypeMilestone, base.Add(time.Minute))

	byType, err := repo.FindByType(ctx, checkpoint.TypeMilestone)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "cp-2", byType[0].ID)

	byStatus, err := repo.FindByStatus(ctx, checkpoint.StatusActive)
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	_, err = repo.FindByStatus(ctx, checkpoint.Status("bogus"))
	assert.True(t, checkpoint.IsValidation(err))

	_, err = repo.FindByType(ctx, checkpoint.Type("bogus"))
	assert.True(t, checkpoint.IsValidation(err))

	_, err = repo.CountByStatus(ctx, checkpoint.Status("bogus"))
	assert.True(t, checkpoint.IsValidation(err))
}

func TestBackendRepositoryExpiry(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := seedCheckpoint(t, repo, "cp-old", "thread-1", checkpoint.TypeAuto, now.Add(-2*time.Hour))
	expired.SetExpiration(now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, repo.Update(ctx, expired))

	fresh := seedCheckpoint(t, repo, "cp-fresh", "thread-1", checkpoint.TypeAuto, now)
	fresh.SetExpiration(now, time.Hour)
	require.NoError(t, repo.Update(ctx, fresh))

	seedCheckpoint(t, repo, "cp-forever", "thread-1", checkpoint.TypeManual, now)

	t.Run("FindExpired", func(t *testing.T) {
		cps, err := repo.FindExpired(ctx, now)
		require.NoError(t, err)
		require.Len(t, cps, 1)
		assert.Equal(t, "cp-old", cps[0].ID)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		deleted, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		_, err = repo.FindByID(ctx, "cp-old")
		assert.True(t, checkpoint.IsNotFound(err))

		remaining, err := repo.CountByThread(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)
	})
}

func TestBackendRepositoryDelete(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedCheckpoint(t, repo, "cp-1", "thread-1", checkpoint.TypeAuto, base)
	seedCheckpoint(t, repo, "cp-2", "thread-1", checkpoint.TypeAuto, base.Add(time.Minute))
	seedCheckpoint(t, repo, "cp-3", "thread-2", checkpoint.TypeAuto, base.Add(2*time.Minute))

	t.Run("DeleteByID", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "cp-1"))
		assert.True(t, checkpoint.IsNotFound(repo.Delete(ctx, "cp-1")))
	})

	t.Run("DeleteByThread", func(t *testing.T) {
		deleted, err := repo.DeleteByThread(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		count, err := repo.CountByThread(ctx, "thread-2")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestBackendRepositoryExists(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()

	seedCheckpoint(t, repo, "cp-1", "thread-1", checkpoint.TypeAuto, time.Now().UTC())

	ok, err := repo.Exists(ctx, "cp-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendRepositoryStatistics(t *testing.T) {
	repo, _ := setupRepository(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seedCheckpoint(t, repo, "cp-1", "thread-1", checkpoint.TypeAuto, base)
	seedCheckpoint(t, repo, "cp-2", "thread-1", checkpoint.TypeManual, base.Add(time.Minute))
	seedCheckpoint(t, repo, "cp-3", "thread-2", checkpoint.TypeError, base.Add(2*time.Minute))

	global, err := repo.Statistics(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, global.Total)
	assert.Equal(t, 2, global.ByType[checkpoint.TypeAuto]+global.ByType[checkpoint.TypeManual])

	scoped, err := repo.Statistics(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, scoped.Total)
	assert.Equal(t, 1, scoped.ByType[checkpoint.TypeManual])
}

func TestBackendRepositoryClosedBackend(t *testing.T) {
	repo, backend := setupRepository(t)
	ctx := context.Background()

	seedCheckpoint(t, repo, "cp-1", "thread-1", checkpoint.TypeAuto, time.Now().UTC())
	require.NoError(t, backend.Close())

	_, err := repo.FindByID(ctx, "cp-1")
	assert.True(t, checkpoint.IsStorage(err))

	cp, err := checkpoint.New("cp-2", "thread-1", map[string]interface{}{"a": 1}, checkpoint.TypeAuto)
	require.NoError(t, err)
	assert.True(t, checkpoint.IsStorage(repo.Save(ctx, cp)))

	_, err = repo.CountByThread(ctx, "thread-1")
	assert.True(t, checkpoint.IsStorage(err))
}

func TestBackendRepositoryCustomSerializer(t *testing.T) {
	backend := memory.NewBackend()
	t.Cleanup(func() { _ = backend.Close() })

	repo := NewBackendRepository(backend, serialization.NewSerializer(serialization.SerializationConfig{
		Codec:       serialization.NewJSONCodec(),
		Compression: serialization.CompressionGzip,
	}))
	ctx := context.Background()

	cp, err := checkpoint.New("cp-1", "thread-1", map[string]interface{}{"turn": 7}, checkpoint.TypeAuto)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, cp))

	got, err := repo.FindByID(ctx, "cp-1")
	require.NoError(t, err)
	// JSON widens numbers to float64 on the way back.
	assert.Equal(t, float64(7), got.StateData["turn"])
}
