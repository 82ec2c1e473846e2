package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/core/storage"
)

func setupBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func newTestRecord(id, threadID string, createdAt time.Time) *storage.Record {
	return &storage.Record{
		ID:   id,
		Data: []byte("payload-" + id),
		Attrs: map[string]string{
			storage.AttrThreadID: threadID,
			storage.AttrStatus:   "active",
		},
		CreatedAt: createdAt,
	}
}

func TestBackendRequiresDataDir(t *testing.T) {
	_, err := NewBackend(Config{})
	assert.Error(t, err)
}

func TestBackendPutGetDelete(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	rec := newTestRecord("r1", "thread-1", time.Now().UTC())
	require.NoError(t, b.Put(ctx, rec))

	got, err := b.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Data, got.Data)
	assert.Equal(t, "thread-1", got.Attrs[storage.AttrThreadID])

	require.NoError(t, b.Delete(ctx, "r1"))
	_, err = b.Get(ctx, "r1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
	assert.ErrorIs(t, b.Delete(ctx, "r1"), storage.ErrRecordNotFound)
}

func TestBackendReplaceReusesFile(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBackend(Config{DataDir: dir})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	rec := newTestRecord("r1", "thread-1", time.Now().UTC())
	require.NoError(t, b.Put(ctx, rec))

	rec.Data = []byte("updated")
	require.NoError(t, b.Put(ctx, rec))

	got, err := b.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), got.Data)

	// One record file plus the index
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"rec_1.json", "index.json"}, names)
}

func TestBackendListAndCount(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, b.Put(ctx, newTestRecord("r1", "thread-1", now.Add(-3*time.Hour))))
	require.NoError(t, b.Put(ctx, newTestRecord("r2", "thread-2", now.Add(-2*time.Hour))))
	require.NoError(t, b.Put(ctx, newTestRecord("r3", "thread-1", now.Add(-1*time.Hour))))

	recs, err := b.List(ctx, storage.Filter{Attrs: map[string]string{storage.AttrThreadID: "thread-1"}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r3", recs[0].ID)
	assert.Equal(t, "r1", recs[1].ID)

	count, err := b.Count(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBackendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC()

	b, err := NewBackend(Config{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, newTestRecord("r1", "thread-1", now.Add(-time.Hour))))
	require.NoError(t, b.Put(ctx, newTestRecord("r2", "thread-1", now)))
	require.NoError(t, b.Close())

	reopened, err := NewBackend(Config{DataDir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.List(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r2", recs[0].ID)

	// New writes continue the file sequence instead of clobbering old slots
	require.NoError(t, reopened.Put(ctx, newTestRecord("r3", "thread-1", now.Add(time.Hour))))
	got, err := reopened.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-r1"), got.Data)
}

func TestBackendRecoversFromCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewBackend(Config{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, newTestRecord("r1", "thread-1", time.Now().UTC())))
	require.NoError(t, b.Put(ctx, newTestRecord("r2", "thread-2", time.Now().UTC())))
	require.NoError(t, b.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte("{broken"), 0644))

	recovered, err := NewBackend(Config{DataDir: dir})
	require.NoError(t, err)
	defer recovered.Close()

	count, err := recovered.Count(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := recovered.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-r1"), got.Data)
}

func TestBackendClose(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "double close is a no-op")

	assert.ErrorIs(t, b.Put(ctx, newTestRecord("r1", "thread-1", time.Now().UTC())), storage.ErrBackendClosed)
	_, err := b.List(ctx, storage.Filter{})
	assert.ErrorIs(t, err, storage.ErrBackendClosed)
	assert.True(t, b.Stats().Closed)
}

func TestBackendSyncWrites(t *testing.T) {
	b, err := NewBackend(Config{DataDir: t.TempDir(), SyncWrites: true})
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Put(ctx, newTestRecord("r1", "thread-1", time.Now().UTC())))

	got, err := b.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
}
