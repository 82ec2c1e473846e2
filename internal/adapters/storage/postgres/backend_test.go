package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/core/storage"
)

// setupBackend connects to the database named by THREADPOINT_POSTGRES_DSN
// and isolates the test in its own table. Tests skip when the variable
// is unset.
func setupBackend(t *testing.T) *Backend {
	t.Helper()

	dsn := os.Getenv("THREADPOINT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("THREADPOINT_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	b, err := Connect(ctx, dsn)
	require.NoError(t, err)

	b.tableName = "checkpoints_test"
	require.NoError(t, b.CreateTables(ctx))
	_, err = b.pool.Exec(ctx, "TRUNCATE "+b.tableName)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = b.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+b.tableName)
		b.Close()
	})
	return b
}

func newTestRecord(id, threadID string, createdAt time.Time) *storage.Record {
	return &storage.Record{
		ID:   id,
		Data: []byte("payload-" + id),
		Attrs: map[string]string{
			storage.AttrThreadID: threadID,
			storage.AttrStatus:   "active",
			storage.AttrType:     "auto",
		},
		CreatedAt: createdAt,
	}
}

func TestBackendRoundTrip(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Microsecond)
	rec := newTestRecord("r1", "thread-1", created)
	rec.Attrs[storage.AttrExpiresAt] = created.Add(time.Hour).Format(time.RFC3339Nano)
	require.NoError(t, b.Put(ctx, rec))

	got, err := b.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.Data, got.Data)
	assert.Equal(t, "thread-1", got.Attrs[storage.AttrThreadID])
	assert.True(t, got.CreatedAt.Equal(created))

	exp, ok := got.Expiry()
	require.True(t, ok)
	assert.True(t, exp.Equal(created.Add(time.Hour)))
}

func TestBackendUpsert(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	rec := newTestRecord("r1", "thread-1", time.Now().UTC())
	require.NoError(t, b.Put(ctx, rec))

	rec.Data = []byte("updated")
	rec.Attrs[storage.AttrStatus] = "archived"
	require.NoError(t, b.Put(ctx, rec))

	got, err := b.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), got.Data)
	assert.Equal(t, "archived", got.Attrs[storage.AttrStatus])

	count, err := b.Count(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBackendListAndDelete(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, b.Put(ctx, newTestRecord("r1", "thread-1", now.Add(-2*time.Hour))))
	require.NoError(t, b.Put(ctx, newTestRecord("r2", "thread-1", now.Add(-1*time.Hour))))
	require.NoError(t, b.Put(ctx, newTestRecord("r3", "thread-2", now)))

	recs, err := b.List(ctx, storage.Filter{Attrs: map[string]string{storage.AttrThreadID: "thread-1"}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r2", recs[0].ID)
	assert.Equal(t, "r1", recs[1].ID)

	require.NoError(t, b.Delete(ctx, "r1"))
	assert.ErrorIs(t, b.Delete(ctx, "r1"), storage.ErrRecordNotFound)

	_, err = b.Get(ctx, "r1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestBackendRejectsUnknownAttr(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	rec := &storage.Record{ID: "r1", Data: []byte("x"), Attrs: map[string]string{"shard": "7"}}
	assert.ErrorIs(t, b.Put(ctx, rec), storage.ErrUnsupportedAttr)

	_, err := b.Count(ctx, storage.Filter{Attrs: map[string]string{"shard": "7"}})
	assert.ErrorIs(t, err, storage.ErrUnsupportedAttr)
}
