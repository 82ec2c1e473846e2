package threadpoint

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/adapters/storage/memory"
	"github.com/threadpoint/threadpoint/internal/core/event"
	"github.com/threadpoint/threadpoint/internal/core/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newMemoryBackend(t *testing.T) storage.Backend {
	t.Helper()
	return memory.NewBackend()
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewRuntime()
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestRuntime_CheckpointRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	cp, err := rt.CreateManualCheckpoint(ctx, "thread-1", map[string]interface{}{
		"step":  3,
		"topic": "billing",
	}, "before migration", "")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, TypeManual, cp.Type)
	assert.Equal(t, StatusActive, cp.Status)

	got, err := rt.GetCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.EqualValues(t, 3, got.StateData["step"])

	restored, err := rt.RestoreFromCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing", restored.StateData["topic"])

	listed, err := rt.ListCheckpoints(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 1, listed[0].RestoreCount)
}

func TestRuntime_ThreadLifecycle(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	start, err := rt.InitializeThreadStorage(ctx, "thread-life", map[string]interface{}{"stage": "open"})
	require.NoError(t, err)
	assert.Equal(t, TypeMilestone, start.Type)

	_, err = rt.CreateAutoCheckpoint(ctx, "thread-life", map[string]interface{}{"stage": "working"})
	require.NoError(t, err)

	res, err := rt.RestoreThreadStorage(ctx, "thread-life", start.ID)
	require.NoError(t, err)
	assert.Equal(t, "open", res.StateData["stage"])

	state, ok := rt.ThreadState("thread-life")
	require.True(t, ok)
	assert.Equal(t, "open", state["stage"])

	end, removed, err := rt.FinalizeThreadStorage(ctx, "thread-life", map[string]interface{}{"stage": "closed"})
	require.NoError(t, err)
	assert.Equal(t, TypeMilestone, end.Type)
	assert.Equal(t, 0, removed)
}

func TestRuntime_EventsFlow(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	_, err := rt.CreateAndBackupCheckpoint(ctx, CreateCheckpointInput{
		ThreadID:  "thread-ev",
		StateData: map[string]interface{}{"k": "v"},
		Type:      TypeManual,
	}, false)
	require.NoError(t, err)

	events := rt.Events().Drain()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeCheckpointCreated, events[0].Type)
	assert.Equal(t, "thread-ev", events[0].ThreadID)
}

func TestRuntime_OptionsOverrideLimits(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MaxCheckpointsPerThread = 2

	rt, err := NewRuntimeWithBackend(newMemoryBackend(t), Options{
		Service: &cfg,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	ctx := context.Background()

	// The quota evicts the oldest Auto checkpoint once the thread is
	// over its limit.
	for i := 0; i < 3; i++ {
		_, err := rt.CreateAutoCheckpoint(ctx, "thread-q", map[string]interface{}{"i": i})
		require.NoError(t, err)
	}
	listed, err := rt.ListCheckpoints(ctx, "thread-q")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestRuntime_RejectsBadServiceConfig(t *testing.T) {
	cfg := ServiceConfig{MaxCheckpointsPerThread: -1}

	_, err := NewRuntimeWithBackend(newMemoryBackend(t), Options{Service: &cfg})
	assert.Error(t, err)
}

func TestRuntime_StartRunsSweep(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MinCleanupAge = 0

	rt, err := NewRuntimeWithBackend(newMemoryBackend(t), Options{
		Service:         &cfg,
		CleanupInterval: 20 * time.Millisecond,
		Logger:          discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	ctx := context.Background()

	// A zero TTL produces a checkpoint that expires immediately, so the
	// very first sweep collects it.
	zero := time.Duration(0)
	_, err = rt.CreateCheckpoint(ctx, CreateCheckpointInput{
		ThreadID:  "thread-sweep",
		StateData: map[string]interface{}{"n": 1},
		Type:      TypeAuto,
		TTL:       &zero,
	})
	require.NoError(t, err)

	rt.Start(ctx)
	assert.Eventually(t, func() bool {
		listed, err := rt.ListCheckpoints(ctx, "thread-sweep")
		return err == nil && len(listed) == 0
	}, 2*time.Second, 20*time.Millisecond)
}
