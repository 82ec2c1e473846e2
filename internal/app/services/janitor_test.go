package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
)

func TestJanitorSweepsOnInterval(t *testing.T) {
	svc, repo := newTestService(t, DefaultConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	seedAt(t, repo, "cp-stale", "thread-1", checkpoint.TypeAuto, now.Add(-25*time.Hour))
	seedAt(t, repo, "cp-keeper", "thread-1", checkpoint.TypeManual, now.Add(-25*time.Hour))

	janitor := NewJanitor(svc, 10*time.Millisecond, discardLogger())
	janitor.Start(ctx)
	defer janitor.Stop()

	require.Eventually(t, func() bool {
		count, err := repo.CountByThread(ctx, "thread-1")
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	remaining, err := repo.FindByThread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "cp-keeper", remaining[0].ID)
}

func TestJanitorStartStop(t *testing.T) {
	svc, _ := newTestService(t, DefaultConfig())

	janitor := NewJanitor(svc, time.Hour, discardLogger())

	// Stop before Start is a no-op.
	janitor.Stop()

	janitor.Start(context.Background())
	janitor.Start(context.Background()) // second Start is a no-op
	janitor.Stop()
	janitor.Stop() // second Stop is a no-op

	// The janitor can be restarted after a stop.
	janitor.Start(context.Background())
	janitor.Stop()
}
