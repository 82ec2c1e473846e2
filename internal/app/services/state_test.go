package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadpoint/threadpoint/internal/app/dto"
)

func TestMemoryThreadStates(t *testing.T) {
	ctx := context.Background()

	t.Run("ValidateThread", func(t *testing.T) {
		states := NewMemoryThreadStates()

		assert.NoError(t, states.ValidateThread(ctx, "thread-1"))

		err := states.ValidateThread(ctx, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, dto.ErrMissingThreadID)
	})

	t.Run("ApplyAndReadBack", func(t *testing.T) {
		states := NewMemoryThreadStates()

		require.NoError(t, states.ApplyRestoredState(ctx, "thread-1", map[string]interface{}{
			"turn":  3,
			"stack": []interface{}{"plan", "execute"},
		}))

		got, ok := states.ThreadState("thread-1")
		require.True(t, ok)
		assert.Equal(t, 3, got["turn"])

		_, ok = states.ThreadState("thread-unknown")
		assert.False(t, ok)
	})

	t.Run("RejectsEmptyThread", func(t *testing.T) {
		states := NewMemoryThreadStates()

		err := states.ApplyRestoredState(ctx, "", map[string]interface{}{"turn": 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, dto.ErrMissingThreadID)
	})

	t.Run("CopiesIsolateCallers", func(t *testing.T) {
		states := NewMemoryThreadStates()

		original := map[string]interface{}{
			"turn":   1,
			"nested": map[string]interface{}{"topic": "billing"},
		}
		require.NoError(t, states.ApplyRestoredState(ctx, "thread-1", original))

		// Mutating the input after the fact must not leak in.
		original["turn"] = 99
		original["nested"].(map[string]interface{})["topic"] = "changed"

		got, ok := states.ThreadState("thread-1")
		require.True(t, ok)
		assert.Equal(t, 1, got["turn"])
		assert.Equal(t, "billing", got["nested"].(map[string]interface{})["topic"])

		// Mutating the returned copy must not change the stored state.
		got["turn"] = 42
		again, _ := states.ThreadState("thread-1")
		assert.Equal(t, 1, again["turn"])
	})

	t.Run("ClearThread", func(t *testing.T) {
		states := NewMemoryThreadStates()

		require.NoError(t, states.ApplyRestoredState(ctx, "thread-1", map[string]interface{}{"turn": 1}))
		require.NoError(t, states.ApplyRestoredState(ctx, "thread-2", map[string]interface{}{"turn": 2}))
		assert.Equal(t, 2, states.ActiveThreads())

		states.ClearThread("thread-1")
		assert.Equal(t, 1, states.ActiveThreads())

		_, ok := states.ThreadState("thread-1")
		assert.False(t, ok)
	})
}
