package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/threadpoint/threadpoint/internal/app/dto"
)

// MemoryThreadStates implements the ThreadStateStore interface
// PRINCIPLES:
// - SRP: Holds each thread's live state between restores
// - KISS: Simple in-memory state storage
// - OCP: Extensible for persistent state storage
type MemoryThreadStates struct {
	states map[string]map[string]interface{}
	mu     sync.RWMutex
}

// NewMemoryThreadStates creates an empty in-memory thread state store
func NewMemoryThreadStates() *MemoryThreadStates {
	return &MemoryThreadStates{
		states: make(map[string]map[string]interface{}),
	}
}

// ValidateThread checks that a thread identifier can receive restored state
func (s *MemoryThreadStates) ValidateThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("cannot restore into thread: %w", dto.ErrMissingThreadID)
	}
	return nil
}

// ApplyRestoredState replaces a thread's live state with restored data
func (s *MemoryThreadStates) ApplyRestoredState(ctx context.Context, threadID string, state map[string]interface{}) error {
	if threadID == "" {
		return fmt.Errorf("cannot restore into thread: %w", dto.ErrMissingThreadID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid concurrent modification
	s.states[threadID] = copyState(state)
	return nil
}

// ThreadState returns a copy of a thread's live state
func (s *MemoryThreadStates) ThreadState(threadID string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.states[threadID]
	if !exists {
		return nil, false
	}
	return copyState(state), true
}

// ClearThread drops a thread's live state after finalization
func (s *MemoryThreadStates) ClearThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, threadID)
}

// ActiveThreads returns the number of threads holding live state (for monitoring)
func (s *MemoryThreadStates) ActiveThreads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// copyState copies a state map container by container so callers cannot
// mutate the stored copy
func copyState(state map[string]interface{}) map[string]interface{} {
	if state == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(state))
	for k, v := range state {
		copied[k] = copyValue(v)
	}
	return copied
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyState(val)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = copyValue(item)
		}
		return items
	default:
		return v
	}
}
