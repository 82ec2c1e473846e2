// Package memory provides the in-memory storage backend
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/threadpoint/threadpoint/internal/core/storage"
)

// Backend implements storage.Backend with thread-safe in-memory storage.
// Records are cloned on the way in and out, so callers can never mutate
// stored state through a shared reference
// PRINCIPLES:
// - KISS: Simple in-memory map with proper concurrency
// - SRP: Single responsibility for in-memory record storage
// - DIP: Implements storage.Backend interface
type Backend struct {
	// Use sync.Map for concurrent access
	records sync.Map
	// Size tracking
	sizeBytes int64
	sizeMu    sync.RWMutex
	// Lifecycle
	closed bool
	mu     sync.RWMutex
}

// NewBackend creates a new in-memory backend
func NewBackend() *Backend {
	return &Backend{}
}

// Put creates or replaces a record.
func (b *Backend) Put(_ context.Context, rec *storage.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := b.guard(); err != nil {
		return err
	}

	clone := rec.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}

	prev, replaced := b.records.Swap(clone.ID, clone)

	b.sizeMu.Lock()
	if replaced {
		if p, ok := prev.(*storage.Record); ok {
			b.sizeBytes -= int64(len(p.Data))
		}
	}
	b.sizeBytes += int64(len(clone.Data))
	b.sizeMu.Unlock()

	return nil
}

// Get retrieves a record by id.
func (b *Backend) Get(_ context.Context, id string) (*storage.Record, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}

	value, exists := b.records.Load(id)
	if !exists {
		return nil, storage.ErrRecordNotFound
	}
	rec, ok := value.(*storage.Record)
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Delete removes a record by id.
func (b *Backend) Delete(_ context.Context, id string) error {
	if err := b.guard(); err != nil {
		return err
	}

	value, existed := b.records.LoadAndDelete(id)
	if !existed {
		return storage.ErrRecordNotFound
	}
	if rec, ok := value.(*storage.Record); ok {
		b.sizeMu.Lock()
		b.sizeBytes -= int64(len(rec.Data))
		b.sizeMu.Unlock()
	}
	return nil
}

// List returns matching records ordered by CreatedAt descending.
func (b *Backend) List(_ context.Context, filter storage.Filter) ([]*storage.Record, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}

	var results []*storage.Record
	b.records.Range(func(_, value interface{}) bool {
		rec, ok := value.(*storage.Record)
		if !ok {
			return true
		}
		if filter.Matches(rec) {
			results = append(results, rec.Clone())
		}
		return true
	})

	storage.SortNewestFirst(results)
	return results, nil
}

// Count reports how many records match the filter.
func (b *Backend) Count(_ context.Context, filter storage.Filter) (int, error) {
	if err := b.guard(); err != nil {
		return 0, err
	}

	count := 0
	b.records.Range(func(_, value interface{}) bool {
		rec, ok := value.(*storage.Record)
		if !ok {
			return true
		}
		if filter.Matches(rec) {
			count++
		}
		return true
	})
	return count, nil
}

// Close marks the backend closed. Further operations fail with
// storage.ErrBackendClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Stats returns storage statistics
type Stats struct {
	Count     int64 `json:"count"`
	SizeBytes int64 `json:"size_bytes"`
	Closed    bool  `json:"closed"`
}

// Stats reports the current record count and payload footprint.
func (b *Backend) Stats() Stats {
	count := int64(0)
	b.records.Range(func(_, _ interface{}) bool {
		count++
		return true
	})

	b.sizeMu.RLock()
	size := b.sizeBytes
	b.sizeMu.RUnlock()

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	return Stats{Count: count, SizeBytes: size, Closed: closed}
}

func (b *Backend) guard() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return storage.ErrBackendClosed
	}
	return nil
}
