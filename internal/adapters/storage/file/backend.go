// Package file provides the flat-file storage backend
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/threadpoint/threadpoint/internal/core/storage"
)

// Backend implements storage.Backend over a directory of record files.
// Payloads live in rec_<n>.json files; attributes and ordering live in
// index.json so filtered listings and counts never touch payloads
// PRINCIPLES:
// - KISS: Simple file-based persistence
// - SRP: Single responsibility - durable record storage
// - Thread-safe: Uses proper synchronization
type Backend struct {
	dataDir    string
	indexFile  string
	entries    map[string]*indexEntry
	nextID     int64
	closed     bool
	mu         sync.RWMutex
	syncWrites bool
}

// indexEntry holds the queryable view of one stored record.
type indexEntry struct {
	ID        string            `json:"id"`
	Filename  string            `json:"filename"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Config holds configuration for the file backend
type Config struct {
	DataDir    string // Directory to store record files
	SyncWrites bool   // Whether to fsync writes and renames
}

// NewBackend creates a file backend rooted at the configured directory,
// creating it when needed and loading any existing index.
func NewBackend(config Config) (*Backend, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	b := &Backend{
		dataDir:    config.DataDir,
		indexFile:  filepath.Join(config.DataDir, "index.json"),
		entries:    make(map[string]*indexEntry),
		syncWrites: config.SyncWrites,
	}

	if err := b.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	return b, nil
}

// Put creates or replaces a record.
func (b *Backend) Put(_ context.Context, rec *storage.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrBackendClosed
	}

	clone := rec.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}

	// Replacements reuse the existing file; new records get the next slot
	entry, exists := b.entries[clone.ID]
	if !exists {
		b.nextID++
		entry = &indexEntry{
			ID:       clone.ID,
			Filename: fmt.Sprintf("rec_%d.json", b.nextID),
		}
	}
	entry.Attrs = clone.Attrs
	entry.CreatedAt = clone.CreatedAt

	fullpath := filepath.Join(b.dataDir, entry.Filename)
	if err := b.writeJSON(fullpath, clone); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	b.entries[clone.ID] = entry

	if err := b.saveIndex(); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (b *Backend) Get(_ context.Context, id string) (*storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, storage.ErrBackendClosed
	}

	entry, exists := b.entries[id]
	if !exists {
		return nil, storage.ErrRecordNotFound
	}
	return b.readRecord(entry)
}

// Delete removes a record by id.
func (b *Backend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrBackendClosed
	}

	entry, exists := b.entries[id]
	if !exists {
		return storage.ErrRecordNotFound
	}

	os.Remove(filepath.Join(b.dataDir, entry.Filename))
	delete(b.entries, id)

	if err := b.saveIndex(); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

// List returns matching records ordered by CreatedAt descending.
func (b *Backend) List(_ context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, storage.ErrBackendClosed
	}

	var results []*storage.Record
	for _, entry := range b.entries {
		if !filter.Matches(entry.asRecord()) {
			continue
		}
		rec, err := b.readRecord(entry)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}

	storage.SortNewestFirst(results)
	return results, nil
}

// Count reports how many records match the filter. Counting reads only
// the index, never the payload files.
func (b *Backend) Count(_ context.Context, filter storage.Filter) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, storage.ErrBackendClosed
	}

	count := 0
	for _, entry := range b.entries {
		if filter.Matches(entry.asRecord()) {
			count++
		}
	}
	return count, nil
}

// Close marks the backend closed and flushes the index.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.saveIndex()
}

// Stats returns storage statistics
type Stats struct {
	Count   int    `json:"count"`
	DataDir string `json:"data_dir"`
	Closed  bool   `json:"closed"`
}

// Stats reports the current record count and location.
func (b *Backend) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Count: len(b.entries), DataDir: b.dataDir, Closed: b.closed}
}

// asRecord exposes the entry's queryable fields for filter matching.
func (e *indexEntry) asRecord() *storage.Record {
	return &storage.Record{ID: e.ID, Attrs: e.Attrs, CreatedAt: e.CreatedAt}
}

// readRecord loads a record payload from its file.
func (b *Backend) readRecord(entry *indexEntry) (*storage.Record, error) {
	data, err := os.ReadFile(filepath.Join(b.dataDir, entry.Filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// writeJSON writes v to path atomically: to temp then rename.
func (b *Backend) writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if b.syncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if b.syncWrites {
		// Sync the directory entry after rename
		_ = syncDir(path)
	}
	return nil
}

// loadIndex loads the record index from disk
func (b *Backend) loadIndex() error {
	if _, err := os.Stat(b.indexFile); os.IsNotExist(err) {
		// Index doesn't exist, start fresh
		return nil
	}

	data, err := os.ReadFile(b.indexFile)
	if err != nil {
		// Attempt recovery by scanning the data directory
		return b.recoverIndex()
	}

	var index struct {
		Entries []*indexEntry `json:"entries"`
		NextID  int64         `json:"next_id"`
	}
	if err := json.Unmarshal(data, &index); err != nil {
		// Attempt recovery by scanning the data directory
		return b.recoverIndex()
	}

	for _, entry := range index.Entries {
		b.entries[entry.ID] = entry
	}
	b.nextID = index.NextID
	return nil
}

// saveIndex saves the record index to disk
func (b *Backend) saveIndex() error {
	index := struct {
		Entries []*indexEntry `json:"entries"`
		NextID  int64         `json:"next_id"`
	}{
		Entries: make([]*indexEntry, 0, len(b.entries)),
		NextID:  b.nextID,
	}
	for _, entry := range b.entries {
		index.Entries = append(index.Entries, entry)
	}

	return b.writeJSON(b.indexFile, index)
}

// recoverIndex rebuilds the index by scanning record files.
func (b *Backend) recoverIndex() error {
	dirEntries, err := os.ReadDir(b.dataDir)
	if err != nil {
		return err
	}

	var maxID int64
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || len(name) <= 4 || name[:4] != "rec_" || filepath.Ext(name) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(b.dataDir, name))
		if err != nil {
			// Skip unreadable files
			continue
		}
		var rec storage.Record
		if err := json.Unmarshal(data, &rec); err != nil || rec.ID == "" {
			continue
		}

		var id int64
		_, _ = fmt.Sscanf(name, "rec_%d.json", &id)
		if id > maxID {
			maxID = id
		}

		b.entries[rec.ID] = &indexEntry{
			ID:        rec.ID,
			Filename:  name,
			Attrs:     rec.Attrs,
			CreatedAt: rec.CreatedAt,
		}
	}

	b.nextID = maxID
	return b.saveIndex()
}

// syncDir fsyncs the parent directory of the given file path.
func syncDir(path string) error {
	dir := filepath.Dir(path)
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}
