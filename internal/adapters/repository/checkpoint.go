// Package repository adapts the generic storage backend to the typed
// checkpoint repository port. One implementation serves every engine:
// checkpoints are serialized whole into the record payload while the
// queryable fields are projected into record attributes.
//
// PRINCIPLES:
// - DIP: Depends on the storage.Backend contract, not on an engine
// - SRP: Translation between domain entities and stored records only
// - DRY: Query and error mapping written once for all backends
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	"github.com/threadpoint/threadpoint/internal/core/storage"
	"github.com/threadpoint/threadpoint/pkg/serialization"
)

// BackendRepository implements checkpoint.Repository over any storage.Backend.
type BackendRepository struct {
	backend    storage.Backend
	serializer *serialization.Serializer
}

var _ checkpoint.Repository = (*BackendRepository)(nil)

// NewBackendRepository creates a repository over the given backend. A nil
// serializer selects the default msgpack+zstd pipeline.
func NewBackendRepository(backend storage.Backend, serializer *serialization.Serializer) *BackendRepository {
	if serializer == nil {
		serializer = serialization.DefaultSerializer()
	}
	return &BackendRepository{
		backend:    backend,
		serializer: serializer,
	}
}

// Save persists a new checkpoint after validating it.
func (r *BackendRepository) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	const op = "repository.save"

	if cp == nil {
		return checkpoint.NewValidation(op, checkpoint.ErrNilCheckpoint)
	}
	if err := cp.Validate(); err != nil {
		return checkpoint.NewValidation(op, err).WithCheckpoint(cp.ID).WithThread(cp.ThreadID)
	}

	rec, err := r.encode(op, cp)
	if err != nil {
		return err
	}
	if err := r.backend.Put(ctx, rec); err != nil {
		return checkpoint.NewStorage(op, err).WithCheckpoint(cp.ID).WithThread(cp.ThreadID)
	}
	return nil
}

// FindByID retrieves a checkpoint by id.
func (r *BackendRepository) FindByID(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	const op = "repository.find_by_id"

	rec, err := r.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, checkpoint.NewNotFound(op, id)
		}
		return nil, checkpoint.NewStorage(op, err).WithCheckpoint(id)
	}
	return r.decode(op, rec)
}

// FindByThread returns the full history of a thread, newest first.
func (r *BackendRepository) FindByThread(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	return r.list(ctx, "repository.find_by_thread", storage.Filter{
		Attrs: map[string]string{storage.AttrThreadID: threadID},
	})
}

// FindActiveByThread returns only the Active checkpoints of a thread.
func (r *BackendRepository) FindActiveByThread(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	return r.list(ctx, "repository.find_active_by_thread", storage.Filter{
		Attrs: map[string]string{
			storage.AttrThreadID: threadID,
			storage.AttrStatus:   string(checkpoint.StatusActive),
		},
	})
}

// FindByStatus returns all checkpoints in the given lifecycle state.
func (r *BackendRepository) FindByStatus(ctx context.Context, status checkpoint.Status) ([]*checkpoint.Checkpoint, error) {
	const op = "repository.find_by_status"

	if !status.Valid() {
		return nil, checkpoint.NewValidation(op, fmt.Errorf("%w: %q", checkpoint.ErrInvalidStatus, status))
	}
	return r.list(ctx, op, storage.Filter{
		Attrs: map[string]string{storage.AttrStatus: string(status)},
	})
}

// FindByType returns all checkpoints of the given type.
func (r *BackendRepository) FindByType(ctx context.Context, typ checkpoint.Type) ([]*checkpoint.Checkpoint, error) {
	const op = "repository.find_by_type"

	if !typ.Valid() {
		return nil, checkpoint.NewValidation(op, fmt.Errorf("%w: %q", checkpoint.ErrInvalidType, typ))
	}
	return r.list(ctx, op, storage.Filter{
		Attrs: map[string]string{storage.AttrType: string(typ)},
	})
}

// FindExpired returns checkpoints whose retention window ended before the
// given instant. Checkpoints without a window never match.
func (r *BackendRepository) FindExpired(ctx context.Context, before time.Time) ([]*checkpoint.Checkpoint, error) {
	return r.list(ctx, "repository.find_expired", storage.Filter{
		ExpiresBefore: &before,
	})
}

// FindLatestByThread returns the newest checkpoint of a thread.
func (r *BackendRepository) FindLatestByThread(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	const op = "repository.find_latest_by_thread"

	cps, err := r.list(ctx, op, storage.Filter{
		Attrs: map[string]string{storage.AttrThreadID: threadID},
	})
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, checkpoint.NewNotFound(op, "").WithThread(threadID)
	}
	return cps[0], nil
}

// FindOldestByThread returns the oldest checkpoint of a thread.
func (r *BackendRepository) FindOldestByThread(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	const op = "repository.find_oldest_by_thread"

	cps, err := r.list(ctx, op, storage.Filter{
		Attrs: map[string]string{storage.AttrThreadID: threadID},
	})
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, checkpoint.NewNotFound(op, "").WithThread(threadID)
	}
	return cps[len(cps)-1], nil
}

// Update persists changes to an existing checkpoint.
func (r *BackendRepository) Update(ctx context.Context, cp *checkpoint.Checkpoint) error {
	const op = "repository.update"

	if cp == nil {
		return checkpoint.NewValidation(op, checkpoint.ErrNilCheckpoint)
	}
	if err := cp.Validate(); err != nil {
		return checkpoint.NewValidation(op, err).WithCheckpoint(cp.ID).WithThread(cp.ThreadID)
	}

	if _, err := r.backend.Get(ctx, cp.ID); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return checkpoint.NewNotFound(op, cp.ID).WithThread(cp.ThreadID)
		}
		return checkpoint.NewStorage(op, err).WithCheckpoint(cp.ID).WithThread(cp.ThreadID)
	}

	rec, err := r.encode(op, cp)
	if err != nil {
		return err
	}
	if err := r.backend.Put(ctx, rec); err != nil {
		return checkpoint.NewStorage(op, err).WithCheckpoint(cp.ID).WithThread(cp.ThreadID)
	}
	return nil
}

// Delete removes a checkpoint by id.
func (r *BackendRepository) Delete(ctx context.Context, id string) error {
	const op = "repository.delete"

	if err := r.backend.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return checkpoint.NewNotFound(op, id)
		}
		return checkpoint.NewStorage(op, err).WithCheckpoint(id)
	}
	return nil
}

// DeleteByThread removes every checkpoint of a thread and reports the count.
func (r *BackendRepository) DeleteByThread(ctx context.Context, threadID string) (int, error) {
	return r.deleteMatching(ctx, "repository.delete_by_thread", storage.Filter{
		Attrs: map[string]string{storage.AttrThreadID: threadID},
	})
}

// DeleteExpired removes checkpoints whose retention window ended before the
// given instant and reports the count.
func (r *BackendRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return r.deleteMatching(ctx, "repository.delete_expired", storage.Filter{
		ExpiresBefore: &before,
	})
}

// CountByThread reports how many checkpoints a thread holds.
func (r *BackendRepository) CountByThread(ctx context.Context, threadID string) (int, error) {
	const op = "repository.count_by_thread"

	count, err := r.backend.Count(ctx, storage.Filter{
		Attrs: map[string]string{storage.AttrThreadID: threadID},
	})
	if err != nil {
		return 0, checkpoint.NewStorage(op, err).WithThread(threadID)
	}
	return count, nil
}

// CountByStatus reports how many checkpoints share a lifecycle state.
func (r *BackendRepository) CountByStatus(ctx context.Context, status checkpoint.Status) (int, error) {
	const op = "repository.count_by_status"

	if !status.Valid() {
		return 0, checkpoint.NewValidation(op, fmt.Errorf("%w: %q", checkpoint.ErrInvalidStatus, status))
	}
	count, err := r.backend.Count(ctx, storage.Filter{
		Attrs: map[string]string{storage.AttrStatus: string(status)},
	})
	if err != nil {
		return 0, checkpoint.NewStorage(op, err)
	}
	return count, nil
}

// Exists reports whether a checkpoint id is present.
func (r *BackendRepository) Exists(ctx context.Context, id string) (bool, error) {
	const op = "repository.exists"

	_, err := r.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return false, nil
		}
		return false, checkpoint.NewStorage(op, err).WithCheckpoint(id)
	}
	return true, nil
}

// Statistics aggregates one thread, or every thread when threadID is empty.
func (r *BackendRepository) Statistics(ctx context.Context, threadID string) (*checkpoint.Statistics, error) {
	const op = "repository.statistics"

	filter := storage.Filter{}
	if threadID != "" {
		filter.Attrs = map[string]string{storage.AttrThreadID: threadID}
	}
	cps, err := r.list(ctx, op, filter)
	if err != nil {
		return nil, err
	}
	return checkpoint.ComputeStatistics(cps, time.Now().UTC()), nil
}

// list fetches matching records and decodes them, preserving backend order.
func (r *BackendRepository) list(ctx context.Context, op string, filter storage.Filter) ([]*checkpoint.Checkpoint, error) {
	recs, err := r.backend.List(ctx, filter)
	if err != nil {
		return nil, checkpoint.NewStorage(op, err)
	}

	cps := make([]*checkpoint.Checkpoint, 0, len(recs))
	for _, rec := range recs {
		cp, err := r.decode(op, rec)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// deleteMatching removes every record the filter selects. Records deleted
// concurrently by another caller are counted as already gone.
func (r *BackendRepository) deleteMatching(ctx context.Context, op string, filter storage.Filter) (int, error) {
	recs, err := r.backend.List(ctx, filter)
	if err != nil {
		return 0, checkpoint.NewStorage(op, err)
	}

	deleted := 0
	for _, rec := range recs {
		if err := r.backend.Delete(ctx, rec.ID); err != nil {
			if errors.Is(err, storage.ErrRecordNotFound) {
				continue
			}
			return deleted, checkpoint.NewStorage(op, err).WithCheckpoint(rec.ID)
		}
		deleted++
	}
	return deleted, nil
}

// encode serializes the checkpoint and projects its queryable fields into
// record attributes.
func (r *BackendRepository) encode(op string, cp *checkpoint.Checkpoint) (*storage.Record, error) {
	data, err := r.serializer.Serialize(cp)
	if err != nil {
		return nil, checkpoint.NewStorage(op, fmt.Errorf("encode payload: %w", err)).WithCheckpoint(cp.ID).WithThread(cp.ThreadID)
	}

	attrs := map[string]string{
		storage.AttrThreadID: cp.ThreadID,
		storage.AttrStatus:   string(cp.Status),
		storage.AttrType:     string(cp.Type),
	}
	if cp.ExpiresAt != nil {
		attrs[storage.AttrExpiresAt] = cp.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	return &storage.Record{
		ID:        cp.ID,
		Data:      data,
		Attrs:     attrs,
		CreatedAt: cp.CreatedAt,
	}, nil
}

// decode rebuilds a checkpoint from a stored record.
func (r *BackendRepository) decode(op string, rec *storage.Record) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := r.serializer.Deserialize(rec.Data, &cp); err != nil {
		return nil, checkpoint.NewStorage(op, fmt.Errorf("decode payload: %w", err)).WithCheckpoint(rec.ID)
	}
	return &cp, nil
}
