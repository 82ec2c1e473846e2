// Package checkpoint provides checkpoint persistence interfaces
package checkpoint

import (
	"context"
	"time"
)

// Repository is the persistence port for checkpoints (DIP - Dependency Inversion)
// PRINCIPLES:
// - DIP: Core domain depends on this interface, not on storage engines
// - SRP: Single responsibility - checkpoint persistence
//
// Listing methods return checkpoints ordered by CreatedAt descending,
// newest first, with no implicit limit. Implementations must be safe for
// concurrent use; cross-operation atomicity is the caller's concern.
type Repository interface {
	// Save persists a new checkpoint after validating it.
	Save(ctx context.Context, cp *Checkpoint) error

	// FindByID retrieves a checkpoint, returning a not_found error when absent.
	FindByID(ctx context.Context, id string) (*Checkpoint, error)

	// FindByThread returns the full history of a thread, newest first.
	FindByThread(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// FindActiveByThread returns only the Active checkpoints of a thread.
	FindActiveByThread(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// FindByStatus returns all checkpoints in the given lifecycle state.
	FindByStatus(ctx context.Context, status Status) ([]*Checkpoint, error)

	// FindByType returns all checkpoints of the given type.
	FindByType(ctx context.Context, typ Type) ([]*Checkpoint, error)

	// FindExpired returns checkpoints whose retention window ended before
	// the given instant, regardless of status.
	FindExpired(ctx context.Context, before time.Time) ([]*Checkpoint, error)

	// FindLatestByThread returns the newest checkpoint of a thread.
	FindLatestByThread(ctx context.Context, threadID string) (*Checkpoint, error)

	// FindOldestByThread returns the oldest checkpoint of a thread.
	FindOldestByThread(ctx context.Context, threadID string) (*Checkpoint, error)

	// Update persists changes to an existing checkpoint. Updating a
	// checkpoint that was never saved is a not_found error.
	Update(ctx context.Context, cp *Checkpoint) error

	// Delete removes a checkpoint, returning a not_found error when absent.
	Delete(ctx context.Context, id string) error

	// DeleteByThread removes every checkpoint of a thread and reports the count.
	DeleteByThread(ctx context.Context, threadID string) (int, error)

	// DeleteExpired removes checkpoints whose retention window ended before
	// the given instant and reports the count.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)

	// CountByThread reports how many checkpoints a thread holds.
	CountByThread(ctx context.Context, threadID string) (int, error)

	// CountByStatus reports how many checkpoints share a lifecycle state.
	CountByStatus(ctx context.Context, status Status) (int, error)

	// Exists reports whether a checkpoint id is present.
	Exists(ctx context.Context, id string) (bool, error)

	// Statistics aggregates one thread, or every thread when threadID is empty.
	Statistics(ctx context.Context, threadID string) (*Statistics, error)
}
