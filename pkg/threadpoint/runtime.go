package threadpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/threadpoint/threadpoint/internal/adapters/repository"
	"github.com/threadpoint/threadpoint/internal/adapters/storage/memory"
	"github.com/threadpoint/threadpoint/internal/app/dto"
	"github.com/threadpoint/threadpoint/internal/app/services"
	"github.com/threadpoint/threadpoint/internal/app/usecases"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	"github.com/threadpoint/threadpoint/internal/core/event"
	"github.com/threadpoint/threadpoint/internal/core/storage"
	"github.com/threadpoint/threadpoint/pkg/serialization"
)

// Re-export core checkpoint types for convenience
type Checkpoint = checkpoint.Checkpoint
type Metadata = checkpoint.Metadata
type Status = checkpoint.Status
type Type = checkpoint.Type
type Statistics = checkpoint.Statistics
type Event = event.Event
type EventType = event.Type

// Re-export the inputs and reports callers exchange with the runtime
type CreateCheckpointInput = dto.CreateCheckpointInput
type RestoreResult = dto.RestoreResult
type CreateAndBackupResult = dto.CreateAndBackupResult
type TimelineEntry = dto.TimelineEntry
type OptimizeReport = dto.OptimizeReport
type RestoreFrequency = dto.RestoreFrequency
type ComprehensiveStatistics = dto.ComprehensiveStatistics

// ServiceConfig re-exports the tunable business limits of the service.
type ServiceConfig = services.Config

// Lifecycle states and checkpoint kinds, so callers never import
// internal packages.
const (
	StatusActive    = checkpoint.StatusActive
	StatusExpired   = checkpoint.StatusExpired
	StatusCorrupted = checkpoint.StatusCorrupted
	StatusArchived  = checkpoint.StatusArchived

	TypeManual    = checkpoint.TypeManual
	TypeAuto      = checkpoint.TypeAuto
	TypeError     = checkpoint.TypeError
	TypeMilestone = checkpoint.TypeMilestone
)

// DefaultServiceConfig returns the stock business limits.
func DefaultServiceConfig() ServiceConfig {
	return services.DefaultConfig()
}

// IsNotFound reports whether err marks a missing checkpoint.
func IsNotFound(err error) bool { return checkpoint.IsNotFound(err) }

// IsValidation reports whether err marks rejected input.
func IsValidation(err error) bool { return checkpoint.IsValidation(err) }

// Options tunes runtime assembly. The zero value selects the stock
// limits, the default serializer and event buffer, no background sweep,
// and slog.Default().
type Options struct {
	// Service overrides the business limits of the checkpoint service.
	Service *ServiceConfig
	// Serializer encodes checkpoint payloads at rest. Nil selects
	// msgpack with zstd compression.
	Serializer *serialization.Serializer
	// CleanupInterval enables the background retention sweep when
	// positive. The sweep starts with Start and stops with Close.
	CleanupInterval time.Duration
	// EventBuffer sizes the lifecycle event channel. Zero keeps the
	// default capacity.
	EventBuffer int
	Logger      *slog.Logger
}

// Runtime is the public façade over the checkpoint stack. It wires a
// storage backend, the policy service, the backup manager, thread state
// bookkeeping, and the workflow layer together so callers never import
// internal packages.
type Runtime struct {
	backend storage.Backend
	repo    *repository.BackendRepository
	service *services.CheckpointService
	backups *services.BackupManager
	states  *services.MemoryThreadStates
	manager *usecases.ThreadCheckpointManager
	orch    *usecases.StorageOrchestrator
	sink    *event.ChannelSink
	janitor *services.Janitor
	logger  *slog.Logger
}

// NewRuntime constructs a default runtime over the in-memory backend,
// suitable for local usage and tests.
func NewRuntime() (*Runtime, error) {
	return NewRuntimeWithBackend(memory.NewBackend(), Options{})
}

// NewRuntimeWithBackend assembles a runtime over an already-open storage
// backend. The runtime takes ownership of the backend: Close closes it.
func NewRuntimeWithBackend(backend storage.Backend, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := services.DefaultConfig()
	if opts.Service != nil {
		cfg = *opts.Service
	}

	sink := event.DefaultChannelSink()
	if opts.EventBuffer > 0 {
		sink = event.NewChannelSink(event.ChannelSinkConfig{BufferSize: opts.EventBuffer})
	}

	repo := repository.NewBackendRepository(backend, opts.Serializer)
	service, err := services.NewCheckpointService(repo, cfg, logger)
	if err != nil {
		sink.Close()
		return nil, err
	}
	backups := services.NewBackupManager(service, repo, logger)
	states := services.NewMemoryThreadStates()
	manager := usecases.NewThreadCheckpointManager(service, backups, states, sink, logger)
	orch := usecases.NewStorageOrchestrator(manager, service, backups, sink, logger)

	rt := &Runtime{
		backend: backend,
		repo:    repo,
		service: service,
		backups: backups,
		states:  states,
		manager: manager,
		orch:    orch,
		sink:    sink,
		logger:  logger,
	}
	if opts.CleanupInterval > 0 {
		rt.janitor = services.NewJanitor(service, opts.CleanupInterval, logger)
	}
	return rt, nil
}

// Start launches the background retention sweep when one was configured.
// It returns immediately; the sweep runs until ctx is canceled or Close
// is called.
func (rt *Runtime) Start(ctx context.Context) {
	if rt.janitor != nil {
		rt.janitor.Start(ctx)
	}
}

// Close stops the background sweep, closes the event sink, and releases
// the storage backend.
func (rt *Runtime) Close() error {
	if rt.janitor != nil {
		rt.janitor.Stop()
	}
	rt.sink.Close()
	return rt.backend.Close()
}

// Events exposes the lifecycle event stream. Consumers read with
// Receive, TryReceive, or Drain; unread events are dropped once the
// buffer fills.
func (rt *Runtime) Events() *event.ChannelSink {
	return rt.sink
}

// ThreadState returns the live state last applied to a thread by a
// restore, and whether one exists.
func (rt *Runtime) ThreadState(threadID string) (map[string]interface{}, bool) {
	return rt.states.ThreadState(threadID)
}

// CreateCheckpoint validates the input and persists a new checkpoint
// under the per-thread quota.
func (rt *Runtime) CreateCheckpoint(ctx context.Context, input CreateCheckpointInput) (*Checkpoint, error) {
	return rt.service.CreateCheckpoint(ctx, input)
}

// CreateAutoCheckpoint persists a periodic checkpoint with the stock
// retention window.
func (rt *Runtime) CreateAutoCheckpoint(ctx context.Context, threadID string, state map[string]interface{}) (*Checkpoint, error) {
	return rt.service.CreateAutoCheckpoint(ctx, threadID, state)
}

// CreateManualCheckpoint persists a user-requested checkpoint that never
// expires.
func (rt *Runtime) CreateManualCheckpoint(ctx context.Context, threadID string, state map[string]interface{}, title, description string) (*Checkpoint, error) {
	return rt.service.CreateManualCheckpoint(ctx, threadID, state, title, description)
}

// CreateErrorCheckpoint captures state at a failure point for later
// diagnosis.
func (rt *Runtime) CreateErrorCheckpoint(ctx context.Context, threadID string, state map[string]interface{}, errorMessage, errorType string) (*Checkpoint, error) {
	return rt.service.CreateErrorCheckpoint(ctx, threadID, state, errorMessage, errorType)
}

// CreateMilestoneCheckpoint marks a named milestone in a thread's
// history.
func (rt *Runtime) CreateMilestoneCheckpoint(ctx context.Context, threadID string, state map[string]interface{}, milestoneName string) (*Checkpoint, error) {
	return rt.service.CreateMilestoneCheckpoint(ctx, threadID, state, milestoneName)
}

// GetCheckpoint retrieves one checkpoint by id.
func (rt *Runtime) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	return rt.service.GetCheckpoint(ctx, id)
}

// GetLatestCheckpoint returns a thread's newest checkpoint.
func (rt *Runtime) GetLatestCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	return rt.service.GetLatestCheckpoint(ctx, threadID)
}

// ListCheckpoints returns a thread's checkpoints, newest first.
func (rt *Runtime) ListCheckpoints(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	return rt.service.ListCheckpoints(ctx, threadID)
}

// ListActiveCheckpoints returns the thread's checkpoints still in the
// active lifecycle state, newest first.
func (rt *Runtime) ListActiveCheckpoints(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	return rt.service.ListActiveCheckpoints(ctx, threadID)
}

// RestoreFromCheckpoint returns a checkpoint's state and records the
// restore on the checkpoint itself.
func (rt *Runtime) RestoreFromCheckpoint(ctx context.Context, id string) (*RestoreResult, error) {
	return rt.service.RestoreFromCheckpoint(ctx, id)
}

// DeleteCheckpoint removes one checkpoint by id.
func (rt *Runtime) DeleteCheckpoint(ctx context.Context, id string) error {
	return rt.service.DeleteCheckpoint(ctx, id)
}

// DeleteThreadCheckpoints removes every checkpoint of a thread and
// reports how many went away.
func (rt *Runtime) DeleteThreadCheckpoints(ctx context.Context, threadID string) (int, error) {
	return rt.service.DeleteThreadCheckpoints(ctx, threadID)
}

// CleanupExpiredCheckpoints sweeps a thread's expired checkpoints. An
// empty threadID sweeps every thread.
func (rt *Runtime) CleanupExpiredCheckpoints(ctx context.Context, threadID string) (int, error) {
	return rt.service.CleanupExpiredCheckpoints(ctx, threadID)
}

// ArchiveOldCheckpoints moves active checkpoints older than the window
// into the archived state.
func (rt *Runtime) ArchiveOldCheckpoints(ctx context.Context, threadID string, olderThan time.Duration) (int, error) {
	return rt.service.ArchiveOldCheckpoints(ctx, threadID, olderThan)
}

// ExtendCheckpointExpiration pushes a checkpoint's expiry out by extra.
func (rt *Runtime) ExtendCheckpointExpiration(ctx context.Context, id string, extra time.Duration) (*Checkpoint, error) {
	return rt.service.ExtendCheckpointExpiration(ctx, id, extra)
}

// Statistics aggregates counts, sizes, and restore totals. An empty
// threadID aggregates across all threads.
func (rt *Runtime) Statistics(ctx context.Context, threadID string) (*Statistics, error) {
	return rt.service.Statistics(ctx, threadID)
}

// CreateBackup copies a checkpoint into a never-expiring backup tagged
// with its origin.
func (rt *Runtime) CreateBackup(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	return rt.backups.CreateBackup(ctx, checkpointID)
}

// RestoreFromBackup restores state from a backup copy.
func (rt *Runtime) RestoreFromBackup(ctx context.Context, backupID string) (*RestoreResult, error) {
	return rt.backups.RestoreFromBackup(ctx, backupID)
}

// BackupChain lists every backup taken of a checkpoint, newest first.
func (rt *Runtime) BackupChain(ctx context.Context, checkpointID string) ([]*Checkpoint, error) {
	return rt.backups.BackupChain(ctx, checkpointID)
}

// CreateAndBackupCheckpoint creates a checkpoint and, when requested, an
// immediate backup of it.
func (rt *Runtime) CreateAndBackupCheckpoint(ctx context.Context, input CreateCheckpointInput, withBackup bool) (*CreateAndBackupResult, error) {
	return rt.manager.CreateAndBackupCheckpoint(ctx, input, withBackup)
}

// RestoreWithValidation restores a checkpoint's state into threadID
// after checking the thread can accept it.
func (rt *Runtime) RestoreWithValidation(ctx context.Context, threadID, checkpointID string, validateThread bool) (*RestoreResult, error) {
	return rt.manager.RestoreWithValidation(ctx, threadID, checkpointID, validateThread)
}

// CreateCheckpointChain persists a sequence of states as one tagged
// chain, returning the ids created so far.
func (rt *Runtime) CreateCheckpointChain(ctx context.Context, threadID string, states []map[string]interface{}, chainMeta Metadata) ([]string, error) {
	return rt.manager.CreateCheckpointChain(ctx, threadID, states, chainMeta)
}

// Timeline returns a thread's history, optionally folding backups under
// the checkpoint they copy.
func (rt *Runtime) Timeline(ctx context.Context, threadID string, includeBackups bool) ([]TimelineEntry, error) {
	return rt.manager.Timeline(ctx, threadID, includeBackups)
}

// OptimizeStorage archives old checkpoints, sweeps expired ones, trims
// surplus Auto checkpoints, and protects important ones with backups.
func (rt *Runtime) OptimizeStorage(ctx context.Context, threadID string, maxCheckpoints int, olderThan time.Duration) (*OptimizeReport, error) {
	return rt.manager.OptimizeStorage(ctx, threadID, maxCheckpoints, olderThan)
}

// ComprehensiveStatistics layers type shares, backup counts, and restore
// ranking on top of the base statistics.
func (rt *Runtime) ComprehensiveStatistics(ctx context.Context, threadID string) (*ComprehensiveStatistics, error) {
	return rt.manager.ComprehensiveStatistics(ctx, threadID)
}

// InitializeThreadStorage writes the initialization milestone a fresh
// thread starts from.
func (rt *Runtime) InitializeThreadStorage(ctx context.Context, threadID string, initialState map[string]interface{}) (*Checkpoint, error) {
	return rt.orch.InitializeThreadStorage(ctx, threadID, initialState)
}

// FinalizeThreadStorage writes the finalization milestone and sweeps the
// thread's expired checkpoints.
func (rt *Runtime) FinalizeThreadStorage(ctx context.Context, threadID string, finalState map[string]interface{}) (*Checkpoint, int, error) {
	return rt.orch.FinalizeThreadStorage(ctx, threadID, finalState)
}

// BackupThreadStorage backs up every important checkpoint of a thread,
// reporting how many backups were taken.
func (rt *Runtime) BackupThreadStorage(ctx context.Context, threadID string) (int, error) {
	return rt.orch.BackupThreadStorage(ctx, threadID)
}

// SnapshotToThread copies a checkpoint's state into another thread as a
// manual checkpoint tagged with its provenance.
func (rt *Runtime) SnapshotToThread(ctx context.Context, sourceCheckpointID, targetThreadID string) (*Checkpoint, error) {
	return rt.orch.SnapshotToThread(ctx, sourceCheckpointID, targetThreadID)
}

// RestoreThreadStorage restores a checkpoint into a thread with full
// validation.
func (rt *Runtime) RestoreThreadStorage(ctx context.Context, threadID, checkpointID string) (*RestoreResult, error) {
	return rt.orch.RestoreThreadStorage(ctx, threadID, checkpointID)
}
