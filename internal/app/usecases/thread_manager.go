package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/threadpoint/threadpoint/internal/app/dto"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	"github.com/threadpoint/threadpoint/internal/core/event"
)

const (
	// defaultOptimizeMax caps a thread's checkpoint count after an
	// optimization pass when the caller does not choose one.
	defaultOptimizeMax = 50

	// defaultArchiveAge is the optimization pass's archive threshold when
	// the caller does not choose one.
	defaultArchiveAge = 30 * 24 * time.Hour

	// maxProtectiveBackups bounds how many backups one optimization pass
	// creates for unprotected Manual and Milestone checkpoints.
	maxProtectiveBackups = 5

	// topRestoredLimit bounds the restore-frequency ranking in the
	// comprehensive statistics.
	topRestoredLimit = 5
)

// ThreadCheckpointManager composes the checkpoint and backup authorities
// into multi-step thread workflows.
// PRINCIPLES:
// - SRP: Coordinates workflows; policy stays in the lower layers
// - DIP: Depends on the authority abstractions, not concrete services
// - OCP: New workflows compose the same authorities
//
// Workflows are sagas without compensation: a failure aborts the remaining
// steps and propagates, and already-applied steps stay applied. Event
// publication is advisory; a sink failure is logged and never fails the
// operation.
type ThreadCheckpointManager struct {
	checkpoints CheckpointAuthority
	backups     BackupAuthority
	states      ThreadStateStore
	events      event.Sink
	logger      *slog.Logger
}

// NewThreadCheckpointManager wires the composite workflows. A nil states
// store disables thread validation and state application; a nil sink
// discards events.
func NewThreadCheckpointManager(
	checkpoints CheckpointAuthority,
	backups BackupAuthority,
	states ThreadStateStore,
	events event.Sink,
	logger *slog.Logger,
) *ThreadCheckpointManager {
	if events == nil {
		events = event.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadCheckpointManager{
		checkpoints: checkpoints,
		backups:     backups,
		states:      states,
		events:      events,
		logger:      logger,
	}
}

// CreateAndBackupCheckpoint creates a checkpoint and, when requested, an
// immediate backup of it. On a backup failure the returned result still
// names the created checkpoint, since the saga does not undo it.
func (m *ThreadCheckpointManager) CreateAndBackupCheckpoint(ctx context.Context, input dto.CreateCheckpointInput, withBackup bool) (*dto.CreateAndBackupResult, error) {
	cp, err := m.checkpoints.CreateCheckpoint(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}

	result := &dto.CreateAndBackupResult{CheckpointID: cp.ID}
	if withBackup {
		backup, err := m.backups.CreateBackup(ctx, cp.ID)
		if err != nil {
			return result, fmt.Errorf("failed to back up checkpoint %s: %w", cp.ID, err)
		}
		result.BackupID = backup.ID
	}

	ev := event.New(event.TypeCheckpointCreated, cp.ThreadID, cp.ID)
	ev.BackupID = result.BackupID
	publishEvent(ctx, m.events, m.logger, ev)

	m.logger.InfoContext(ctx, "checkpoint workflow completed",
		slog.String("thread_id", cp.ThreadID),
		slog.String("checkpoint_id", cp.ID),
		slog.Bool("backed_up", result.BackupID != ""))
	return result, nil
}

// RestoreWithValidation restores a checkpoint into a thread: optional
// thread precondition check, restore, non-empty state check, state
// application. The checkpoint may come from another thread; threadID names
// the thread receiving the state.
func (m *ThreadCheckpointManager) RestoreWithValidation(ctx context.Context, threadID, checkpointID string, validateThread bool) (*dto.RestoreResult, error) {
	if threadID == "" {
		return nil, dto.ErrMissingThreadID
	}
	if checkpointID == "" {
		return nil, dto.ErrMissingCheckpointID
	}

	if validateThread && m.states != nil {
		if err := m.states.ValidateThread(ctx, threadID); err != nil {
			return nil, fmt.Errorf("thread validation failed: %w", err)
		}
	}

	result, err := m.checkpoints.RestoreFromCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if len(result.StateData) == 0 {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, dto.ErrEmptyRestoredState)
	}

	if m.states != nil {
		if err := m.states.ApplyRestoredState(ctx, threadID, result.StateData); err != nil {
			return nil, fmt.Errorf("failed to apply restored state: %w", err)
		}
	}

	publishEvent(ctx, m.events, m.logger, event.New(event.TypeCheckpointRestored, threadID, checkpointID))

	m.logger.InfoContext(ctx, "checkpoint restored into thread",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.Int("restore_count", result.RestoreCount))
	return result, nil
}

// CreateCheckpointChain persists one checkpoint per state snapshot, each
// tagged with the shared chain id and its position. A failure partway
// returns the ids created so far alongside the error.
func (m *ThreadCheckpointManager) CreateCheckpointChain(ctx context.Context, threadID string, states []map[string]interface{}, chainMeta checkpoint.Metadata) ([]string, error) {
	if threadID == "" {
		return nil, dto.ErrMissingThreadID
	}
	if len(states) == 0 {
		return nil, dto.ErrEmptyChain
	}

	chainID := "chain-" + uuid.NewString()
	ids := make([]string, 0, len(states))
	for i, state := range states {
		meta := chainMeta.Clone()
		if err := meta.Set(checkpoint.MetaChainID, chainID); err != nil {
			return ids, fmt.Errorf("failed to tag chain metadata: %w", err)
		}
		if err := meta.Set(checkpoint.MetaChainIndex, i); err != nil {
			return ids, fmt.Errorf("failed to tag chain metadata: %w", err)
		}
		if err := meta.Set(checkpoint.MetaChainLength, len(states)); err != nil {
			return ids, fmt.Errorf("failed to tag chain metadata: %w", err)
		}

		cp, err := m.checkpoints.CreateCheckpoint(ctx, dto.CreateCheckpointInput{
			ThreadID:  threadID,
			StateData: state,
			Metadata:  meta,
			Type:      checkpoint.TypeAuto,
		})
		if err != nil {
			return ids, fmt.Errorf("chain %s stopped at link %d of %d: %w", chainID, i+1, len(states), err)
		}
		ids = append(ids, cp.ID)
	}

	m.logger.InfoContext(ctx, "checkpoint chain created",
		slog.String("thread_id", threadID),
		slog.String("chain_id", chainID),
		slog.Int("length", len(ids)))
	return ids, nil
}

// Timeline returns a thread's checkpoint history, newest first. With
// includeBackups each entry carries its backup chain and the backups leave
// the top level; a backup whose source is gone keeps its own slot.
func (m *ThreadCheckpointManager) Timeline(ctx context.Context, threadID string, includeBackups bool) ([]dto.TimelineEntry, error) {
	cps, err := m.checkpoints.ListCheckpoints(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if !includeBackups {
		entries := make([]dto.TimelineEntry, 0, len(cps))
		for _, cp := range cps {
			entries = append(entries, dto.TimelineEntry{Checkpoint: cp})
		}
		return entries, nil
	}

	present := make(map[string]bool, len(cps))
	for _, cp := range cps {
		present[cp.ID] = true
	}

	chains := make(map[string][]*checkpoint.Checkpoint)
	entries := make([]dto.TimelineEntry, 0, len(cps))
	for _, cp := range cps {
		source := cp.Metadata.StringValue(checkpoint.MetaBackupOf)
		if source != "" && present[source] {
			chains[source] = append(chains[source], cp)
			continue
		}
		entries = append(entries, dto.TimelineEntry{Checkpoint: cp})
	}
	for i := range entries {
		chain := chains[entries[i].Checkpoint.ID]
		sortBackupsNewestFirst(chain)
		entries[i].Backups = chain
	}
	return entries, nil
}

// OptimizeStorage runs the storage housekeeping saga for one thread:
// archive aged checkpoints, sweep expired ones, trim the oldest Auto
// checkpoints beyond maxCheckpoints, then back up unprotected Manual and
// Milestone checkpoints. A failure in the archive or cleanup steps returns
// the counts accumulated so far alongside the error; the trim and backup
// passes tolerate per-item failures.
func (m *ThreadCheckpointManager) OptimizeStorage(ctx context.Context, threadID string, maxCheckpoints int, olderThan time.Duration) (*dto.OptimizeReport, error) {
	if threadID == "" {
		return nil, dto.ErrMissingThreadID
	}
	if maxCheckpoints <= 0 {
		maxCheckpoints = defaultOptimizeMax
	}
	if olderThan <= 0 {
		olderThan = defaultArchiveAge
	}

	report := &dto.OptimizeReport{}

	archived, err := m.checkpoints.ArchiveOldCheckpoints(ctx, threadID, olderThan)
	report.Archived = archived
	if err != nil {
		return report, fmt.Errorf("optimization stopped during archive: %w", err)
	}

	deleted, err := m.checkpoints.CleanupExpiredCheckpoints(ctx, threadID)
	report.Deleted = deleted
	if err != nil {
		return report, fmt.Errorf("optimization stopped during cleanup: %w", err)
	}

	cps, err := m.checkpoints.ListCheckpoints(ctx, threadID)
	if err != nil {
		return report, fmt.Errorf("optimization stopped listing thread: %w", err)
	}

	kept, trimmed := m.trimBeyond(ctx, cps, maxCheckpoints)
	report.Deleted += trimmed
	report.BackedUp = m.protectImportant(ctx, kept)

	m.logger.InfoContext(ctx, "storage optimized",
		slog.String("thread_id", threadID),
		slog.Int("archived", report.Archived),
		slog.Int("deleted", report.Deleted),
		slog.Int("backed_up", report.BackedUp))
	return report, nil
}

// trimBeyond deletes the oldest Auto checkpoints until the thread holds at
// most max, skipping every other type. cps must be newest first; the
// returned slice preserves that order minus the deletions.
func (m *ThreadCheckpointManager) trimBeyond(ctx context.Context, cps []*checkpoint.Checkpoint, max int) ([]*checkpoint.Checkpoint, int) {
	if len(cps) <= max {
		return cps, 0
	}

	remaining := len(cps)
	deleted := make(map[string]bool)
	for i := len(cps) - 1; i >= 0 && remaining > max; i-- {
		cp := cps[i]
		if cp.Type != checkpoint.TypeAuto {
			continue
		}
		if err := m.checkpoints.DeleteCheckpoint(ctx, cp.ID); err != nil {
			m.logger.WarnContext(ctx, "failed to trim checkpoint",
				slog.String("checkpoint_id", cp.ID),
				slog.String("error", err.Error()))
			continue
		}
		deleted[cp.ID] = true
		remaining--
	}
	if len(deleted) == 0 {
		return cps, 0
	}

	kept := make([]*checkpoint.Checkpoint, 0, remaining)
	for _, cp := range cps {
		if !deleted[cp.ID] {
			kept = append(kept, cp)
		}
	}
	return kept, len(deleted)
}

// protectImportant backs up Manual and Milestone originals that were never
// restored and have no backup yet, newest first, bounded per pass.
// Individual backup failures are logged and skipped.
func (m *ThreadCheckpointManager) protectImportant(ctx context.Context, cps []*checkpoint.Checkpoint) int {
	hasBackup := make(map[string]bool)
	for _, cp := range cps {
		if source := cp.Metadata.StringValue(checkpoint.MetaBackupOf); source != "" {
			hasBackup[source] = true
		}
	}

	backedUp := 0
	for _, cp := range cps {
		if backedUp >= maxProtectiveBackups {
			break
		}
		if cp.Type != checkpoint.TypeManual && cp.Type != checkpoint.TypeMilestone {
			continue
		}
		if cp.RestoreCount > 0 || cp.Metadata.Has(checkpoint.MetaBackupOf) || hasBackup[cp.ID] {
			continue
		}
		if _, err := m.backups.CreateBackup(ctx, cp.ID); err != nil {
			m.logger.WarnContext(ctx, "failed to create protective backup",
				slog.String("checkpoint_id", cp.ID),
				slog.String("error", err.Error()))
			continue
		}
		backedUp++
	}
	return backedUp
}

// ComprehensiveStatistics extends the domain aggregate with the type
// distribution as shares, the most-restored checkpoints, and the backup
// copy count. An empty threadID covers every thread.
func (m *ThreadCheckpointManager) ComprehensiveStatistics(ctx context.Context, threadID string) (*dto.ComprehensiveStatistics, error) {
	stats, err := m.checkpoints.Statistics(ctx, threadID)
	if err != nil {
		return nil, err
	}

	cps, err := m.listScope(ctx, threadID)
	if err != nil {
		return nil, err
	}

	out := &dto.ComprehensiveStatistics{
		Statistics:  stats,
		TypeShare:   make(map[checkpoint.Type]float64, len(stats.ByType)),
		ThreadID:    threadID,
		GeneratedAt: time.Now().UTC(),
	}
	if stats.Total > 0 {
		for typ, n := range stats.ByType {
			out.TypeShare[typ] = float64(n) / float64(stats.Total)
		}
	}

	top := make([]dto.RestoreFrequency, 0)
	for _, cp := range cps {
		if cp.Metadata.Has(checkpoint.MetaBackupOf) {
			out.BackupCount++
		}
		if cp.RestoreCount > 0 {
			top = append(top, dto.RestoreFrequency{
				CheckpointID: cp.ID,
				ThreadID:     cp.ThreadID,
				Restores:     cp.RestoreCount,
			})
		}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Restores > top[j].Restores })
	if len(top) > topRestoredLimit {
		top = top[:topRestoredLimit]
	}
	out.TopRestored = top
	return out, nil
}

// listScope returns one thread's checkpoints, or every checkpoint when
// threadID is empty. Lifecycle states partition the set, so the by-status
// listings union to the whole.
func (m *ThreadCheckpointManager) listScope(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	if threadID != "" {
		return m.checkpoints.ListCheckpoints(ctx, threadID)
	}

	var all []*checkpoint.Checkpoint
	for _, status := range []checkpoint.Status{
		checkpoint.StatusActive,
		checkpoint.StatusExpired,
		checkpoint.StatusCorrupted,
		checkpoint.StatusArchived,
	} {
		cps, err := m.checkpoints.ListCheckpointsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		all = append(all, cps...)
	}
	return all, nil
}

// publishEvent delivers an event at most once, logging a drop instead of
// failing the surrounding workflow.
func publishEvent(ctx context.Context, sink event.Sink, logger *slog.Logger, ev event.Event) {
	if err := sink.Publish(ctx, ev); err != nil {
		logger.WarnContext(ctx, "event dropped",
			slog.String("event_type", string(ev.Type)),
			slog.String("thread_id", ev.ThreadID),
			slog.String("error", err.Error()))
	}
}

func sortBackupsNewestFirst(chain []*checkpoint.Checkpoint) {
	sort.SliceStable(chain, func(i, j int) bool {
		ti, iok := chain[i].Metadata.TimeValue(checkpoint.MetaBackupTimestamp)
		tj, jok := chain[j].Metadata.TimeValue(checkpoint.MetaBackupTimestamp)
		if iok && jok && !ti.Equal(tj) {
			return ti.After(tj)
		}
		return chain[i].CreatedAt.After(chain[j].CreatedAt)
	})
}
