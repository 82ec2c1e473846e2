// Package services holds the business-policy layer: checkpoint creation
// with quota enforcement, retention sweeps, restore bookkeeping, and the
// backup manager built on top of it.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadpoint/threadpoint/internal/app/dto"
	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
	imetrics "github.com/threadpoint/threadpoint/internal/infrastructure/metrics"
	"github.com/threadpoint/threadpoint/pkg/validation"
)

// Fixed retention policy. The tunables live in Config; these ratios are
// part of the quota algorithm itself.
const (
	// softCleanupKeep is how many of a thread's newest checkpoints the
	// soft quota pass leaves untouched.
	softCleanupKeep = 50
	// hardEvictCount bounds how many of the oldest Auto checkpoints the
	// hard quota pass removes when the soft pass was not enough.
	hardEvictCount = 10

	errorRetention     = 72 * time.Hour
	milestoneRetention = 168 * time.Hour
	autoCleanupAge     = 24 * time.Hour
)

// Config holds the tunable business limits of the checkpoint service.
type Config struct {
	MaxCheckpointsPerThread int `json:"max_checkpoints_per_thread" validate:"gt=0"`
	// DefaultExpiration is the retention window for Auto checkpoints.
	// Zero disables the default window.
	DefaultExpiration time.Duration `json:"default_expiration" validate:"gte=0"`
	MaxCheckpointSize int64         `json:"max_checkpoint_size" validate:"gt=0"`
	// MinCleanupAge is the absolute floor for retention sweeps: nothing
	// younger is ever swept. Quota eviction ignores it.
	MinCleanupAge time.Duration `json:"min_cleanup_age" validate:"gte=0"`
}

// DefaultConfig returns the stock limits: 100 checkpoints per thread, 24h
// Auto retention, 100 MiB state cap, 1h sweep floor.
func DefaultConfig() Config {
	return Config{
		MaxCheckpointsPerThread: 100,
		DefaultExpiration:       24 * time.Hour,
		MaxCheckpointSize:       100 * 1024 * 1024,
		MinCleanupAge:           time.Hour,
	}
}

// CheckpointService owns all checkpoint business policy
// PRINCIPLES:
// - SRP: Policy only; persistence mechanics stay in the Repository
// - DIP: Depends on the checkpoint.Repository abstraction
// - OCP: Limits arrive as configuration, not code changes
//
// Mutating operations on the same thread are serialized through an
// internal per-thread mutex, so quota checks and restore bookkeeping
// stay consistent within the process. Cross-process coordination is the
// backend's concern.
type CheckpointService struct {
	repo    checkpoint.Repository
	config  Config
	logger  *slog.Logger
	threads sync.Map // thread id -> *sync.Mutex
}

// NewCheckpointService creates the domain service. The configuration is
// validated up front; a nil logger falls back to slog.Default().
func NewCheckpointService(repo checkpoint.Repository, config Config, logger *slog.Logger) (*CheckpointService, error) {
	if err := validation.ValidateWithPlayground(config); err != nil {
		return nil, checkpoint.NewConfiguration("service.new", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointService{
		repo:   repo,
		config: config,
		logger: logger,
	}, nil
}

// lockThread serializes mutating operations on one thread and returns the
// unlock function.
func (s *CheckpointService) lockThread(threadID string) func() {
	v, _ := s.threads.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *CheckpointService) newCheckpointID() string {
	return "cp-" + uuid.NewString()
}

// CreateCheckpoint validates the input, enforces the per-thread quota, and
// persists a new checkpoint with its type's retention window.
func (s *CheckpointService) CreateCheckpoint(ctx context.Context, input dto.CreateCheckpointInput) (*checkpoint.Checkpoint, error) {
	const op = "service.create_checkpoint"

	if err := input.Validate(); err != nil {
		return nil, checkpoint.NewValidation(op, err).WithThread(input.ThreadID)
	}
	// Reject unencodable state up front so the caller sees the offending
	// path instead of a serializer error at save time.
	if err := validation.ValidateStateData(input.StateData); err != nil {
		return nil, checkpoint.NewValidation(op, err).WithThread(input.ThreadID)
	}

	cp, err := checkpoint.New(s.newCheckpointID(), input.ThreadID, input.StateData, input.Type)
	if err != nil {
		return nil, checkpoint.NewValidation(op, err).WithThread(input.ThreadID)
	}
	if cp.SizeBytes > s.config.MaxCheckpointSize {
		return nil, checkpoint.NewValidation(op, fmt.Errorf("%w: %d bytes over the %d byte limit",
			checkpoint.ErrStateTooLarge, cp.SizeBytes, s.config.MaxCheckpointSize)).WithThread(input.ThreadID)
	}
	for key, value := range input.Metadata {
		if err := cp.SetMeta(key, value); err != nil {
			return nil, checkpoint.NewValidation(op, err).WithThread(input.ThreadID)
		}
	}
	s.applyExpiration(cp, input)

	unlock := s.lockThread(input.ThreadID)
	defer unlock()

	if err := s.enforceQuota(ctx, input.ThreadID); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	imetrics.CheckpointCreated(string(cp.Type))
	s.logger.InfoContext(ctx, "checkpoint created",
		slog.String("checkpoint_id", cp.ID),
		slog.String("thread_id", cp.ThreadID),
		slog.String("type", string(cp.Type)),
		slog.Int64("size_bytes", cp.SizeBytes))
	return cp, nil
}

// applyExpiration resolves the retention window: an explicit TTL wins,
// NeverExpires forces none, otherwise the type default applies.
func (s *CheckpointService) applyExpiration(cp *checkpoint.Checkpoint, input dto.CreateCheckpointInput) {
	now := time.Now().UTC()
	switch {
	case input.NeverExpires:
		// Manual semantics on demand for any type.
	case input.TTL != nil:
		cp.SetExpiration(now, *input.TTL)
	default:
		if ttl, ok := s.defaultTTL(cp.Type); ok {
			cp.SetExpiration(now, ttl)
		}
	}
}

func (s *CheckpointService) defaultTTL(typ checkpoint.Type) (time.Duration, bool) {
	switch typ {
	case checkpoint.TypeManual:
		return 0, false
	case checkpoint.TypeError:
		return errorRetention, true
	case checkpoint.TypeMilestone:
		return milestoneRetention, true
	default:
		if s.config.DefaultExpiration <= 0 {
			return 0, false
		}
		return s.config.DefaultExpiration, true
	}
}

// CreateAutoCheckpoint persists a periodic snapshot with the default
// retention window.
func (s *CheckpointService) CreateAutoCheckpoint(ctx context.Context, threadID string, state map[string]interface{}) (*checkpoint.Checkpoint, error) {
	return s.CreateCheckpoint(ctx, dto.CreateCheckpointInput{
		ThreadID:  threadID,
		StateData: state,
		Type:      checkpoint.TypeAuto,
	})
}

// CreateManualCheckpoint persists a user-requested snapshot that never
// expires, annotated with its title and description.
func (s *CheckpointService) CreateManualCheckpoint(ctx context.Context, threadID string, state map[string]interface{}, title, description string) (*checkpoint.Checkpoint, error) {
	meta := checkpoint.Metadata{
		checkpoint.MetaTitle:       title,
		checkpoint.MetaDescription: description,
	}
	return s.CreateCheckpoint(ctx, dto.CreateCheckpointInput{
		ThreadID:  threadID,
		StateData: state,
		Metadata:  meta,
		Type:      checkpoint.TypeManual,
	})
}

// CreateErrorCheckpoint persists a pre-failure snapshot, retained 72h,
// recording what went wrong.
func (s *CheckpointService) CreateErrorCheckpoint(ctx context.Context, threadID string, state map[string]interface{}, errorMessage, errorType string) (*checkpoint.Checkpoint, error) {
	meta := checkpoint.Metadata{
		checkpoint.MetaErrorMessage: errorMessage,
		checkpoint.MetaErrorType:    errorType,
	}
	return s.CreateCheckpoint(ctx, dto.CreateCheckpointInput{
		ThreadID:  threadID,
		StateData: state,
		Metadata:  meta,
		Type:      checkpoint.TypeError,
	})
}

// CreateMilestoneCheckpoint persists a named milestone snapshot, retained
// one week.
func (s *CheckpointService) CreateMilestoneCheckpoint(ctx context.Context, threadID string, state map[string]interface{}, milestoneName string) (*checkpoint.Checkpoint, error) {
	meta := checkpoint.Metadata{
		checkpoint.MetaMilestoneName: milestoneName,
	}
	return s.CreateCheckpoint(ctx, dto.CreateCheckpointInput{
		ThreadID:  threadID,
		StateData: state,
		Metadata:  meta,
		Type:      checkpoint.TypeMilestone,
	})
}

// enforceQuota runs the two-pass eviction policy once a thread reaches its
// cap: (a) behind the newest 50, delete Auto and Error checkpoints; (b) if
// still at the cap, delete the 10 oldest Auto checkpoints outright. Manual
// and Milestone checkpoints always survive, so enforcement is best-effort
// and the pending create proceeds regardless.
func (s *CheckpointService) enforceQuota(ctx context.Context, threadID string) error {
	count, err := s.repo.CountByThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to count checkpoints: %w", err)
	}
	if count < s.config.MaxCheckpointsPerThread {
		return nil
	}

	evicted, err := s.softCleanup(ctx, threadID)
	if err != nil {
		return err
	}

	count, err = s.repo.CountByThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to count checkpoints: %w", err)
	}
	if count >= s.config.MaxCheckpointsPerThread {
		hard, err := s.evictOldestAuto(ctx, threadID)
		if err != nil {
			return err
		}
		evicted += hard

		if count-hard >= s.config.MaxCheckpointsPerThread {
			s.logger.WarnContext(ctx, "thread remains over checkpoint quota",
				slog.String("thread_id", threadID),
				slog.Int("count", count-hard),
				slog.Int("max", s.config.MaxCheckpointsPerThread))
		}
	}

	if evicted > 0 {
		imetrics.CheckpointDeleted("quota", int64(evicted))
		s.logger.InfoContext(ctx, "quota enforcement evicted checkpoints",
			slog.String("thread_id", threadID),
			slog.Int("evicted", evicted))
	}
	return nil
}

// softCleanup deletes Auto and Error checkpoints beyond the thread's 50
// newest. Checkpoints deleted concurrently are counted as already gone.
func (s *CheckpointService) softCleanup(ctx context.Context, threadID string) (int, error) {
	cps, err := s.repo.FindByThread(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to list thread checkpoints: %w", err)
	}
	if len(cps) <= softCleanupKeep {
		return 0, nil
	}

	deleted := 0
	for _, cp := range cps[softCleanupKeep:] {
		if cp.Type != checkpoint.TypeAuto && cp.Type != checkpoint.TypeError {
			continue
		}
		if err := s.repo.Delete(ctx, cp.ID); err != nil {
			if checkpoint.IsNotFound(err) {
				continue
			}
			return deleted, fmt.Errorf("failed to evict checkpoint %s: %w", cp.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// evictOldestAuto deletes up to hardEvictCount of the thread's oldest Auto
// checkpoints.
func (s *CheckpointService) evictOldestAuto(ctx context.Context, threadID string) (int, error) {
	cps, err := s.repo.FindByThread(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to list thread checkpoints: %w", err)
	}

	deleted := 0
	for i := len(cps) - 1; i >= 0 && deleted < hardEvictCount; i-- {
		if cps[i].Type != checkpoint.TypeAuto {
			continue
		}
		if err := s.repo.Delete(ctx, cps[i].ID); err != nil {
			if checkpoint.IsNotFound(err) {
				continue
			}
			return deleted, fmt.Errorf("failed to evict checkpoint %s: %w", cps[i].ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// GetCheckpoint loads one checkpoint by id.
func (s *CheckpointService) GetCheckpoint(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	cp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a thread's full history, newest first.
func (s *CheckpointService) ListCheckpoints(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	cps, err := s.repo.FindByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return cps, nil
}

// ListActiveCheckpoints returns only the restorable candidates of a thread.
func (s *CheckpointService) ListActiveCheckpoints(ctx context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	cps, err := s.repo.FindActiveByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active checkpoints: %w", err)
	}
	return cps, nil
}

// ListCheckpointsByStatus returns every checkpoint in one lifecycle state,
// across all threads.
func (s *CheckpointService) ListCheckpointsByStatus(ctx context.Context, status checkpoint.Status) ([]*checkpoint.Checkpoint, error) {
	cps, err := s.repo.FindByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints by status: %w", err)
	}
	return cps, nil
}

// GetLatestCheckpoint returns the newest checkpoint of a thread.
func (s *CheckpointService) GetLatestCheckpoint(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	cp, err := s.repo.FindLatestByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// RestoreFromCheckpoint replays a checkpoint's state: the checkpoint must
// be Active and inside its retention window; the restore bookkeeping is
// persisted before the state is handed back.
func (s *CheckpointService) RestoreFromCheckpoint(ctx context.Context, id string) (*dto.RestoreResult, error) {
	const op = "service.restore_from_checkpoint"

	cp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	unlock := s.lockThread(cp.ThreadID)
	defer unlock()

	// Reload under the lock so this update cannot clobber a concurrent
	// restore's bookkeeping.
	cp, err = s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	now := time.Now().UTC()
	if !cp.CanRestore(now) {
		imetrics.RestoreFailed()
		cause := fmt.Errorf("%w: status %s", checkpoint.ErrNotRestorable, cp.Status)
		if cp.Status == checkpoint.StatusActive && cp.IsExpired(now) {
			cause = fmt.Errorf("%w: retention window passed", checkpoint.ErrNotRestorable)
			if expireErr := cp.Expire(); expireErr == nil {
				if updateErr := s.repo.Update(ctx, cp); updateErr != nil {
					s.logger.WarnContext(ctx, "failed to mark checkpoint expired",
						slog.String("checkpoint_id", cp.ID),
						slog.Any("error", updateErr))
				}
			}
		}
		return nil, checkpoint.NewInvalidState(op, id, cause).WithThread(cp.ThreadID)
	}

	cp.MarkRestored(now)
	if err := s.repo.Update(ctx, cp); err != nil {
		imetrics.RestoreFailed()
		return nil, fmt.Errorf("failed to record restore: %w", err)
	}

	imetrics.CheckpointRestored()
	s.logger.InfoContext(ctx, "checkpoint restored",
		slog.String("checkpoint_id", cp.ID),
		slog.String("thread_id", cp.ThreadID),
		slog.Int("restore_count", cp.RestoreCount))

	return &dto.RestoreResult{
		CheckpointID: cp.ID,
		ThreadID:     cp.ThreadID,
		StateData:    cp.StateData,
		RestoreCount: cp.RestoreCount,
		RestoredAt:   now,
	}, nil
}

// DeleteCheckpoint removes one checkpoint by id.
func (s *CheckpointService) DeleteCheckpoint(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	imetrics.CheckpointDeleted("explicit", 1)
	return nil
}

// DeleteThreadCheckpoints removes a thread's entire history and reports
// how many checkpoints went with it.
func (s *CheckpointService) DeleteThreadCheckpoints(ctx context.Context, threadID string) (int, error) {
	unlock := s.lockThread(threadID)
	defer unlock()

	deleted, err := s.repo.DeleteByThread(ctx, threadID)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete thread checkpoints: %w", err)
	}
	if deleted > 0 {
		imetrics.CheckpointDeleted("thread", int64(deleted))
	}
	return deleted, nil
}

// CleanupExpiredCheckpoints sweeps one thread, or every thread when
// threadID is empty. A checkpoint is swept when it is Auto or Error, not
// Archived, older than the cleanup floor, and either past its retention
// window or past its type's age limit (Auto 24h, Error 72h). Manual and
// Milestone checkpoints are never swept. Per-item failures are logged and
// skipped; the count of deletions is returned.
func (s *CheckpointService) CleanupExpiredCheckpoints(ctx context.Context, threadID string) (int, error) {
	now := time.Now().UTC()

	var candidates []*checkpoint.Checkpoint
	if threadID != "" {
		cps, err := s.repo.FindByThread(ctx, threadID)
		if err != nil {
			return 0, fmt.Errorf("failed to list thread checkpoints: %w", err)
		}
		candidates = cps
	} else {
		autos, err := s.repo.FindByType(ctx, checkpoint.TypeAuto)
		if err != nil {
			return 0, fmt.Errorf("failed to list auto checkpoints: %w", err)
		}
		errored, err := s.repo.FindByType(ctx, checkpoint.TypeError)
		if err != nil {
			return 0, fmt.Errorf("failed to list error checkpoints: %w", err)
		}
		candidates = append(autos, errored...)
	}

	deleted := 0
	for _, cp := range candidates {
		if !s.cleanupEligible(cp, now) {
			continue
		}
		if err := s.repo.Delete(ctx, cp.ID); err != nil {
			if checkpoint.IsNotFound(err) {
				continue
			}
			s.logger.WarnContext(ctx, "failed to delete checkpoint during cleanup",
				slog.String("checkpoint_id", cp.ID),
				slog.String("thread_id", cp.ThreadID),
				slog.Any("error", err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		imetrics.CheckpointDeleted("expired", int64(deleted))
		s.logger.InfoContext(ctx, "cleanup removed checkpoints",
			slog.String("thread_id", threadID),
			slog.Int("deleted", deleted))
	}
	return deleted, nil
}

// cleanupEligible applies the retention policy to one checkpoint.
func (s *CheckpointService) cleanupEligible(cp *checkpoint.Checkpoint, now time.Time) bool {
	switch cp.Type {
	case checkpoint.TypeManual, checkpoint.TypeMilestone:
		return false
	}
	if cp.Status == checkpoint.StatusArchived {
		return false
	}
	age := cp.Age(now)
	if age < s.config.MinCleanupAge {
		return false
	}
	if cp.IsExpired(now) {
		return true
	}
	switch cp.Type {
	case checkpoint.TypeAuto:
		return age >= autoCleanupAge
	case checkpoint.TypeError:
		return age >= errorRetention
	}
	return false
}

// ArchiveOldCheckpoints marks a thread's Active, non-Manual checkpoints
// older than the window as Archived. Best-effort; returns the count.
func (s *CheckpointService) ArchiveOldCheckpoints(ctx context.Context, threadID string, olderThan time.Duration) (int, error) {
	const op = "service.archive_old"

	if threadID == "" {
		return 0, checkpoint.NewValidation(op, dto.ErrMissingThreadID)
	}
	if olderThan < 0 {
		return 0, checkpoint.NewValidation(op, dto.ErrNegativeWindow).WithThread(threadID)
	}

	cps, err := s.repo.FindActiveByThread(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to list active checkpoints: %w", err)
	}

	now := time.Now().UTC()
	archived := 0
	for _, cp := range cps {
		if cp.Type == checkpoint.TypeManual || cp.Age(now) < olderThan {
			continue
		}
		if err := cp.Archive(); err != nil {
			continue
		}
		if err := s.repo.Update(ctx, cp); err != nil {
			s.logger.WarnContext(ctx, "failed to archive checkpoint",
				slog.String("checkpoint_id", cp.ID),
				slog.String("thread_id", threadID),
				slog.Any("error", err))
			continue
		}
		archived++
	}

	if archived > 0 {
		imetrics.CheckpointArchived(int64(archived))
		s.logger.InfoContext(ctx, "archived old checkpoints",
			slog.String("thread_id", threadID),
			slog.Int("archived", archived))
	}
	return archived, nil
}

// ExtendCheckpointExpiration pushes a checkpoint's retention window out by
// extra, or starts one from now when the checkpoint had none.
func (s *CheckpointService) ExtendCheckpointExpiration(ctx context.Context, id string, extra time.Duration) (*checkpoint.Checkpoint, error) {
	const op = "service.extend_expiration"

	if extra < 0 {
		return nil, checkpoint.NewValidation(op, dto.ErrNegativeWindow).WithCheckpoint(id)
	}

	cp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	unlock := s.lockThread(cp.ThreadID)
	defer unlock()

	cp, err = s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cp.ExtendExpiration(time.Now().UTC(), extra)
	if err := s.repo.Update(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to persist expiration change: %w", err)
	}
	return cp, nil
}

// Statistics aggregates one thread, or every thread when threadID is empty.
func (s *CheckpointService) Statistics(ctx context.Context, threadID string) (*checkpoint.Statistics, error) {
	stats, err := s.repo.Statistics(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}
	return stats, nil
}
