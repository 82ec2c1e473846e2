package dto

import (
	"time"

	"github.com/threadpoint/threadpoint/internal/core/checkpoint"
)

// CreateCheckpointInput carries everything the domain service needs to
// create a checkpoint. A nil TTL selects the type's default retention;
// NeverExpires forces an unbounded window and cannot be combined with TTL.
type CreateCheckpointInput struct {
	ThreadID     string                 `json:"thread_id"`
	StateData    map[string]interface{} `json:"state_data"`
	Metadata     checkpoint.Metadata    `json:"metadata,omitempty"`
	Type         checkpoint.Type        `json:"type"`
	TTL          *time.Duration         `json:"ttl,omitempty"`
	NeverExpires bool                   `json:"never_expires,omitempty"`
}

// Validate normalizes defaults and rejects malformed input. A zero TTL is
// legal and produces a checkpoint that is expired immediately.
func (in *CreateCheckpointInput) Validate() error {
	if in.ThreadID == "" {
		return ErrMissingThreadID
	}
	if len(in.StateData) == 0 {
		return ErrEmptyStateData
	}
	if in.Type == "" {
		in.Type = checkpoint.TypeAuto
	}
	if !in.Type.Valid() {
		return ErrInvalidCheckpointType
	}
	if in.TTL != nil {
		if *in.TTL < 0 {
			return ErrNegativeTTL
		}
		if in.NeverExpires {
			return ErrExpiryConflict
		}
	}
	return in.Metadata.Validate()
}

// RestoreResult is returned by a successful restore.
type RestoreResult struct {
	CheckpointID string                 `json:"checkpoint_id"`
	ThreadID     string                 `json:"thread_id"`
	StateData    map[string]interface{} `json:"state_data"`
	RestoreCount int                    `json:"restore_count"`
	RestoredAt   time.Time              `json:"restored_at"`
}

// CreateAndBackupResult names the checkpoint created by the composite
// workflow and, when one was requested, its backup.
type CreateAndBackupResult struct {
	CheckpointID string `json:"checkpoint_id"`
	BackupID     string `json:"backup_id,omitempty"`
}

// TimelineEntry is one checkpoint in a thread's history, carrying its
// backup chain when the timeline was built with backups folded in.
type TimelineEntry struct {
	Checkpoint *checkpoint.Checkpoint   `json:"checkpoint"`
	Backups    []*checkpoint.Checkpoint `json:"backups,omitempty"`
}

// OptimizeReport summarizes a storage optimization pass.
type OptimizeReport struct {
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
	BackedUp int `json:"backed_up"`
}

// RestoreFrequency ranks a checkpoint by how often it served a restore.
type RestoreFrequency struct {
	CheckpointID string `json:"checkpoint_id"`
	ThreadID     string `json:"thread_id"`
	Restores     int    `json:"restores"`
}

// ComprehensiveStatistics extends the domain aggregate with the type
// distribution as shares, the most-restored checkpoints, and the number of
// backup copies in the set.
type ComprehensiveStatistics struct {
	Statistics  *checkpoint.Statistics      `json:"statistics"`
	TypeShare   map[checkpoint.Type]float64 `json:"type_share"`
	TopRestored []RestoreFrequency          `json:"top_restored,omitempty"`
	BackupCount int                         `json:"backup_count"`
	ThreadID    string                      `json:"thread_id,omitempty"`
	GeneratedAt time.Time                   `json:"generated_at"`
}
