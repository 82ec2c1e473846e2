// Package checkpoint provides the core checkpoint domain entities and interfaces
// following Clean Architecture principles with zero external dependencies.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a checkpoint.
type Status string

const (
	// StatusActive marks a checkpoint that is available for restore.
	StatusActive Status = "active"
	// StatusExpired marks a checkpoint whose retention window has passed.
	StatusExpired Status = "expired"
	// StatusCorrupted marks a checkpoint that failed an integrity check.
	StatusCorrupted Status = "corrupted"
	// StatusArchived marks a checkpoint retained for reference only.
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusCorrupted, StatusArchived:
		return true
	}
	return false
}

// Type records why a checkpoint was taken.
type Type string

const (
	// TypeManual is a user-requested checkpoint. Never expires by default.
	TypeManual Type = "manual"
	// TypeAuto is a periodic checkpoint taken by the host during execution.
	TypeAuto Type = "auto"
	// TypeError is a pre-failure snapshot taken when execution hits an error.
	TypeError Type = "error"
	// TypeMilestone marks a significant point in a thread's lifecycle.
	TypeMilestone Type = "milestone"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeManual, TypeAuto, TypeError, TypeMilestone:
		return true
	}
	return false
}

// Checkpoint represents a durable snapshot of a conversational thread's state
// PRINCIPLES:
// - KISS: Simple struct with clear fields
// - SRP: Only responsible for checkpoint data and its lifecycle rules
type Checkpoint struct {
	ID             string                 `json:"id"`
	ThreadID       string                 `json:"thread_id"`
	StateData      map[string]interface{} `json:"state_data"`
	Metadata       Metadata               `json:"metadata,omitempty"`
	Status         Status                 `json:"status"`
	Type           Type                   `json:"type"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
	SizeBytes      int64                  `json:"size_bytes"`
	RestoreCount   int                    `json:"restore_count"`
	LastRestoredAt *time.Time             `json:"last_restored_at,omitempty"`
}

// New builds an Active checkpoint for the given thread, stamping both
// timestamps and the canonical state size.
func New(id, threadID string, state map[string]interface{}, typ Type) (*Checkpoint, error) {
	size, err := StateSize(state)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	cp := &Checkpoint{
		ID:        id,
		ThreadID:  threadID,
		StateData: state,
		Metadata:  Metadata{},
		Status:    StatusActive,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
		SizeBytes: size,
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return cp, nil
}

// StateSize returns the canonical serialized size of a state payload.
// The business size of a checkpoint is the compact JSON length of its
// state, independent of how a backend encodes the record at rest.
func StateSize(state map[string]interface{}) (int64, error) {
	if state == nil {
		return 0, ErrNilStateData
	}
	b, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStateNotSerializable, err)
	}
	return int64(len(b)), nil
}

// Validate ensures checkpoint integrity
// PRINCIPLES:
// - SRP: Single responsibility - validation only
// - KISS: Simple validation rules, easy to understand
func (c *Checkpoint) Validate() error {
	if c.ID == "" {
		return ErrEmptyCheckpointID
	}
	if c.ThreadID == "" {
		return ErrEmptyThreadID
	}
	if c.StateData == nil {
		return ErrNilStateData
	}
	if !c.Status.Valid() {
		return ErrInvalidStatus
	}
	if !c.Type.Valid() {
		return ErrInvalidType
	}
	return c.Metadata.Validate()
}

// IsExpired reports whether the checkpoint's retention window has passed
// at now. A nil ExpiresAt means the checkpoint never expires.
func (c *Checkpoint) IsExpired(now time.Time) bool {
	if c.Status == StatusExpired {
		return true
	}
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}

// IsValid reports whether the checkpoint is Active and inside its
// retention window at now.
func (c *Checkpoint) IsValid(now time.Time) bool {
	return c.Status == StatusActive && !c.IsExpired(now)
}

// CanRestore reports whether the checkpoint may serve a restore at now.
func (c *Checkpoint) CanRestore(now time.Time) bool {
	return c.IsValid(now) && c.StateData != nil
}

// MarkRestored records a successful restore at now.
func (c *Checkpoint) MarkRestored(now time.Time) {
	c.RestoreCount++
	t := now
	c.LastRestoredAt = &t
	c.UpdatedAt = now
}

// Expire transitions an Active checkpoint to Expired.
func (c *Checkpoint) Expire() error {
	return c.transition(StatusExpired)
}

// MarkCorrupted transitions an Active checkpoint to Corrupted.
func (c *Checkpoint) MarkCorrupted() error {
	return c.transition(StatusCorrupted)
}

// Archive transitions an Active checkpoint to Archived.
func (c *Checkpoint) Archive() error {
	return c.transition(StatusArchived)
}

// transition guards status changes: only Active checkpoints move.
func (c *Checkpoint) transition(to Status) error {
	if c.Status != StatusActive {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrNotActive, c.Status, to)
	}
	c.Status = to
	c.touch()
	return nil
}

// ReplaceStateData swaps the snapshot payload and recomputes its size.
func (c *Checkpoint) ReplaceStateData(state map[string]interface{}) error {
	size, err := StateSize(state)
	if err != nil {
		return err
	}
	c.StateData = state
	c.SizeBytes = size
	c.touch()
	return nil
}

// SetMeta stores a metadata value, rejecting values outside the
// supported union.
func (c *Checkpoint) SetMeta(key string, value interface{}) error {
	if err := c.Metadata.Set(key, value); err != nil {
		return err
	}
	c.touch()
	return nil
}

// SetExpiration sets the retention window to ttl from now.
func (c *Checkpoint) SetExpiration(now time.Time, ttl time.Duration) {
	t := now.Add(ttl)
	c.ExpiresAt = &t
	c.touch()
}

// ClearExpiration removes the retention window entirely.
func (c *Checkpoint) ClearExpiration() {
	c.ExpiresAt = nil
	c.touch()
}

// ExtendExpiration pushes the retention window out by extra. When no
// window is set, the extension starts from now.
func (c *Checkpoint) ExtendExpiration(now time.Time, extra time.Duration) {
	if c.ExpiresAt == nil {
		c.SetExpiration(now, extra)
		return
	}
	t := c.ExpiresAt.Add(extra)
	c.ExpiresAt = &t
	c.touch()
}

// Age returns how long ago the checkpoint was created, as of now.
func (c *Checkpoint) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// Clone returns a deep copy safe to mutate independently.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	clone := *c
	clone.StateData = deepCopyMap(c.StateData)
	clone.Metadata = c.Metadata.Clone()
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		clone.ExpiresAt = &t
	}
	if c.LastRestoredAt != nil {
		t := *c.LastRestoredAt
		clone.LastRestoredAt = &t
	}
	return &clone
}

func (c *Checkpoint) touch() {
	c.UpdatedAt = time.Now().UTC()
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case Metadata:
		return val.Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
