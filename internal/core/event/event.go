// Package event provides lifecycle event publication for checkpoint operations
package event

import (
	"context"
	"time"
)

// Type identifies a lifecycle occurrence.
type Type string

const (
	// TypeCheckpointCreated announces a new checkpoint.
	TypeCheckpointCreated Type = "checkpoint_created"
	// TypeCheckpointRestored announces a completed restore.
	TypeCheckpointRestored Type = "checkpoint_restored"
	// TypeThreadInitialized announces a thread's first checkpoint.
	TypeThreadInitialized Type = "thread_initialized"
	// TypeThreadFinalized announces a thread's closing checkpoint.
	TypeThreadFinalized Type = "thread_finalized"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeCheckpointCreated, TypeCheckpointRestored, TypeThreadInitialized, TypeThreadFinalized:
		return true
	}
	return false
}

// Event describes one lifecycle occurrence. Publication is advisory and
// at-most-once: consumers must never rely on delivery for correctness.
type Event struct {
	Type         Type              `json:"type"`
	ThreadID     string            `json:"thread_id"`
	CheckpointID string            `json:"checkpoint_id,omitempty"`
	BackupID     string            `json:"backup_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Detail       map[string]string `json:"detail,omitempty"`
}

// New builds an event stamped with the current time.
func New(typ Type, threadID, checkpointID string) Event {
	return Event{
		Type:         typ,
		ThreadID:     threadID,
		CheckpointID: checkpointID,
		Timestamp:    time.Now().UTC(),
	}
}

// Validate ensures event integrity
func (e *Event) Validate() error {
	if !e.Type.Valid() {
		return ErrInvalidEventType
	}
	if e.ThreadID == "" {
		return ErrEmptyEventThread
	}
	if e.Timestamp.IsZero() {
		return ErrZeroEventTime
	}
	return nil
}

// Sink consumes lifecycle events
// PRINCIPLES:
// - ISP: Interface segregation with ≤5 methods
// - DIP: Publishers depend on interface, not implementations
// - SRP: Single responsibility - event delivery
type Sink interface {
	// Publish hands an event to the sink. Delivery is at-most-once;
	// a returned error means the event was dropped.
	Publish(ctx context.Context, ev Event) error

	// Close releases the sink. Publishing after Close fails.
	Close() error
}

// NopSink discards every event. Useful for hosts that do not consume
// lifecycle notifications.
type NopSink struct{}

// Publish validates and drops the event.
func (NopSink) Publish(_ context.Context, ev Event) error {
	return ev.Validate()
}

// Close is a no-op.
func (NopSink) Close() error { return nil }
