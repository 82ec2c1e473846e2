// Package checkpoint defines domain-specific errors
package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Entity validation errors
	ErrNilCheckpoint        = errors.New("checkpoint cannot be nil")
	ErrEmptyCheckpointID    = errors.New("checkpoint id is empty")
	ErrEmptyThreadID        = errors.New("thread id is empty")
	ErrNilStateData         = errors.New("state data cannot be nil")
	ErrInvalidStatus        = errors.New("invalid checkpoint status")
	ErrInvalidType          = errors.New("invalid checkpoint type")
	ErrEmptyMetadataKey     = errors.New("metadata key is empty")
	ErrInvalidMetadataValue = errors.New("metadata value outside supported kinds")
	ErrStateNotSerializable = errors.New("state data is not serializable")

	// Lifecycle errors
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrNotActive          = errors.New("checkpoint is not active")
	ErrNotRestorable      = errors.New("checkpoint cannot be restored")
	ErrStateTooLarge      = errors.New("state data exceeds the size limit")
)

// Kind classifies checkpoint failures into stable categories that callers
// can branch on without string matching.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindInvalidState  Kind = "invalid_state"
	KindStorage       Kind = "storage"
	KindConcurrency   Kind = "concurrency"
	KindConfiguration Kind = "configuration"
)

// Error is the structured error returned by checkpoint operations. It names
// the failed operation and, when known, the checkpoint and thread involved.
type Error struct {
	Kind         Kind   `json:"kind"`
	Op           string `json:"op"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	ThreadID     string `json:"thread_id,omitempty"`
	Err          error  `json:"-"`
}

// Error renders the failure as "op: kind: ids: cause".
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.CheckpointID != "" {
		fmt.Fprintf(&b, ": checkpoint %s", e.CheckpointID)
	}
	if e.ThreadID != "" {
		fmt.Fprintf(&b, ": thread %s", e.ThreadID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCheckpoint attaches the checkpoint id and returns the error for chaining.
func (e *Error) WithCheckpoint(id string) *Error {
	e.CheckpointID = id
	return e
}

// WithThread attaches the thread id and returns the error for chaining.
func (e *Error) WithThread(id string) *Error {
	e.ThreadID = id
	return e
}

// NewNotFound builds a not_found error for the given checkpoint.
func NewNotFound(op, checkpointID string) *Error {
	return &Error{Kind: KindNotFound, Op: op, CheckpointID: checkpointID, Err: ErrCheckpointNotFound}
}

// NewValidation builds a validation error wrapping the rejected rule.
func NewValidation(op string, cause error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: cause}
}

// NewInvalidState builds an invalid_state error for an operation attempted
// against a checkpoint in the wrong lifecycle state.
func NewInvalidState(op, checkpointID string, cause error) *Error {
	return &Error{Kind: KindInvalidState, Op: op, CheckpointID: checkpointID, Err: cause}
}

// NewStorage builds a storage error wrapping a backend failure.
func NewStorage(op string, cause error) *Error {
	return &Error{Kind: KindStorage, Op: op, Err: cause}
}

// NewConcurrency builds a concurrency error for a lost race.
func NewConcurrency(op, threadID string, cause error) *Error {
	return &Error{Kind: KindConcurrency, Op: op, ThreadID: threadID, Err: cause}
}

// NewConfiguration builds a configuration error for rejected tunables.
func NewConfiguration(op string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: cause}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IsNotFound reports whether err is a not_found checkpoint error.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound) || errors.Is(err, ErrCheckpointNotFound)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return IsKind(err, KindValidation)
}

// IsInvalidState reports whether err is an invalid_state error.
func IsInvalidState(err error) bool {
	return IsKind(err, KindInvalidState)
}

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool {
	return IsKind(err, KindStorage)
}

// IsConcurrency reports whether err is a concurrency error.
func IsConcurrency(err error) bool {
	return IsKind(err, KindConcurrency)
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return IsKind(err, KindConfiguration)
}
