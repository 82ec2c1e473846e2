// Package event defines domain-specific errors
package event

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Event errors
	ErrInvalidEventType = errors.New("invalid event type")
	ErrEmptyEventThread = errors.New("event thread id is empty")
	ErrZeroEventTime    = errors.New("event timestamp is zero")

	// Sink errors
	ErrSinkClosed = errors.New("event sink is closed")
	ErrSinkFull   = errors.New("event sink buffer is full")
	ErrTimeout    = errors.New("operation timed out")
)
