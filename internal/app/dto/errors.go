package dto

import "errors"

// Workflow input errors
var (
	ErrMissingThreadID       = errors.New("thread ID is required")
	ErrMissingCheckpointID   = errors.New("checkpoint ID is required")
	ErrEmptyStateData        = errors.New("state data is required")
	ErrInvalidCheckpointType = errors.New("invalid checkpoint type")
	ErrNegativeTTL           = errors.New("TTL cannot be negative")
	ErrNegativeWindow        = errors.New("age window cannot be negative")
	ErrExpiryConflict        = errors.New("TTL and never-expires are mutually exclusive")
	ErrEmptyChain            = errors.New("checkpoint chain needs at least one state")
	ErrEmptyRestoredState    = errors.New("restored state is empty")
)
