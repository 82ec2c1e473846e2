// Package event provides the in-process channel sink
package event

import (
	"context"
	"sync"
	"time"

	imetrics "github.com/threadpoint/threadpoint/internal/infrastructure/metrics"
)

// ChannelSink buffers events on an in-process channel for a consumer
// goroutine to drain
// PRINCIPLES:
// - KISS: Simple bounded buffer with basic operations
// - SRP: Single responsibility - in-process event delivery
// - Thread-safe: Uses proper synchronization
type ChannelSink struct {
	events  chan Event
	closed  bool
	mu      sync.RWMutex
	timeout time.Duration
}

// ChannelSinkConfig holds configuration for ChannelSink
type ChannelSinkConfig struct {
	BufferSize int           // Buffer size for the event channel
	Timeout    time.Duration // How long Publish waits on a full buffer
}

// NewChannelSink creates a new channel sink
func NewChannelSink(config ChannelSinkConfig) *ChannelSink {
	if config.BufferSize <= 0 {
		config.BufferSize = 100 // Default buffer size
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Second // Default timeout
	}

	return &ChannelSink{
		events:  make(chan Event, config.BufferSize),
		timeout: config.Timeout,
	}
}

// DefaultChannelSink creates a channel sink with default settings
func DefaultChannelSink() *ChannelSink {
	return NewChannelSink(ChannelSinkConfig{BufferSize: 100, Timeout: time.Second})
}

// Publish enqueues an event. A full buffer past the timeout drops the
// event and returns ErrSinkFull; delivery stays at-most-once either way.
func (s *ChannelSink) Publish(ctx context.Context, ev Event) error {
	// Validate event first
	if err := ev.Validate(); err != nil {
		return err
	}

	// Hold the read lock across the send so Close cannot race the channel
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		imetrics.EventDropped(string(ev.Type))
		return ErrSinkClosed
	}

	select {
	case s.events <- ev:
		imetrics.EventPublished(string(ev.Type))
		imetrics.EventQueueDepth("channel", int64(len(s.events)))
		return nil
	case <-ctx.Done():
		imetrics.EventDropped(string(ev.Type))
		return ctx.Err()
	case <-time.After(s.timeout):
		imetrics.EventDropped(string(ev.Type))
		return ErrSinkFull
	}
}

// Receive blocks for the next event until the context ends or the sink
// drains after Close.
func (s *ChannelSink) Receive(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, ErrSinkClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// TryReceive returns the next buffered event without blocking.
func (s *ChannelSink) TryReceive() (Event, bool) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, false
		}
		return ev, true
	default:
		return Event{}, false
	}
}

// Drain returns every currently buffered event without blocking.
func (s *ChannelSink) Drain() []Event {
	var out []Event
	for {
		ev, ok := s.TryReceive()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// Close closes the sink. Buffered events remain receivable.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil // Already closed
	}

	s.closed = true
	close(s.events)
	return nil
}

// Len returns the number of buffered events
func (s *ChannelSink) Len() int {
	return len(s.events)
}

// Cap returns the buffer capacity
func (s *ChannelSink) Cap() int {
	return cap(s.events)
}

// IsClosed returns whether the sink is closed
func (s *ChannelSink) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Stats returns sink statistics
func (s *ChannelSink) Stats() ChannelSinkStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ChannelSinkStats{
		Length:   len(s.events),
		Capacity: cap(s.events),
		Closed:   s.closed,
	}
}

// ChannelSinkStats provides sink statistics
type ChannelSinkStats struct {
	Length   int  `json:"length"`
	Capacity int  `json:"capacity"`
	Closed   bool `json:"closed"`
}
