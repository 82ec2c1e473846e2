// Package storage defines the generic record store contract that checkpoint
// persistence builds on. A backend stores opaque payloads with queryable
// string attributes; everything domain-shaped lives above this seam.
//
// PRINCIPLES:
// - DIP: Engines implement this contract, the repository depends on it
// - KISS: Equality filters and time bounds only, no query language
package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Well-known attribute keys. SQL backends index these as columns and
// reject filters on anything else.
const (
	AttrThreadID  = "thread_id"
	AttrStatus    = "status"
	AttrType      = "type"
	AttrExpiresAt = "expires_at"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrBackendClosed   = errors.New("storage backend is closed")
	ErrUnsupportedAttr = errors.New("unsupported attribute key")
	ErrEmptyRecordID   = errors.New("record id is empty")
	ErrNilRecord       = errors.New("record cannot be nil")
)

// Record is an opaque payload plus queryable string attributes. The
// expires_at attribute holds an RFC3339 timestamp; absent or empty means
// the record never expires.
type Record struct {
	ID        string            `json:"id"`
	Data      []byte            `json:"data"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	if r == nil {
		return ErrNilRecord
	}
	if r.ID == "" {
		return ErrEmptyRecordID
	}
	return nil
}

// Clone returns a copy whose data and attrs can be mutated independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Data != nil {
		clone.Data = make([]byte, len(r.Data))
		copy(clone.Data, r.Data)
	}
	if r.Attrs != nil {
		clone.Attrs = make(map[string]string, len(r.Attrs))
		for k, v := range r.Attrs {
			clone.Attrs[k] = v
		}
	}
	return &clone
}

// Expiry parses the record's expires_at attribute. ok is false when the
// record never expires or the attribute is malformed.
func (r *Record) Expiry() (time.Time, bool) {
	raw, present := r.Attrs[AttrExpiresAt]
	if !present || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Filter selects records by attribute equality and optional time bounds.
// A zero filter matches everything.
type Filter struct {
	Attrs         map[string]string
	CreatedBefore *time.Time
	ExpiresBefore *time.Time
}

// Matches reports whether the record satisfies the filter. ExpiresBefore
// only matches records that carry a retention window.
func (f Filter) Matches(r *Record) bool {
	for key, want := range f.Attrs {
		if r.Attrs[key] != want {
			return false
		}
	}
	if f.CreatedBefore != nil && !r.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.ExpiresBefore != nil {
		exp, ok := r.Expiry()
		if !ok || !exp.Before(*f.ExpiresBefore) {
			return false
		}
	}
	return true
}

// Backend is the minimal store every engine implements. Implementations
// must be safe for concurrent use and honor read-your-writes for a single
// caller.
type Backend interface {
	// Put creates or replaces the record under its id.
	Put(ctx context.Context, rec *Record) error

	// Get retrieves a record, returning ErrRecordNotFound when absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a record, returning ErrRecordNotFound when absent.
	Delete(ctx context.Context, id string) error

	// List returns matching records ordered by CreatedAt descending.
	List(ctx context.Context, filter Filter) ([]*Record, error)

	// Count reports how many records match the filter.
	Count(ctx context.Context, filter Filter) (int, error)

	// Close releases the backend's resources. Operations after Close
	// return ErrBackendClosed.
	Close() error
}

// SortNewestFirst orders records by CreatedAt descending, breaking ties
// by id so listings stay deterministic.
func SortNewestFirst(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
