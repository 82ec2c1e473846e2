package checkpoint

import (
	"fmt"
	"time"
)

// Metadata carries descriptive attributes for a checkpoint. Values are
// restricted to JSON-stable kinds: strings, booleans, numbers, and nested
// string-keyed maps of the same. Timestamps travel as RFC3339 strings so
// the union stays closed across encode/decode round trips.
type Metadata map[string]interface{}

// Well-known metadata keys written by the lifecycle layers. Backup linkage
// and chain position live in metadata rather than dedicated columns so any
// backend can carry them.
const (
	MetaTitle         = "title"
	MetaDescription   = "description"
	MetaErrorMessage  = "error_message"
	MetaErrorType     = "error_type"
	MetaMilestoneName = "milestone_name"

	MetaBackupOf          = "backup_of"
	MetaBackupTimestamp   = "backup_timestamp"
	MetaOriginalCreatedAt = "original_created_at"

	MetaChainID     = "chain_id"
	MetaChainIndex  = "chain_index"
	MetaChainLength = "chain_length"

	MetaSnapshotOfCheckpoint = "snapshot_of_checkpoint"
	MetaSnapshotOfThread     = "snapshot_of_thread"
)

// Validate rejects metadata values outside the supported union.
func (m Metadata) Validate() error {
	for key, value := range m {
		if key == "" {
			return ErrEmptyMetadataKey
		}
		if err := validateMetadataValue(key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateMetadataValue(key string, value interface{}) error {
	switch v := value.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return nil
	case map[string]interface{}:
		return Metadata(v).Validate()
	case Metadata:
		return v.Validate()
	default:
		return fmt.Errorf("%w: key %q holds %T", ErrInvalidMetadataValue, key, value)
	}
}

// Set stores value under key, initializing the map when needed.
func (m *Metadata) Set(key string, value interface{}) error {
	if key == "" {
		return ErrEmptyMetadataKey
	}
	if err := validateMetadataValue(key, value); err != nil {
		return err
	}
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
	return nil
}

// SetTime stores t under key as an RFC3339 string.
func (m *Metadata) SetTime(key string, t time.Time) error {
	return m.Set(key, t.UTC().Format(time.RFC3339Nano))
}

// StringValue returns the string under key, or "" when absent or not a string.
func (m Metadata) StringValue(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// BoolValue returns the boolean under key, or false when absent.
func (m Metadata) BoolValue(key string) bool {
	v, _ := m[key].(bool)
	return v
}

// IntValue returns the integer under key, tolerating the float64 shape
// that JSON decoding produces.
func (m Metadata) IntValue(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// TimeValue parses the RFC3339 string under key.
func (m Metadata) TimeValue(key string) (time.Time, bool) {
	s, ok := m[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Has reports whether key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}
