package validation

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Sentinel causes for state rejection. Callers match them with errors.Is;
// the returned error also names the path of the offending value.
var (
	ErrUnsupportedStateValue = errors.New("unsupported state value")
	ErrCyclicState           = errors.New("state contains a cycle")
	ErrStateTooDeep          = errors.New("state exceeds maximum nesting depth")
)

// StateValidationOptions controls optional validation checks.
type StateValidationOptions struct {
	// MaxDepth bounds container nesting. Zero means the default of 32.
	MaxDepth int
}

const defaultMaxStateDepth = 32

// ValidateStateData performs structural validation on raw state data before
// it reaches the serializer. It is intended for payloads from external
// sources where the value space is unknown: it rejects values no codec can
// encode and names the path of the first offender, which a generic encoder
// error would not.
func ValidateStateData(state map[string]interface{}, opts ...StateValidationOptions) error {
	if state == nil {
		return fmt.Errorf("state is nil")
	}

	var cfg StateValidationOptions
	if len(opts) > 0 {
		cfg = opts[0]
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxStateDepth
	}

	w := stateWalker{
		maxDepth: cfg.MaxDepth,
		visiting: make(map[uintptr]struct{}),
	}
	for key, value := range state {
		if err := w.walk("state."+key, reflect.ValueOf(value), 1); err != nil {
			return err
		}
	}
	return nil
}

// stateWalker traverses a state value depth-first. Containers on the
// current path are held in visiting, so a revisit means a cycle while
// sharing across branches stays legal.
type stateWalker struct {
	maxDepth int
	visiting map[uintptr]struct{}
}

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
)

func (w *stateWalker) walk(path string, v reflect.Value, depth int) error {
	if !v.IsValid() {
		return nil
	}
	if depth > w.maxDepth {
		return fmt.Errorf("%s: %w (%d)", path, ErrStateTooDeep, w.maxDepth)
	}

	switch v.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return nil

	case reflect.Interface:
		return w.walk(path, v.Elem(), depth)

	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if _, ok := w.visiting[addr]; ok {
			return fmt.Errorf("%s: %w", path, ErrCyclicState)
		}
		w.visiting[addr] = struct{}{}
		err := w.walk(path, v.Elem(), depth)
		delete(w.visiting, addr)
		return err

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%s: %w: map keys must be strings", path, ErrUnsupportedStateValue)
		}
		addr := v.Pointer()
		if _, ok := w.visiting[addr]; ok {
			return fmt.Errorf("%s: %w", path, ErrCyclicState)
		}
		w.visiting[addr] = struct{}{}
		iter := v.MapRange()
		for iter.Next() {
			if err := w.walk(path+"."+iter.Key().String(), iter.Value(), depth+1); err != nil {
				delete(w.visiting, addr)
				return err
			}
		}
		delete(w.visiting, addr)
		return nil

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		addr := v.Pointer()
		if _, ok := w.visiting[addr]; ok {
			return fmt.Errorf("%s: %w", path, ErrCyclicState)
		}
		w.visiting[addr] = struct{}{}
		err := w.walkElements(path, v, depth)
		delete(w.visiting, addr)
		return err

	case reflect.Array:
		return w.walkElements(path, v, depth)

	case reflect.Struct:
		t := v.Type()
		if t == timeType || t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
			return nil
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue // unexported
			}
			if err := w.walk(path+"."+field.Name, v.Field(i), depth+1); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%s: %w: %s", path, ErrUnsupportedStateValue, v.Kind())
	}
}

func (w *stateWalker) walkElements(path string, v reflect.Value, depth int) error {
	for i := 0; i < v.Len(); i++ {
		if err := w.walk(fmt.Sprintf("%s[%d]", path, i), v.Index(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}
