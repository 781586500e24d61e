package state

import (
	"bytes"
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// SortedKeys returns the map keys in lexicographic byte order. This is
// the one key order used for canonical encoding; Go map iteration order
// must never leak into stored bytes.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Canonicalize returns the canonical form of a value tree:
//
//   - strings (values only, not keys) are NFC normalized
//   - map entries whose canonical value is null are dropped, so an
//     absent field and an explicit null field canonicalize identically
//   - list elements are canonicalized in place, order preserved
//   - scalars pass through unchanged
//
// Canonicalize is idempotent: applying it twice yields the same tree.
func Canonicalize(v Value) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case String:
		return String(norm.NFC.String(string(val)))
	case List:
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = Canonicalize(elem)
		}
		return out
	case Map:
		out := make(Map, len(val))
		for k, elem := range val {
			cv := Canonicalize(elem)
			if IsNull(cv) {
				continue
			}
			out[k] = cv
		}
		return out
	default:
		return v
	}
}

// CanonicalizeMap canonicalizes a snapshot. A nil map canonicalizes to
// an empty map.
func CanonicalizeMap(m Map) Map {
	out := Canonicalize(m)
	cm, ok := out.(Map)
	if !ok {
		return Map{}
	}
	return cm
}

// Encode serializes the canonical form of v to deterministic bytes.
// If the canonicalized value is an empty map, Encode returns nil: empty
// snapshots and patches are persisted as NULL, which both saves storage
// and distinguishes "no data" from "empty object" at the column level.
func Encode(v Value) ([]byte, error) {
	cv := Canonicalize(v)
	if m, ok := cv.(Map); ok && len(m) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, cv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Equal reports whether two values canonicalize to the same bytes.
func Equal(a, b Value) bool {
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// encodeValue writes an already-canonical value. Maps encode inline as
// "{}" when empty; the NULL-for-empty rule applies only at the top level
// in Encode.
func encodeValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case Null:
		buf.WriteString("null")
		return nil
	case String:
		b, err := marshalJSONString(string(val))
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case Number:
		if val == "" {
			buf.WriteByte('0')
			return nil
		}
		buf.WriteString(string(val))
		return nil
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case List:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, elem); err != nil {
				return fmt.Errorf("list[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case Map:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalJSONString(k)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeValue(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("unsupported value type for canonical encoding: %T", v)
	}
}
