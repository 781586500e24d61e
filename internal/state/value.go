package state

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is a sealed interface over the types a snapshot field may hold.
// Only Null, String, Number, Bool, List, and Map implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an explicit JSON null. After canonicalization a map
// never contains Null entries; Null survives only inside patch entries,
// where it records an absent side of a change.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string field value.
type String string

func (String) value() {}

// MarshalJSON implements json.Marshaler for String.
func (s String) MarshalJSON() ([]byte, error) {
	return marshalJSONString(string(s))
}

// Number represents a numeric field value. The source literal is kept
// verbatim (like json.Number) so 100 and 100.0 round-trip unchanged and
// amounts never pass through float64.
type Number string

func (Number) value() {}

// MarshalJSON implements json.Marshaler for Number.
func (n Number) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("0"), nil
	}
	return []byte(n), nil
}

// Bool represents a boolean field value.
type Bool bool

func (Bool) value() {}

// MarshalJSON implements json.Marshaler for Bool.
func (b Bool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

// List represents an ordered sequence of values. Element order is
// significant and preserved by canonicalization.
type List []Value

func (List) value() {}

// MarshalJSON implements json.Marshaler for List.
func (l List) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := json.Marshal(elem)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Map represents one snapshot of a guarantee, or any nested compound
// value such as an {id, name} reference. Key order is irrelevant; use
// SortedKeys for deterministic iteration.
type Map map[string]Value

func (Map) value() {}

// MarshalJSON implements json.Marshaler for Map with sorted keys.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalJSONString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Clone returns a copy of the map. Nested values are shared: callers
// treat values as immutable and replace rather than mutate them.
func (m Map) Clone() Map {
	if m == nil {
		return Map{}
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a copy of m with every entry of overlay set on top.
// Neither input is modified.
func (m Map) Merge(overlay Map) Map {
	out := m.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// marshalJSONString encodes a string without HTML escaping, matching the
// canonical encoder so plain and canonical output agree on strings.
func marshalJSONString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	return b, nil
}

// Decode parses arbitrary JSON into a Value. Numbers keep their source
// literal. Decode never guesses at malformed input: any syntax error is
// returned to the caller, which for legacy columns means "treat as
// absent".
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// DecodeMap parses JSON that must hold an object into a Map.
func DecodeMap(data []byte) (Map, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(Map)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return m, nil
}

// FromGo converts a decoded Go value (as produced by encoding/json with
// UseNumber) into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		return Number(val), nil
	case int:
		return Number(fmt.Sprintf("%d", val)), nil
	case int64:
		return Number(fmt.Sprintf("%d", val)), nil
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			sv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = sv
		}
		return list, nil
	case map[string]any:
		m := make(Map, len(val))
		for k, elem := range val {
			sv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			m[k] = sv
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported type for state value: %T", v)
	}
}

// IsNull reports whether v is nil or an explicit Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
