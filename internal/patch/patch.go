// Package patch computes and applies minimal field-level diffs between
// guarantee snapshots.
//
// A patch is an ordered list of {field, old_value, new_value} entries.
// Entry order is deterministic for a given input pair: changed fields of
// the new state in lexicographic order, then fields present only in the
// old state in lexicographic order. Consumers rely on determinism, not
// on any particular order.
package patch

import (
	"fmt"

	"github.com/bondtrace/bondtrace/internal/state"
)

// Entry records one field change. A side that was absent is recorded as
// null.
type Entry struct {
	Field    string
	OldValue state.Value
	NewValue state.Value
}

// Patch is an ordered list of field changes.
type Patch []Entry

// linkedNames maps reference id fields to the display-name field that
// changes with them. A compound {id, name} new value on one of these
// fields unpacks into both columns on apply.
var linkedNames = map[string]string{
	"supplier_id": "supplier_name",
	"bank_id":     "bank_name",
}

// LinkedNameField returns the display-name field paired with an id
// field, or "" if the field has no linked pair.
func LinkedNameField(field string) string {
	return linkedNames[field]
}

// Create computes the minimal diff from oldState to newState. Fields
// whose canonical values are equal produce no entry; fields absent on
// one side are treated as null. Recorded values are canonicalized.
func Create(oldState, newState state.Map) Patch {
	oldC := state.CanonicalizeMap(oldState)
	newC := state.CanonicalizeMap(newState)

	var p Patch
	for _, field := range newC.SortedKeys() {
		nv := newC[field]
		ov, ok := oldC[field]
		if !ok {
			ov = state.Null{}
		}
		if state.Equal(ov, nv) {
			continue
		}
		p = append(p, Entry{Field: field, OldValue: ov, NewValue: nv})
	}
	// Fields only the old state had: they became null.
	for _, field := range oldC.SortedKeys() {
		if _, ok := newC[field]; ok {
			continue
		}
		p = append(p, Entry{Field: field, OldValue: oldC[field], NewValue: state.Null{}})
	}
	return p
}

// Apply folds a patch onto a base snapshot and returns the resulting
// snapshot. The base is not modified.
//
// Compound {id, name} new values on a linked reference field unpack into
// the scalar id field plus the adjacent display-name field, mirroring
// how reference fields are modeled upstream.
//
// Round-trip law: Apply(old, Create(old, new)) canonicalizes identically
// to new.
func Apply(base state.Map, p Patch) state.Map {
	out := base.Clone()
	for _, e := range p {
		nameField := LinkedNameField(e.Field)
		if compound, ok := e.NewValue.(state.Map); ok && nameField != "" {
			if id, ok := compound["id"]; ok {
				out[e.Field] = id
				if name, ok := compound["name"]; ok {
					out[nameField] = name
				}
				continue
			}
		}
		out[e.Field] = e.NewValue
	}
	return out
}

// Value converts a patch to its storage representation: a list of
// {field, old_value, new_value} maps. Null sides are kept explicit so a
// stored entry always carries all three keys.
func (p Patch) Value() state.List {
	list := make(state.List, len(p))
	for i, e := range p {
		ov := e.OldValue
		if ov == nil {
			ov = state.Null{}
		}
		nv := e.NewValue
		if nv == nil {
			nv = state.Null{}
		}
		list[i] = state.Map{
			"field":     state.String(e.Field),
			"old_value": ov,
			"new_value": nv,
		}
	}
	return list
}

// FromValue decodes the storage representation back into a Patch.
func FromValue(v state.Value) (Patch, error) {
	if state.IsNull(v) {
		return nil, nil
	}
	list, ok := v.(state.List)
	if !ok {
		return nil, fmt.Errorf("patch data must be a list, got %T", v)
	}
	p := make(Patch, 0, len(list))
	for i, elem := range list {
		m, ok := elem.(state.Map)
		if !ok {
			return nil, fmt.Errorf("patch entry %d must be an object, got %T", i, elem)
		}
		field, ok := m["field"].(state.String)
		if !ok {
			return nil, fmt.Errorf("patch entry %d has no field name", i)
		}
		e := Entry{Field: string(field), OldValue: m["old_value"], NewValue: m["new_value"]}
		if e.OldValue == nil {
			e.OldValue = state.Null{}
		}
		if e.NewValue == nil {
			e.NewValue = state.Null{}
		}
		p = append(p, e)
	}
	return p, nil
}
