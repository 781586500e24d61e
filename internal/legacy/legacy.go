// Package legacy decodes the pre-hybrid history columns.
//
// Legacy rows carry two loosely-typed JSON blobs: snapshot_data (a full
// or partial state of ambiguous orientation) and event_details, whose
// "changes" array lists explicit {field, old_value, new_value} records.
// Everything downstream works on strongly-typed state values; raw JSON
// never leaves this package. Malformed JSON is treated as absent, never
// as an error: historical data is inherently imperfect.
package legacy

import (
	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// Change is one explicit legacy change record. Values may be compound
// {id, name} references.
type Change struct {
	Field    string
	OldValue state.Value
	NewValue state.Value
}

// DecodeSnapshot parses a legacy snapshot_data column. Empty or
// malformed input yields an empty map.
func DecodeSnapshot(data []byte) state.Map {
	if len(data) == 0 {
		return state.Map{}
	}
	m, err := state.DecodeMap(data)
	if err != nil {
		return state.Map{}
	}
	return m
}

// DecodeDetails parses a legacy event_details column. Empty or malformed
// input yields an empty map.
func DecodeDetails(data []byte) state.Map {
	if len(data) == 0 {
		return state.Map{}
	}
	m, err := state.DecodeMap(data)
	if err != nil {
		return state.Map{}
	}
	return m
}

// Changes extracts the explicit change records from decoded event
// details. Entries without a field name are skipped; missing value sides
// decode as null.
func Changes(details state.Map) []Change {
	raw, ok := details["changes"].(state.List)
	if !ok {
		return nil
	}
	var changes []Change
	for _, elem := range raw {
		m, ok := elem.(state.Map)
		if !ok {
			continue
		}
		field, ok := m["field"].(state.String)
		if !ok || field == "" {
			continue
		}
		c := Change{Field: string(field), OldValue: m["old_value"], NewValue: m["new_value"]}
		if c.OldValue == nil {
			c.OldValue = state.Null{}
		}
		if c.NewValue == nil {
			c.NewValue = state.Null{}
		}
		changes = append(changes, c)
	}
	return changes
}

// NormalizeBefore forces a consistent BEFORE interpretation of a legacy
// snapshot by overlaying each change's old value onto it. Legacy
// snapshots were not reliably before- or after-oriented; the explicit
// change records are the ground truth. This BEFORE-semantics choice is
// deliberate and must not be re-derived per row.
func NormalizeBefore(snapshot state.Map, changes []Change) state.Map {
	out := snapshot.Clone()
	for _, c := range changes {
		setChangeValue(out, c.Field, c.OldValue)
	}
	return out
}

// ApplyChanges folds the change records' new values onto a base state.
func ApplyChanges(base state.Map, changes []Change) state.Map {
	out := base.Clone()
	for _, c := range changes {
		setChangeValue(out, c.Field, c.NewValue)
	}
	return out
}

// setChangeValue writes one change side onto a state, unpacking compound
// {id, name} references on linked fields the same way patch application
// does.
func setChangeValue(m state.Map, field string, v state.Value) {
	nameField := patch.LinkedNameField(field)
	if compound, ok := v.(state.Map); ok && nameField != "" {
		if id, ok := compound["id"]; ok {
			m[field] = id
			if name, ok := compound["name"]; ok {
				m[nameField] = name
			}
			return
		}
	}
	m[field] = v
}
