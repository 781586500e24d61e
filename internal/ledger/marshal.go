package ledger

import (
	"database/sql"
	"fmt"

	"github.com/bondtrace/bondtrace/internal/legacy"
	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// marshalState converts a snapshot to canonical TEXT for storage, or SQL
// NULL when the canonical form is empty.
func marshalState(m state.Map) (any, error) {
	data, err := state.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return string(data), nil
}

// marshalPatch converts a patch to canonical TEXT for storage, or SQL
// NULL for an empty patch.
func marshalPatch(p patch.Patch) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	data, err := state.Encode(p.Value())
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return string(data), nil
}

// unmarshalState parses a hybrid-format state column. Hybrid columns are
// written by this package, so malformed content is an error, unlike the
// legacy blobs.
func unmarshalState(ns sql.NullString) (state.Map, error) {
	if !ns.Valid || ns.String == "" {
		return state.Map{}, nil
	}
	m, err := state.DecodeMap([]byte(ns.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return m, nil
}

// unmarshalPatch parses a hybrid-format patch column.
func unmarshalPatch(ns sql.NullString) (patch.Patch, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	v, err := state.Decode([]byte(ns.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal patch: %w", err)
	}
	p, err := patch.FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("unmarshal patch: %w", err)
	}
	return p, nil
}

// unmarshalLegacy parses a legacy blob column, degrading to an empty map
// on malformed content.
func unmarshalLegacy(ns sql.NullString) state.Map {
	if !ns.Valid || ns.String == "" {
		return state.Map{}
	}
	return legacy.DecodeSnapshot([]byte(ns.String))
}
