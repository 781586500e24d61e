package legacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bondtrace/bondtrace/internal/state"
)

func TestDecodeSnapshot_MalformedYieldsEmpty(t *testing.T) {
	assert.Equal(t, state.Map{}, DecodeSnapshot(nil))
	assert.Equal(t, state.Map{}, DecodeSnapshot([]byte(``)))
	assert.Equal(t, state.Map{}, DecodeSnapshot([]byte(`{"broken`)))
	assert.Equal(t, state.Map{}, DecodeSnapshot([]byte(`[1,2]`)))
}

func TestDecodeSnapshot_KeepsNumberLiterals(t *testing.T) {
	m := DecodeSnapshot([]byte(`{"amount": 100.0}`))
	assert.Equal(t, state.Number("100.0"), m["amount"])
}

func TestChanges(t *testing.T) {
	details := DecodeDetails([]byte(`{
		"source": "batch_import",
		"changes": [
			{"field": "amount", "old_value": 100, "new_value": 80},
			{"field": "status", "new_value": "released"},
			{"old_value": "no field name, skipped"},
			"not an object, skipped"
		]
	}`))

	changes := Changes(details)
	require.Len(t, changes, 2)

	assert.Equal(t, "amount", changes[0].Field)
	assert.Equal(t, state.Number("100"), changes[0].OldValue)
	assert.Equal(t, state.Number("80"), changes[0].NewValue)

	assert.Equal(t, "status", changes[1].Field)
	assert.Equal(t, state.Null{}, changes[1].OldValue)
	assert.Equal(t, state.String("released"), changes[1].NewValue)
}

func TestChanges_NoChangesKey(t *testing.T) {
	assert.Nil(t, Changes(state.Map{}))
	assert.Nil(t, Changes(state.Map{"changes": state.String("wrong type")}))
}

func TestNormalizeBefore_AfterOrientedSnapshot(t *testing.T) {
	// Snapshot captured AFTER the change: amount already shows 80. The
	// change record's old value wins, forcing a BEFORE view.
	snapshot := state.Map{
		"amount":   state.Number("80"),
		"currency": state.String("EUR"),
	}
	changes := []Change{{Field: "amount", OldValue: state.Number("100"), NewValue: state.Number("80")}}

	before := NormalizeBefore(snapshot, changes)
	assert.Equal(t, state.Number("100"), before["amount"])
	assert.Equal(t, state.String("EUR"), before["currency"])
}

func TestNormalizeBefore_BeforeOrientedSnapshotUnchanged(t *testing.T) {
	snapshot := state.Map{"amount": state.Number("100")}
	changes := []Change{{Field: "amount", OldValue: state.Number("100"), NewValue: state.Number("80")}}

	before := NormalizeBefore(snapshot, changes)
	assert.Equal(t, state.Number("100"), before["amount"])
}

func TestApplyChanges(t *testing.T) {
	base := state.Map{"amount": state.Number("100"), "currency": state.String("EUR")}
	changes := []Change{
		{Field: "amount", OldValue: state.Number("100"), NewValue: state.Number("80")},
		{Field: "status", OldValue: state.Null{}, NewValue: state.String("active")},
	}

	after := ApplyChanges(base, changes)
	assert.Equal(t, state.Number("80"), after["amount"])
	assert.Equal(t, state.String("active"), after["status"])
	assert.Equal(t, state.String("EUR"), after["currency"])

	// Base is untouched.
	assert.Equal(t, state.Number("100"), base["amount"])
}

func TestApplyChanges_CompoundReferenceUnpacks(t *testing.T) {
	changes := []Change{{
		Field:    "bank_id",
		OldValue: state.Number("1"),
		NewValue: state.Map{"id": state.Number("2"), "name": state.String("Nordbank")},
	}}

	after := ApplyChanges(state.Map{"bank_id": state.Number("1")}, changes)
	assert.Equal(t, state.Number("2"), after["bank_id"])
	assert.Equal(t, state.String("Nordbank"), after["bank_name"])
}

func TestNormalizeBefore_CompoundOldValueUnpacks(t *testing.T) {
	changes := []Change{{
		Field:    "supplier_id",
		OldValue: state.Map{"id": state.Number("5"), "name": state.String("Old AB")},
		NewValue: state.Number("6"),
	}}

	before := NormalizeBefore(state.Map{}, changes)
	assert.Equal(t, state.Number("5"), before["supplier_id"])
	assert.Equal(t, state.String("Old AB"), before["supplier_name"])
}
