package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bondtrace/bondtrace/internal/ledger"
	"github.com/bondtrace/bondtrace/internal/state"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	st, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newGuarantee(t *testing.T, st *ledger.Store) int64 {
	t.Helper()
	id, err := st.CreateGuarantee(context.Background(), "G-AUDIT")
	require.NoError(t, err)
	return id
}

func insertLegacy(t *testing.T, st *ledger.Store, guaranteeID int64, eventType, subtype, snapshot, details string) int64 {
	t.Helper()
	var snap, det any
	if snapshot != "" {
		snap = snapshot
	}
	if details != "" {
		det = details
	}
	res, err := st.DB().Exec(`
		INSERT INTO guarantee_events
		(guarantee_id, event_type, event_subtype, created_at, created_by,
		 history_version, snapshot_data, event_details)
		VALUES (?, ?, ?, '2023-06-01T10:00:00Z', 'legacy_system', 'v1', ?, ?)
	`, guaranteeID, eventType, subtype, snap, det)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestRun_ClassifiesSnapshotOrientation(t *testing.T) {
	st := openStore(t)
	gid := newGuarantee(t, st)

	// Snapshot matches the old value: a before-oriented row.
	insertLegacy(t, st, gid, "manual_edit", "",
		`{"amount": 100}`,
		`{"changes": [{"field": "amount", "old_value": 100, "new_value": 80}]}`)

	// Snapshot matches the new value: an after-oriented row.
	insertLegacy(t, st, gid, "manual_edit", "",
		`{"amount": 80}`,
		`{"changes": [{"field": "amount", "old_value": 100, "new_value": 80}]}`)

	// Snapshot matches neither side.
	insertLegacy(t, st, gid, "manual_edit", "",
		`{"amount": 55}`,
		`{"changes": [{"field": "amount", "old_value": 100, "new_value": 80}]}`)

	res, err := Run(context.Background(), st, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 3, res.Audited)
	assert.Equal(t, 3, res.Comparisons)
	require.Len(t, res.Buckets, 1)

	b := res.Buckets[0]
	assert.Equal(t, "manual_edit", b.EventType)
	assert.Equal(t, 3, b.Comparisons)
	assert.Equal(t, 1, b.BeforeMatch)
	assert.Equal(t, 1, b.AfterMatch)
	assert.Equal(t, 1, b.Neither)
	assert.InDelta(t, 1.0/3.0, b.BeforeRatio(), 1e-9)
	assert.InDelta(t, 1.0/3.0, b.AfterRatio(), 1e-9)
}

func TestRun_IgnoresUntrackedFields(t *testing.T) {
	st := openStore(t)
	gid := newGuarantee(t, st)

	insertLegacy(t, st, gid, "manual_edit", "",
		`{"note": "x"}`,
		`{"changes": [{"field": "note", "old_value": "x", "new_value": "y"}]}`)

	res, err := Run(context.Background(), st, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 0, res.Audited)
	assert.Empty(t, res.Buckets)
}

func TestRun_BucketsSortedByTypeAndSubtype(t *testing.T) {
	st := openStore(t)
	gid := newGuarantee(t, st)

	change := `{"changes": [{"field": "status", "old_value": "active", "new_value": "released"}]}`
	insertLegacy(t, st, gid, "status_change", "", `{"status": "active"}`, change)
	insertLegacy(t, st, gid, "manual_edit", "reduction", `{"status": "active"}`, change)
	insertLegacy(t, st, gid, "manual_edit", "extension", `{"status": "active"}`, change)

	res, err := Run(context.Background(), st, Options{})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 3)
	assert.Equal(t, "manual_edit", res.Buckets[0].EventType)
	assert.Equal(t, "extension", res.Buckets[0].EventSubtype)
	assert.Equal(t, "manual_edit", res.Buckets[1].EventType)
	assert.Equal(t, "reduction", res.Buckets[1].EventSubtype)
	assert.Equal(t, "status_change", res.Buckets[2].EventType)
}

func TestRun_CompoundChangeComparedByID(t *testing.T) {
	st := openStore(t)
	gid := newGuarantee(t, st)

	insertLegacy(t, st, gid, "manual_edit", "",
		`{"supplier_id": 2}`,
		`{"changes": [{"field": "supplier_id",
			"old_value": {"id": 1, "name": "Old AB"},
			"new_value": {"id": 2, "name": "New AB"}}]}`)

	res, err := Run(context.Background(), st, Options{})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)
	assert.Equal(t, 1, res.Buckets[0].AfterMatch)
	assert.Equal(t, 0, res.Buckets[0].BeforeMatch)
}

func TestRun_FallsBackToResolverWithoutSnapshot(t *testing.T) {
	st := openStore(t)
	gid := newGuarantee(t, st)
	ctx := context.Background()

	// A hybrid anchor establishes the resolvable state.
	_, err := st.Append(ctx, ledger.AppendRequest{
		GuaranteeID: gid, EventType: "import",
		Before: state.Map{}, After: state.Map{"amount": state.Number("100")},
	})
	require.NoError(t, err)

	// The legacy row has change records but no snapshot; its state must
	// come from replay, which still shows the pre-change amount.
	insertLegacy(t, st, gid, "manual_edit", "", "",
		`{"changes": [{"field": "amount", "old_value": 100, "new_value": 80}]}`)

	res, err := Run(ctx, st, Options{})
	require.NoError(t, err)
	require.Len(t, res.Buckets, 1)
	assert.Equal(t, 1, res.Buckets[0].BeforeMatch)
	assert.Equal(t, 0, res.Buckets[0].AfterMatch)
}

func TestRun_GuaranteeIDScopesAudit(t *testing.T) {
	st := openStore(t)
	target := newGuarantee(t, st)
	other := newGuarantee(t, st)

	change := `{"changes": [{"field": "amount", "old_value": 1, "new_value": 2}]}`
	insertLegacy(t, st, target, "manual_edit", "", `{"amount": 1}`, change)
	insertLegacy(t, st, other, "manual_edit", "", `{"amount": 1}`, change)

	res, err := Run(context.Background(), st, Options{GuaranteeID: target})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Audited)
}

func TestRun_DoesNotMutate(t *testing.T) {
	st := openStore(t)
	gid := newGuarantee(t, st)

	id := insertLegacy(t, st, gid, "manual_edit", "",
		`{"amount": 100}`,
		`{"changes": [{"field": "amount", "old_value": 100, "new_value": 80}]}`)

	_, err := Run(context.Background(), st, Options{})
	require.NoError(t, err)

	ev, err := st.ReadEvent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "v1", ev.HistoryVersion)
	assert.Equal(t, state.Number("100"), ev.SnapshotData["amount"])
}

func TestBucket_RatiosOnEmptyBucket(t *testing.T) {
	var b Bucket
	assert.Zero(t, b.BeforeRatio())
	assert.Zero(t, b.AfterRatio())
}
