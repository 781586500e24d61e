// Package backfill rewrites legacy history rows into the hybrid
// anchor+patch format.
//
// The migrator walks every event in (guarantee_id ASC, id ASC) order and
// folds one piece of state through each stream: the after-state derived
// for the previous row. Legacy snapshots are forced into a consistent
// BEFORE interpretation using the explicit change records as ground
// truth; the after-state is then reconstructed by applying those
// changes. Rows already carrying hybrid data replay it instead of
// re-deriving from legacy fields, which makes repeated runs produce zero
// additional changes.
//
// Dry-run is the default. Apply mode wraps the whole run in one
// transaction: a failure mid-scan rolls back every row touched, leaving
// the table in its pre-migration state. Resume after a failure is just
// re-invoking, since the run is idempotent.
package backfill

import (
	"context"
	"fmt"

	"github.com/bondtrace/bondtrace/internal/anchor"
	"github.com/bondtrace/bondtrace/internal/ledger"
	"github.com/bondtrace/bondtrace/internal/legacy"
	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// Options scope and control a migration run.
type Options struct {
	// Apply writes the rewritten rows. Without it the run only tallies.
	Apply bool

	// GuaranteeID restricts the run to one stream for incremental
	// rollout. Zero scans every stream.
	GuaranteeID int64

	// Limit caps the number of rows scanned. Zero means no cap.
	Limit int

	// KeepSnapshots disables stripping of legacy snapshot_data blobs on
	// rows without a retention hold.
	KeepSnapshots bool
}

// Result is the migration report payload.
type Result struct {
	Mode              string `json:"mode"` // "dry-run" or "apply"
	Scanned           int    `json:"scanned"`
	Streams           int    `json:"streams"`
	Rewritten         int    `json:"rewritten"`
	Unchanged         int    `json:"unchanged"`
	Anchors           int    `json:"anchors"`
	Patches           int    `json:"patches"`
	SnapshotsStripped int    `json:"snapshots_stripped"`
	Error             string `json:"error,omitempty"`
}

// Run executes the migration. In apply mode all writes share one
// transaction; any error aborts and rolls back the entire run. The
// returned Result is valid even on error, carrying the counters up to
// the point of failure.
func Run(ctx context.Context, st *ledger.Store, opts Options) (Result, error) {
	mode := "dry-run"
	if opts.Apply {
		mode = "apply"
	}
	res := Result{Mode: mode}

	events, err := st.ReadForScan(ctx, opts.GuaranteeID, opts.Limit)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("backfill: %w", err)
	}

	var tx ledger.Execer
	var commit func() error
	var rollback func()
	if opts.Apply {
		sqlTx, err := st.Begin(ctx)
		if err != nil {
			res.Error = err.Error()
			return res, fmt.Errorf("backfill: begin tx: %w", err)
		}
		tx = sqlTx
		commit = sqlTx.Commit
		rollback = func() { _ = sqlTx.Rollback() }
	}

	var currentStream int64 = -1
	var previousAfter state.Map
	position := 0

	for _, row := range events {
		if row.GuaranteeID != currentStream {
			// Each stream is an independent fold.
			currentStream = row.GuaranteeID
			previousAfter = state.Map{}
			position = 0
			res.Streams++
		}

		rewritten, after := rewriteRow(st, row, previousAfter, position, opts)
		res.Scanned++
		if rewritten.IsAnchor {
			res.Anchors++
		} else {
			res.Patches++
		}
		if len(row.SnapshotData) > 0 && len(rewritten.SnapshotData) == 0 {
			res.SnapshotsStripped++
		}

		if rowChanged(row, rewritten) {
			res.Rewritten++
			if opts.Apply {
				if err := st.UpdateMigrated(ctx, tx, rewritten); err != nil {
					rollback()
					res.Error = err.Error()
					return res, fmt.Errorf("backfill: %w", err)
				}
			}
		} else {
			res.Unchanged++
		}

		previousAfter = after
		position++
	}

	if opts.Apply {
		if err := commit(); err != nil {
			rollback()
			res.Error = err.Error()
			return res, fmt.Errorf("backfill: commit: %w", err)
		}
	}

	return res, nil
}

// rewriteRow derives the hybrid replacement for one row and the
// after-state to fold forward.
func rewriteRow(st *ledger.Store, row ledger.Event, previousAfter state.Map, position int, opts Options) (ledger.Event, state.Map) {
	changes := legacy.Changes(row.EventDetails)

	after := deriveAfterState(row, previousAfter, changes)
	newPatch := patch.Create(previousAfter, after)

	forceLegacy := preMigrationAnchor(row)
	decision := st.Policy().Decide(position, row.EventType, row.EventSubtype, forceLegacy)

	out := row
	out.HistoryVersion = ledger.VersionHybrid
	out.IsAnchor = decision.Anchor
	out.AnchorReason = decision.Reason
	if decision.Anchor {
		out.AnchorSnapshot = state.CanonicalizeMap(after)
		out.Patch = nil
	} else {
		out.AnchorSnapshot = nil
		out.Patch = newPatch
	}

	if !row.IsHybrid() || len(row.LetterContext) == 0 {
		out.LetterContext = letterContextFromDetails(row.EventDetails)
	}
	if out.TemplateVersion == "" {
		out.TemplateVersion = st.TemplateVersion()
	}

	if row.RetainSnapshot || opts.KeepSnapshots {
		out.SnapshotData = row.SnapshotData
	} else {
		out.SnapshotData = nil
	}

	return out, after
}

// deriveAfterState reconstructs the AFTER state for one row.
//
// Hybrid rows replay their own data: the anchor snapshot is the
// after-state directly, and a stored patch applies onto the previous
// after-state. Legacy rows normalize the ambiguous snapshot into a
// BEFORE state (overlaying each change's old value), merge it over the
// fold state, and apply the explicit changes to obtain AFTER. A legacy
// row without change records leaves the state untouched.
func deriveAfterState(row ledger.Event, previousAfter state.Map, changes []legacy.Change) state.Map {
	hasLegacySignal := len(row.SnapshotData) > 0 || len(changes) > 0

	if row.IsHybrid() && (row.IsAnchor || len(row.Patch) > 0 || !hasLegacySignal) {
		if row.IsAnchor {
			return row.AnchorSnapshot.Clone()
		}
		return patch.Apply(previousAfter, row.Patch)
	}

	normalizedBefore := legacy.NormalizeBefore(row.SnapshotData, changes)
	before := previousAfter.Merge(normalizedBefore)
	if len(changes) == 0 {
		return before
	}
	return legacy.ApplyChanges(before, changes)
}

// preMigrationAnchor reports whether the original row was flagged as an
// anchor by the pre-migration format. Legacy rows carry the flag
// directly; rows rewritten by an earlier run carry it as the
// legacy_anchor reason.
func preMigrationAnchor(row ledger.Event) bool {
	if !row.IsHybrid() {
		return row.IsAnchor
	}
	return row.AnchorReason == anchor.ReasonLegacy
}

// letterContextFromDetails builds a letter context for legacy rows from
// the passthrough keys in event_details.
func letterContextFromDetails(details state.Map) state.Map {
	lc := state.Map{}
	for _, key := range []string{"source", "reason", "reason_text"} {
		if v, ok := details[key]; ok && !state.IsNull(v) {
			lc[key] = v
		}
	}
	return lc
}

// rowChanged compares the stored row and its rewrite on every column the
// migration may touch, using canonical encodings so logically identical
// content never counts as a change. A re-run over a fully migrated table
// reports zero rewritten rows.
func rowChanged(old, updated ledger.Event) bool {
	if old.HistoryVersion != updated.HistoryVersion ||
		old.IsAnchor != updated.IsAnchor ||
		old.AnchorReason != updated.AnchorReason ||
		old.TemplateVersion != updated.TemplateVersion {
		return true
	}
	if !state.Equal(old.AnchorSnapshot, updated.AnchorSnapshot) {
		return true
	}
	if !state.Equal(old.Patch.Value(), updated.Patch.Value()) {
		return true
	}
	if !state.Equal(old.LetterContext, updated.LetterContext) {
		return true
	}
	if !state.Equal(old.SnapshotData, updated.SnapshotData) {
		return true
	}
	return false
}
