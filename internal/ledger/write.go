package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// letterPassthroughKeys are copied from aux metadata into the letter
// context when present, alongside any explicit letter_context map.
var letterPassthroughKeys = []string{"source", "reason", "reason_text"}

// AppendRequest describes one mutation to record. Before is the state
// captured ahead of the mutation (CaptureSnapshot), After the state the
// mutation committed.
type AppendRequest struct {
	GuaranteeID  int64
	EventType    string
	EventSubtype string
	Before       state.Map
	After        state.Map
	Actor        string

	// Aux carries rendering metadata. A nested "letter_context" map and
	// the passthrough keys (source, reason, reason_text) flow into the
	// stored letter context; "template_version" overrides the default.
	Aux state.Map

	// ForceLegacySnapshot retains the full after-state in snapshot_data
	// under a legal/compat hold. Without it, snapshot_data stays NULL on
	// hybrid rows.
	ForceLegacySnapshot bool
}

// Append records one hybrid-format row for a committed mutation, inside
// its own transaction. Mutation handlers that manage their own
// transaction use AppendTx so the ledger row and the business mutation
// commit or fail together.
func (s *Store) Append(ctx context.Context, req AppendRequest) (Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	ev, err := s.AppendTx(ctx, tx, req)
	if err != nil {
		return Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("append: commit: %w", err)
	}
	return ev, nil
}

// AppendTx records one hybrid-format row using the caller's transaction.
// The event count read and the insert share the transaction, so the
// anchor position can never race a concurrent append to the same stream.
func (s *Store) AppendTx(ctx context.Context, tx Execer, req AppendRequest) (Event, error) {
	position, err := countEvents(ctx, tx, req.GuaranteeID)
	if err != nil {
		return Event{}, fmt.Errorf("append: %w", err)
	}

	p := patch.Create(req.Before, req.After)
	decision := s.policy.Decide(position, req.EventType, req.EventSubtype, false)

	ev := Event{
		GuaranteeID:     req.GuaranteeID,
		EventType:       req.EventType,
		EventSubtype:    req.EventSubtype,
		CreatedAt:       time.Now().UTC(),
		CreatedBy:       req.Actor,
		HistoryVersion:  VersionHybrid,
		IsAnchor:        decision.Anchor,
		AnchorReason:    decision.Reason,
		LetterContext:   buildLetterContext(req.Aux),
		TemplateVersion: templateVersion(req.Aux, s.templateVersion),
	}

	if decision.Anchor {
		ev.AnchorSnapshot = state.CanonicalizeMap(req.After)
	} else {
		ev.Patch = p
	}

	if req.ForceLegacySnapshot {
		ev.SnapshotData = state.CanonicalizeMap(req.After)
		ev.RetainSnapshot = true
	}

	id, err := insertEvent(ctx, tx, ev)
	if err != nil {
		return Event{}, fmt.Errorf("append: %w", err)
	}
	ev.ID = id
	return ev, nil
}

// buildLetterContext assembles the stored letter context from aux
// metadata: the explicit letter_context map, if any, plus the fixed
// passthrough keys when present.
func buildLetterContext(aux state.Map) state.Map {
	lc := state.Map{}
	if nested, ok := aux["letter_context"].(state.Map); ok {
		lc = nested.Clone()
	}
	for _, key := range letterPassthroughKeys {
		if v, ok := aux[key]; ok && !state.IsNull(v) {
			lc[key] = v
		}
	}
	return lc
}

// templateVersion picks the aux override when present, else the default.
func templateVersion(aux state.Map, fallback string) string {
	if v, ok := aux["template_version"].(state.String); ok && v != "" {
		return string(v)
	}
	return fallback
}

// insertEvent writes one row. Rows are immutable after this point.
func insertEvent(ctx context.Context, tx Execer, ev Event) (int64, error) {
	anchorSnapshot, err := marshalState(ev.AnchorSnapshot)
	if err != nil {
		return 0, err
	}
	patchData, err := marshalPatch(ev.Patch)
	if err != nil {
		return 0, err
	}
	letterContext, err := marshalState(ev.LetterContext)
	if err != nil {
		return 0, err
	}
	snapshotData, err := marshalState(ev.SnapshotData)
	if err != nil {
		return 0, err
	}
	eventDetails, err := marshalState(ev.EventDetails)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO guarantee_events
		(guarantee_id, event_type, event_subtype, created_at, created_by,
		 history_version, is_anchor, anchor_snapshot, patch_data, anchor_reason,
		 letter_context, template_version, snapshot_data, event_details, retain_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.GuaranteeID,
		ev.EventType,
		ev.EventSubtype,
		ev.CreatedAt.UTC().Format(time.RFC3339),
		ev.CreatedBy,
		ev.HistoryVersion,
		boolToInt(ev.IsAnchor),
		anchorSnapshot,
		patchData,
		nullableString(string(ev.AnchorReason)),
		letterContext,
		nullableString(ev.TemplateVersion),
		snapshotData,
		eventDetails,
		boolToInt(ev.RetainSnapshot),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert event: last insert id: %w", err)
	}
	return id, nil
}

// UpdateMigrated rewrites one row into the hybrid format. Only the
// backfill migrator calls this, always inside its apply transaction; the
// row keeps its id, provenance, and stream position.
func (s *Store) UpdateMigrated(ctx context.Context, tx Execer, ev Event) error {
	anchorSnapshot, err := marshalState(ev.AnchorSnapshot)
	if err != nil {
		return err
	}
	patchData, err := marshalPatch(ev.Patch)
	if err != nil {
		return err
	}
	letterContext, err := marshalState(ev.LetterContext)
	if err != nil {
		return err
	}
	snapshotData, err := marshalState(ev.SnapshotData)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE guarantee_events
		SET history_version = ?, is_anchor = ?, anchor_snapshot = ?,
		    patch_data = ?, anchor_reason = ?, letter_context = ?,
		    template_version = ?, snapshot_data = ?
		WHERE id = ?
	`,
		ev.HistoryVersion,
		boolToInt(ev.IsAnchor),
		anchorSnapshot,
		patchData,
		nullableString(string(ev.AnchorReason)),
		letterContext,
		nullableString(ev.TemplateVersion),
		snapshotData,
		ev.ID,
	)
	if err != nil {
		return fmt.Errorf("update migrated event %d: %w", ev.ID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
