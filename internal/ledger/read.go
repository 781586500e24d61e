package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bondtrace/bondtrace/internal/anchor"
)

// eventColumns is the shared SELECT column list for scanEvent.
const eventColumns = `
	id, guarantee_id, event_type, event_subtype, created_at, created_by,
	history_version, is_anchor, anchor_snapshot, patch_data, anchor_reason,
	letter_context, template_version, snapshot_data, event_details, retain_snapshot
`

// rowScanner abstracts sql.Row and sql.Rows for scanEvent.
type rowScanner interface {
	Scan(dest ...any) error
}

// ReadEvent retrieves a single event by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadEvent(ctx context.Context, id int64) (Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM guarantee_events
		WHERE id = ?
	`, id)
	return scanEvent(row)
}

// ReadStream returns all events for a guarantee in canonical order
// (id ascending). Returns an empty slice, not nil, for unknown streams.
func (s *Store) ReadStream(ctx context.Context, guaranteeID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM guarantee_events
		WHERE guarantee_id = ?
		ORDER BY id ASC
	`, guaranteeID)
	if err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// CountEvents returns the number of events in a guarantee's stream.
// The ledger writer uses this as the zero-based position of the next
// event for the anchor policy.
func (s *Store) CountEvents(ctx context.Context, guaranteeID int64) (int, error) {
	return countEvents(ctx, s.db, guaranteeID)
}

func countEvents(ctx context.Context, q Execer, guaranteeID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM guarantee_events WHERE guarantee_id = ?
	`, guaranteeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// LatestEvent returns the most recent event in a guarantee's stream.
// ok is false for a virgin stream.
func (s *Store) LatestEvent(ctx context.Context, guaranteeID int64) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM guarantee_events
		WHERE guarantee_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, guaranteeID)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// NearestAnchor returns the closest anchor row at or before the given
// event id in the same stream. ok is false when the stream has no anchor
// in range (the degenerate legacy case: replay starts from empty state).
func (s *Store) NearestAnchor(ctx context.Context, guaranteeID, atOrBefore int64) (Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM guarantee_events
		WHERE guarantee_id = ? AND id <= ? AND is_anchor = 1
		ORDER BY id DESC
		LIMIT 1
	`, guaranteeID, atOrBefore)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// ReadRange returns the events with afterID < id <= throughID for one
// stream, in canonical order. The resolver replays these on top of the
// nearest anchor.
func (s *Store) ReadRange(ctx context.Context, guaranteeID, afterID, throughID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM guarantee_events
		WHERE guarantee_id = ? AND id > ? AND id <= ?
		ORDER BY id ASC
	`, guaranteeID, afterID, throughID)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListGuaranteeIDs returns every guarantee id that has at least one
// event, ascending.
func (s *Store) ListGuaranteeIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT guarantee_id FROM guarantee_events
		ORDER BY guarantee_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list guarantee ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan guarantee id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guarantee ids: %w", err)
	}
	return ids, nil
}

// ReadForScan returns events for the batch tools in (guarantee_id ASC,
// id ASC) order, the one ordering the per-stream fold requires. A zero
// guaranteeID scans every stream; a zero limit scans every row.
func (s *Store) ReadForScan(ctx context.Context, guaranteeID int64, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM guarantee_events
	`
	var args []any
	if guaranteeID != 0 {
		query += ` WHERE guarantee_id = ?`
		args = append(args, guaranteeID)
	}
	query += ` ORDER BY guarantee_id ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scan: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// collectEvents drains a result set into a slice, returning an empty
// slice instead of nil.
func collectEvents(rows *sql.Rows) ([]Event, error) {
	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// scanEvent scans one row into an Event. Hybrid columns
// (anchor_snapshot, patch_data) are parsed strictly; legacy blobs
// (snapshot_data, event_details, letter_context) degrade to empty maps
// on malformed JSON.
func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var createdAt string
	var reason, anchorSnapshot, patchData sql.NullString
	var letterContext, templateVersion, snapshotData, eventDetails sql.NullString
	var isAnchor, retainSnapshot int

	if err := row.Scan(
		&ev.ID, &ev.GuaranteeID, &ev.EventType, &ev.EventSubtype, &createdAt, &ev.CreatedBy,
		&ev.HistoryVersion, &isAnchor, &anchorSnapshot, &patchData, &reason,
		&letterContext, &templateVersion, &snapshotData, &eventDetails, &retainSnapshot,
	); err != nil {
		if err == sql.ErrNoRows {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("scan event: %w", err)
	}

	ev.IsAnchor = isAnchor != 0
	ev.RetainSnapshot = retainSnapshot != 0
	ev.AnchorReason = anchor.Reason(reason.String)
	ev.TemplateVersion = templateVersion.String

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		ev.CreatedAt = t
	}

	snapshot, err := unmarshalState(anchorSnapshot)
	if err != nil {
		return Event{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	ev.AnchorSnapshot = snapshot

	p, err := unmarshalPatch(patchData)
	if err != nil {
		return Event{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	ev.Patch = p

	ev.LetterContext = unmarshalLegacy(letterContext)
	ev.SnapshotData = unmarshalLegacy(snapshotData)
	ev.EventDetails = unmarshalLegacy(eventDetails)

	return ev, nil
}
