package ledger

import (
	"context"
	"fmt"

	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// ResolveAsOf reconstructs the exact guarantee state as of the given
// event: the after-state the event left behind.
//
// Anchor rows return their snapshot directly. Patch-only rows scan back
// to the nearest anchor in the same stream and replay the intervening
// patches forward in id order, inclusive of the target event's own
// patch. Streams with no reachable anchor replay from empty state; that
// degenerate case exists because historical data is inherently
// imperfect, and degrading beats failing.
//
// The function is pure with respect to the ledger table: identical
// inputs always yield identical output, so results are safe to cache.
func (s *Store) ResolveAsOf(ctx context.Context, eventID int64) (state.Map, error) {
	ev, err := s.ReadEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("resolve as of %d: %w", eventID, err)
	}
	return s.resolveEvent(ctx, ev)
}

// resolveEvent is ResolveAsOf for an already-loaded event.
func (s *Store) resolveEvent(ctx context.Context, ev Event) (state.Map, error) {
	if ev.IsAnchor {
		return ev.AnchorSnapshot.Clone(), nil
	}

	base := state.Map{}
	var afterID int64
	anchorEv, ok, err := s.NearestAnchor(ctx, ev.GuaranteeID, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve as of %d: %w", ev.ID, err)
	}
	if ok {
		base = anchorEv.AnchorSnapshot.Clone()
		afterID = anchorEv.ID
	}

	between, err := s.ReadRange(ctx, ev.GuaranteeID, afterID, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve as of %d: %w", ev.ID, err)
	}

	for _, row := range between {
		if len(row.Patch) == 0 {
			// Legacy rows without hybrid data contribute nothing.
			continue
		}
		base = patch.Apply(base, row.Patch)
	}

	return state.CanonicalizeMap(base), nil
}

// CaptureSnapshot returns the current derived state of a guarantee: the
// after-state of its latest event, or an empty map for a virgin stream.
// Mutation handlers call this before mutating to obtain the BEFORE state
// they later pass to Append.
func (s *Store) CaptureSnapshot(ctx context.Context, guaranteeID int64) (state.Map, error) {
	latest, ok, err := s.LatestEvent(ctx, guaranteeID)
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	if !ok {
		return state.Map{}, nil
	}
	return s.resolveEvent(ctx, latest)
}
