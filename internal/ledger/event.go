package ledger

import (
	"time"

	"github.com/bondtrace/bondtrace/internal/anchor"
	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// VersionHybrid tags rows written in the anchor+patch format. Any other
// history_version value marks a legacy row.
const VersionHybrid = "v2"

// Event is one ledger row. Within a stream, id ascending is the
// canonical event order.
type Event struct {
	ID           int64
	GuaranteeID  int64
	EventType    string
	EventSubtype string
	CreatedAt    time.Time
	CreatedBy    string

	// HistoryVersion is "v2" for hybrid rows, anything else for legacy.
	HistoryVersion string

	// IsAnchor marks rows whose AnchorSnapshot holds the complete
	// after-state. Patch-only rows carry Patch instead.
	IsAnchor       bool
	AnchorSnapshot state.Map
	Patch          patch.Patch
	AnchorReason   anchor.Reason

	// LetterContext and TemplateVersion let downstream document
	// rendering reproduce the artifact generated at event time without
	// the full state.
	LetterContext   state.Map
	TemplateVersion string

	// SnapshotData is the legacy snapshot blob. On hybrid rows it is
	// empty unless RetainSnapshot holds it for legal/compat reasons.
	SnapshotData state.Map

	// EventDetails is the legacy details blob; its "changes" array is
	// what the migrator and auditor read.
	EventDetails state.Map

	// RetainSnapshot is the legacy/legal hold that exempts SnapshotData
	// from being stripped.
	RetainSnapshot bool
}

// IsHybrid reports whether the row is in the hybrid format.
func (e *Event) IsHybrid() bool {
	return e.HistoryVersion == VersionHybrid
}
