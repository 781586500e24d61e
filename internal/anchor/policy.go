// Package anchor decides whether a new history event is persisted as a
// full snapshot (an anchor) or as a patch-only row.
//
// Milestone events are disproportionately likely to be read back for
// audits, reprints, and disputes, so they always carry a full snapshot
// for O(1) reconstruction. Periodic anchoring bounds worst-case replay
// for any event to Interval patch applications even on pure-patch
// streams.
package anchor

// Reason explains why a row was anchored. Patch-only rows have no
// reason.
type Reason string

const (
	ReasonMilestone Reason = "milestone_event"
	ReasonPeriodic  Reason = "periodic_anchor"
	ReasonLegacy    Reason = "legacy_anchor"
)

// DefaultInterval is the periodic anchor interval used when settings do
// not override it.
const DefaultInterval = 20

// milestoneTypes are event types that always force an anchor.
var milestoneTypes = map[string]bool{
	"import":          true,
	"reimport":        true,
	"release":         true,
	"manual_override": true,
	"status_change":   true,
}

// milestoneSubtypes are event subtypes that always force an anchor.
var milestoneSubtypes = map[string]bool{
	"extension": true,
	"reduction": true,
	"release":   true,
	"reopened":  true,
}

// Decision is the policy outcome for one event.
type Decision struct {
	Anchor bool
	Reason Reason
}

// Policy decides anchor placement. The zero value is not usable; use
// Default or construct with a positive Interval.
type Policy struct {
	Interval int
}

// Default returns a policy with the default periodic interval.
func Default() Policy {
	return Policy{Interval: DefaultInterval}
}

// Decide evaluates the anchor rules for an event at the given zero-based
// stream position (the count of prior events in the same stream). First
// match wins:
//
//  1. forceLegacy: a legacy/compat hold carried over from migration
//  2. milestone event type or subtype
//  3. periodic: (position+1) divisible by Interval
//  4. otherwise patch-only
func (p Policy) Decide(position int, eventType, eventSubtype string, forceLegacy bool) Decision {
	if forceLegacy {
		return Decision{Anchor: true, Reason: ReasonLegacy}
	}
	if milestoneTypes[eventType] || milestoneSubtypes[eventSubtype] {
		return Decision{Anchor: true, Reason: ReasonMilestone}
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if (position+1)%interval == 0 {
		return Decision{Anchor: true, Reason: ReasonPeriodic}
	}
	return Decision{}
}

// IsMilestone reports whether the type/subtype pair alone would force an
// anchor.
func IsMilestone(eventType, eventSubtype string) bool {
	return milestoneTypes[eventType] || milestoneSubtypes[eventSubtype]
}
