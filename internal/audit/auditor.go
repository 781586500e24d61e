// Package audit measures how well legacy snapshot values line up with
// the explicit change records, per event-type bucket.
//
// The legacy format never pinned down whether a stored snapshot was
// before- or after-event state. The auditor quantifies that ambiguity:
// for every event with change records on a tracked field it compares the
// event's snapshot value against the change's old value ("before
// match") and new value ("after match") and reports the ratios. It never
// mutates data and never infers intent; "neither side matches" is a
// signal in the report, not an error.
package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/bondtrace/bondtrace/internal/ledger"
	"github.com/bondtrace/bondtrace/internal/legacy"
	"github.com/bondtrace/bondtrace/internal/patch"
	"github.com/bondtrace/bondtrace/internal/state"
)

// TrackedFields are the guarantee fields whose historical semantics the
// audit examines.
var TrackedFields = []string{
	"expiry_date", "amount", "status", "supplier_id", "bank_id", "bank_name",
}

// Bucket tallies comparisons for one (event_type, event_subtype) pair.
type Bucket struct {
	EventType    string `json:"event_type"`
	EventSubtype string `json:"event_subtype"`
	Comparisons  int    `json:"comparisons"`
	BeforeMatch  int    `json:"before_match"`
	AfterMatch   int    `json:"after_match"`
	Neither      int    `json:"neither_match"`
}

// BeforeRatio returns the fraction of comparisons matching the old
// value, 0 for an empty bucket.
func (b Bucket) BeforeRatio() float64 {
	if b.Comparisons == 0 {
		return 0
	}
	return float64(b.BeforeMatch) / float64(b.Comparisons)
}

// AfterRatio returns the fraction of comparisons matching the new value.
func (b Bucket) AfterRatio() float64 {
	if b.Comparisons == 0 {
		return 0
	}
	return float64(b.AfterMatch) / float64(b.Comparisons)
}

// Result is the audit report payload.
type Result struct {
	Scanned     int      `json:"scanned"`
	Audited     int      `json:"audited"`
	Comparisons int      `json:"comparisons"`
	Buckets     []Bucket `json:"buckets"`
}

// Options scope an audit run.
type Options struct {
	// GuaranteeID restricts the audit to one stream. Zero audits all.
	GuaranteeID int64
}

// Run executes a read-only audit pass over the ledger.
//
// The snapshot value for a comparison comes from the row's retained
// legacy snapshot_data when it still carries the field; otherwise the
// event's state is reconstructed through the snapshot resolver. Bad or
// missing data counts against the ratios rather than failing the run.
func Run(ctx context.Context, st *ledger.Store, opts Options) (Result, error) {
	events, err := st.ReadForScan(ctx, opts.GuaranteeID, 0)
	if err != nil {
		return Result{}, fmt.Errorf("audit: %w", err)
	}

	tracked := make(map[string]bool, len(TrackedFields))
	for _, f := range TrackedFields {
		tracked[f] = true
	}

	res := Result{}
	buckets := map[string]*Bucket{}

	for _, ev := range events {
		res.Scanned++

		var comparisons []legacy.Change
		for _, c := range legacy.Changes(ev.EventDetails) {
			if tracked[c.Field] {
				comparisons = append(comparisons, c)
			}
		}
		if len(comparisons) == 0 {
			continue
		}
		res.Audited++

		// Resolve lazily: most rows with a retained snapshot never need
		// the replay.
		var resolved state.Map
		snapshotValue := func(field string) state.Value {
			if v, ok := ev.SnapshotData[field]; ok {
				return v
			}
			if resolved == nil {
				m, err := st.ResolveAsOf(ctx, ev.ID)
				if err != nil {
					m = state.Map{}
				}
				resolved = m
			}
			if v, ok := resolved[field]; ok {
				return v
			}
			return state.Null{}
		}

		key := ev.EventType + "\x00" + ev.EventSubtype
		b := buckets[key]
		if b == nil {
			b = &Bucket{EventType: ev.EventType, EventSubtype: ev.EventSubtype}
			buckets[key] = b
		}

		for _, c := range comparisons {
			v := snapshotValue(c.Field)
			b.Comparisons++
			res.Comparisons++
			matched := false
			if state.Equal(v, scalarSide(c.Field, c.OldValue)) {
				b.BeforeMatch++
				matched = true
			}
			if state.Equal(v, scalarSide(c.Field, c.NewValue)) {
				b.AfterMatch++
				matched = true
			}
			if !matched {
				b.Neither++
			}
		}
	}

	sortBuckets(&res, buckets)
	return res, nil
}

// scalarSide unwraps a compound {id, name} change value on a linked
// reference field to its id, matching how such changes land in state.
func scalarSide(field string, v state.Value) state.Value {
	if compound, ok := v.(state.Map); ok && patch.LinkedNameField(field) != "" {
		if id, ok := compound["id"]; ok {
			return id
		}
	}
	return v
}

func sortBuckets(res *Result, buckets map[string]*Bucket) {
	res.Buckets = make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		res.Buckets = append(res.Buckets, *b)
	}
	sort.Slice(res.Buckets, func(i, j int) bool {
		if res.Buckets[i].EventType != res.Buckets[j].EventType {
			return res.Buckets[i].EventType < res.Buckets[j].EventType
		}
		return res.Buckets[i].EventSubtype < res.Buckets[j].EventSubtype
	})
}
