// Package ledger provides SQLite-backed durable storage for guarantee
// history streams in the hybrid anchor+patch format.
//
// Each guarantee has one append-only stream of events ordered by row id.
// A row is either an anchor, carrying the complete after-state snapshot,
// or a patch-only row carrying the minimal field diff against the
// previous row's after-state. Anchors make reads O(1); patches keep
// storage compact; the periodic anchor interval bounds replay cost for
// any event.
//
// # Invariants
//
//   - Within one stream, events are totally ordered by id ascending.
//   - Anchor snapshots are complete state maps, never partial.
//   - snapshot_data on hybrid rows is NULL unless a legacy/legal
//     retention hold is set on the row.
//   - Rows are written exactly once, inside the same transaction as the
//     business mutation, and never updated afterwards (the one-time
//     backfill migrator is the sole exception).
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package ledger
