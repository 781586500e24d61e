// Package state models guarantee entity snapshots as constrained value
// trees and provides their canonical encoding.
//
// A snapshot is a Map from field name to Value. Values are sealed to the
// JSON scalar types plus List and Map, with numbers kept as their source
// literals so that decoding and re-encoding a stored column is always
// byte-stable.
//
// # Canonical form
//
// Canonicalize normalizes a value tree: strings are NFC normalized, map
// entries whose value is null are dropped (an absent field and a null
// field are the same logical state), and list order is preserved. Encode
// then serializes the canonical tree with map keys in lexicographic byte
// order and without HTML escaping, so two logically identical snapshots
// always produce identical bytes regardless of construction order.
//
// A canonicalized empty map encodes to nil rather than "{}": empty
// snapshots and patches are stored as NULL columns.
package state
