/*
Copyright (C) 2024  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package hashing holds the interface the storage core consumes from the
// out-of-scope hyperspace-hashing collaborator (spec §6). The core never
// interprets a hash beyond comparing it bit-for-bit against a region
// coordinate mask (see internal/coord); it treats Hasher as a pure,
// deterministic function supplied by the caller.
package hashing

import "github.com/launix-de/shardkv/internal/coord"

// Hasher maps a key (and, for writes, its value) to a region coordinate and
// a fingerprint, plus a vector of per-attribute secondary hashes used by the
// search tree. It must be deterministic and side-effect-free: the same
// (key, value) must always produce the same output, from any goroutine, for
// the lifetime of a keyspace.
type Hasher interface {
	// HashKey returns the 64-bit primary fingerprint used as the cuckoo
	// index key, and key's point coordinate: a fully-specified Coordinate
	// (every mask bit the keyspace's current split depth cares about is
	// set) that coord.Contains can test a shard's own Coordinate against
	// to decide ownership.
	HashKey(key []byte) (fingerprint uint64, coord coord.Coordinate)

	// HashAttributes returns one 64-bit hash per secondary attribute found
	// in value, in schema order. The search tree stores these verbatim as
	// a leaf entry's hash-vector.
	HashAttributes(value [][]byte) []uint64

	// HashPredicate turns a search predicate into a coordinate mask (which
	// shards can possibly contain a match) and a per-attribute mask/value
	// pair list used to prune search-tree digits during iteration.
	HashPredicate(p Predicate) (mask coord.Coordinate, attrMask []AttrConstraint)
}

// AttrConstraint names one attribute-hash constraint extracted from a
// predicate: Known is false when the predicate leaves this attribute
// unconstrained (all matching digits must be descended).
type AttrConstraint struct {
	Known bool
	Hash  uint64
}

// Predicate is an opaque, collaborator-defined search predicate; the core
// only ever passes it to a Hasher and, for final verification, back to the
// caller via Verify.
type Predicate interface {
	// Verify re-checks a decoded record against the full predicate; the
	// search tree only prunes by attribute hash, so a hash match is a
	// candidate, not a guarantee (distinct values can share a hash).
	Verify(key []byte, value [][]byte) bool
}

// Schema reports, via Arity, how many secondary attributes this predicate
// constrains; the search tree is built with this arity.
type Schema interface {
	Arity() int
}
