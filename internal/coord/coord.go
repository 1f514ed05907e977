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

// Package coord implements the region coordinates that address a shard: a
// primary mask/hash pair plus two secondary mask/hash pairs (lower and
// upper), and the intersection test that decides whether a key or a search
// predicate can possibly live in a given shard.
package coord

import "fmt"

// Coordinate is (primary_mask, primary_hash, secondary_lower_mask,
// secondary_lower_hash, secondary_upper_mask, secondary_upper_hash) from
// spec §3. Two coordinates intersect iff, for every mask/hash pair,
// (ha & ma & mb) == (hb & ma & mb).
type Coordinate struct {
	PrimaryMask         uint64
	PrimaryHash         uint64
	SecondaryLowerMask  uint64
	SecondaryLowerHash  uint64
	SecondaryUpperMask  uint64
	SecondaryUpperHash  uint64
}

// Full is the coordinate that contains the entire key-space: every mask bit
// clear, matching anything. It is the coordinate of the very first shard
// created under a fresh keyspace, before any split has occurred.
var Full = Coordinate{}

// pair is one (mask, hash) dimension.
type pair struct {
	mask, hash uint64
}

func (c Coordinate) pairs() [3]pair {
	return [3]pair{
		{c.PrimaryMask, c.PrimaryHash},
		{c.SecondaryLowerMask, c.SecondaryLowerHash},
		{c.SecondaryUpperMask, c.SecondaryUpperHash},
	}
}

// Intersects reports whether a and b could both match the same key/value,
// i.e. whether their addressed regions overlap. This is the only predicate
// the core needs from hyperspace hashing's output: it never interprets the
// hash bits beyond this mask/hash comparison.
func Intersects(a, b Coordinate) bool {
	ap, bp := a.pairs(), b.pairs()
	for i := range ap {
		m := ap[i].mask & bp[i].mask
		if (ap[i].hash & m) != (bp[i].hash & m) {
			return false
		}
	}
	return true
}

// Contains reports whether coordinate a fully contains coordinate b, i.e.
// every key matched by b is also matched by a. This holds when a's mask is
// a subset of b's mask (a is less specific) and the bits a does constrain
// agree with b's hash.
func Contains(a, b Coordinate) bool {
	ap, bp := a.pairs(), b.pairs()
	for i := range ap {
		if ap[i].mask&^bp[i].mask != 0 {
			return false // a constrains a bit that b leaves open
		}
		if (ap[i].hash & ap[i].mask) != (bp[i].hash & ap[i].mask) {
			return false
		}
	}
	return true
}

// dimensionMatches reports whether a single (mask, hash) dimension (as produced by
// hashing a key) falls inside the shard's corresponding dimension.
func dimensionMatches(shard pair, keyHash uint64) bool {
	return (keyHash & shard.mask) == (shard.hash & shard.mask)
}

// MatchesPrimary/MatchesSecondaryLower/MatchesSecondaryUpper test one
// dimension of a key's hash against this coordinate; used by the shard
// container to decide whether a key could live in this shard before paying
// for a cuckoo lookup.
func (c Coordinate) MatchesPrimary(h uint64) bool        { return dimensionMatches(pair{c.PrimaryMask, c.PrimaryHash}, h) }
func (c Coordinate) MatchesSecondaryLower(h uint64) bool {
	return dimensionMatches(pair{c.SecondaryLowerMask, c.SecondaryLowerHash}, h)
}
func (c Coordinate) MatchesSecondaryUpper(h uint64) bool {
	return dimensionMatches(pair{c.SecondaryUpperMask, c.SecondaryUpperHash}, h)
}

// ExtendPrimary returns the two coordinates obtained by cutting this
// coordinate's primary dimension at the given unused mask bit: one where
// the bit is 0, one where it is 1. Used by split (§4.4) to derive the four
// successor coordinates from two independently chosen bits (one per
// secondary branch).
func (c Coordinate) ExtendPrimary(bit uint64) (zero, one Coordinate) {
	zero, one = c, c
	zero.PrimaryMask |= bit
	one.PrimaryMask |= bit
	one.PrimaryHash |= bit
	return
}

// ExtendSecondaryLower/ExtendSecondaryUpper do the same for the two
// secondary dimensions.
func (c Coordinate) ExtendSecondaryLower(bit uint64) (zero, one Coordinate) {
	zero, one = c, c
	zero.SecondaryLowerMask |= bit
	one.SecondaryLowerMask |= bit
	one.SecondaryLowerHash |= bit
	return
}
func (c Coordinate) ExtendSecondaryUpper(bit uint64) (zero, one Coordinate) {
	zero, one = c, c
	zero.SecondaryUpperMask |= bit
	one.SecondaryUpperMask |= bit
	one.SecondaryUpperHash |= bit
	return
}

func (c Coordinate) String() string {
	return fmt.Sprintf("coord(p=%#x/%#x, sl=%#x/%#x, su=%#x/%#x)",
		c.PrimaryMask, c.PrimaryHash,
		c.SecondaryLowerMask, c.SecondaryLowerHash,
		c.SecondaryUpperMask, c.SecondaryUpperHash)
}
