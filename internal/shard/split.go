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

package shard

import "github.com/launix-de/shardkv/internal/coord"

// lowestUnsetBit returns the lowest bit not already set in mask. Splitting
// always extends an as-yet-unconstrained dimension bit; picking the
// smallest-index free bit is a deterministic stand-in for "the bit whose
// live-set distribution is closest to 50/50" (spec §4.4 "Split"): without
// a full live-set histogram, smallest-index is the simplest rule that is
// still reproducible across replicas, and is the rule spec §9's Open
// Questions section names as the acceptable deterministic fallback.
func lowestUnsetBit(mask uint64) uint64 {
	for i := uint(0); i < 64; i++ {
		bit := uint64(1) << i
		if mask&bit == 0 {
			return bit
		}
	}
	return 0 // mask fully saturated: caller must already be SearchFull/DataFull-free
}

// Split partitions this shard into four successors (spec §4.4 "Split"):
// one secondary-hash bit is extended to create two secondary branches,
// then each branch extends one primary-hash bit, giving four
// coordinates. newShard allocates storage for each successor coordinate
// (a fresh segmentlog.Log on a fresh backend, wired into a Shard); Split
// streams every live entry from this shard's log into the correct
// successor via Put, then returns the four successors in the order the
// spec requires ("the upper-secondary-hash shards come first").
func (s *Shard) Split(newShard func(c coord.Coordinate) (*Shard, error)) ([4]*Shard, error) {
	var successors [4]*Shard

	secBit := lowestUnsetBit(s.Coord.SecondaryLowerMask | s.Coord.SecondaryUpperMask)
	secZero, secOne := s.Coord.ExtendSecondaryLower(secBit)

	primBit := lowestUnsetBit(s.Coord.PrimaryMask)
	upperOne, upperZero := secOne.ExtendPrimary(primBit)
	lowerOne, lowerZero := secZero.ExtendPrimary(primBit)

	coords := [4]coord.Coordinate{upperOne, upperZero, lowerOne, lowerZero}
	for i, c := range coords {
		ns, err := newShard(c)
		if err != nil {
			return successors, s.setFatal(ErrSplitFailed)
		}
		successors[i] = ns
	}

	it := s.log.NewIterator()
	for it.Next() {
		e := it.Entry()
		if e.Removed {
			continue
		}
		rec, err := decodeRecord(e.Data)
		if err != nil {
			return successors, s.setFatal(ErrCorrupt)
		}
		_, keyCoord := s.Hasher.HashKey(rec.Key)
		dest := selectSuccessor(successors, keyCoord)
		if dest == nil {
			continue // no successor claims this key: stale entry from a prior split generation
		}
		if err := dest.Put(rec.Key, rec.Attrs); err != nil {
			return successors, s.setFatal(ErrSplitFailed)
		}
	}
	if err := it.Err(); err != nil {
		return successors, s.setFatal(ErrSplitFailed)
	}

	for _, dest := range successors {
		if err := dest.Flush(1<<30, nil); err != nil {
			return successors, err
		}
	}
	return successors, nil
}

// IsFull reports whether this shard has grown past its configured size
// budget and should be routed to Split rather than Clean (spec §4.4 "Split
// ... triggered once a shard is DataFull or SearchFull").
func (s *Shard) IsFull() bool {
	return s.log.HighestID() > uint64(s.Opts.ShardSizeLimit)
}

func selectSuccessor(successors [4]*Shard, keyCoord coord.Coordinate) *Shard {
	for _, dest := range successors {
		if coord.Contains(dest.Coord, keyCoord) {
			return dest
		}
	}
	return nil
}
