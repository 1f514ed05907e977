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

import "github.com/launix-de/shardkv/internal/segmentlog"

// StaleRatio reports the fraction of assigned ids that have been removed,
// the heuristic Clean and the container's split/clean decision use (spec
// §4.4 "Clean").
func (s *Shard) StaleRatio() float64 {
	highest := s.log.HighestID()
	if highest <= 1 {
		return 0
	}
	return float64(s.removed.Load()) / float64(highest-1)
}

// ShouldClean reports whether this shard has crossed the stale-ratio
// threshold for a clean pass rather than a split (spec §4.4 "Clean ...
// stale-space ratio >= 30% and data fit within one shard").
func (s *Shard) ShouldClean() bool {
	return s.StaleRatio() >= s.Opts.StaleRatioForClean && s.log.HighestID() <= uint64(s.Opts.ShardSizeLimit)
}

// Clean streams every live entry into a fresh successor log, then swaps
// this shard to point at it (spec §4.4 "Clean"). newLog allocates the
// fresh segmented log; the keyspace opens a new backend for each call,
// with no pre-allocated spare pool.
func (s *Shard) Clean(newLog func() (*segmentlog.Log, error)) error {
	s.mutatorMu.Lock()
	defer s.mutatorMu.Unlock()

	fresh, err := newLog()
	if err != nil {
		return s.setFatal(ErrDropFailed)
	}

	freshShard := Open(s.Coord, s.Hasher, fresh, s.Opts)
	it := s.log.NewIterator()
	for it.Next() {
		e := it.Entry()
		if e.Removed {
			continue
		}
		rec, derr := decodeRecord(e.Data)
		if derr != nil {
			return s.setFatal(ErrCorrupt)
		}
		if err := freshShard.Put(rec.Key, rec.Attrs); err != nil {
			return s.setFatal(ErrDropFailed)
		}
	}
	if err := it.Err(); err != nil {
		return s.setFatal(ErrDropFailed)
	}
	if err := freshShard.Flush(1<<30, nil); err != nil {
		return s.setFatal(ErrDropFailed)
	}

	old := s.log
	s.log = freshShard.log
	s.cuckoo = freshShard.cuckoo
	s.tree = freshShard.tree
	s.removed.Store(0)
	return old.Close()
}
