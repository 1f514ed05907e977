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

package keyspace

import (
	"github.com/launix-de/shardkv/internal/coord"
	"github.com/launix-de/shardkv/internal/segmentlog"
	"github.com/launix-de/shardkv/internal/shard"
)

// MaintainOnce flushes up to flushBatch pending WAL entries in every shard
// and, for any shard that has crossed a threshold, runs Clean (stale-ratio
// reclaim) or Split (size-bounded growth) (spec §4.4 "Split"/"Clean"
// triggers). It is meant to be driven by a caller's own timer or
// between-batch hook; it performs no scheduling of its own.
func (ks *Keyspace) MaintainOnce(flushBatch int) error {
	for _, e := range ks.allEntries() {
		s, ok := e.ref.Acquire()
		if !ok {
			continue
		}
		err := ks.maintainOne(e, s, flushBatch)
		e.ref.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (ks *Keyspace) maintainOne(e *shardEntry, s *shard.Shard, flushBatch int) error {
	if err := s.Flush(flushBatch, nil); err != nil {
		return err
	}

	switch {
	case s.ShouldClean():
		return ks.cleanShard(e, s)
	case s.IsFull():
		return ks.splitShard(e, s)
	default:
		return nil
	}
}

const flushBatchDefault = 1024

// cleanShard streams s's live entries into a fresh log in place; Clean
// mutates s itself rather than installing a replacement, so the registry
// and ordered index need no update.
func (ks *Keyspace) cleanShard(e *shardEntry, s *shard.Shard) error {
	newLog := func() (*segmentlog.Log, error) {
		backend, err := ks.opts.NewBackend(ks.nextID.Add(1) - 1)
		if err != nil {
			return nil, err
		}
		return segmentlog.Open(backend, ks.opts.logOpts())
	}
	return s.Clean(newLog)
}

// splitShard quiesces s to drain its WAL, partitions its live entries into
// four coordinate successors, installs them under fresh ids, and retires
// s's handle (spec §4.4 "Split"). Quiescing first narrows, but does not
// close, the window in which a write lands in s after Split has already
// taken its log snapshot.
func (ks *Keyspace) splitShard(e *shardEntry, s *shard.Shard) error {
	if _, _, err := s.Quiesce(""); err != nil {
		return err
	}

	successors, err := s.Split(func(c coord.Coordinate) (*shard.Shard, error) {
		return ks.openShard(c)
	})
	if err != nil {
		return err
	}

	for _, succ := range successors {
		ks.addShard(succ)
	}
	ks.removeShard(e.id)
	return nil
}
