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

import (
	"fmt"

	"github.com/launix-de/shardkv/internal/searchtree"
)

// Inconsistency describes one structural defect found by Fsck: a cuckoo
// cell or search-tree entry that does not resolve to a live log record, or
// a cuckoo cell whose fingerprint does not match its record (spec §12
// "shard-fsck-equivalent offline scrubber"). A live log record that is
// missing from the cuckoo index or the search tree is not reported.
type Inconsistency struct {
	Component string // "cuckoo" or "searchtree"
	LogID     uint64
	Reason    string
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("%s: log id %d: %s", i.Component, i.LogID, i.Reason)
}

// Fsck walks the log, the cuckoo index, and the search tree and cross-
// checks every live entry in the two derived structures against the log's
// own notion of what's live, stopping at the first inconsistency found
// (spec §12: "report the first inconsistency found"). It takes no lock:
// callers run it offline, against a shard that isn't being mutated
// concurrently, the way fsck(8) expects an unmounted filesystem.
func (s *Shard) Fsck() (*Inconsistency, error) {
	live := map[uint64][]byte{}
	it := s.log.NewIterator()
	for it.Next() {
		e := it.Entry()
		if !e.Removed {
			live[e.ID] = e.Data
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	for _, kv := range s.cuckoo.All() {
		data, ok := live[kv.Value]
		if !ok {
			return &Inconsistency{Component: "cuckoo", LogID: kv.Value, Reason: "cuckoo cell references a missing or removed log entry"}, nil
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return &Inconsistency{Component: "cuckoo", LogID: kv.Value, Reason: "log entry does not decode as a record"}, nil
		}
		fp, _ := s.Hasher.HashKey(rec.Key)
		if fp != kv.Key {
			return &Inconsistency{Component: "cuckoo", LogID: kv.Value, Reason: "cuckoo fingerprint does not match the record's current hash"}, nil
		}
	}

	var treeErr *Inconsistency
	horizon := s.log.HighestID()
	mask := make([]*uint64, s.Opts.Attrs)
	s.tree.Iterate(mask, horizon, func(e searchtree.Entry) bool {
		if _, ok := live[e.LogID]; !ok {
			treeErr = &Inconsistency{Component: "searchtree", LogID: e.LogID, Reason: "search-tree entry references a missing or removed log entry"}
			return false
		}
		return true
	})
	if treeErr != nil {
		return treeErr, nil
	}
	return nil, nil
}
