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
	"net/http"
	"strconv"
	"time"

	"github.com/launix-de/shardkv/internal/shard"
)

// QuiesceAll drains every shard's WAL and returns the quiesce state id
// assigned to each (keyed by the shard's registry id), for an operator
// taking a consistent snapshot across the whole keyspace before a backup
// or a controlled shutdown (spec §4.4 "Quiesce").
func (ks *Keyspace) QuiesceAll() (map[uint64]string, error) {
	out := map[uint64]string{}
	for _, e := range ks.allEntries() {
		s, ok := e.ref.Acquire()
		if !ok {
			continue
		}
		stateID, _, err := s.Quiesce("")
		e.ref.Release()
		if err != nil {
			return out, err
		}
		out[e.id] = stateID
	}
	return out, nil
}

// FsckAll runs Fsck against every shard and returns the first
// Inconsistency found in each, keyed by registry id; a shard missing from
// the result reported clean.
func (ks *Keyspace) FsckAll() (map[uint64]*shard.Inconsistency, error) {
	out := map[uint64]*shard.Inconsistency{}
	for _, e := range ks.allEntries() {
		s, ok := e.ref.Acquire()
		if !ok {
			continue
		}
		inc, err := s.Fsck()
		e.ref.Release()
		if err != nil {
			return out, err
		}
		if inc != nil {
			out[e.id] = inc
		}
	}
	return out, nil
}

// StatusSnapshot reports Shard.Snapshot for every currently registered
// shard, keyed by registry id.
func (ks *Keyspace) StatusSnapshot() map[uint64]shard.Stats {
	out := map[uint64]shard.Stats{}
	for _, e := range ks.allEntries() {
		s, ok := e.ref.Acquire()
		if !ok {
			continue
		}
		out[e.id] = s.Snapshot()
		e.ref.Release()
	}
	return out
}

// StatsMux serves a stats websocket per shard at /shards/<id>/stats, the
// endpoint an operator dashboard subscribes to per spec §11's gorilla/
// websocket row.
func (ks *Keyspace) StatsMux(interval time.Duration) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/shards/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseShardPath(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		e := ks.shards.Get(id)
		if e == nil {
			http.NotFound(w, r)
			return
		}
		s, ok := e.ref.Acquire()
		if !ok {
			http.NotFound(w, r)
			return
		}
		defer e.ref.Release()
		s.StatsHandler(interval)(w, r)
	})
	return mux
}

// parseShardPath extracts <id> from "/shards/<id>/stats".
func parseShardPath(path string) (uint64, bool) {
	const prefix = "/shards/"
	const suffix = "/stats"
	if len(path) <= len(prefix)+len(suffix) || path[:len(prefix)] != prefix || path[len(path)-len(suffix):] != suffix {
		return 0, false
	}
	id, err := strconv.ParseUint(path[len(prefix):len(path)-len(suffix)], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
