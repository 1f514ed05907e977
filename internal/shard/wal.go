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

// Package shard glues the segmented log, cuckoo index, and search tree
// into the container described in spec §4.4: get/put/del/search, WAL
// buffering, and split/clean/quiesce maintenance.
package shard

import (
	"sync/atomic"

	"github.com/launix-de/shardkv/internal/coord"
)

// walEntry is one in-flight mutation buffered in the WAL ahead of being
// folded into the durable structures (spec §4.4 "WAL").
type walEntry struct {
	seq    uint64
	Coord  coord.Coordinate
	Key    []byte
	Value  [][]byte
	IsPut  bool
	seqGen uint64 // monotonic version assigned at enqueue time, used for Get's "highest-versioned hit"
}

type walNode struct {
	next  atomic.Pointer[walNode]
	entry *walEntry
}

// wal is a Michael-Scott lock-free MPSC FIFO (spec §4.4 "A lock-free MPSC
// FIFO of in-flight log-entries"): any number of producers (put/del
// callers) enqueue concurrently; only the shard's own Flush ever dequeues
// (Get only reads a Snapshot), so the consumer side needs no CAS.
type wal struct {
	head atomic.Pointer[walNode]
	tail atomic.Pointer[walNode]
	seq  atomic.Uint64
}

func newWAL() *wal {
	w := &wal{}
	sentinel := &walNode{}
	w.head.Store(sentinel)
	w.tail.Store(sentinel)
	return w
}

// Push enqueues e and returns the version sequence number assigned to it.
func (w *wal) Push(e *walEntry) uint64 {
	e.seqGen = w.seq.Add(1)
	n := &walNode{entry: e}
	for {
		tail := w.tail.Load()
		next := tail.next.Load()
		if next != nil {
			w.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			w.tail.CompareAndSwap(tail, n)
			return e.seqGen
		}
	}
}

// Pop dequeues the oldest entry, or returns ok=false if empty. Single
// consumer only (the shard's own flush goroutine).
func (w *wal) Pop() (*walEntry, bool) {
	head := w.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}
	w.head.Store(next)
	return next.entry, true
}

// Snapshot returns every entry currently queued, oldest first, without
// dequeuing them: used by Get/Search to replay the WAL against an
// on-disk read (spec §4.4 "Get").
func (w *wal) Snapshot() []*walEntry {
	var out []*walEntry
	for n := w.head.Load().next.Load(); n != nil; n = n.next.Load() {
		out = append(out, n.entry)
	}
	return out
}
