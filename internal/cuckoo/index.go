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

package cuckoo

import (
	"sync"

	nlrm "github.com/launix-de/NonLockingReadMap"
)

// shardEntry is one element of the table-list: a cuckoo table covering
// every key >= Lower (and below the next entry's Lower, if any). Readers
// consult the NonLockingReadMap snapshot instead of taking a lock (spec
// §4.2 "readers consult a snapshot of the table-list pointer under a short
// lock and never block behind splits").
type shardEntry struct {
	Lower uint64
	T     *table
}

func (e shardEntry) GetKey() uint64    { return e.Lower }
func (e shardEntry) ComputeSize() uint { return 16 + uint(setCount)*2*uint(slotsPerSet)*16 }

// Index is the full cuckoo key index for one shard: possibly several
// tables, each owning a contiguous range of the 64-bit fingerprint space,
// produced by repeated Split calls.
type Index struct {
	tables  nlrm.NonLockingReadMap[shardEntry, uint64]
	splitMu sync.Mutex // serializes concurrent splits of the same table (spec §4.2 "striped lock")
}

// NewIndex returns an Index with a single table spanning the whole key
// space.
func NewIndex() *Index {
	idx := &Index{tables: nlrm.New[shardEntry, uint64]()}
	idx.tables.Set(&shardEntry{Lower: 0, T: newTable()})
	return idx
}

// tableFor returns the table owning key, under the current table-list
// snapshot.
func (idx *Index) tableFor(key uint64) *shardEntry {
	all := idx.tables.GetAll()
	var best *shardEntry
	for _, e := range all {
		if e.Lower <= key && (best == nil || e.Lower > best.Lower) {
			best = e
		}
	}
	return best
}

// Insert maps key to value, splitting the owning table and retrying once
// if it reports Full (spec §4.2 "Insert" step 3).
func (idx *Index) Insert(key, value uint64) error {
	for attempt := 0; attempt < 2; attempt++ {
		e := idx.tableFor(key)
		err := e.T.Insert(key, value)
		if err == nil {
			return nil
		}
		if err != ErrFull {
			return err
		}
		if splitErr := idx.split(e); splitErr != nil {
			return splitErr
		}
	}
	return ErrFull
}

// Lookup returns every value stored under key.
func (idx *Index) Lookup(key uint64) []uint64 {
	e := idx.tableFor(key)
	return e.T.Lookup(key)
}

// Remove deletes the (key, value) pair; reports whether it was present.
func (idx *Index) Remove(key, value uint64) bool {
	e := idx.tableFor(key)
	return e.T.Remove(key, value)
}

// split extracts every live pair from e's table, partitions them at the
// median key, and replaces e in the table-list with two successor entries
// (spec §4.2 "Split").
func (idx *Index) split(e *shardEntry) error {
	idx.splitMu.Lock()
	defer idx.splitMu.Unlock()

	// re-check under the lock: another goroutine may have split this
	// table already between our Insert failure and acquiring splitMu.
	if cur := idx.tableFor(e.T.firstKeyHint()); cur.Lower != e.Lower || cur.T != e.T {
		return nil
	}

	pairs := e.T.extractAll()
	pivot := medianKey(pairs)

	lo, hi := newTable(), newTable()
	for _, p := range pairs {
		if p.key < pivot {
			if err := lo.Insert(p.key, p.value); err != nil {
				return err
			}
		} else {
			if err := hi.Insert(p.key, p.value); err != nil {
				return err
			}
		}
	}

	idx.tables.Set(&shardEntry{Lower: e.Lower, T: lo})
	idx.tables.Set(&shardEntry{Lower: pivot, T: hi})
	return nil
}

func medianKey(pairs []pair) uint64 {
	if len(pairs) == 0 {
		return 1 << 63
	}
	keys := make([]uint64, len(pairs))
	for i, p := range pairs {
		keys[i] = p.key
	}
	// partial selection sort for the median is wasteful for large N, but
	// split is a rare, already-O(N) operation (it rescans the whole
	// table), so a full sort here doesn't change the asymptotics.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys[len(keys)/2]
}

// KV is one live (key, value) pair surfaced by All.
type KV struct {
	Key   uint64
	Value uint64
}

// All extracts every live pair from every table in the current table-list
// snapshot, for fsck's structural cross-check (spec §12).
func (idx *Index) All() []KV {
	var out []KV
	for _, e := range idx.tables.GetAll() {
		for _, p := range e.T.extractAll() {
			out = append(out, KV{Key: p.key, Value: p.value})
		}
	}
	return out
}

// firstKeyHint returns a key guaranteed to currently resolve to this
// table, used only to re-validate table identity under splitMu.
func (t *table) firstKeyHint() uint64 {
	for _, p := range t.extractAll() {
		return p.key
	}
	return 0
}
