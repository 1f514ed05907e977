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
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/launix-de/shardkv/internal/coord"
	"github.com/launix-de/shardkv/internal/cuckoo"
	"github.com/launix-de/shardkv/internal/hashing"
	"github.com/launix-de/shardkv/internal/segmentlog"
	"github.com/launix-de/shardkv/internal/searchtree"
)

// Shard is one container gluing a segmented log, a cuckoo key index, and a
// search tree into `get/put/del/search`, with WAL buffering for latency
// and split/clean for maintenance (spec §4.4).
type Shard struct {
	Coord  coord.Coordinate
	Opts   Options
	Hasher hashing.Hasher

	log    *segmentlog.Log
	cuckoo *cuckoo.Index
	tree   *searchtree.Tree
	w      *wal

	mutatorMu sync.Mutex // "global per-shard mutator mutex" (spec §5)

	removed atomic.Uint64 // mirrors log.RemovedCount, tracked here for clean heuristics pre-flush

	fatalMu sync.Mutex
	fatal   error
}

// Open wraps an already-Open'd segmented log into a fresh shard container.
// Callers rebuild the cuckoo index and search tree from the log's entries
// (see Rebuild) when reattaching after a restart, since neither structure
// is itself durable (spec §9: only the log and its state file survive a
// crash; the index structures are derived).
func Open(c coord.Coordinate, h hashing.Hasher, log *segmentlog.Log, opts Options) *Shard {
	return &Shard{
		Coord:  c,
		Opts:   opts,
		Hasher: h,
		log:    log,
		cuckoo: cuckoo.NewIndex(),
		tree:   searchtree.New(opts.Attrs),
		w:      newWAL(),
	}
}

// Rebuild replays every live log entry into a fresh cuckoo index and
// search tree, used once at Open time to reconstruct the derived indexes
// (spec §9's refcounted-block model only durably persists the log).
func (s *Shard) Rebuild() error {
	it := s.log.NewIterator()
	for it.Next() {
		e := it.Entry()
		if e.Removed {
			continue
		}
		rec, err := decodeRecord(e.Data)
		if err != nil {
			return s.setFatal(ErrCorrupt)
		}
		fp, _ := s.Hasher.HashKey(rec.Key)
		hashes := s.Hasher.HashAttributes(rec.Attrs)
		if err := s.cuckoo.Insert(fp, e.ID); err != nil {
			return s.setFatal(ErrSplitFailed)
		}
		s.tree.Insert(e.ID, hashes)
	}
	return it.Err()
}

func (s *Shard) setFatal(err error) error {
	s.fatalMu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.fatalMu.Unlock()
	return s.fatal
}

func (s *Shard) checkFatal() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}

// Put enqueues a write to the WAL and returns immediately (spec §4.4
// "WAL": "put/del enqueue and return immediately").
func (s *Shard) Put(key []byte, value [][]byte) error {
	if err := s.checkFatal(); err != nil {
		return err
	}
	if s.Opts.Attrs > 0 && len(value) != s.Opts.Attrs {
		return ErrWrongArity
	}
	s.w.Push(&walEntry{Coord: s.Coord, Key: append([]byte(nil), key...), Value: value, IsPut: true})
	return nil
}

// Del enqueues a tombstone (spec §4.4 "WAL").
func (s *Shard) Del(key []byte) error {
	if err := s.checkFatal(); err != nil {
		return err
	}
	s.w.Push(&walEntry{Coord: s.Coord, Key: append([]byte(nil), key...), IsPut: false})
	return nil
}

// Get returns the highest-versioned live value for key, checking the WAL
// ahead of the on-disk structures and resolving any later WAL write for
// the same key over a persisted hit (spec §4.4 "Get").
func (s *Shard) Get(key []byte) ([][]byte, error) {
	if err := s.checkFatal(); err != nil {
		return nil, err
	}
	snap := s.w.Snapshot()

	value, found, err := s.getFromDisk(key)
	if err != nil {
		return nil, err
	}

	for _, e := range snap {
		if !bytes.Equal(e.Key, key) {
			continue
		}
		if e.IsPut {
			value, found = e.Value, true
		} else {
			found = false
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *Shard) getFromDisk(key []byte) (value [][]byte, found bool, err error) {
	fp, _ := s.Hasher.HashKey(key)
	ids := s.cuckoo.Lookup(fp)

	var best record
	haveBest := false
	for _, id := range ids {
		data, lerr := s.log.Lookup(id)
		if lerr == segmentlog.ErrNotFound {
			continue
		}
		if lerr != nil {
			return nil, false, s.setFatal(ErrCorrupt)
		}
		rec, derr := decodeRecord(data)
		if derr != nil {
			return nil, false, s.setFatal(ErrCorrupt)
		}
		if !bytes.Equal(rec.Key, key) {
			continue
		}
		if !haveBest || rec.Version > best.Version {
			best, haveBest = rec, true
		}
	}
	if !haveBest {
		return nil, false, nil
	}
	return best.Attrs, true, nil
}

// Flush moves up to n entries from the WAL into the persistent structures,
// in insertion order (spec §4.4 "WAL" steps 1-3). peers lists other shards
// that may hold a stale copy of a key being overwritten here; each gets a
// chance to tombstone its own record of the same key.
func (s *Shard) Flush(n int, peers []*Shard) error {
	if err := s.checkFatal(); err != nil {
		return err
	}
	s.mutatorMu.Lock()
	defer s.mutatorMu.Unlock()

	for i := 0; i < n; i++ {
		e, ok := s.w.Pop()
		if !ok {
			break
		}
		if err := s.flushOne(e, peers); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shard) flushOne(e *walEntry, peers []*Shard) error {
	for _, peer := range peers {
		if peer == s {
			continue
		}
		if existing, found, _ := peer.getFromDisk(e.Key); found {
			_ = existing
			if err := peer.tombstoneByKey(e.Key); err != nil {
				return err
			}
		}
	}

	if !e.IsPut {
		return s.tombstoneByKey(e.Key)
	}

	rec := record{Version: e.seqGen, Key: e.Key, Attrs: e.Value}
	id, err := s.log.Append(encodeRecord(rec))
	if err != nil {
		if err == segmentlog.ErrTooBig {
			return errDataFull
		}
		return s.setFatal(ErrSyncFailed)
	}

	fp, _ := s.Hasher.HashKey(e.Key)
	if err := s.cuckoo.Insert(fp, id); err != nil {
		return errDataFull
	}
	hashes := s.Hasher.HashAttributes(e.Value)
	s.tree.Insert(id, hashes)
	return nil
}

// tombstoneByKey removes the live log entry for key from the cuckoo index
// and search tree bookkeeping by issuing a logical log.Remove and a
// search-tree Remove, used both for explicit Del and for superseding an
// overwritten value found in a peer shard.
func (s *Shard) tombstoneByKey(key []byte) error {
	fp, _ := s.Hasher.HashKey(key)
	ids := s.cuckoo.Lookup(fp)
	for _, id := range ids {
		data, err := s.log.Lookup(id)
		if err == segmentlog.ErrNotFound {
			continue
		}
		if err != nil {
			return s.setFatal(ErrCorrupt)
		}
		rec, derr := decodeRecord(data)
		if derr != nil || !bytes.Equal(rec.Key, key) {
			continue
		}
		if err := s.log.Remove(id); err != nil && err != segmentlog.ErrNotFound {
			return s.setFatal(ErrSyncFailed)
		}
		s.cuckoo.Remove(fp, id)
		// a remove gets no log id of its own; the log's current high-water
		// mark (always non-zero) stands in as the tree's remove id.
		s.tree.Remove(id, s.Hasher.HashAttributes(rec.Attrs), s.log.HighestID())
		s.removed.Add(1)
	}
	return nil
}

// searchResult is one candidate surfaced by Search, already verified
// against the full predicate.
type searchResult struct {
	Key   []byte
	Value [][]byte
}

// Search hashes p to a coordinate mask and an attribute mask, walks the
// search tree for candidate ids, decodes and verifies each one against the
// full predicate, then replays the WAL for later writes (spec §4.4
// "Search").
func (s *Shard) Search(p hashing.Predicate) ([]searchResult, error) {
	if err := s.checkFatal(); err != nil {
		return nil, err
	}
	_, attrMask := s.Hasher.HashPredicate(p)
	mask := make([]*uint64, s.Opts.Attrs)
	for i, c := range attrMask {
		if c.Known {
			h := c.Hash
			mask[i] = &h
		}
	}

	horizon := s.log.HighestID()
	var out []searchResult
	s.tree.Iterate(mask, horizon, func(e searchtree.Entry) bool {
		data, err := s.log.Lookup(e.LogID)
		if err != nil {
			return true
		}
		rec, derr := decodeRecord(data)
		if derr != nil {
			return true
		}
		if p.Verify(rec.Key, rec.Attrs) {
			out = append(out, searchResult{Key: rec.Key, Value: rec.Attrs})
		}
		return true
	})

	// Everything still in the WAL is by definition not yet folded into the
	// search tree (Flush pops an entry before indexing it), so every
	// snapshot entry is a candidate regardless of its sequence number;
	// seqGen lives in a different counter space than the log's horizon and
	// isn't comparable to it.
	for _, e := range s.w.Snapshot() {
		if e.IsPut {
			if p.Verify(e.Key, e.Value) {
				out = append(out, searchResult{Key: e.Key, Value: e.Value})
			}
		}
	}
	return out, nil
}

// Close releases this shard's underlying log (spec §12): called once a
// shard's Ref has been fully retired and no operation holds it any longer,
// the same teardown Clean already runs on a predecessor's old log.
func (s *Shard) Close() error {
	return s.log.Close()
}

func (s *Shard) String() string {
	return fmt.Sprintf("shard(%s, highest=%d, removed=%d)", s.Coord, s.log.HighestID(), s.removed.Load())
}
