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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	nlrm "github.com/launix-de/NonLockingReadMap"

	"github.com/launix-de/shardkv/internal/coord"
	"github.com/launix-de/shardkv/internal/segmentlog"
	"github.com/launix-de/shardkv/internal/shard"
)

// shardEntry is one live shard handle, keyed by an opaque, ever-increasing
// id. coordinate is a read-only copy of the shard's region: a shard's
// Coordinate never changes once it is registered (Split installs its
// successors under fresh ids, and Clean rewrites a shard's storage in place
// without touching its Coordinate), so routing can test it without
// acquiring the shard first. The
// NonLockingReadMap holding these entries is the "shard-vector pointer
// swapped atomically on split/clean" (spec §11).
type shardEntry struct {
	id         uint64
	coordinate coord.Coordinate
	ref        *shard.Ref
}

func (e shardEntry) GetKey() uint64    { return e.id }
func (e shardEntry) ComputeSize() uint { return 64 }

// shardNode orders the same shard set by its region's primary lower bound
// (spec §11's google/btree row), in the same segRefNode/segLess shape
// internal/segmentlog uses for its own segment index. The order index is
// kept up to date by addShard and removeShard but nothing reads it:
// routing and Search scan every entry of the shard vector.
type shardNode struct {
	lowerBound uint64
	id         uint64
}

func nodeLess(a, b shardNode) bool {
	if a.lowerBound != b.lowerBound {
		return a.lowerBound < b.lowerBound
	}
	return a.id < b.id
}

// Keyspace is the routing and maintenance layer over a vector of shards: it
// directs get/put/del to the one shard owning a key's coordinate, fans a
// search out across every shard whose region can intersect the predicate,
// and triggers Split or Clean as a shard crosses its configured thresholds
// (spec §0 "Top-level keyspace / subspace wiring").
type Keyspace struct {
	opts Options

	shards nlrm.NonLockingReadMap[shardEntry, uint64]
	nextID atomic.Uint64

	orderMu sync.Mutex // guards order the same way segmentlog's offsetMu guards segIndex
	order   *btree.BTreeG[shardNode]
}

// Open bootstraps a fresh keyspace with a single shard spanning the entire
// key space (coord.Full), the state of a brand new deployment before any
// split has occurred.
func Open(opts Options) (*Keyspace, error) {
	opts.ShardOpts.Attrs = opts.Attrs
	ks := &Keyspace{
		opts:  opts,
		shards: nlrm.New[shardEntry, uint64](),
		order: btree.NewG[shardNode](32, nodeLess),
	}

	s, err := ks.openShard(coord.Full)
	if err != nil {
		return nil, err
	}
	ks.addShard(s)
	return ks, nil
}

func (ks *Keyspace) openShard(c coord.Coordinate) (*shard.Shard, error) {
	id := ks.nextID.Add(1) - 1
	backend, err := ks.opts.NewBackend(id)
	if err != nil {
		return nil, err
	}
	log, err := segmentlog.Open(backend, ks.opts.logOpts())
	if err != nil {
		return nil, err
	}
	s := shard.Open(c, ks.opts.Hasher, log, ks.opts.ShardOpts)
	if err := s.Rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// addShard registers s under a fresh id in both the atomically-swapped
// shard-vector map and the ordered index, wrapped in a reference-counted
// handle (spec §12) so in-flight operations outlive a later Split or Clean.
func (ks *Keyspace) addShard(s *shard.Shard) uint64 {
	id := ks.nextID.Add(1) - 1
	ref := shard.NewRef(s, func(s *shard.Shard) { s.Close() })
	lower := s.Coord.PrimaryHash & s.Coord.PrimaryMask
	ks.shards.Set(&shardEntry{id: id, coordinate: s.Coord, ref: ref})

	ks.orderMu.Lock()
	ks.order.ReplaceOrInsert(shardNode{lowerBound: lower, id: id})
	ks.orderMu.Unlock()
	return id
}

// removeShard retires and unregisters the shard at id (used once a Split's
// successors are fully installed).
func (ks *Keyspace) removeShard(id uint64) {
	e := ks.shards.Get(id)
	if e == nil {
		return
	}
	ks.shards.Remove(id)
	lower := e.coordinate.PrimaryHash & e.coordinate.PrimaryMask
	ks.orderMu.Lock()
	ks.order.Delete(shardNode{lowerBound: lower, id: id})
	ks.orderMu.Unlock()
	e.ref.Retire()
}

// allEntries returns every currently registered shard entry.
func (ks *Keyspace) allEntries() []*shardEntry {
	return ks.shards.GetAll()
}

// routeOne returns the single shard whose coordinate contains keyCoord,
// acquired for the duration of one operation; the caller must Release it.
func (ks *Keyspace) routeOne(keyCoord coord.Coordinate) (*shard.Shard, *shard.Ref, error) {
	for _, e := range ks.allEntries() {
		if !coord.Contains(e.coordinate, keyCoord) {
			continue
		}
		s, ok := e.ref.Acquire()
		if !ok {
			continue // retired between the vector snapshot and this Acquire: try another match, if any
		}
		return s, e.ref, nil
	}
	return nil, nil, fmt.Errorf("keyspace: no shard owns coordinate %s", keyCoord)
}

// routeMany returns every shard whose region can intersect predCoord, each
// already Acquire'd; the caller must Release every one once done.
func (ks *Keyspace) routeMany(predCoord coord.Coordinate) []*shard.Ref {
	var out []*shard.Ref
	for _, e := range ks.allEntries() {
		if !coord.Intersects(e.coordinate, predCoord) {
			continue
		}
		if _, ok := e.ref.Acquire(); ok {
			out = append(out, e.ref)
		}
	}
	return out
}

// Get returns the current live value for key, routed to the one shard
// whose region owns it.
func (ks *Keyspace) Get(key []byte) ([][]byte, error) {
	_, keyCoord := ks.opts.Hasher.HashKey(key)
	s, ref, err := ks.routeOne(keyCoord)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	return s.Get(key)
}

// Put enqueues key/value in the one shard whose region owns key.
func (ks *Keyspace) Put(key []byte, value [][]byte) error {
	_, keyCoord := ks.opts.Hasher.HashKey(key)
	s, ref, err := ks.routeOne(keyCoord)
	if err != nil {
		return err
	}
	defer ref.Release()
	return s.Put(key, value)
}

// Del enqueues a tombstone for key in the one shard whose region owns it.
func (ks *Keyspace) Del(key []byte) error {
	_, keyCoord := ks.opts.Hasher.HashKey(key)
	s, ref, err := ks.routeOne(keyCoord)
	if err != nil {
		return err
	}
	defer ref.Release()
	return s.Del(key)
}

// ShardCount reports how many shards currently make up this keyspace,
// mostly for tests and the admin CLI's status output.
func (ks *Keyspace) ShardCount() int {
	return len(ks.allEntries())
}
