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

// Package segmentlog implements the append-only segmented log (spec §4.1):
// a durable, crash-consistent log of variable-sized records, each assigned
// a monotonically increasing 48-bit id, readable at random by id and
// logically removable.
package segmentlog

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/launix-de/shardkv/internal/persist"
)

// idUpperBound is 2^48 (spec §3): the hard ceiling on record-ids.
const idUpperBound = uint64(1) << 48

// Log is one segmented log instance, backing one shard's primary record
// storage. Open returns a Log ready for Append/Lookup/Remove; callers must
// Close it to make the on-disk state durable and release backend handles.
type Log struct {
	backend    persist.Backend
	blockSize  int
	dataBlocks int
	maxWrite   int

	appendMu sync.Mutex // at most one active appender (spec §4.1)

	offsetMu sync.RWMutex // guards nextID, removed, segments, segIndex, cur, curBlock, curOff
	nextID   uint64
	removed  uint64
	segments []*segment
	segIndex *btree.BTreeG[segRefNode]
	cur      *segment
	curBlock int
	curOff   int

	pre  SequenceBarrier
	post SequenceBarrier

	closed atomic.Bool

	fatalMu sync.Mutex
	fatal   error
}

type segRefNode struct {
	lowerBound uint64
	seg        *segment
}

func segLess(a, b segRefNode) bool { return a.lowerBound < b.lowerBound }

// Open opens (or creates, if the backend has no existing data) a segmented
// log. On open, the state side file is read and every listed segment is
// reattached; a missing state file bootstraps an empty log (spec §4.1
// "Open/close").
func Open(backend persist.Backend, opts Options) (*Log, error) {
	opts = opts.normalize()
	l := &Log{
		backend:    backend,
		blockSize:  opts.BlockSize,
		dataBlocks: opts.DataBlocksPerSegment,
		segIndex:   btree.NewG[segRefNode](32, segLess),
	}
	l.maxWrite = (l.dataBlocks - 1) * (l.blockSize - entryHeaderSize)

	raw, err := backend.ReadState()
	if err != nil {
		return nil, ErrOpenFail
	}
	st, err := decodeState(raw)
	if err != nil {
		return nil, err
	}

	if len(st.segments) == 0 {
		// fresh log: first segment, base_id = 0 so the first assigned id
		// (1) has delta 1.
		l.nextID = 1
		if err := l.openFreshSegment(0, 0); err != nil {
			return nil, err
		}
		return l, nil
	}

	l.nextID = st.id
	l.removed = st.removed
	l.curBlock = int(st.block)
	l.curOff = int(st.offset)
	for i, e := range st.segments {
		f, err := backend.OpenSegment(e.segno)
		if err != nil {
			return nil, ErrOpenFail
		}
		baseID := e.lowerBound - 1
		seg := newSegment(e.segno, l.blockSize, l.dataBlocks, f, baseID)
		last := i == len(st.segments)-1
		if last {
			ib, err := seg.loadIndexFromDisk()
			if err != nil {
				return nil, err
			}
			seg.index = ib
			buf, err := seg.readRaw(l.curBlock)
			if err != nil {
				return nil, err
			}
			seg.unfinished = buf
			seg.unfinIdx = l.curBlock
		} else {
			seg.sealed = true
		}
		l.segments = append(l.segments, seg)
		l.segIndex.ReplaceOrInsert(segRefNode{lowerBound: e.lowerBound, seg: seg})
		if last {
			l.cur = seg
		}
	}
	l.pre.Arrive(l.nextID - 1)
	l.post.Arrive(l.nextID - 1)
	return l, nil
}

func (l *Log) openFreshSegment(segno, baseID uint64) error {
	size := int64(l.blockSize) * int64(l.dataBlocks+1)
	f, err := l.backend.CreateSegment(segno, size)
	if err != nil {
		return ErrOpenFail
	}
	seg := newSegment(segno, l.blockSize, l.dataBlocks, f, baseID)
	l.segments = append(l.segments, seg)
	l.segIndex.ReplaceOrInsert(segRefNode{lowerBound: baseID + 1, seg: seg})
	l.cur = seg
	l.curBlock = 0
	l.curOff = 0
	return nil
}

func (l *Log) setFatal(err error) error {
	l.fatalMu.Lock()
	if l.fatal == nil {
		l.fatal = err
	}
	l.fatalMu.Unlock()
	return l.fatal
}

func (l *Log) checkFatal() error {
	l.fatalMu.Lock()
	defer l.fatalMu.Unlock()
	return l.fatal
}

// MaxWriteSize returns the largest record this log accepts (spec §3
// "bounded size").
func (l *Log) MaxWriteSize() int { return l.maxWrite }

// Append durably stores data and returns its assigned, strictly increasing
// id (spec §4.1 "Append algorithm").
func (l *Log) Append(data []byte) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if err := l.checkFatal(); err != nil {
		return 0, err
	}
	if len(data) > l.maxWrite {
		return 0, ErrTooBig
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	l.offsetMu.Lock()
	if l.nextID >= idUpperBound {
		l.offsetMu.Unlock()
		return 0, l.setFatal(ErrIdsExhausted)
	}
	id := l.nextID
	l.nextID++
	touchedSegments, err := l.writeChunks(id, data)
	l.offsetMu.Unlock()
	if err != nil {
		return 0, l.setFatal(err)
	}

	// pre-write barrier: index-block deltas for id become visible to
	// readers only once the data bytes of id are queued for write.
	l.pre.Wait(id - 1)
	for _, seg := range touchedSegments {
		if seg.sealed {
			continue // already fsynced by seal()
		}
		if err := seg.flushUnfinished(); err != nil {
			l.pre.Arrive(id)
			return 0, l.setFatal(err)
		}
	}
	l.pre.Arrive(id)

	// post-write barrier: id is now durable and visible to lookups.
	l.post.Wait(id - 1)
	l.post.Arrive(id)

	return id, nil
}

// writeChunks performs the byte-packing described in spec §4.1 steps 3-6
// under offsetMu: advance the (segment, block, offset) cursor over as many
// blocks as data requires, sealing segments and opening fresh ones as the
// cursor crosses a boundary, and updating each touched block's index-block
// delta. Returns the distinct segments touched, oldest first, so the
// caller can flush them to the backend.
func (l *Log) writeChunks(id uint64, data []byte) ([]*segment, error) {
	var touched []*segment
	markTouched := func(s *segment) {
		if len(touched) == 0 || touched[len(touched)-1] != s {
			touched = append(touched, s)
		}
	}

	// buf is the RAM copy of the block currently being filled; it becomes
	// seg.unfinished once this call finishes writing into it, except when
	// it's committed early below because more data still has to follow.
	seg := l.cur
	buf := seg.unfinished
	if buf == nil || seg.unfinIdx != l.curBlock {
		buf = make([]byte, l.blockSize)
	}

	remaining := data
	first := true
	for {
		avail := l.blockSize - l.curOff - entryHeaderSize
		if avail <= 0 {
			var err error
			seg, buf, err = l.rollBlock(seg, id)
			if err != nil {
				return nil, err
			}
			markTouched(seg)
			avail = l.blockSize - l.curOff - entryHeaderSize
		}

		take := len(remaining)
		more := take > avail
		if more {
			take = avail
		}

		var typ entryType
		switch {
		case first && !more:
			typ = typeFull
		case first && more:
			typ = typeFirst
		case !first && !more:
			typ = typeLast
		default:
			typ = typeMiddle
		}

		markTouched(seg)
		seg.mu.Lock()
		if l.curOff == 0 {
			seg.index.setLowestID(l.curBlock, id)
		}
		hdr := encodeEntryHeader(entryHeader{len: uint16(take), typ: typ, id: id}, remaining[:take])
		copy(buf[l.curOff:], hdr)
		copy(buf[l.curOff+entryHeaderSize:], remaining[:take])
		seg.mu.Unlock()

		l.curOff += entryHeaderSize + take
		remaining = remaining[take:]
		first = false

		if len(remaining) == 0 {
			seg.mu.Lock()
			seg.unfinished = buf
			seg.unfinIdx = l.curBlock
			seg.mu.Unlock()
			break
		}

		// This block is now completely full and will never be mutated
		// again (spec §9's mutable-tail-block invariant, enforced by
		// segment.go's readRaw): persist it immediately rather than
		// leaving it to be discarded when the cursor rolls.
		seg.mu.Lock()
		fullBlock, fullIdx := buf, l.curBlock
		seg.mu.Unlock()
		if err := seg.writeSealed(fullIdx, fullBlock); err != nil {
			return nil, err
		}

		var err error
		seg, buf, err = l.rollBlock(seg, id)
		if err != nil {
			return nil, err
		}
		markTouched(seg)
	}
	return touched, nil
}

// rollBlock advances the cursor to a fresh data block, sealing the current
// segment and opening the next one if the segment's capacity is exhausted
// (spec §4.1 "if the segment boundary is crossed, instantiate the next
// segment and pre-fill its index block with base_id = id - 1"). Returns the
// (possibly new) segment and a fresh RAM buffer for the next block.
func (l *Log) rollBlock(cur *segment, nextRecordID uint64) (*segment, []byte, error) {
	l.curBlock++
	l.curOff = 0
	if l.curBlock < l.dataBlocks {
		return cur, make([]byte, l.blockSize), nil
	}
	// segment is full: seal it and open the next one.
	if err := cur.seal(); err != nil {
		return nil, nil, err
	}
	if err := l.openFreshSegment(cur.segno+1, nextRecordID-1); err != nil {
		return nil, nil, err
	}
	return l.cur, make([]byte, l.blockSize), nil
}

// Lookup returns the exact bytes appended under id, or ErrNotFound (spec
// §4.1 "Lookup algorithm").
func (l *Log) Lookup(id uint64) ([]byte, error) {
	if err := l.checkFatal(); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrNotFound
	}

	l.offsetMu.RLock()
	highest := l.nextID
	segments := l.segIndex.Clone()
	l.offsetMu.RUnlock()

	if id >= highest {
		return nil, ErrNotFound
	}
	l.post.Wait(id)

	seg := findSegment(segments, id)
	if seg == nil {
		return nil, ErrNotFound
	}

	data, removedFlag, err := l.scanForID(seg, id)
	if err != nil {
		return nil, err
	}
	if removedFlag {
		return nil, ErrNotFound
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

// Remove marks id as logically deleted (spec §4.1 "Remove algorithm").
func (l *Log) Remove(id uint64) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.checkFatal(); err != nil {
		return err
	}
	if id == 0 {
		return ErrNotFound
	}

	l.offsetMu.RLock()
	highest := l.nextID
	segments := l.segIndex.Clone()
	l.offsetMu.RUnlock()
	if id >= highest {
		return ErrNotFound
	}
	l.post.Wait(id)

	seg := findSegment(segments, id)
	if seg == nil {
		return ErrNotFound
	}
	removedNow, err := l.markRemoved(seg, id)
	if err != nil {
		return err
	}
	if !removedNow {
		return nil // already removed: not counted a second time
	}
	l.offsetMu.Lock()
	l.removed++
	l.offsetMu.Unlock()
	return nil
}

// RemovedCount reports how many records have been logically removed,
// feeding the shard container's clean-vs-split heuristics (spec §4.4).
func (l *Log) RemovedCount() uint64 {
	l.offsetMu.RLock()
	defer l.offsetMu.RUnlock()
	return l.removed
}

// HighestID returns the id that will be assigned to the next Append.
func (l *Log) HighestID() uint64 {
	l.offsetMu.RLock()
	defer l.offsetMu.RUnlock()
	return l.nextID
}

func findSegment(tree *btree.BTreeG[segRefNode], id uint64) *segment {
	var result *segment
	tree.DescendLessOrEqual(segRefNode{lowerBound: id}, func(n segRefNode) bool {
		result = n.seg
		return false // first hit (largest lowerBound <= id) wins
	})
	return result
}

// Close fsyncs every open segment and writes the state file (spec §4.1
// "On close, write the same file and fsync all segments").
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.offsetMu.Lock()
	defer l.offsetMu.Unlock()

	if l.cur != nil && !l.cur.sealed {
		if err := l.cur.flushUnfinished(); err != nil {
			return err
		}
	}
	for _, seg := range l.segments {
		if err := seg.close(); err != nil {
			return err
		}
	}

	st := state{id: l.nextID, removed: l.removed, block: uint64(l.curBlock), offset: uint64(l.curOff)}
	l.segIndex.Ascend(func(n segRefNode) bool {
		st.segments = append(st.segments, segEntry{segno: n.seg.segno, lowerBound: n.lowerBound})
		return true
	})
	if err := l.backend.WriteState(encodeState(st)); err != nil {
		return ErrCloseFail
	}
	return nil
}
