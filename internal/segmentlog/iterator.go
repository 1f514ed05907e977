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

package segmentlog

import "hash/crc32"

// This file holds the entry-by-entry walk over a segment's data blocks:
// the shared machinery Lookup, Remove, and the fsck/clean-time Iterator
// (spec §4.1 "Lookup/Remove algorithm", spec §12 "clean streams every live
// entry forward") all build on. A record's chunks are always laid out
// back-to-back with nothing interleaved between them (the single active
// appender holds appendMu for the whole of one Append), so once the FIRST
// chunk of a record is located, its MIDDLE/LAST continuations are simply
// the next entries in file order, however many blocks they cross.

type walkCursor struct {
	block int
	off   int
}

// entryAt decodes the entry header and body starting at cursor c within
// seg, advancing c past it. It returns ok=false once it reaches the
// zero-filled tail of the currently-open block (no entry type is ever 0).
// The body's crc32 is validated against the header's stored checksum here
// (spec §4.1 step 7: "validate crc32; mismatch is a fatal Corrupt error"),
// since every reader of a chunk's body goes through this one function.
func (seg *segment) entryAt(c walkCursor, blockSize int) (entryHeader, []byte, walkCursor, bool, error) {
	if c.off+entryHeaderSize > blockSize {
		c = walkCursor{block: c.block + 1, off: 0}
	}
	raw, err := seg.readRaw(c.block)
	if err != nil {
		return entryHeader{}, nil, c, false, err
	}
	hdr := decodeEntryHeader(raw[c.off : c.off+entryHeaderSize])
	if hdr.typ == 0 {
		return entryHeader{}, nil, c, false, nil
	}
	bodyStart := c.off + entryHeaderSize
	body := raw[bodyStart : bodyStart+int(hdr.len)]
	if crc32.ChecksumIEEE(body) != hdr.crc {
		return entryHeader{}, nil, c, false, ErrCorrupt
	}
	next := walkCursor{block: c.block, off: bodyStart + int(hdr.len)}
	return hdr, body, next, true, nil
}

// scanForID walks seg forward from the index-block-derived starting point
// for id and reassembles the full record body. removed reports whether the
// record's leading chunk is tagged typeRemoved. If id does not actually
// appear in this segment, or its chunks are not laid out as expected,
// scanForID returns ErrCorrupt (the caller already established from the
// in-RAM id space that id was assigned to this segment).
func (l *Log) scanForID(seg *segment, id uint64) (data []byte, removed bool, err error) {
	idx, err := seg.readIndex()
	if err != nil {
		return nil, false, err
	}
	startBlock, ok := idx.findBlock(id)
	if !ok {
		return nil, false, ErrCorrupt
	}

	c := walkCursor{block: startBlock, off: 0}
	for {
		hdr, body, next, ok, err := seg.entryAt(c, l.blockSize)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, ErrCorrupt
		}
		if hdr.id != id {
			c = next
			continue
		}
		switch hdr.typ {
		case typeFull, typeRemoved:
			return append([]byte(nil), body...), hdr.typ == typeRemoved, nil
		case typeFirst:
			buf := append([]byte(nil), body...)
			c = next
			for {
				h2, b2, n2, ok2, err := seg.entryAt(c, l.blockSize)
				if err != nil {
					return nil, false, err
				}
				if !ok2 || h2.id != id {
					return nil, false, ErrCorrupt
				}
				buf = append(buf, b2...)
				if h2.typ == typeLast {
					return buf, false, nil
				}
				if h2.typ != typeMiddle {
					return nil, false, ErrCorrupt
				}
				c = n2
			}
		default:
			return nil, false, ErrCorrupt
		}
	}
}

// markRemoved rewrites the leading chunk's type byte to typeRemoved,
// in place, without disturbing the crc or body bytes (spec §4.1 "Remove
// flips the entry's type tag; the bytes stay on disk until compaction").
// It reports whether this call flipped the tag: an entry already tagged
// typeRemoved is left as it is and reported as false.
func (l *Log) markRemoved(seg *segment, id uint64) (bool, error) {
	idx, err := seg.readIndex()
	if err != nil {
		return false, err
	}
	startBlock, ok := idx.findBlock(id)
	if !ok {
		return false, ErrCorrupt
	}

	c := walkCursor{block: startBlock, off: 0}
	for {
		hdr, _, next, ok, err := seg.entryAt(c, l.blockSize)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, ErrCorrupt
		}
		if hdr.id != id {
			c = next
			continue
		}
		if hdr.typ == typeRemoved {
			return false, nil // already removed: idempotent
		}
		return true, seg.patchType(c.block, c.off, typeRemoved)
	}
}

// Entry is one record surfaced by Iterator, including logically removed
// ones (spec §12's fsck/clean use this to tell live data from tombstones).
type Entry struct {
	ID      uint64
	Data    []byte
	Removed bool
}

// Iterator walks every record in the log, oldest first, across all
// segments, surfacing removed entries too. Used by fsck (structural
// verification) and by clean (to decide what to carry into a fresh
// segment set).
type Iterator struct {
	l        *Log
	segments []*segment
	segIdx   int
	cursor   walkCursor
	pending  *Entry
	err      error
}

// NewIterator returns an Iterator positioned before the first entry.
func (l *Log) NewIterator() *Iterator {
	l.offsetMu.RLock()
	segs := append([]*segment(nil), l.segments...)
	l.offsetMu.RUnlock()
	return &Iterator{l: l, segments: segs}
}

// Next advances the iterator and reports whether an entry was produced.
func (it *Iterator) Next() bool {
	for {
		if it.segIdx >= len(it.segments) {
			return false
		}
		seg := it.segments[it.segIdx]
		hdr, body, next, ok, err := seg.entryAt(it.cursor, it.l.blockSize)
		if err != nil {
			it.err = err
			return false
		}
		if !ok {
			it.segIdx++
			it.cursor = walkCursor{}
			continue
		}
		it.cursor = next
		switch hdr.typ {
		case typeFull, typeRemoved:
			it.pending = &Entry{ID: hdr.id, Data: append([]byte(nil), body...), Removed: hdr.typ == typeRemoved}
			return true
		case typeFirst:
			buf := append([]byte(nil), body...)
			id := hdr.id
			for {
				h2, b2, n2, ok2, err := seg.entryAt(it.cursor, it.l.blockSize)
				if err != nil {
					it.err = err
					return false
				}
				if !ok2 || h2.id != id {
					it.err = ErrCorrupt
					return false
				}
				buf = append(buf, b2...)
				it.cursor = n2
				if h2.typ == typeLast {
					break
				}
				if h2.typ != typeMiddle {
					it.err = ErrCorrupt
					return false
				}
			}
			it.pending = &Entry{ID: id, Data: buf}
			return true
		case typeMiddle, typeLast:
			// continuation chunks of a removed record: only its leading
			// chunk was retagged, and that chunk alone was surfaced as
			// the removed Entry, so the rest is skipped.
			if it.pending != nil && it.pending.ID == hdr.id && it.pending.Removed {
				continue
			}
			it.err = ErrCorrupt
			return false
		default:
			it.err = ErrCorrupt
			return false
		}
	}
}

// Entry returns the entry produced by the most recent Next call.
func (it *Iterator) Entry() Entry { return *it.pending }

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error { return it.err }
