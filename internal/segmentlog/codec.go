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

// Centralizes every on-disk byte layout in one place (spec §9 "Centralize a
// single codec for the entry header, the index-block header, and the state
// file"), instead of scattering manual big/little-endian packing across the
// append routine the way the original C++ does.

import (
	"encoding/binary"
	"hash/crc32"
)

// entryType tags one framed entry inside a data block (spec §3 "Entry").
type entryType uint8

const (
	typeFull    entryType = 1
	typeFirst   entryType = 2
	typeMiddle  entryType = 3
	typeLast    entryType = 4
	typeRemoved entryType = 5
)

// entryHeaderSize is the 13-byte on-disk entry header: crc32(4) + len(2) +
// type(1) + id-high(2) + id-low(4).
const entryHeaderSize = 4 + 2 + 1 + 2 + 4

// indexBlockHeaderSize is the fixed part of an index block: 4 reserved
// bytes + 8-byte base_id.
const indexBlockHeaderSize = 4 + 8

type entryHeader struct {
	crc  uint32
	len  uint16
	typ  entryType
	id   uint64 // 48-bit
}

func encodeEntryHeader(h entryHeader, body []byte) []byte {
	buf := make([]byte, entryHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(body))
	binary.BigEndian.PutUint16(buf[4:6], h.len)
	buf[6] = byte(h.typ)
	binary.BigEndian.PutUint16(buf[7:9], uint16(h.id>>32))
	binary.BigEndian.PutUint32(buf[9:13], uint32(h.id))
	return buf
}

func decodeEntryHeader(buf []byte) entryHeader {
	var h entryHeader
	h.crc = binary.BigEndian.Uint32(buf[0:4])
	h.len = binary.BigEndian.Uint16(buf[4:6])
	h.typ = entryType(buf[6])
	idHigh := uint64(binary.BigEndian.Uint16(buf[7:9]))
	idLow := uint64(binary.BigEndian.Uint32(buf[9:13]))
	h.id = idHigh<<32 | idLow
	return h
}

// indexBlock is the decoded form of a segment's leading index block: for
// each data block, the delta of the lowest record-id appearing in that
// block from the segment's base_id. delta == 0 (for any slot but the
// first) means no record starts in that block.
type indexBlock struct {
	baseID uint64
	delta  []uint32 // len == blocksPerSegment(blockSize)
}

func newIndexBlock(baseID uint64, blocksPerSegment int) *indexBlock {
	return &indexBlock{baseID: baseID, delta: make([]uint32, blocksPerSegment)}
}

func (ib *indexBlock) lowestID(dataBlock int) uint64 {
	if dataBlock == 0 {
		return ib.baseID + uint64(ib.delta[0])
	}
	return ib.baseID + uint64(ib.delta[dataBlock])
}

func (ib *indexBlock) setLowestID(dataBlock int, id uint64) {
	ib.delta[dataBlock] = uint32(id - ib.baseID)
}

// findBlock returns the data block a lookup for id should start scanning
// from: the rightmost block whose recorded lowest-id is <= id, carrying
// forward the last set delta over blocks that never started a record
// (spec §4.1 "a zero delta means this block starts no new record; use the
// nearest preceding non-zero delta").
func (ib *indexBlock) findBlock(id uint64) (int, bool) {
	effective := ib.baseID
	found := -1
	for i, d := range ib.delta {
		cur := effective
		if d != 0 {
			cur = ib.baseID + uint64(d)
		}
		if cur > id {
			break
		}
		effective = cur
		found = i
	}
	if found < 0 {
		return 0, false
	}
	return found, true
}

func encodeIndexBlock(ib *indexBlock, blockSize int) []byte {
	buf := make([]byte, blockSize)
	binary.BigEndian.PutUint64(buf[4:12], ib.baseID)
	off := indexBlockHeaderSize
	for _, d := range ib.delta {
		binary.BigEndian.PutUint32(buf[off:off+4], d)
		off += 4
	}
	return buf
}

func decodeIndexBlock(buf []byte, blocksPerSegment int) *indexBlock {
	ib := &indexBlock{baseID: binary.BigEndian.Uint64(buf[4:12]), delta: make([]uint32, blocksPerSegment)}
	off := indexBlockHeaderSize
	for i := range ib.delta {
		ib.delta[i] = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return ib
}

// blocksPerSegment is the number of data blocks whose starting id fits in
// one index block of blockSize bytes: 4 reserved + 8 base_id + N*4 delta
// slots <= blockSize. This is a structural invariant (the index block must
// be exactly one block), not a tunable: it is always derived from
// blockSize, never hardcoded.
func blocksPerSegment(blockSize int) int {
	return (blockSize - indexBlockHeaderSize) / 4
}
