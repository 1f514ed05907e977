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

import (
	"sync"

	"github.com/launix-de/shardkv/internal/persist"
)

// segment wraps one <prefix>.<n> file: an index block (spec §4.1) followed
// by dataBlocks data blocks. The teacher's mmap'd-file-as-byte-array
// pattern (spec §9 "mmap'd files treated as arrays of bytes") is replaced
// here by a typed owner that keeps the mutable tail block in RAM and
// pushes everything else through persist.RandomAccessFile. The framing
// layer (see codec.go) packs entries back to back and pads nothing, so
// record bodies carry no 8-byte alignment.
type segment struct {
	segno      uint64
	blockSize  int
	dataBlocks int // number of data blocks this segment can hold

	file persist.RandomAccessFile

	mu         sync.RWMutex // guards index + unfinished while this segment is the write target
	index      *indexBlock
	unfinished []byte // raw bytes of the last still-mutable data block, nil once sealed
	unfinIdx   int    // data-block index `unfinished` represents
	sealed     bool
}

func newSegment(segno uint64, blockSize, dataBlocks int, file persist.RandomAccessFile, baseID uint64) *segment {
	return &segment{
		segno:      segno,
		blockSize:  blockSize,
		dataBlocks: dataBlocks,
		file:       file,
		index:      newIndexBlock(baseID, dataBlocks),
	}
}

// dataBlockOffset returns the byte offset of data block i (0-based) within
// the segment file; data blocks follow the single index block at offset 0.
func (s *segment) dataBlockOffset(i int) int64 {
	return int64(i+1) * int64(s.blockSize)
}

// readRaw returns the raw bytes of data block i, from RAM if it is the
// current unfinished block, else from the backend.
func (s *segment) readRaw(i int) ([]byte, error) {
	s.mu.RLock()
	if !s.sealed && s.unfinished != nil && i == s.unfinIdx {
		buf := append([]byte(nil), s.unfinished...)
		s.mu.RUnlock()
		return buf, nil
	}
	s.mu.RUnlock()

	buf := make([]byte, s.blockSize)
	if _, err := s.file.ReadAt(buf, s.dataBlockOffset(i)); err != nil {
		return nil, ErrReadFail
	}
	return buf, nil
}

// writeSealed persists a data block that will never be mutated again.
func (s *segment) writeSealed(i int, data []byte) error {
	if _, err := s.file.WriteAt(data, s.dataBlockOffset(i)); err != nil {
		return ErrWriteFail
	}
	return nil
}

// readIndex returns the live (RAM) index block if this segment is still
// being written to, else reads it from the backend (spec §4.1 lookup step
// 5: "the live one from the in-RAM unfinished-index for the newest
// segment, else the mapped on-disk one").
func (s *segment) readIndex() (*indexBlock, error) {
	s.mu.RLock()
	if !s.sealed {
		ib := s.index
		s.mu.RUnlock()
		return ib, nil
	}
	s.mu.RUnlock()

	buf := make([]byte, s.blockSize)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return nil, ErrReadFail
	}
	return decodeIndexBlock(buf, s.dataBlocks), nil
}

// loadIndexFromDisk reads the index block straight from the backend,
// bypassing the RAM-vs-backend choice readIndex makes during normal
// operation. Used only while reattaching a segment at Open, before this
// segment object's own RAM index has ever been populated.
func (s *segment) loadIndexFromDisk() (*indexBlock, error) {
	buf := make([]byte, s.blockSize)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return nil, ErrReadFail
	}
	return decodeIndexBlock(buf, s.dataBlocks), nil
}

// seal writes the final index block, fsyncs, and marks the segment
// read-only: once sealed, writeSealed must never be called on it again
// (spec §3 "once closed it is read-only until the containing shard is
// split/compacted").
func (s *segment) seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return nil
	}
	buf := encodeIndexBlock(s.index, s.blockSize)
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return ErrWriteFail
	}
	if err := s.file.Sync(); err != nil {
		return ErrSyncFail
	}
	s.sealed = true
	s.unfinished = nil
	return nil
}

// flushUnfinished writes the index block and the current unfinished data
// block to the backend without sealing, giving at-rest durability for a
// segment that is still open for appends (used after each Append's
// pre-write barrier).
func (s *segment) flushUnfinished() error {
	s.mu.Lock()
	idxBuf := encodeIndexBlock(s.index, s.blockSize)
	unfin := s.unfinished
	unfinIdx := s.unfinIdx
	s.mu.Unlock()

	if _, err := s.file.WriteAt(idxBuf, 0); err != nil {
		return ErrWriteFail
	}
	if unfin != nil {
		if _, err := s.file.WriteAt(unfin, s.dataBlockOffset(unfinIdx)); err != nil {
			return ErrWriteFail
		}
	}
	return s.file.Sync()
}

// patchType overwrites the single type byte of the entry header at
// (block, off) with typ, both in the RAM tail copy (if that's where this
// header lives) and on the backend, so a Remove is durable without
// requiring a full block rewrite.
func (s *segment) patchType(block, off int, typ entryType) error {
	s.mu.Lock()
	if !s.sealed && s.unfinished != nil && block == s.unfinIdx {
		s.unfinished[off+6] = byte(typ)
	}
	s.mu.Unlock()

	buf := []byte{byte(typ)}
	if _, err := s.file.WriteAt(buf, s.dataBlockOffset(block)+int64(off)+6); err != nil {
		return ErrWriteFail
	}
	return s.file.Sync()
}

func (s *segment) close() error {
	if err := s.file.Close(); err != nil {
		return ErrCloseFail
	}
	return nil
}
