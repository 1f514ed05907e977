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

// Package persist abstracts where a shard's segment files and state file
// physically live, generalizing the teacher's storage/persistence.go
// PersistenceEngine (which let a memcp table live on the local filesystem,
// S3, or Ceph) to the segmented log's needs: random-access reads and
// writes into a fixed-size segment file rather than a column's append-only
// byte stream.
package persist

import "io"

// RandomAccessFile is the subset of *os.File the segmented log needs:
// positioned reads and writes into a fixed-size segment, plus durability
// and teardown. Every SegmentBackend must vend one per segment.
type RandomAccessFile interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
	// Truncate grows or shrinks the underlying storage to size bytes;
	// used once, at segment creation, to pre-size a fresh segment file.
	Truncate(size int64) error
}

// Backend is a pluggable store for one shard's segment files and its
// companion state file (spec §6). Local disk, S3, and Ceph all implement
// it; the segmented log only ever talks to this interface, never to a
// concrete backend.
type Backend interface {
	// OpenSegment opens an existing segment for read/write; ErrNotExist
	// (from the standard errors/os package) if it has never been created.
	OpenSegment(segno uint64) (RandomAccessFile, error)
	// CreateSegment creates a fresh, zero-filled segment of the given
	// size in bytes.
	CreateSegment(segno uint64, size int64) (RandomAccessFile, error)
	// RemoveSegment deletes a segment file; used when a shard is
	// cleaned/split and the predecessor is unlinked (spec §4.4).
	RemoveSegment(segno uint64) error
	// ListSegments returns the segment numbers present, ascending.
	ListSegments() ([]uint64, error)

	// ReadState/WriteState persist the log's <prefix>.state side file
	// (spec §6).
	ReadState() ([]byte, error)
	WriteState(data []byte) error

	// Close releases any resources held by the backend itself (pooled
	// connections, watchers); it does not remove data.
	Close() error
}
