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
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// record is the encoded form of one (key, value) pair as stored in the
// segmented log: a version counter followed by the key and each attribute
// slice, each length-prefixed (spec §4.4 "encode the record (version +
// attribute slices)"), lz4-block-compressed before it ever reaches the log
// (internal/persist's xz bundle is the opposite tradeoff: ratio over speed,
// right for a cold quiesce snapshot rather than a per-Append hot path).
type record struct {
	Version uint64
	Key     []byte
	Attrs   [][]byte
}

func encodeRecord(r record) []byte {
	size := 8 + 4 + len(r.Key)
	for _, a := range r.Attrs {
		size += 4 + len(a)
	}
	raw := make([]byte, size)
	off := 0
	binary.BigEndian.PutUint64(raw[off:], r.Version)
	off += 8
	binary.BigEndian.PutUint32(raw[off:], uint32(len(r.Key)))
	off += 4
	off += copy(raw[off:], r.Key)
	for _, a := range r.Attrs {
		binary.BigEndian.PutUint32(raw[off:], uint32(len(a)))
		off += 4
		off += copy(raw[off:], a)
	}
	return compressRecord(raw)
}

func decodeRecord(buf []byte) (record, error) {
	raw, err := decompressRecord(buf)
	if err != nil {
		return record{}, err
	}

	var r record
	if len(raw) < 12 {
		return r, fmt.Errorf("shard: record too short to decode")
	}
	r.Version = binary.BigEndian.Uint64(raw)
	off := 8
	klen := int(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	if off+klen > len(raw) {
		return r, fmt.Errorf("shard: record key length out of bounds")
	}
	r.Key = raw[off : off+klen]
	off += klen
	for off < len(raw) {
		if off+4 > len(raw) {
			return r, fmt.Errorf("shard: truncated attribute length")
		}
		alen := int(binary.BigEndian.Uint32(raw[off:]))
		off += 4
		if off+alen > len(raw) {
			return r, fmt.Errorf("shard: truncated attribute body")
		}
		r.Attrs = append(r.Attrs, raw[off:off+alen])
		off += alen
	}
	return r, nil
}

// recordFlag tags whether a stored record's payload is lz4-compressed or
// carried verbatim: very small records often don't shrink, and storing
// them raw avoids paying lz4's block overhead for nothing.
const (
	recordFlagRaw byte = iota
	recordFlagLZ4
)

func compressRecord(raw []byte) []byte {
	bound := lz4.CompressBlockBound(len(raw))
	dst := make([]byte, 5+bound)
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, dst[5:])
	if err != nil || n == 0 || n >= len(raw) {
		out := make([]byte, 5+len(raw))
		out[0] = recordFlagRaw
		binary.BigEndian.PutUint32(out[1:], uint32(len(raw)))
		copy(out[5:], raw)
		return out
	}
	dst = dst[:5+n]
	dst[0] = recordFlagLZ4
	binary.BigEndian.PutUint32(dst[1:], uint32(len(raw)))
	return dst
}

func decompressRecord(buf []byte) ([]byte, error) {
	if len(buf) < 5 {
		return nil, fmt.Errorf("shard: compressed record too short to decode")
	}
	rawLen := binary.BigEndian.Uint32(buf[1:])
	body := buf[5:]
	switch buf[0] {
	case recordFlagRaw:
		if uint32(len(body)) != rawLen {
			return nil, fmt.Errorf("shard: raw record length mismatch")
		}
		return body, nil
	case recordFlagLZ4:
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return nil, fmt.Errorf("shard: lz4 decompress: %w", err)
		}
		return raw[:n], nil
	default:
		return nil, fmt.Errorf("shard: unknown record compression flag %d", buf[0])
	}
}
