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

package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// QuiesceBundle is a small named-file container (state file + a manifest of
// rewritten segment files) compressed with xz for an offline/cold snapshot
// (spec §4.4 "quiesce"). xz trades encode speed for ratio, which is the
// right tradeoff for a bundle written once at shutdown/snapshot time and
// read rarely, unlike internal/shard's per-record lz4 compression
// (record.go), which runs on every Append and needs the opposite tradeoff.
type QuiesceBundle struct {
	Files map[string][]byte
}

// EncodeQuiesceBundle serializes and xz-compresses a bundle: a 4-byte file
// count, then per file a 2-byte name length + name + 8-byte content length
// + content, all big-endian, fed through an xz writer.
func EncodeQuiesceBundle(b QuiesceBundle) ([]byte, error) {
	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.BigEndian, uint32(len(b.Files))); err != nil {
		return nil, err
	}
	// deterministic order for reproducible bundles
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		names = append(names, name)
	}
	sortStrings(names)
	for _, name := range names {
		content := b.Files[name]
		if len(name) > 1<<16-1 {
			return nil, fmt.Errorf("persist: quiesce bundle entry name too long: %s", name)
		}
		binary.Write(&raw, binary.BigEndian, uint16(len(name)))
		raw.WriteString(name)
		binary.Write(&raw, binary.BigEndian, uint64(len(content)))
		raw.Write(content)
	}

	var out bytes.Buffer
	w, err := xz.NewWriter(&out)
	if err != nil {
		return nil, fmt.Errorf("persist: xz writer: %w", err)
	}
	if _, err := w.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeQuiesceBundle reverses EncodeQuiesceBundle.
func DecodeQuiesceBundle(data []byte) (QuiesceBundle, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return QuiesceBundle{}, fmt.Errorf("persist: xz reader: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return QuiesceBundle{}, err
	}
	buf := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
		return QuiesceBundle{}, err
	}
	files := make(map[string][]byte, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(buf, binary.BigEndian, &nameLen); err != nil {
			return QuiesceBundle{}, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(buf, name); err != nil {
			return QuiesceBundle{}, err
		}
		var contentLen uint64
		if err := binary.Read(buf, binary.BigEndian, &contentLen); err != nil {
			return QuiesceBundle{}, err
		}
		content := make([]byte, contentLen)
		if _, err := io.ReadFull(buf, content); err != nil {
			return QuiesceBundle{}, err
		}
		files[string(name)] = content
	}
	return QuiesceBundle{Files: files}, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
