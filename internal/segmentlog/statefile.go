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
	"fmt"
	"strconv"
	"strings"
)

// state is the decoded form of the <prefix>.state side file (spec §6):
// text, line-oriented, ASCII.
type state struct {
	id       uint64
	removed  uint64
	segments []segEntry
	block    uint64
	offset   uint64
}

type segEntry struct {
	segno      uint64
	lowerBound uint64
}

func encodeState(s state) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "id %d\n", s.id)
	fmt.Fprintf(&b, "removed %d\n", s.removed)
	for _, e := range s.segments {
		fmt.Fprintf(&b, "segment %d %d\n", e.segno, e.lowerBound)
	}
	fmt.Fprintf(&b, "block %d\n", s.block)
	fmt.Fprintf(&b, "offset %d\n", s.offset)
	return []byte(b.String())
}

// decodeState parses the state file. Any malformed or trailing content
// results in ErrCorruptState (spec §6 "Presence of any additional trailing
// byte -> CorruptState").
func decodeState(data []byte) (state, error) {
	var s state
	text := string(data)
	if text == "" {
		return s, nil // missing/empty state file: bootstrap as empty (spec §4.1)
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] != "" {
		return state{}, ErrCorruptState // no trailing newline on the last line
	}
	lines = lines[:len(lines)-1]

	if len(lines) < 4 {
		return state{}, ErrCorruptState
	}

	var err error
	s.id, err = parseLine(lines[0], "id")
	if err != nil {
		return state{}, ErrCorruptState
	}
	s.removed, err = parseLine(lines[1], "removed")
	if err != nil {
		return state{}, ErrCorruptState
	}

	idx := 2
	for idx < len(lines)-2 {
		fields := strings.Fields(lines[idx])
		if len(fields) != 3 || fields[0] != "segment" {
			break
		}
		segno, err1 := strconv.ParseUint(fields[1], 10, 64)
		lb, err2 := strconv.ParseUint(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			return state{}, ErrCorruptState
		}
		s.segments = append(s.segments, segEntry{segno: segno, lowerBound: lb})
		idx++
	}
	if len(s.segments) == 0 {
		return state{}, ErrCorruptState
	}
	if idx != len(lines)-2 {
		return state{}, ErrCorruptState
	}
	s.block, err = parseLine(lines[idx], "block")
	if err != nil {
		return state{}, ErrCorruptState
	}
	s.offset, err = parseLine(lines[idx+1], "offset")
	if err != nil {
		return state{}, ErrCorruptState
	}
	return s, nil
}

func parseLine(line, key string) (uint64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != key {
		return 0, fmt.Errorf("expected %q line, got %q", key, line)
	}
	return strconv.ParseUint(fields[1], 10, 64)
}
