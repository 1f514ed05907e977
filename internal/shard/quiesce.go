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
	"fmt"

	"github.com/google/uuid"
)

// QuiesceRecord is one shard's entry in a quiesce state bundle: its region
// coordinate and the log offset (highest id) it had reached at quiesce
// time (spec §4.4 "Quiesce").
type QuiesceRecord struct {
	Coord  string // coord.Coordinate.String(), informational/debug only
	Offset uint64
}

// Quiesce drains the WAL, fsyncs the log, and returns this shard's entry
// for the caller's state-file bundle (spec §4.4 "Quiesce"). stateID
// defaults to a fresh UUID when empty, the way an operator taking an
// ad-hoc snapshot wouldn't want to invent one themselves.
func (s *Shard) Quiesce(stateID string) (string, QuiesceRecord, error) {
	if stateID == "" {
		stateID = uuid.NewString()
	}
	// Each Flush call below takes mutatorMu itself for its own duration;
	// Quiesce does not hold it across the loop so it composes with Flush
	// instead of self-deadlocking.
	for len(s.w.Snapshot()) > 0 {
		if err := s.Flush(1<<20, nil); err != nil {
			return stateID, QuiesceRecord{}, err
		}
	}

	rec := QuiesceRecord{Coord: fmt.Sprintf("%s", s.Coord), Offset: s.log.HighestID()}
	return stateID, rec, nil
}
