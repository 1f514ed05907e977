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
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Stats is one point-in-time snapshot of a shard's operational state,
// surfaced over the stats websocket for an operator dashboard: WAL depth,
// highest log id, removed count and stale ratio. It carries no segment
// count.
type Stats struct {
	Coord       string  `json:"coord"`
	WALDepth    int     `json:"wal_depth"`
	HighestID   uint64  `json:"highest_id"`
	Removed     uint64  `json:"removed"`
	StaleRatio  float64 `json:"stale_ratio"`
	SegmentDone bool    `json:"-"`
}

// Snapshot reports the shard's current stats.
func (s *Shard) Snapshot() Stats {
	return Stats{
		Coord:      s.Coord.String(),
		WALDepth:   len(s.w.Snapshot()),
		HighestID:  s.log.HighestID(),
		Removed:    s.removed.Load(),
		StaleRatio: s.StaleRatio(),
	}
}

var statsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatsHandler upgrades to a websocket and pushes a JSON Stats frame every
// interval until a write to the client fails, letting a dashboard follow a
// shard without polling it with repeated HTTP requests.
func (s *Shard) StatsHandler(interval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := statsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			buf, err := json.Marshal(s.Snapshot())
			if err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		}
	}
}
