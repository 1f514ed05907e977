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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// LocalBackend stores segments as plain files <dir>/<prefix>.<segno> and
// the state file as <dir>/<prefix>.state, the on-disk layout spec §6
// mandates, generalizing storage/persistence-files.go's FileStorage.
type LocalBackend struct {
	dir    string
	prefix string

	watcher     *fsnotify.Watcher
	watchOnce   sync.Once
	tamperSeen  atomic.Bool
	tamperEvent atomic.Pointer[string]
}

// NewLocalBackend opens (creating if necessary) dir as the home for one
// shard's segments and watches it with fsnotify, recording files of this
// shard that are removed, written or renamed out of band (an operator, a
// misbehaving replication tool) so that Tampered can report them.
func NewLocalBackend(dir, prefix string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("persist: mkdir %s: %w", dir, err)
	}
	b := &LocalBackend{dir: dir, prefix: prefix}
	w, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := w.Add(dir); werr == nil {
			b.watcher = w
			go b.watchLoop()
		} else {
			w.Close()
		}
	}
	return b, nil
}

func (b *LocalBackend) watchLoop() {
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(ev.Name)
			if !strings.HasPrefix(base, b.prefix+".") {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Write|fsnotify.Rename) != 0 {
				msg := ev.String()
				b.tamperEvent.Store(&msg)
				b.tamperSeen.Store(true)
			}
		case _, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Tampered reports whether an external change to this shard's directory
// was observed since open, and a description of the most recent one seen.
// It only reports what the watcher recorded: no other package, the
// segmented log included, calls it, so an observed change does not by
// itself fail any read or write.
func (b *LocalBackend) Tampered() (bool, string) {
	if !b.tamperSeen.Load() {
		return false, ""
	}
	if p := b.tamperEvent.Load(); p != nil {
		return true, *p
	}
	return true, ""
}

func (b *LocalBackend) segmentPath(segno uint64) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s.%d", b.prefix, segno))
}

func (b *LocalBackend) statePath() string {
	return filepath.Join(b.dir, b.prefix+".state")
}

func (b *LocalBackend) OpenSegment(segno uint64) (RandomAccessFile, error) {
	f, err := os.OpenFile(b.segmentPath(segno), os.O_RDWR, 0640)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (b *LocalBackend) CreateSegment(segno uint64, size int64) (RandomAccessFile, error) {
	f, err := os.OpenFile(b.segmentPath(segno), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (b *LocalBackend) RemoveSegment(segno uint64) error {
	return os.Remove(b.segmentPath(segno))
}

func (b *LocalBackend) ListSegments() ([]uint64, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var segs []uint64
	pfx := b.prefix + "."
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, pfx) {
			continue
		}
		rest := name[len(pfx):]
		if rest == "state" {
			continue
		}
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			continue // not a segment file, e.g. schema.json-style sibling
		}
		segs = append(segs, n)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	return segs, nil
}

func (b *LocalBackend) ReadState() ([]byte, error) {
	data, err := os.ReadFile(b.statePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (b *LocalBackend) WriteState(data []byte) error {
	tmp := b.statePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, b.statePath())
}

func (b *LocalBackend) Close() error {
	if b.watcher != nil {
		return b.watcher.Close()
	}
	return nil
}
