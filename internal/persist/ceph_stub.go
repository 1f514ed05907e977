//go:build !ceph

/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

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

// CephConfig mirrors the real type's fields so callers can build one
// without a build tag; NewCephBackend panics unless built with
// -tags=ceph.
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephBackend is a stub when Ceph support is not compiled in.
type CephBackend struct{}

func NewCephBackend(cfg CephConfig, shard string) *CephBackend {
	panic("persist: Ceph support not compiled in. Build with: go build -tags=ceph")
}

func (b *CephBackend) OpenSegment(segno uint64) (RandomAccessFile, error)   { panic("ceph not compiled in") }
func (b *CephBackend) CreateSegment(segno uint64, size int64) (RandomAccessFile, error) {
	panic("ceph not compiled in")
}
func (b *CephBackend) RemoveSegment(segno uint64) error  { panic("ceph not compiled in") }
func (b *CephBackend) ListSegments() ([]uint64, error)   { panic("ceph not compiled in") }
func (b *CephBackend) ReadState() ([]byte, error)        { panic("ceph not compiled in") }
func (b *CephBackend) WriteState(data []byte) error      { panic("ceph not compiled in") }
func (b *CephBackend) Close() error                      { return nil }
