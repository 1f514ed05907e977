package segmentlog

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/launix-de/shardkv/internal/persist"
)

func newTestLog(t *testing.T, opts Options) (*Log, *persist.LocalBackend) {
	t.Helper()
	b, err := persist.NewLocalBackend(t.TempDir(), "shard0")
	if err != nil {
		t.Fatal(err)
	}
	l, err := Open(b, opts)
	if err != nil {
		t.Fatal(err)
	}
	return l, b
}

func TestAppendLookupRoundTrip(t *testing.T) {
	l, b := newTestLog(t, DefaultOptions())
	defer b.Close()

	id1, err := l.Append([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := l.Append([]byte("world"))
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id1+1 {
		t.Fatalf("ids not strictly increasing: %d, %d", id1, id2)
	}

	got1, err := l.Lookup(id1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got1, []byte("hello")) {
		t.Fatalf("Lookup(%d) = %q, want %q", id1, got1, "hello")
	}
	got2, err := l.Lookup(id2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, []byte("world")) {
		t.Fatalf("Lookup(%d) = %q, want %q", id2, got2, "world")
	}
}

func TestLookupNotFound(t *testing.T) {
	l, b := newTestLog(t, DefaultOptions())
	defer b.Close()

	if _, err := l.Lookup(999); err != ErrNotFound {
		t.Fatalf("Lookup(999) err = %v, want ErrNotFound", err)
	}
	if _, err := l.Lookup(0); err != ErrNotFound {
		t.Fatalf("Lookup(0) err = %v, want ErrNotFound", err)
	}
}

func TestRemoveThenLookup(t *testing.T) {
	l, b := newTestLog(t, DefaultOptions())
	defer b.Close()

	id, err := l.Append([]byte("to be removed"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Remove(id); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Lookup(id); err != ErrNotFound {
		t.Fatalf("Lookup after Remove = %v, want ErrNotFound", err)
	}
	if l.RemovedCount() != 1 {
		t.Fatalf("RemovedCount() = %d, want 1", l.RemovedCount())
	}
	// idempotent: removing again doesn't error or double count.
	if err := l.Remove(id); err != nil {
		t.Fatal(err)
	}
	if l.RemovedCount() != 1 {
		t.Fatalf("RemovedCount() after second Remove = %d, want 1", l.RemovedCount())
	}
}

func TestMaxWriteSizeBoundary(t *testing.T) {
	l, b := newTestLog(t, Options{BlockSize: 1024, DataBlocksPerSegment: 4})
	defer b.Close()

	max := l.MaxWriteSize()
	data := bytes.Repeat([]byte{0x7}, max)
	id, err := l.Append(data)
	if err != nil {
		t.Fatalf("Append at MaxWriteSize failed: %v", err)
	}
	got, err := l.Lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("round trip at MaxWriteSize byte boundary corrupted data")
	}

	if _, err := l.Append(bytes.Repeat([]byte{0x7}, max+1)); err != ErrTooBig {
		t.Fatalf("Append(max+1) err = %v, want ErrTooBig", err)
	}
}

// TestSegmentBoundaryCrossing forces many small segments (few data blocks
// each) so that records span segment rollovers, exercising spec §4.1's
// "instantiate the next segment, pre-fill its index block with
// base_id = id - 1" path.
func TestSegmentBoundaryCrossing(t *testing.T) {
	l, b := newTestLog(t, Options{BlockSize: 1024, DataBlocksPerSegment: 2})
	defer b.Close()

	const n = 200
	ids := make([]uint64, n)
	payloads := make([][]byte, n)
	for i := 0; i < n; i++ {
		payloads[i] = []byte(fmt.Sprintf("record-%04d-payload", i))
		id, err := l.Append(payloads[i])
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		ids[i] = id
	}
	for i := 0; i < n; i++ {
		got, err := l.Lookup(ids[i])
		if err != nil {
			t.Fatalf("Lookup(%d): %v", ids[i], err)
		}
		if !bytes.Equal(got, payloads[i]) {
			t.Fatalf("Lookup(%d) = %q, want %q", ids[i], got, payloads[i])
		}
	}
}

// TestCloseOpenRoundTrip verifies a log reopened after Close preserves
// every previously-appended record and its id sequence (spec §4.1
// "Open/close").
func TestCloseOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := persist.NewLocalBackend(dir, "shard0")
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{BlockSize: 1024, DataBlocksPerSegment: 2}
	l, err := Open(b, opts)
	if err != nil {
		t.Fatal(err)
	}

	const n = 50
	ids := make([]uint64, n)
	payloads := make([][]byte, n)
	for i := 0; i < n; i++ {
		payloads[i] = []byte(fmt.Sprintf("persisted-record-%d", i))
		id, err := l.Append(payloads[i])
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		ids[i] = id
	}
	if err := l.Remove(ids[5]); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := persist.NewLocalBackend(dir, "shard0")
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	l2, err := Open(b2, opts)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < n; i++ {
		got, err := l2.Lookup(ids[i])
		if i == 5 {
			if err != ErrNotFound {
				t.Fatalf("Lookup(%d) after reopen = %v, want ErrNotFound (removed)", ids[i], err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Lookup(%d) after reopen: %v", ids[i], err)
		}
		if !bytes.Equal(got, payloads[i]) {
			t.Fatalf("Lookup(%d) after reopen = %q, want %q", ids[i], got, payloads[i])
		}
	}
	if l2.RemovedCount() != 1 {
		t.Fatalf("RemovedCount() after reopen = %d, want 1", l2.RemovedCount())
	}

	// a fresh Append after reopen must continue the id sequence, not
	// restart it.
	newID, err := l2.Append([]byte("post-reopen"))
	if err != nil {
		t.Fatal(err)
	}
	if newID <= ids[n-1] {
		t.Fatalf("post-reopen id %d did not continue past %d", newID, ids[n-1])
	}
}

func TestIteratorSeesAllEntriesIncludingRemoved(t *testing.T) {
	l, b := newTestLog(t, Options{BlockSize: 1024, DataBlocksPerSegment: 2})
	defer b.Close()

	var ids []uint64
	for i := 0; i < 20; i++ {
		id, err := l.Append([]byte(fmt.Sprintf("e%d", i)))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if err := l.Remove(ids[3]); err != nil {
		t.Fatal(err)
	}

	seen := map[uint64]bool{}
	removedSeen := map[uint64]bool{}
	it := l.NewIterator()
	for it.Next() {
		e := it.Entry()
		seen[e.ID] = true
		if e.Removed {
			removedSeen[e.ID] = true
		}
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("iterator did not surface id %d", id)
		}
	}
	if !removedSeen[ids[3]] {
		t.Fatalf("iterator did not mark id %d removed", ids[3])
	}
}
