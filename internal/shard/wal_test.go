package shard

import "testing"

func TestWALPushPopFIFO(t *testing.T) {
	w := newWAL()
	w.Push(&walEntry{Key: []byte("a")})
	w.Push(&walEntry{Key: []byte("b")})
	w.Push(&walEntry{Key: []byte("c")})

	for _, want := range []string{"a", "b", "c"} {
		e, ok := w.Pop()
		if !ok {
			t.Fatalf("Pop() ok=false, want entry %q", want)
		}
		if string(e.Key) != want {
			t.Fatalf("Pop() = %q, want %q", e.Key, want)
		}
	}
	if _, ok := w.Pop(); ok {
		t.Fatal("Pop() on empty wal reported ok=true")
	}
}

func TestWALSnapshotIsNonDestructive(t *testing.T) {
	w := newWAL()
	w.Push(&walEntry{Key: []byte("a")})
	w.Push(&walEntry{Key: []byte("b")})

	snap := w.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() = %d entries, want 2", len(snap))
	}
	// a second snapshot still sees both: Snapshot must not dequeue.
	snap2 := w.Snapshot()
	if len(snap2) != 2 {
		t.Fatalf("second Snapshot() = %d entries, want 2", len(snap2))
	}
	e, ok := w.Pop()
	if !ok || string(e.Key) != "a" {
		t.Fatalf("Pop() after Snapshot = %+v, %v, want \"a\", true", e, ok)
	}
}

func TestWALPushAssignsIncreasingSeqGen(t *testing.T) {
	w := newWAL()
	s1 := w.Push(&walEntry{Key: []byte("a")})
	s2 := w.Push(&walEntry{Key: []byte("b")})
	if s2 <= s1 {
		t.Fatalf("seqGen not increasing: %d, %d", s1, s2)
	}
}
