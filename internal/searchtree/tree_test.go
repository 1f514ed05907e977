package searchtree

import "testing"

func collect(t *Tree, mask []*uint64, horizon uint64) []Entry {
	var out []Entry
	t.Iterate(mask, horizon, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

func TestInsertLookupBasic(t *testing.T) {
	tr := New(2)
	tr.Insert(1, []uint64{0x1, 0xA})
	tr.Insert(2, []uint64{0x2, 0xB})
	tr.Insert(3, []uint64{0x3, 0xC})

	got := collect(tr, make([]*uint64, 2), ^uint64(0))
	if len(got) != 3 {
		t.Fatalf("collect() = %d entries, want 3", len(got))
	}
	seen := map[uint64]bool{}
	for _, e := range got {
		seen[e.LogID] = true
	}
	for _, id := range []uint64{1, 2, 3} {
		if !seen[id] {
			t.Fatalf("missing log id %d", id)
		}
	}
}

func TestIterateWithMaskFiltersByHash(t *testing.T) {
	tr := New(1)
	tr.Insert(1, []uint64{0xAAAA})
	tr.Insert(2, []uint64{0xBBBB})
	tr.Insert(3, []uint64{0xAAAA})

	want := uint64(0xAAAA)
	mask := []*uint64{&want}
	got := collect(tr, mask, ^uint64(0))
	if len(got) != 2 {
		t.Fatalf("masked collect() = %d entries, want 2", len(got))
	}
	for _, e := range got {
		if e.Hashes[0] != want {
			t.Fatalf("got entry with hash %x, want %x", e.Hashes[0], want)
		}
	}
}

func TestRemoveTombstonesEntry(t *testing.T) {
	tr := New(1)
	tr.Insert(10, []uint64{0x42})
	tr.Insert(11, []uint64{0x42})

	if ok := tr.Remove(10, []uint64{0x42}, 99); !ok {
		t.Fatal("Remove reported not found for a live entry")
	}
	got := collect(tr, make([]*uint64, 1), ^uint64(0))
	if len(got) != 1 || got[0].LogID != 11 {
		t.Fatalf("after Remove, collect() = %+v, want only log id 11", got)
	}

	// removing again reports not found: the entry is already dead.
	if ok := tr.Remove(10, []uint64{0x42}, 100); ok {
		t.Fatal("Remove on an already-dead entry reported found")
	}
}

func TestIterateHorizonExcludesNewerEntries(t *testing.T) {
	tr := New(1)
	tr.Insert(1, []uint64{0x1})
	tr.Insert(2, []uint64{0x1})
	tr.Insert(3, []uint64{0x1})

	got := collect(tr, make([]*uint64, 1), 2)
	if len(got) != 2 {
		t.Fatalf("collect() with horizon=2 = %d entries, want 2", len(got))
	}
	for _, e := range got {
		if e.LogID > 2 {
			t.Fatalf("entry %d exceeds horizon 2", e.LogID)
		}
	}
}

// TestExpandOnLeafOverflow inserts far more entries than one leaf holds,
// all sharing the same hash so they keep landing in the same bucket at
// every level, forcing repeated leaf-to-internal expansion (and eventually
// a list-overflow conversion once digit bits run out, spec §4.3 "Insert"
// steps 3-4). Every entry must still be recoverable afterward.
func TestExpandOnLeafOverflow(t *testing.T) {
	tr := New(1)
	const n = leafCap*3 + 5
	for i := uint64(1); i <= n; i++ {
		tr.Insert(i, []uint64{0x5555555555555555})
	}

	got := collect(tr, make([]*uint64, 1), ^uint64(0))
	if len(got) != n {
		t.Fatalf("collect() after overflow = %d entries, want %d", len(got), n)
	}
	seen := map[uint64]bool{}
	for _, e := range got {
		seen[e.LogID] = true
	}
	for i := uint64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing log id %d after overflow growth", i)
		}
	}
}

func TestCompactReclaimsDeadSlots(t *testing.T) {
	tr := New(1)
	ids := make([]uint64, leafCap)
	for i := range ids {
		ids[i] = uint64(i + 1)
		tr.Insert(ids[i], []uint64{uint64(i)})
	}
	// tombstone every even entry to open up dead slots for compaction.
	for i := 0; i < len(ids); i += 2 {
		if !tr.Remove(ids[i], []uint64{uint64(i)}, 1000+ids[i]) {
			t.Fatalf("Remove(%d) reported not found", ids[i])
		}
	}
	// this insert must compact rather than expand/convert, since half the
	// leaf's slots are now dead.
	tr.Insert(9999, []uint64{0x1})

	got := collect(tr, make([]*uint64, 1), ^uint64(0))
	found9999 := false
	for _, e := range got {
		if e.LogID == 9999 {
			found9999 = true
		}
		if e.LogID%2 == 1 && e.LogID != 9999 {
			continue
		}
	}
	if !found9999 {
		t.Fatal("compacted insert's new entry not found")
	}
}
