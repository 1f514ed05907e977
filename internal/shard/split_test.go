package shard

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/launix-de/shardkv/internal/coord"
	"github.com/launix-de/shardkv/internal/hashing"
	"github.com/launix-de/shardkv/internal/persist"
	"github.com/launix-de/shardkv/internal/segmentlog"
)

func TestLowestUnsetBit(t *testing.T) {
	cases := []struct {
		mask uint64
		want uint64
	}{
		{0, 1},
		{1, 2},
		{3, 4},
		{0b101, 2},
	}
	for _, c := range cases {
		if got := lowestUnsetBit(c.mask); got != c.want {
			t.Fatalf("lowestUnsetBit(%b) = %b, want %b", c.mask, got, c.want)
		}
	}
}

// fixedHasher maps every key to a fully specified coordinate built from its
// FNV fingerprint in all three dimensions, giving Split deterministic
// successor assignment instead of FNVHasher's always-coord.Full behavior
// (which can't exercise routing at all).
type fixedHasher struct{}

func (fixedHasher) HashKey(key []byte) (uint64, coord.Coordinate) {
	h := hashing.FNVHasher{}
	fp, _ := h.HashKey(key)
	// a real Hasher pins every dimension fully for a single key (spec §6);
	// reusing fp's bits across all three dimensions is enough to exercise
	// Split's routing without a real hyperspace-hashing collaborator.
	return fp, coord.Coordinate{
		PrimaryMask: ^uint64(0), PrimaryHash: fp,
		SecondaryLowerMask: ^uint64(0), SecondaryLowerHash: fp,
		SecondaryUpperMask: ^uint64(0), SecondaryUpperHash: fp,
	}
}
func (f fixedHasher) HashAttributes(value [][]byte) []uint64 {
	return hashing.FNVHasher{}.HashAttributes(value)
}
func (f fixedHasher) HashPredicate(p hashing.Predicate) (coord.Coordinate, []hashing.AttrConstraint) {
	return coord.Full, nil
}

func TestSplitRoutesKeysToCorrectSuccessor(t *testing.T) {
	b, err := persist.NewLocalBackend(t.TempDir(), "parent")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	log, err := segmentlog.Open(b, segmentlog.Options{BlockSize: 1024, DataBlocksPerSegment: 4})
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions(2)
	opts.Log = segmentlog.Options{BlockSize: 1024, DataBlocksPerSegment: 4}
	s := Open(coord.Full, fixedHasher{}, log, opts)

	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		if err := s.Put(key, [][]byte{[]byte("v"), []byte("v")}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(100, nil); err != nil {
		t.Fatal(err)
	}

	n := 0
	newShard := func(c coord.Coordinate) (*Shard, error) {
		n++
		sb, err := persist.NewLocalBackend(t.TempDir(), fmt.Sprintf("child%d", n))
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { sb.Close() })
		slog, err := segmentlog.Open(sb, opts.Log)
		if err != nil {
			return nil, err
		}
		return Open(c, fixedHasher{}, slog, opts), nil
	}

	successors, err := s.Split(newShard)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		var found int
		var v [][]byte
		for _, succ := range successors {
			got, err := succ.Get(key)
			if err == nil {
				found++
				v = got
			} else if err != ErrNotFound {
				t.Fatal(err)
			}
		}
		if found != 1 {
			t.Fatalf("key %d found in %d successors, want exactly 1", i, found)
		}
		if !bytes.Equal(v[0], []byte("v")) {
			t.Fatalf("key %d value = %v, want [v v]", i, v)
		}
	}
}
