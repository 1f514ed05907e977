package keyspace

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/launix-de/shardkv/internal/coord"
	"github.com/launix-de/shardkv/internal/hashing"
	"github.com/launix-de/shardkv/internal/persist"
)

func backendFactory(t *testing.T, dir string) func(uint64) (persist.Backend, error) {
	return func(id uint64) (persist.Backend, error) {
		b, err := persist.NewLocalBackend(dir, fmt.Sprintf("shard%d", id))
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { b.Close() })
		return b, nil
	}
}

func openTestKeyspace(t *testing.T) *Keyspace {
	opts := DefaultOptions(1, hashing.FNVHasher{}, backendFactory(t, t.TempDir()))
	ks, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	return ks
}

func TestOpenStartsWithOneShard(t *testing.T) {
	ks := openTestKeyspace(t)
	if got := ks.ShardCount(); got != 1 {
		t.Fatalf("ShardCount() = %d, want 1", got)
	}
}

func TestPutGetDelRoundTrip(t *testing.T) {
	ks := openTestKeyspace(t)

	if err := ks.Put([]byte("a"), [][]byte{[]byte("1")}); err != nil {
		t.Fatal(err)
	}
	if err := ks.MaintainOnce(1024); err != nil {
		t.Fatal(err)
	}
	v, err := ks.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v[0], []byte("1")) {
		t.Fatalf("Get = %v, want [1]", v)
	}

	if err := ks.Del([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := ks.MaintainOnce(1024); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Get([]byte("a")); err == nil {
		t.Fatal("Get after Del succeeded, want an error")
	}
}

func TestGetSeesUnflushedPut(t *testing.T) {
	ks := openTestKeyspace(t)
	if err := ks.Put([]byte("a"), [][]byte{[]byte("1")}); err != nil {
		t.Fatal(err)
	}
	v, err := ks.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v[0], []byte("1")) {
		t.Fatalf("Get = %v, want [1]", v)
	}
}

type equalsPredicate struct{ key string }

func (p equalsPredicate) Verify(key []byte, value [][]byte) bool { return string(key) == p.key }

func TestSearchFindsMatch(t *testing.T) {
	ks := openTestKeyspace(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := ks.Put([]byte(k), [][]byte{[]byte(k)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := ks.MaintainOnce(1024); err != nil {
		t.Fatal(err)
	}

	res, err := ks.Search(equalsPredicate{key: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || string(res[0].Key) != "b" {
		t.Fatalf("Search = %+v, want exactly key \"b\"", res)
	}
}

func TestFsckAllOnCleanKeyspaceReportsNothing(t *testing.T) {
	ks := openTestKeyspace(t)
	if err := ks.Put([]byte("a"), [][]byte{[]byte("1")}); err != nil {
		t.Fatal(err)
	}
	if err := ks.MaintainOnce(1024); err != nil {
		t.Fatal(err)
	}
	results, err := ks.FsckAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("FsckAll() = %+v, want no inconsistencies", results)
	}
}

func TestQuiesceAllReturnsOneStateIDPerShard(t *testing.T) {
	ks := openTestKeyspace(t)
	states, err := ks.QuiesceAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != ks.ShardCount() {
		t.Fatalf("QuiesceAll() = %d entries, want %d", len(states), ks.ShardCount())
	}
}

// bucketHasher gives every key a fully specified coordinate built from its
// FNV fingerprint in all three dimensions, so after a Split each key is
// owned by exactly one successor: a deterministic, testable Split (real
// hyperspace hashing is out of scope per spec §6).
type bucketHasher struct{}

func (bucketHasher) HashKey(key []byte) (uint64, coord.Coordinate) {
	h := hashing.FNVHasher{}
	fp, _ := h.HashKey(key)
	return fp, coord.Coordinate{
		PrimaryMask: ^uint64(0), PrimaryHash: fp,
		SecondaryLowerMask: ^uint64(0), SecondaryLowerHash: fp,
		SecondaryUpperMask: ^uint64(0), SecondaryUpperHash: fp,
	}
}
func (bucketHasher) HashAttributes(value [][]byte) []uint64 {
	return hashing.FNVHasher{}.HashAttributes(value)
}
func (bucketHasher) HashPredicate(p hashing.Predicate) (coord.Coordinate, []hashing.AttrConstraint) {
	return coord.Full, nil
}

func TestMaintainOnceSplitsFullShard(t *testing.T) {
	opts := DefaultOptions(1, bucketHasher{}, backendFactory(t, t.TempDir()))
	opts.ShardOpts.ShardSizeLimit = 3
	ks, err := Open(opts)
	if err != nil {
		t.Fatal(err)
	}

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%d", i)
		if err := ks.Put([]byte(keys[i]), [][]byte{[]byte("v")}); err != nil {
			t.Fatal(err)
		}
	}
	if err := ks.MaintainOnce(1024); err != nil {
		t.Fatal(err)
	}

	if got := ks.ShardCount(); got != 4 {
		t.Fatalf("ShardCount() after split = %d, want 4", got)
	}
	for _, k := range keys {
		v, err := ks.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%q) after split: %v", k, err)
		}
		if !bytes.Equal(v[0], []byte("v")) {
			t.Fatalf("Get(%q) after split = %v, want [v]", k, v)
		}
	}
}
