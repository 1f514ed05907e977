package shard

import (
	"bytes"
	"testing"

	"github.com/launix-de/shardkv/internal/coord"
	"github.com/launix-de/shardkv/internal/hashing"
	"github.com/launix-de/shardkv/internal/persist"
	"github.com/launix-de/shardkv/internal/segmentlog"
)

func testOptions() Options {
	o := DefaultOptions(2)
	o.Log = segmentlog.Options{BlockSize: 1024, DataBlocksPerSegment: 4}
	return o
}

func openTestShard(t *testing.T) *Shard {
	t.Helper()
	b, err := persist.NewLocalBackend(t.TempDir(), "shard0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	log, err := segmentlog.Open(b, testOptions().Log)
	if err != nil {
		t.Fatal(err)
	}
	return Open(coord.Full, hashing.FNVHasher{}, log, testOptions())
}

func TestPutFlushGet(t *testing.T) {
	s := openTestShard(t)

	if err := s.Put([]byte("k1"), [][]byte{[]byte("a"), []byte("b")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(10, nil); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get([]byte("k1"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v[0], []byte("a")) || !bytes.Equal(v[1], []byte("b")) {
		t.Fatalf("Get(k1) = %v", v)
	}
}

func TestGetSeesUnflushedWrite(t *testing.T) {
	s := openTestShard(t)
	if err := s.Put([]byte("k2"), [][]byte{[]byte("x"), []byte("y")}); err != nil {
		t.Fatal(err)
	}
	// not flushed yet: Get must still see it via the WAL overlay.
	v, err := s.Get([]byte("k2"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v[0], []byte("x")) {
		t.Fatalf("Get(k2) before flush = %v", v)
	}
}

func TestDelRemovesValue(t *testing.T) {
	s := openTestShard(t)
	if err := s.Put([]byte("k3"), [][]byte{[]byte("1"), []byte("2")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(10, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Del([]byte("k3")); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(10, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get([]byte("k3")); err != ErrNotFound {
		t.Fatalf("Get after Del = %v, want ErrNotFound", err)
	}
}

func TestWrongArityRejected(t *testing.T) {
	s := openTestShard(t)
	if err := s.Put([]byte("k"), [][]byte{[]byte("only-one")}); err != ErrWrongArity {
		t.Fatalf("Put with wrong arity = %v, want ErrWrongArity", err)
	}
}

func TestOverwriteKeepsLatestVersion(t *testing.T) {
	s := openTestShard(t)
	if err := s.Put([]byte("k4"), [][]byte{[]byte("v1"), []byte("v1")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(10, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Put([]byte("k4"), [][]byte{[]byte("v2"), []byte("v2")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(10, nil); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get([]byte("k4"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v[0], []byte("v2")) {
		t.Fatalf("Get(k4) = %v, want latest version v2", v)
	}
}

type keyEqualsPredicate struct {
	key []byte
}

func (p keyEqualsPredicate) Verify(key []byte, value [][]byte) bool {
	return bytes.Equal(key, p.key)
}

func TestSearchFindsFlushedAndUnflushedMatches(t *testing.T) {
	s := openTestShard(t)
	if err := s.Put([]byte("target"), [][]byte{[]byte("x"), []byte("y")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(10, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Put([]byte("unflushed-target"), [][]byte{[]byte("p"), []byte("q")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put([]byte("other"), [][]byte{[]byte("z"), []byte("z")}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Search(keyEqualsPredicate{key: []byte("target")})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || !bytes.Equal(res[0].Key, []byte("target")) {
		t.Fatalf("Search(target) = %+v", res)
	}

	res2, err := s.Search(keyEqualsPredicate{key: []byte("unflushed-target")})
	if err != nil {
		t.Fatal(err)
	}
	if len(res2) != 1 {
		t.Fatalf("Search(unflushed-target) = %+v, want 1 result from WAL overlay", res2)
	}
}

func TestRebuildAfterReopen(t *testing.T) {
	dir := t.TempDir()
	b, err := persist.NewLocalBackend(dir, "shard0")
	if err != nil {
		t.Fatal(err)
	}
	log, err := segmentlog.Open(b, testOptions().Log)
	if err != nil {
		t.Fatal(err)
	}
	s := Open(coord.Full, hashing.FNVHasher{}, log, testOptions())
	if err := s.Put([]byte("durable"), [][]byte{[]byte("1"), []byte("2")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(10, nil); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
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
	log2, err := segmentlog.Open(b2, testOptions().Log)
	if err != nil {
		t.Fatal(err)
	}
	s2 := Open(coord.Full, hashing.FNVHasher{}, log2, testOptions())
	if err := s2.Rebuild(); err != nil {
		t.Fatal(err)
	}
	v, err := s2.Get([]byte("durable"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v[0], []byte("1")) {
		t.Fatalf("Get(durable) after rebuild = %v", v)
	}
}

func TestFsckCleanShardReportsNoInconsistency(t *testing.T) {
	s := openTestShard(t)
	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		if err := s.Put(key, [][]byte{[]byte("a"), []byte("b")}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(100, nil); err != nil {
		t.Fatal(err)
	}
	bad, err := s.Fsck()
	if err != nil {
		t.Fatal(err)
	}
	if bad != nil {
		t.Fatalf("Fsck() on a clean shard = %v, want nil", bad)
	}
}

func TestQuiesceDrainsWAL(t *testing.T) {
	s := openTestShard(t)
	if err := s.Put([]byte("qk"), [][]byte{[]byte("1"), []byte("2")}); err != nil {
		t.Fatal(err)
	}
	_, rec, err := s.Quiesce("")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Offset == 0 {
		t.Fatal("Quiesce returned a zero offset after a pending write")
	}
	v, err := s.Get([]byte("qk"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v[0], []byte("1")) {
		t.Fatalf("Get(qk) after Quiesce = %v", v)
	}
}

func TestStaleRatioAndShouldClean(t *testing.T) {
	s := openTestShard(t)
	for i := 0; i < 10; i++ {
		if err := s.Put([]byte{byte(i)}, [][]byte{[]byte("a"), []byte("b")}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(100, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := s.Del([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(100, nil); err != nil {
		t.Fatal(err)
	}
	if !s.ShouldClean() {
		t.Fatalf("ShouldClean() = false, staleRatio=%f, want true", s.StaleRatio())
	}
}
