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

func TestCleanPreservesLiveDataAndDropsRemoved(t *testing.T) {
	b, err := persist.NewLocalBackend(t.TempDir(), "shard0")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	logOpts := segmentlog.Options{BlockSize: 1024, DataBlocksPerSegment: 4}
	log, err := segmentlog.Open(b, logOpts)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions(2)
	opts.Log = logOpts
	s := Open(coord.Full, hashing.FNVHasher{}, log, opts)

	for i := 0; i < 10; i++ {
		key := []byte{byte(i)}
		if err := s.Put(key, [][]byte{[]byte("v"), []byte("v")}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(100, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Del([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(100, nil); err != nil {
		t.Fatal(err)
	}

	n := 0
	newLog := func() (*segmentlog.Log, error) {
		n++
		fb, err := persist.NewLocalBackend(t.TempDir(), fmt.Sprintf("clean%d", n))
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { fb.Close() })
		return segmentlog.Open(fb, logOpts)
	}

	if err := s.Clean(newLog); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if _, err := s.Get([]byte{byte(i)}); err != ErrNotFound {
			t.Fatalf("Get(%d) after Clean = %v, want ErrNotFound (was removed)", i, err)
		}
	}
	for i := 5; i < 10; i++ {
		v, err := s.Get([]byte{byte(i)})
		if err != nil {
			t.Fatalf("Get(%d) after Clean: %v", i, err)
		}
		if !bytes.Equal(v[0], []byte("v")) {
			t.Fatalf("Get(%d) after Clean = %v, want [v v]", i, v)
		}
	}
	if s.StaleRatio() != 0 {
		t.Fatalf("StaleRatio() after Clean = %f, want 0", s.StaleRatio())
	}
}
