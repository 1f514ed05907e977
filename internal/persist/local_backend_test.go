package persist

import (
	"bytes"
	"testing"
)

func TestLocalBackendSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalBackend(dir, "shard0")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	f, err := b.CreateSegment(0, 4096)
	if err != nil {
		t.Fatal(err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 100)
	if _, err := f.WriteAt(payload, 10); err != nil {
		t.Fatal(err)
	}
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	f2, err := b.OpenSegment(0)
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()
	buf := make([]byte, 100)
	if _, err := f2.ReadAt(buf, 10); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatal("read back bytes differ from what was written")
	}

	segs, err := b.ListSegments()
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0] != 0 {
		t.Fatalf("ListSegments() = %v, want [0]", segs)
	}
}

func TestLocalBackendState(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalBackend(dir, "shard0")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if data, err := b.ReadState(); err != nil || data != nil {
		t.Fatalf("ReadState() on fresh dir = %v, %v; want nil, nil", data, err)
	}
	if err := b.WriteState([]byte("id 1\n")); err != nil {
		t.Fatal(err)
	}
	data, err := b.ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "id 1\n" {
		t.Fatalf("ReadState() = %q", data)
	}
}

func TestQuiesceBundleRoundTrip(t *testing.T) {
	bundle := QuiesceBundle{Files: map[string][]byte{
		"state":   []byte("version 1\nstate_id abc\n"),
		"segment": bytes.Repeat([]byte{0x42}, 1024),
	}}
	data, err := EncodeQuiesceBundle(bundle)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeQuiesceBundle(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Files["state"], bundle.Files["state"]) {
		t.Fatal("state file mismatch after round trip")
	}
	if !bytes.Equal(got.Files["segment"], bundle.Files["segment"]) {
		t.Fatal("segment file mismatch after round trip")
	}
}
