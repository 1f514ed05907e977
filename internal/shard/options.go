package shard

import (
	"github.com/docker/go-units"

	"github.com/launix-de/shardkv/internal/segmentlog"
)

// Options configures one shard container: its schema arity, its
// underlying log sizing, and the thresholds that trigger split/clean
// (spec §4.4 "Split"/"Clean"). Scoped per-instance rather than living in a
// package global, for the same reason segmentlog.Options is (see
// segmentlog.Options's doc comment).
type Options struct {
	// Attrs is the number of secondary attributes the search tree indexes.
	Attrs int

	// Log sizes this shard's append-only segmented log.
	Log segmentlog.Options

	// ShardSizeLimit bounds how many log ids one shard assigns, removed
	// records included (IsFull and ShouldClean compare it against the
	// log's HighestID), before it is considered full and a split is
	// triggered. Parsed from a
	// human string ("256MiB" scaled to an approximate record budget) when
	// set via ParseShardSizeLimit.
	ShardSizeLimit int

	// StaleRatioForClean is the fraction (0..1) of removed-vs-total
	// records that triggers a clean pass instead of a split (spec §4.4
	// "Clean ... stale-space ratio >= 30%").
	StaleRatioForClean float64

	// SparePoolCap is a size for a pool of pre-allocated spare shard files.
	// No code in this module reads it: Clean and the keyspace allocate each
	// fresh log on demand and keep no spare pool.
	SparePoolCap int
}

// DefaultOptions returns the default sizing: segmentlog.DefaultOptions for
// the log, a ShardSizeLimit of 1<<20 ids, a 30% stale-ratio clean
// threshold, and a SparePoolCap of 16.
func DefaultOptions(attrs int) Options {
	return Options{
		Attrs:              attrs,
		Log:                segmentlog.DefaultOptions(),
		ShardSizeLimit:      1 << 20,
		StaleRatioForClean: 0.30,
		SparePoolCap:       16,
	}
}

// ParseShardSizeLimit parses a human-readable byte budget ("256MiB") into
// an approximate record-count limit, assuming recordSizeHint bytes per
// record on average, the way an operator sizes a shard in bytes rather
// than record counts.
func ParseShardSizeLimit(s string, recordSizeHint int) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if recordSizeHint <= 0 {
		recordSizeHint = 256
	}
	return int(n) / recordSizeHint, nil
}
