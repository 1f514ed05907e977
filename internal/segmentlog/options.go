package segmentlog

import "github.com/docker/go-units"

// Options configures a Log the way storage/settings.go's SettingsT
// configures a memcp table, but scoped per-instance instead of living in a
// package global: a process may open more than one log (one per shard), and
// each can be sized independently for testing (spec §8's segment-boundary
// scenario needs a small segment size to exercise the boundary cheaply).
type Options struct {
	// BlockSize is the fixed I/O unit; spec default 16 KiB. Entries are
	// packed back to back inside a block with no alignment padding, so
	// record bodies are not 8-byte aligned whatever BlockSize is.
	BlockSize int

	// DataBlocksPerSegment caps how many data blocks live in one segment
	// file, in addition to the structural cap implied by BlockSize (the
	// index block can only address blocksPerSegment(BlockSize) data
	// blocks). Zero means "use the structural maximum", which is what
	// production sizing to ~spec's 256 MiB segments wants; tests lower it
	// to force frequent segment rollover.
	DataBlocksPerSegment int
}

// DefaultOptions returns the spec's production sizing: 16 KiB blocks, as
// many data blocks per segment as the index block can address.
func DefaultOptions() Options {
	return Options{BlockSize: 16384}
}

// ParseBlockSize parses a human-readable size ("16KiB") the way an operator
// would configure block/segment sizing, using the same units library the
// teacher's config layer is generalized to use.
func ParseBlockSize(s string) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (o Options) normalize() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = 16384
	}
	max := blocksPerSegment(o.BlockSize)
	if o.DataBlocksPerSegment <= 0 || o.DataBlocksPerSegment > max {
		o.DataBlocksPerSegment = max
	}
	return o
}
