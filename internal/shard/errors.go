package shard

import "errors"

// Operational outcomes (spec §4.4 "Failure semantics"): ordinary results,
// compared with errors.Is, never surfaced beyond what a caller needs to
// react to.
var (
	ErrNotFound   = errors.New("shard: not found")
	ErrWrongArity = errors.New("shard: attribute count mismatches shard schema")
)

// Internal signals from the leaf structures to the container; the
// container escalates these into split/clean work and a caller should
// never observe them directly.
var (
	errDataFull   = errors.New("shard: log data full")
	errSearchFull = errors.New("shard: search tree full")
)

// Fatal errors: once observed, the shard latches and refuses subsequent
// operations (spec §4.4 "Failure semantics").
var (
	ErrSyncFailed  = errors.New("shard: sync failed")
	ErrDropFailed  = errors.New("shard: drop failed")
	ErrSplitFailed = errors.New("shard: split failed")
	ErrOpenFail    = errors.New("shard: open failed")
	ErrCorrupt     = errors.New("shard: corrupt")
)
