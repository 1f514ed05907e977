package segmentlog

import "errors"

// Operational errors (spec §4.1 "Failure modes"). These are ordinary
// results, not panics: callers compare with errors.Is.
var (
	ErrNotFound  = errors.New("segmentlog: not found")
	ErrTooBig    = errors.New("segmentlog: record exceeds MaxWriteSize")
	ErrClosed    = errors.New("segmentlog: log is closed")
	ErrOpenFail  = errors.New("segmentlog: failed to open segment")
	ErrReadFail  = errors.New("segmentlog: failed to read segment")
	ErrWriteFail = errors.New("segmentlog: failed to write segment")
	ErrSyncFail  = errors.New("segmentlog: failed to sync segment")
	ErrCloseFail = errors.New("segmentlog: failed to close segment")
)

// Fatal errors. Once observed on a Log, every subsequent call returns the
// same error (spec §7 "a fatal error observed once causes the shard to
// reject subsequent operations of the same class").
var (
	ErrCorruptState = errors.New("segmentlog: state file is corrupt")
	ErrCorrupt      = errors.New("segmentlog: on-disk data is corrupt")
	ErrIdsExhausted = errors.New("segmentlog: record-id space exhausted")
)
