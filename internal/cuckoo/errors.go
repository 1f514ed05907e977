package cuckoo

import "errors"

// ErrFull signals that both candidate sets for a key are occupied by other
// keys and the bounded eviction walk could not make room (spec §4.2
// "Insert" step 3). The caller is expected to trigger a table split; it is
// never surfaced past the enclosing shard container.
var ErrFull = errors.New("cuckoo: table full, split required")
