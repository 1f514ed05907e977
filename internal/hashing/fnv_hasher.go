package hashing

import (
	"hash/fnv"

	"github.com/launix-de/shardkv/internal/coord"
)

// FNVHasher is a deterministic, dependency-free Hasher used by tests and by
// callers that have not wired a real hyperspace-hashing collaborator. It
// returns the key's FNV-1a hash as its fingerprint and coord.Full as its
// coordinate, leaving every dimension unconstrained (mask 0), so a key is
// only contained by a shard whose own coordinate is coord.Full; once a
// shard has split, none of its successors contains such a key. Attribute
// values are hashed with FNV-1a as well, and predicates map to coord.Full
// with no attribute constraints.
type FNVHasher struct{}

func (FNVHasher) hash(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

func (f FNVHasher) HashKey(key []byte) (uint64, coord.Coordinate) {
	return f.hash(key), coord.Full
}

func (f FNVHasher) HashAttributes(value [][]byte) []uint64 {
	out := make([]uint64, len(value))
	for i, v := range value {
		out[i] = f.hash(v)
	}
	return out
}

func (f FNVHasher) HashPredicate(p Predicate) (coord.Coordinate, []AttrConstraint) {
	return coord.Full, nil
}
