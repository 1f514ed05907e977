/*
Copyright (C) 2024  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package keyspace ties a vector of shards together into the single
// "subspace" the rest of a deployment talks to: it routes get/put/del/search
// by region coordinate (spec §3/§6), fans a search out across every shard
// that can possibly hold a match, and drives split/clean maintenance as
// shards cross their size or stale-ratio thresholds (spec §4.4).
package keyspace

import (
	"github.com/launix-de/shardkv/internal/hashing"
	"github.com/launix-de/shardkv/internal/persist"
	"github.com/launix-de/shardkv/internal/segmentlog"
	"github.com/launix-de/shardkv/internal/shard"
)

// Options configures one Keyspace: the schema it enforces on every shard it
// creates, and the factories a Keyspace uses to allocate storage for a new
// shard (on Open's initial shard, on Split's four successors, and on
// Clean's fresh log).
type Options struct {
	// Attrs is the number of secondary attributes every shard in this
	// keyspace indexes; must agree with Hasher's attribute count.
	Attrs int

	// Hasher computes region coordinates for keys, attribute vectors, and
	// predicates (spec §6). Shared read-only across every shard.
	Hasher hashing.Hasher

	// ShardOpts seeds each shard's Options (schema arity, log sizing,
	// split/clean thresholds); Attrs above is copied into it at Open.
	ShardOpts shard.Options

	// NewBackend allocates a fresh persist.Backend for a shard identified
	// by an opaque, monotonically increasing numeric id, used for the
	// initial shard, every Split successor, and every Clean target.
	NewBackend func(shardID uint64) (persist.Backend, error)

	// FanoutWorkers bounds how many goroutines a multi-shard Search fans
	// out across concurrently (Split does not fan out); 0 selects runtime.NumCPU() at
	// call time (spec §11's jtolds/gls-based fan-out).
	FanoutWorkers int
}

// DefaultOptions returns spec-default per-shard sizing (shard.DefaultOptions)
// wired to the given hasher and backend factory.
func DefaultOptions(attrs int, hasher hashing.Hasher, newBackend func(uint64) (persist.Backend, error)) Options {
	return Options{
		Attrs:      attrs,
		Hasher:     hasher,
		ShardOpts:  shard.DefaultOptions(attrs),
		NewBackend: newBackend,
	}
}

func (o Options) logOpts() segmentlog.Options {
	return o.ShardOpts.Log
}
