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

package shard

import "github.com/launix-de/shardkv/internal/arena"

// Ref is a reference-counted handle to a Shard (spec §12 "Reference-
// counted shard handles"): a caller in the middle of get/put/del/search
// holds one so a concurrent Split or Clean can't recycle the shard's
// storage out from under it. The owning keyspace creates one Ref per
// Shard at Open/Split time and calls Retire when the shard is superseded
// (Clean keeps the same Shard and Ref); in-flight operations keep it alive
// until they release.
type Ref struct {
	r *arena.Ref[*Shard]
}

// NewRef wraps s in a Ref with one outstanding reference (the caller's,
// typically the keyspace's routing table entry). onRetire runs once, when
// the last Acquire'd reference is released after Retire, and is the
// natural place to close the shard's underlying log.
func NewRef(s *Shard, onRetire func(*Shard)) *Ref {
	return &Ref{r: arena.New(s, onRetire)}
}

// Acquire bumps the refcount and returns the shard, or ok=false if the
// handle has already been retired and fully released (the caller must
// reload a fresh Ref from the keyspace's routing table instead).
func (h *Ref) Acquire() (s *Shard, ok bool) {
	return h.r.Acquire()
}

// Release drops one reference, running the handle's onRetire callback once
// every acquired reference (including the creator's) has been released.
func (h *Ref) Release() {
	h.r.Release()
}

// Retire drops the creator's initial reference, the signal that no new
// operation should look up this handle again: it marks the shard as
// superseded without waiting for in-flight operations, which keep it alive
// via their own Acquire'd references until they call Release.
func (h *Ref) Retire() {
	h.r.Release()
}
