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

// Package arena gives a shared value a refcounting discipline (spec §9
// "Memory reclamation"): readers bump a count for the duration of one
// operation, and the value is only recycled once the count drops to zero.
// It generalizes the ad-hoc refcount bookkeeping the teacher repo does
// per-concern (storage/shared_resource.go's lazy-load states,
// storage/blob-refcount.go's blob refcount table) into one reusable
// primitive. Its one client in this module is internal/shard's Ref; the
// segmented log, the search tree and the cuckoo index do not use it.
package arena

import "sync/atomic"

// Ref is a refcounted handle to a value of type T. The zero Ref is not
// usable; create one with New. Release must be called exactly once per
// successful Acquire (including the implicit first reference held by the
// creator) or the underlying resource will never be recycled.
type Ref[T any] struct {
	value   T
	count   atomic.Int64
	release func(T)
}

// New wraps value in a Ref with one outstanding reference (the caller's).
// release is invoked exactly once, when the last reference is dropped; it
// may be nil if the value needs no teardown (e.g. a plain in-memory block).
func New[T any](value T, release func(T)) *Ref[T] {
	r := &Ref[T]{value: value, release: release}
	r.count.Store(1)
	return r
}

// Acquire adds a reference and returns the guarded value. Acquire must not
// be called after the last reference has already been released (the
// returned ok is false in that case, signalling the caller to reload a
// fresh handle instead of operating on a recycled value).
func (r *Ref[T]) Acquire() (value T, ok bool) {
	for {
		n := r.count.Load()
		if n <= 0 {
			var zero T
			return zero, false
		}
		if r.count.CompareAndSwap(n, n+1) {
			return r.value, true
		}
	}
}

// Release drops one reference, recycling the value via the release
// callback when the count reaches zero.
func (r *Ref[T]) Release() {
	if r.count.Add(-1) == 0 && r.release != nil {
		r.release(r.value)
	}
}

// Value returns the guarded value without adjusting the refcount; callers
// that already hold a reference (e.g. the creator, before the first
// Release) use this to avoid an unbalanced Acquire/Release pair.
func (r *Ref[T]) Value() T {
	return r.value
}
